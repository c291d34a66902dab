package bridge

import (
	"context"
	"time"

	"github.com/nerrad567/devicehub-core/internal/driver"
	"github.com/nerrad567/devicehub-core/internal/metadata"
	"github.com/nerrad567/devicehub-core/internal/notify"
	"github.com/nerrad567/devicehub-core/internal/update"
)

// DefaultDropInterval is how often queue drop counters are recorded.
const DefaultDropInterval = 30 * time.Second

// Power setting names written by the telemetry sink.
const (
	SettingIdleTimer           = "idle_timer_seconds"
	SettingLowBatteryThreshold = "low_battery_threshold"
	SettingWirelessBrightness  = "wireless_brightness"
)

// TelemetryWriter receives telemetry points. *influxdb.Client implements it.
type TelemetryWriter interface {
	WriteCoolingUpdate(deviceID, coolerID, mode string, power *uint8, at time.Time)
	WritePowerSetting(deviceID, setting string, value float64, at time.Time)
	WriteSensorConfiguration(deviceID, sensorID string, favorite bool, at time.Time)
	WriteDriverCount(category string, count int, at time.Time)
	WriteArchiveVersion(category, source string, version uint64, at time.Time)
	WriteQueueDrops(channel string, dropped uint64, at time.Time)
}

// Telemetry subscribes to the registry, the metadata coordinator and the
// power/cooling/sensor hubs and turns their envelopes into telemetry points.
type Telemetry struct {
	writer       TelemetryWriter
	registry     *driver.Registry
	hubs         *update.Hubs
	metadata     *metadata.Coordinator
	dropInterval time.Duration
	logger       Logger

	// reported holds categories whose last written count was non-zero.
	reported map[driver.Category]bool
}

type dropSource struct {
	channel string
	dropped func() uint64
}

// TelemetryOption configures a Telemetry sink.
type TelemetryOption func(*Telemetry)

// WithDropInterval overrides DefaultDropInterval.
func WithDropInterval(d time.Duration) TelemetryOption {
	return func(t *Telemetry) {
		if d > 0 {
			t.dropInterval = d
		}
	}
}

// WithTelemetryLogger sets the sink's logger.
func WithTelemetryLogger(l Logger) TelemetryOption {
	return func(t *Telemetry) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTelemetry creates a sink. coord may be nil.
func NewTelemetry(w TelemetryWriter, registry *driver.Registry, hubs *update.Hubs, coord *metadata.Coordinator, opts ...TelemetryOption) *Telemetry {
	t := &Telemetry{
		writer:       w,
		registry:     registry,
		hubs:         hubs,
		metadata:     coord,
		dropInterval: DefaultDropInterval,
		logger:       noopLogger{},
		reported:     make(map[driver.Category]bool),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run records telemetry until ctx is cancelled. Closed hubs are skipped.
func (t *Telemetry) Run(ctx context.Context) error {
	drivers := t.registry.Subscribe()
	defer t.registry.Unsubscribe(drivers)
	cooling := t.hubs.Cooling.Subscribe()
	defer t.hubs.Cooling.Unsubscribe(cooling)
	idle := t.hubs.IdleTimer.Subscribe()
	defer t.hubs.IdleTimer.Unsubscribe(idle)
	battery := t.hubs.LowBatteryThreshold.Subscribe()
	defer t.hubs.LowBatteryThreshold.Unsubscribe(battery)
	brightness := t.hubs.WirelessBrightness.Subscribe()
	defer t.hubs.WirelessBrightness.Unsubscribe(brightness)
	sensors := t.hubs.SensorConfiguration.Subscribe()
	defer t.hubs.SensorConfiguration.Unsubscribe(sensors)

	var archives *notify.Queue[metadata.Archive]
	var archiveC <-chan notify.Envelope[metadata.Archive]
	if t.metadata != nil {
		archives = t.metadata.Subscribe()
		defer t.metadata.Unsubscribe(archives)
		archiveC = archives.C()
	}

	drops := []dropSource{
		{"drivers", drivers.Dropped},
		{t.hubs.Cooling.Name(), cooling.Dropped},
		{t.hubs.IdleTimer.Name(), idle.Dropped},
		{t.hubs.LowBatteryThreshold.Name(), battery.Dropped},
		{t.hubs.WirelessBrightness.Name(), brightness.Dropped},
		{t.hubs.SensorConfiguration.Name(), sensors.Dropped},
	}
	if archives != nil {
		drops = append(drops, dropSource{"metadata", archives.Dropped})
	}

	ticker := time.NewTicker(t.dropInterval)
	defer ticker.Stop()

	t.writeDriverCounts(time.Now())

	driverC, coolingC, idleC := drivers.C(), cooling.C(), idle.C()
	batteryC, brightnessC, sensorC := battery.C(), brightness.C(), sensors.C()

	for {
		select {
		case <-ctx.Done():
			return nil

		case env, ok := <-driverC:
			if !ok {
				driverC = nil
				continue
			}
			t.writeDriverCounts(env.Time)

		case env, ok := <-coolingC:
			if !ok {
				coolingC = nil
				continue
			}
			u := env.Payload
			t.writer.WriteCoolingUpdate(u.DeviceID.String(), u.CoolerID.String(), u.Mode.String(), u.Power, env.Time)

		case env, ok := <-idleC:
			if !ok {
				idleC = nil
				continue
			}
			var seconds float64
			if env.Payload.IdleTime != nil {
				seconds = env.Payload.IdleTime.Seconds()
			}
			t.writer.WritePowerSetting(env.Payload.DeviceID.String(), SettingIdleTimer, seconds, env.Time)

		case env, ok := <-batteryC:
			if !ok {
				batteryC = nil
				continue
			}
			t.writer.WritePowerSetting(env.Payload.DeviceID.String(), SettingLowBatteryThreshold, float64(env.Payload.Threshold), env.Time)

		case env, ok := <-brightnessC:
			if !ok {
				brightnessC = nil
				continue
			}
			t.writer.WritePowerSetting(env.Payload.DeviceID.String(), SettingWirelessBrightness, float64(env.Payload.Brightness), env.Time)

		case env, ok := <-sensorC:
			if !ok {
				sensorC = nil
				continue
			}
			u := env.Payload
			t.writer.WriteSensorConfiguration(u.DeviceID.String(), u.SensorID.String(), u.IsFavorite, env.Time)

		case env, ok := <-archiveC:
			if !ok {
				archiveC = nil
				continue
			}
			if env.Kind == notify.KindRemoved {
				continue
			}
			a := env.Payload
			t.writer.WriteArchiveVersion(a.Category.String(), a.Source, a.Version, env.Time)

		case now := <-ticker.C:
			for _, d := range drops {
				t.writer.WriteQueueDrops(d.channel, d.dropped(), now)
			}
		}
	}
}

// writeDriverCounts writes the current count of every category, including a
// zero for categories that have emptied since the last write.
func (t *Telemetry) writeDriverCounts(at time.Time) {
	stats := t.registry.Stats()
	for cat, n := range stats.ByCategory {
		t.writer.WriteDriverCount(string(cat), n, at)
	}
	for cat := range t.reported {
		if stats.ByCategory[cat] == 0 {
			t.writer.WriteDriverCount(string(cat), 0, at)
			delete(t.reported, cat)
		}
	}
	for cat, n := range stats.ByCategory {
		if n > 0 {
			t.reported[cat] = true
		}
	}
	t.logger.Debug("driver counts recorded", "total", stats.Total)
}
