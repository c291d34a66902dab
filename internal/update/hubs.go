package update

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/google/uuid"

	"github.com/nerrad567/devicehub-core/internal/driver"
	"github.com/nerrad567/devicehub-core/internal/notify"
)

// ErrUnsupported is returned when a device does not offer the feature an
// update targets.
var ErrUnsupported = errors.New("update: feature not supported by device")

// Hubs holds one fan-out hub per update type.
type Hubs struct {
	Cooling             *notify.Hub[CoolingUpdate]
	IdleTimer           *notify.Hub[IdleTimerUpdate]
	LowBatteryThreshold *notify.Hub[LowBatteryThresholdUpdate]
	WirelessBrightness  *notify.Hub[WirelessBrightnessUpdate]
	SensorConfiguration *notify.Hub[SensorConfigurationUpdate]
	LightingZoneEffect  *notify.Hub[LightingZoneEffect]
	MenuItem            *notify.Hub[MenuItemChange]
}

// NewHubs creates every hub with the same options.
func NewHubs(opts ...notify.Option) *Hubs {
	return &Hubs{
		Cooling:             notify.NewHub[CoolingUpdate]("cooling", opts...),
		IdleTimer:           notify.NewHub[IdleTimerUpdate]("idle_timer", opts...),
		LowBatteryThreshold: notify.NewHub[LowBatteryThresholdUpdate]("low_battery_threshold", opts...),
		WirelessBrightness:  notify.NewHub[WirelessBrightnessUpdate]("wireless_brightness", opts...),
		SensorConfiguration: notify.NewHub[SensorConfigurationUpdate]("sensor_configuration", opts...),
		LightingZoneEffect:  notify.NewHub[LightingZoneEffect]("lighting_zone_effect", opts...),
		MenuItem:            notify.NewHub[MenuItemChange]("menu_item", opts...),
	}
}

// Close closes every hub.
func (h *Hubs) Close() {
	h.Cooling.Close()
	h.IdleTimer.Close()
	h.LowBatteryThreshold.Close()
	h.WirelessBrightness.Close()
	h.SensorConfiguration.Close()
	h.LightingZoneEffect.Close()
	h.MenuItem.Close()
}

// Registry is the part of the driver registry used to check updates.
type Registry interface {
	Lookup(id uuid.UUID) (driver.Entry, error)
	Cooler(deviceID, coolerID uuid.UUID) (driver.Cooler, error)
	Sensor(deviceID, sensorID uuid.UUID) (driver.Sensor, error)
}

// Dispatcher checks updates against the live driver set before publishing
// them. Updates for unknown devices or components fail with the matching
// driver not-found error and are not published.
type Dispatcher struct {
	hubs     *Hubs
	registry Registry
}

// NewDispatcher creates a dispatcher publishing into hubs.
func NewDispatcher(hubs *Hubs, registry Registry) *Dispatcher {
	return &Dispatcher{hubs: hubs, registry: registry}
}

// Cooling publishes a cooling update.
func (d *Dispatcher) Cooling(u CoolingUpdate) error {
	c, err := d.registry.Cooler(u.DeviceID, u.CoolerID)
	if err != nil {
		return err
	}
	// An update selects exactly one mode.
	if bits.OnesCount8(uint8(u.Mode)) != 1 || !c.Modes.Has(u.Mode) {
		return fmt.Errorf("%w: cooler %s mode %s", ErrUnsupported, u.CoolerID, u.Mode)
	}
	if u.Power != nil && *u.Power > 100 {
		return fmt.Errorf("cooling power %d out of range", *u.Power)
	}
	d.hubs.Cooling.Emit(notify.KindUpdated, u)
	return nil
}

// IdleTimer publishes an idle timer update.
func (d *Dispatcher) IdleTimer(u IdleTimerUpdate) error {
	if err := d.requirePower(u.DeviceID, driver.PowerHasIdleTimer); err != nil {
		return err
	}
	if u.IdleTime != nil && *u.IdleTime < 0 {
		return fmt.Errorf("idle time %s is negative", *u.IdleTime)
	}
	d.hubs.IdleTimer.Emit(notify.KindUpdated, u)
	return nil
}

// LowBatteryThreshold publishes a low-battery threshold update.
func (d *Dispatcher) LowBatteryThreshold(u LowBatteryThresholdUpdate) error {
	if err := d.requirePower(u.DeviceID, driver.PowerHasLowBatteryThreshold); err != nil {
		return err
	}
	if u.Threshold > 100 {
		return fmt.Errorf("battery threshold %d out of range", u.Threshold)
	}
	d.hubs.LowBatteryThreshold.Emit(notify.KindUpdated, u)
	return nil
}

// WirelessBrightness publishes a wireless brightness update.
func (d *Dispatcher) WirelessBrightness(u WirelessBrightnessUpdate) error {
	if err := d.requirePower(u.DeviceID, driver.PowerHasWirelessBrightness); err != nil {
		return err
	}
	d.hubs.WirelessBrightness.Emit(notify.KindUpdated, u)
	return nil
}

// SensorConfiguration publishes a sensor configuration update.
func (d *Dispatcher) SensorConfiguration(u SensorConfigurationUpdate) error {
	if _, err := d.registry.Sensor(u.DeviceID, u.SensorID); err != nil {
		return err
	}
	d.hubs.SensorConfiguration.Emit(notify.KindUpdated, u)
	return nil
}

// LightingZoneEffect publishes a zone effect assignment.
func (d *Dispatcher) LightingZoneEffect(u LightingZoneEffect) error {
	e, err := d.registry.Lookup(u.DeviceID)
	if err != nil {
		return err
	}
	if !e.Features.Has(driver.FeatureLighting) && !e.Features.Has(driver.FeatureLights) {
		return fmt.Errorf("%w: device %s has no lighting", ErrUnsupported, u.DeviceID)
	}
	d.hubs.LightingZoneEffect.Emit(notify.KindUpdated, u)
	return nil
}

// MenuItem publishes a menu mutation. kind must be Added, Removed or Updated.
func (d *Dispatcher) MenuItem(kind notify.Kind, u MenuItemChange) error {
	switch kind {
	case notify.KindAdded, notify.KindRemoved, notify.KindUpdated:
	default:
		return fmt.Errorf("invalid menu change kind %s", kind)
	}
	d.hubs.MenuItem.Emit(kind, u)
	return nil
}

func (d *Dispatcher) requirePower(id uuid.UUID, flag driver.PowerDeviceFlags) error {
	e, err := d.registry.Lookup(id)
	if err != nil {
		return err
	}
	if !e.PowerFlags.Has(flag) {
		return fmt.Errorf("%w: device %s lacks %s", ErrUnsupported, id, flag)
	}
	return nil
}
