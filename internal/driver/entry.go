package driver

import (
	"time"

	"github.com/google/uuid"
)

// Entry is the registry's immutable record of one live driver.
//
// Aggregated capability flags are the union over the driver's components and
// are computed once, when the driver is admitted. Component slices are shared
// between copies of an Entry and must not be modified.
type Entry struct {
	ID       uuid.UUID `json:"id"`
	Key      string    `json:"key,omitempty"`
	Name     string    `json:"name"`
	Category Category  `json:"category"`
	Features Features  `json:"features"`

	LightCapabilities  LightCapabilities  `json:"light_capabilities"`
	PowerFlags         PowerDeviceFlags   `json:"power_flags"`
	SensorCapabilities SensorCapabilities `json:"sensor_capabilities"`
	CoolingModes       CoolingModes       `json:"cooling_modes"`

	Lights           []Light           `json:"lights,omitempty"`
	Coolers          []Cooler          `json:"coolers,omitempty"`
	Sensors          []Sensor          `json:"sensors,omitempty"`
	EmbeddedMonitors []EmbeddedMonitor `json:"embedded_monitors,omitempty"`

	AddedAt time.Time `json:"added_at"`

	handle *Handle
}

func newEntry(h *Handle, now time.Time) Entry {
	info := h.info
	e := Entry{
		ID:               h.id,
		Key:              info.Key,
		Name:             info.Name,
		Category:         info.Category,
		Features:         info.features(),
		PowerFlags:       info.Power,
		Lights:           info.Lights,
		Coolers:          info.Coolers,
		Sensors:          info.Sensors,
		EmbeddedMonitors: info.EmbeddedMonitors,
		AddedAt:          now,
		handle:           h,
	}
	for _, l := range info.Lights {
		e.LightCapabilities |= l.Capabilities
	}
	for _, s := range info.Sensors {
		e.SensorCapabilities |= s.Capabilities
	}
	for _, c := range info.Coolers {
		e.CoolingModes |= c.Modes
	}
	return e
}

// Handle returns the driver handle this entry was created from.
func (e Entry) Handle() *Handle { return e.handle }

// Cooler returns the cooler with the given ID.
func (e Entry) Cooler(id uuid.UUID) (Cooler, error) {
	for _, c := range e.Coolers {
		if c.ID == id {
			return c, nil
		}
	}
	return Cooler{}, NotFound(ResourceCooler, id.String())
}

// Sensor returns the sensor with the given ID.
func (e Entry) Sensor(id uuid.UUID) (Sensor, error) {
	for _, s := range e.Sensors {
		if s.ID == id {
			return s, nil
		}
	}
	return Sensor{}, NotFound(ResourceSensor, id.String())
}

// Light returns the light with the given ID.
func (e Entry) Light(id uuid.UUID) (Light, error) {
	for _, l := range e.Lights {
		if l.ID == id {
			return l, nil
		}
	}
	return Light{}, NotFound(ResourceLight, id.String())
}

// EmbeddedMonitor returns the embedded monitor with the given ID.
func (e Entry) EmbeddedMonitor(id uuid.UUID) (EmbeddedMonitor, error) {
	for _, m := range e.EmbeddedMonitors {
		if m.ID == id {
			return m, nil
		}
	}
	return EmbeddedMonitor{}, NotFound(ResourceMonitor, id.String())
}

// MonitorSetting returns one setting of an embedded monitor.
func (e Entry) MonitorSetting(monitorID uuid.UUID, settingID string) (MonitorSetting, error) {
	m, err := e.EmbeddedMonitor(monitorID)
	if err != nil {
		return MonitorSetting{}, err
	}
	for _, s := range m.Settings {
		if s.ID == settingID {
			return s, nil
		}
	}
	return MonitorSetting{}, NotFound(ResourceSetting, settingID)
}
