package update

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devicehub-core/internal/driver"
)

// CoolingUpdate reports a cooler's new control mode and power.
type CoolingUpdate struct {
	DeviceID uuid.UUID           `json:"device_id"`
	CoolerID uuid.UUID           `json:"cooler_id"`
	Mode     driver.CoolingModes `json:"mode"`
	// Power is the manual power in percent; only meaningful in Manual mode.
	Power *uint8 `json:"power,omitempty"`
}

// Key identifies the cooler.
func (u CoolingUpdate) Key() string { return u.DeviceID.String() + "/" + u.CoolerID.String() }

// IdleTimerUpdate reports a power device's idle timer.
// A nil IdleTime means the timer is disabled.
type IdleTimerUpdate struct {
	DeviceID uuid.UUID      `json:"device_id"`
	IdleTime *time.Duration `json:"idle_time,omitempty"`
}

// Key identifies the device.
func (u IdleTimerUpdate) Key() string { return u.DeviceID.String() }

// LowBatteryThresholdUpdate reports a power device's low-battery threshold.
type LowBatteryThresholdUpdate struct {
	DeviceID  uuid.UUID `json:"device_id"`
	Threshold uint8     `json:"threshold"`
}

// Key identifies the device.
func (u LowBatteryThresholdUpdate) Key() string { return u.DeviceID.String() }

// WirelessBrightnessUpdate reports a power device's wireless brightness.
type WirelessBrightnessUpdate struct {
	DeviceID   uuid.UUID `json:"device_id"`
	Brightness uint8     `json:"brightness"`
}

// Key identifies the device.
func (u WirelessBrightnessUpdate) Key() string { return u.DeviceID.String() }

// SensorConfigurationUpdate reports a sensor's user configuration.
type SensorConfigurationUpdate struct {
	DeviceID     uuid.UUID `json:"device_id"`
	SensorID     uuid.UUID `json:"sensor_id"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	IsFavorite   bool      `json:"is_favorite"`
}

// Key identifies the sensor.
func (u SensorConfigurationUpdate) Key() string { return u.DeviceID.String() + "/" + u.SensorID.String() }

// LightingZoneEffect reports the effect assigned to a lighting zone.
// A nil EffectID means the zone has no effect.
type LightingZoneEffect struct {
	ZoneID   uuid.UUID  `json:"zone_id"`
	DeviceID uuid.UUID  `json:"device_id"`
	EffectID *uuid.UUID `json:"effect_id,omitempty"`
	// Effect holds the driver's effect parameters, passed through unchanged.
	Effect json.RawMessage `json:"effect,omitempty"`
}

// Key identifies the zone.
func (u LightingZoneEffect) Key() string { return u.ZoneID.String() }

// MenuItem is one entry of a device menu.
type MenuItem struct {
	ID    uuid.UUID `json:"id"`
	Type  string    `json:"type"`
	Label string    `json:"label"`
}

// MenuItemChange reports a menu mutation. The envelope kind selects the
// operation: Added inserts Item at Position under ParentItemID, Removed
// removes the item at that position, Updated replaces it.
type MenuItemChange struct {
	ParentItemID uuid.UUID `json:"parent_item_id"`
	Position     uint32    `json:"position"`
	Item         MenuItem  `json:"item"`
}

// Key identifies the menu slot.
func (u MenuItemChange) Key() string { return fmt.Sprintf("%s#%d", u.ParentItemID, u.Position) }
