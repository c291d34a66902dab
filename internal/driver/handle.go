package driver

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Validation limits.
const (
	maxNameLength = 100
	maxKeyLength  = 255
)

// Category is the broad device family a driver reports.
type Category string

// Known device categories.
const (
	CategoryOther       Category = "other"
	CategoryKeyboard    Category = "keyboard"
	CategoryMouse       Category = "mouse"
	CategoryHeadset     Category = "headset"
	CategoryCooler      Category = "cooler"
	CategoryLighting    Category = "lighting"
	CategoryMonitor     Category = "monitor"
	CategoryMotherboard Category = "motherboard"
	CategoryPowerSupply Category = "power_supply"
)

// State is the lifecycle state of a Handle.
type State uint32

// Handle lifecycle states. Only the Registry moves a handle between them.
const (
	StateNew State = iota
	StateActive
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Light is one addressable light exposed by a driver.
type Light struct {
	ID           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	Capabilities LightCapabilities `json:"capabilities"`
}

// Cooler is one fan or pump exposed by a driver.
type Cooler struct {
	ID    uuid.UUID    `json:"id"`
	Name  string       `json:"name"`
	Modes CoolingModes `json:"modes"`
}

// Sensor is one reading source exposed by a driver.
type Sensor struct {
	ID           uuid.UUID          `json:"id"`
	Name         string             `json:"name"`
	Unit         string             `json:"unit,omitempty"`
	Capabilities SensorCapabilities `json:"capabilities"`
	MinValue     float64            `json:"min_value,omitempty"`
	MaxValue     float64            `json:"max_value,omitempty"`
}

// MonitorSetting is one adjustable setting of an embedded monitor.
type MonitorSetting struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EmbeddedMonitor is a display built into a device.
type EmbeddedMonitor struct {
	ID       uuid.UUID        `json:"id"`
	Name     string           `json:"name"`
	Settings []MonitorSetting `json:"settings,omitempty"`
}

// Info describes a driver instance as reported by discovery.
type Info struct {
	// ID is the stable device identifier. When nil, NewHandle resolves it
	// from the IDStore using Key.
	ID       uuid.UUID `json:"id"`
	Key      string    `json:"key"`
	Name     string    `json:"name"`
	Category Category  `json:"category,omitempty"`

	// Features lists subsystems that have no component list of their own
	// (lighting effects, monitor control, menus). Component-backed features
	// are derived automatically.
	Features Features `json:"features,omitempty"`

	Lights           []Light           `json:"lights,omitempty"`
	Coolers          []Cooler          `json:"coolers,omitempty"`
	Sensors          []Sensor          `json:"sensors,omitempty"`
	EmbeddedMonitors []EmbeddedMonitor `json:"embedded_monitors,omitempty"`
	Power            PowerDeviceFlags  `json:"power,omitempty"`
}

// Validate checks that the info can describe a driver.
func (i *Info) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidHandle)
	}
	if len(i.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidHandle, maxNameLength)
	}
	if len(i.Key) > maxKeyLength {
		return fmt.Errorf("%w: key exceeds %d characters", ErrInvalidHandle, maxKeyLength)
	}
	if i.ID == uuid.Nil && i.Key == "" {
		return fmt.Errorf("%w: either id or key is required", ErrInvalidHandle)
	}
	for _, c := range i.Coolers {
		if c.ID == uuid.Nil {
			return fmt.Errorf("%w: cooler %q has no id", ErrInvalidHandle, c.Name)
		}
	}
	for _, s := range i.Sensors {
		if s.ID == uuid.Nil {
			return fmt.Errorf("%w: sensor %q has no id", ErrInvalidHandle, s.Name)
		}
	}
	for _, l := range i.Lights {
		if l.ID == uuid.Nil {
			return fmt.Errorf("%w: light %q has no id", ErrInvalidHandle, l.Name)
		}
	}
	for _, m := range i.EmbeddedMonitors {
		if m.ID == uuid.Nil {
			return fmt.Errorf("%w: monitor %q has no id", ErrInvalidHandle, m.Name)
		}
	}
	return nil
}

// features returns the explicit features plus those implied by components.
func (i *Info) features() Features {
	f := i.Features
	if len(i.Lights) > 0 {
		f |= FeatureLights
	}
	if len(i.Coolers) > 0 {
		f |= FeatureCooling
	}
	if len(i.Sensors) > 0 {
		f |= FeatureSensors
	}
	if len(i.EmbeddedMonitors) > 0 {
		f |= FeatureEmbeddedMonitors
	}
	if i.Power != PowerDeviceFlagsNone {
		f |= FeaturePower
	}
	return f
}

// clone deep-copies the component lists so the handle never shares
// backing arrays with the caller.
func (i Info) clone() Info {
	i.Lights = slices.Clone(i.Lights)
	i.Coolers = slices.Clone(i.Coolers)
	i.Sensors = slices.Clone(i.Sensors)
	monitors := make([]EmbeddedMonitor, len(i.EmbeddedMonitors))
	for n, m := range i.EmbeddedMonitors {
		m.Settings = slices.Clone(m.Settings)
		monitors[n] = m
	}
	if i.EmbeddedMonitors == nil {
		monitors = nil
	}
	i.EmbeddedMonitors = monitors
	return i
}

// Handle is the identity of one connected driver instance.
//
// Handles are compared by pointer. Two handles for the same device ID are
// different drivers; only the one admitted by the Registry is live. A handle
// that has been removed can never be added again.
type Handle struct {
	id    uuid.UUID
	info  Info
	state atomic.Uint32
}

// NewHandle builds a handle from discovery info.
//
// When info.ID is nil the stable ID is resolved from store using info.Key,
// so the same configuration key always maps to the same device ID.
func NewHandle(ctx context.Context, store IDStore, info Info) (*Handle, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	id := info.ID
	if id == uuid.Nil {
		if store == nil {
			return nil, fmt.Errorf("%w: no id store for key %q", ErrInvalidHandle, info.Key)
		}
		resolved, err := store.GetOrCreate(ctx, info.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrIDStoreFailed, info.Key, err)
		}
		id = resolved
	}

	info = info.clone()
	info.ID = id
	if info.Category == "" {
		info.Category = CategoryOther
	}

	return &Handle{id: id, info: info}, nil
}

// ID returns the stable device identifier.
func (h *Handle) ID() uuid.UUID { return h.id }

// Name returns the friendly name reported by the driver.
func (h *Handle) Name() string { return h.info.Name }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

func (h *Handle) setState(s State) { h.state.Store(uint32(s)) }
