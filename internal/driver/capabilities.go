package driver

import (
	"fmt"
	"strconv"
	"strings"
)

// LightCapabilities describes optional features of a light.
type LightCapabilities uint8

// Light capability flags.
const (
	LightCapabilitiesNone LightCapabilities = 0
	LightBrightness       LightCapabilities = 1 << 0
	LightTemperature      LightCapabilities = 1 << 1
)

// Has reports whether every bit of f is set.
func (c LightCapabilities) Has(f LightCapabilities) bool { return c&f == f }

func (c LightCapabilities) String() string {
	return flagString(uint64(c), []string{"Brightness", "Temperature"})
}

// PowerDeviceFlags describes optional features of a battery or power device.
type PowerDeviceFlags uint8

// Power device flags.
const (
	PowerDeviceFlagsNone        PowerDeviceFlags = 0
	PowerHasBattery             PowerDeviceFlags = 1 << 0
	PowerHasLowBatteryThreshold PowerDeviceFlags = 1 << 1
	PowerHasIdleTimer           PowerDeviceFlags = 1 << 2
	PowerHasWirelessBrightness  PowerDeviceFlags = 1 << 3
)

// Has reports whether every bit of f is set.
func (p PowerDeviceFlags) Has(f PowerDeviceFlags) bool { return p&f == f }

func (p PowerDeviceFlags) String() string {
	return flagString(uint64(p), []string{
		"HasBattery", "HasLowPowerBatteryThreshold", "HasIdleTimer", "HasWirelessBrightness",
	})
}

// SensorCapabilities describes how a sensor is read and which bounds it reports.
type SensorCapabilities uint8

// Sensor capability flags.
const (
	SensorCapabilitiesNone SensorCapabilities = 0
	SensorPolled           SensorCapabilities = 1 << 0
	SensorStreamed         SensorCapabilities = 1 << 1
	SensorHasMinimumValue  SensorCapabilities = 1 << 2
	SensorHasMaximumValue  SensorCapabilities = 1 << 3
)

// Has reports whether every bit of f is set.
func (s SensorCapabilities) Has(f SensorCapabilities) bool { return s&f == f }

func (s SensorCapabilities) String() string {
	return flagString(uint64(s), []string{"Polled", "Streamed", "HasMinimumValue", "HasMaximumValue"})
}

// CoolingModes lists the control modes a cooler supports.
type CoolingModes uint8

// Cooling mode flags.
const (
	CoolingModesNone            CoolingModes = 0
	CoolingAutomatic            CoolingModes = 1 << 0
	CoolingManual               CoolingModes = 1 << 1
	CoolingHardwareControlCurve CoolingModes = 1 << 2
)

// Has reports whether every bit of f is set.
func (m CoolingModes) Has(f CoolingModes) bool { return m&f == f }

func (m CoolingModes) String() string {
	return flagString(uint64(m), []string{"Automatic", "Manual", "HardwareControlCurve"})
}

// Features tags the device-kind subsystems a driver participates in.
type Features uint16

// Feature tags.
const (
	FeatureLighting Features = 1 << iota
	FeatureLights
	FeatureCooling
	FeatureSensors
	FeaturePower
	FeatureEmbeddedMonitors
	FeatureMonitor
	FeatureMenu
)

var featureNames = []string{
	"Lighting", "Lights", "Cooling", "Sensors", "Power", "EmbeddedMonitors", "Monitor", "Menu",
}

// Has reports whether every bit of f is set.
func (f Features) Has(other Features) bool { return f&other == other }

func (f Features) String() string {
	return flagString(uint64(f), featureNames)
}

// Names returns the name of every set feature, lowest bit first.
func (f Features) Names() []string {
	var names []string
	for i, name := range featureNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return names
}

// ParseFeature resolves a single feature name, case-insensitively.
func ParseFeature(name string) (Features, error) {
	for i, n := range featureNames {
		if strings.EqualFold(n, name) {
			return Features(1) << i, nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", name)
}

// flagString renders v as "A|B", "None" for zero, and a hex tail for
// bits without a name.
func flagString(v uint64, names []string) string {
	if v == 0 {
		return "None"
	}
	var b strings.Builder
	for i, name := range names {
		bit := uint64(1) << i
		if v&bit == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
		v &^= bit
	}
	if v != 0 {
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString("0x")
		b.WriteString(strings.ToUpper(strconv.FormatUint(v, 16)))
	}
	return b.String()
}
