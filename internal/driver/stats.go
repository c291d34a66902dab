package driver

import (
	"maps"

	"github.com/google/uuid"
)

// Stats holds aggregate figures about the live drivers.
type Stats struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
	ByFeature  map[string]int   `json:"by_feature"`

	Lights           int `json:"lights"`
	Coolers          int `json:"coolers"`
	Sensors          int `json:"sensors"`
	EmbeddedMonitors int `json:"embedded_monitors"`

	// Unions over every live driver.
	LightCapabilities  LightCapabilities  `json:"light_capabilities"`
	PowerFlags         PowerDeviceFlags   `json:"power_flags"`
	SensorCapabilities SensorCapabilities `json:"sensor_capabilities"`
	CoolingModes       CoolingModes       `json:"cooling_modes"`
}

// Stats returns aggregate figures for the current driver set.
// The returned maps are copies.
func (r *Registry) Stats() Stats {
	s := r.state.Load().stats
	s.ByCategory = maps.Clone(s.ByCategory)
	s.ByFeature = maps.Clone(s.ByFeature)
	return s
}

func computeStats(entries map[uuid.UUID]Entry) Stats {
	s := Stats{
		Total:      len(entries),
		ByCategory: make(map[Category]int),
		ByFeature:  make(map[string]int),
	}
	for _, e := range entries {
		s.ByCategory[e.Category]++
		for _, name := range e.Features.Names() {
			s.ByFeature[name]++
		}
		s.Lights += len(e.Lights)
		s.Coolers += len(e.Coolers)
		s.Sensors += len(e.Sensors)
		s.EmbeddedMonitors += len(e.EmbeddedMonitors)

		s.LightCapabilities |= e.LightCapabilities
		s.PowerFlags |= e.PowerFlags
		s.SensorCapabilities |= e.SensorCapabilities
		s.CoolingModes |= e.CoolingModes
	}
	return s
}
