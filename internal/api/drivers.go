package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/devicehub-core/internal/driver"
)

// handleListDrivers returns every live driver ordered by ID.
//
// Query parameters:
//   - category: only drivers of this category (cooler, headset, ...)
//   - feature: only drivers whose features include this one
func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.Entries()

	category := driver.Category(r.URL.Query().Get("category"))
	feature, ok := featureParam(w, r)
	if !ok {
		return
	}

	out := make([]driver.Entry, 0, len(entries))
	for _, e := range entries {
		if category != "" && e.Category != category {
			continue
		}
		if feature != 0 && !e.Features.Has(feature) {
			continue
		}
		out = append(out, e)
	}

	writeJSON(w, http.StatusOK, map[string]any{"drivers": out, "count": len(out)})
}

// handleWatchDrivers streams registry changes as newline-delimited JSON
// envelopes: one "enumeration" envelope per live driver, then "added" and
// "removed" envelopes until the client goes away or the server closes.
//
// Query parameters:
//   - feature: only drivers whose features include this one
func (s *Server) handleWatchDrivers(w http.ResponseWriter, r *http.Request) {
	feature, ok := featureParam(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("clearing write deadline failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("driver watch cannot stream", "error", err)
		return
	}

	enc := json.NewEncoder(w)
	for env := range s.registry.WatchFeature(r.Context(), feature) {
		if err := enc.Encode(env); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// featureParam parses the optional feature query parameter. It writes a 400
// and returns false for an unknown name.
func featureParam(w http.ResponseWriter, r *http.Request) (driver.Features, bool) {
	name := r.URL.Query().Get("feature")
	if name == "" {
		return 0, true
	}
	f, err := driver.ParseFeature(name)
	if err != nil {
		writeBadRequest(w, err.Error())
		return 0, false
	}
	return f, true
}

// handleDriverStats returns driver counts by category.
func (s *Server) handleDriverStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleGetDriver returns a single driver by ID.
func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	e, err := s.registry.Lookup(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleGetCooler(w http.ResponseWriter, r *http.Request) {
	getComponent(w, r, s.registry.Cooler)
}

func (s *Server) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	getComponent(w, r, s.registry.Sensor)
}

func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	getComponent(w, r, s.registry.Light)
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	getComponent(w, r, s.registry.EmbeddedMonitor)
}

// handleGetMonitorSetting returns one setting of an embedded monitor.
// Setting IDs are free-form strings.
func (s *Server) handleGetMonitorSetting(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	monitorID, ok := uuidParam(w, r, "componentID")
	if !ok {
		return
	}
	setting, err := s.registry.MonitorSetting(deviceID, monitorID, chi.URLParam(r, "settingID"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// getComponent serves a component lookup keyed by device and component ID.
func getComponent[T any](w http.ResponseWriter, r *http.Request, lookup func(deviceID, componentID uuid.UUID) (T, error)) {
	deviceID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	componentID, ok := uuidParam(w, r, "componentID")
	if !ok {
		return
	}
	c, err := lookup(deviceID, componentID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeBadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
