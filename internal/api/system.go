package api

import (
	"net/http"
)

// handleGetMetadata returns the current metadata archive set.
func (s *Server) handleGetMetadata(w http.ResponseWriter, _ *http.Request) {
	if s.metadata == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "metadata watch not configured")
		return
	}
	set := s.metadata.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": set.Categories(),
		"archives":   set,
	})
}

// handleBridgeMetrics returns the MQTT bridge counters.
func (s *Server) handleBridgeMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "mqtt bridge not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.Metrics())
}

// handleListChannels returns the WebSocket channel names.
func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.channels()})
}
