package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/drivers", func(r chi.Router) {
				r.Get("/", s.handleListDrivers)
				r.Get("/stats", s.handleDriverStats)
				r.Get("/watch", s.handleWatchDrivers)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDriver)
					r.Get("/coolers/{componentID}", s.handleGetCooler)
					r.Get("/sensors/{componentID}", s.handleGetSensor)
					r.Get("/lights/{componentID}", s.handleGetLight)
					r.Get("/monitors/{componentID}", s.handleGetMonitor)
					r.Get("/monitors/{componentID}/settings/{settingID}", s.handleGetMonitorSetting)
				})
			})

			r.Get("/metadata", s.handleGetMetadata)
			r.Get("/bridge/metrics", s.handleBridgeMetrics)
			r.Get("/channels", s.handleListChannels)

			r.Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"drivers": s.registry.Count(),
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}
