package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// System metrics
			r.Get("/system/metrics", s.handleMetrics)

			// Volume endpoints
			r.Route("/volume", func(r chi.Router) {
				r.Get("/streams", s.handleListStreams)
				r.Get("/streams/{stream}", s.handleGetStream)
				r.Put("/streams/{stream}", s.handleSetStream)
				r.Post("/keys", s.handleInjectKey)
				r.Get("/focus", s.handleGetFocus)
				r.Get("/history", s.handleVolumeHistory)
			})

			// WebSocket (token accepted via header or query parameter)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status along with per-component
// connectivity. Optional components that were not wired are omitted.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string)

	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			components["mqtt"] = "ok"
		} else {
			components["mqtt"] = "disconnected"
			status = "degraded"
		}
	}

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			components["database"] = "unavailable"
			status = "degraded"
		} else {
			components["database"] = "ok"
		}
	}

	if s.hal != nil {
		if s.hal.Stats().Connected {
			components["vehicle"] = "ok"
		} else {
			components["vehicle"] = "disconnected"
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
