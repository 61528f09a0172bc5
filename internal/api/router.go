package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/xrmonitor-core/internal/auth"
	"github.com/nerrad567/xrmonitor-core/internal/panel"
)

// healthCheckTimeout bounds the dependency probes behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Web client, from panel_dir or the embedded build
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.cfg.PanelDir)))
	r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))

	r.Route("/api/v1", func(r chi.Router) {
		// Public
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket authenticates with ?token= or ?ticket= in the handler.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/buses", func(r chi.Router) {
				r.Get("/", s.handleListBuses)

				r.Route("/{bus}", func(r chi.Router) {
					r.Use(s.busAccessMiddleware)

					r.Get("/", s.handleGetBus)
					r.With(s.requirePermission(auth.PermLevelWrite)).
						Put("/channels/{channel}/level", s.handleSetChannelLevel)
					r.With(s.requirePermission(auth.PermLevelWrite)).
						Put("/channels/{channel}/mute", s.handleSetChannelMute)
					r.With(s.requirePermission(auth.PermMasterWrite)).
						Put("/master", s.handleSetMasterLevel)
				})
			})

			r.With(s.requirePermission(auth.PermMixerReset)).Post("/mixer/reset", s.handleMixerReset)
			r.With(s.requirePermission(auth.PermUserManage)).Get("/metrics", s.handleMetrics)
			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)

			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUserManage))

				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Route("/{id}", func(r chi.Router) {
					r.Put("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeleteUser)
					r.Post("/password", s.handleChangePassword)
					r.Put("/buses", s.handleSetUserBuses)
				})
			})

			r.Route("/names", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermNameManage))

				r.Get("/", s.handleListNames)
				r.Put("/{kind}/{id}", s.handleSetName)
				r.Delete("/{kind}/{id}", s.handleDeleteName)
			})
		})
	})

	return r
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status         string `json:"status"`
	MixerConnected bool   `json:"mixer_connected"`
	Database       string `json:"database"`
	MQTT           string `json:"mqtt"`
	Version        string `json:"version"`
}

// handleHealth reports dependency health. The process is degraded while
// the mixer is unreachable and unhealthy when the database fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:         "ok",
		MixerConnected: s.mixer.IsConnected(),
		Database:       probe(ctx, s.database),
		MQTT:           probe(ctx, s.mqtt),
		Version:        s.version,
	}

	status := http.StatusOK
	switch {
	case resp.Database == "error":
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case !resp.MixerConnected || resp.MQTT == "error":
		resp.Status = "degraded"
	}

	writeJSON(w, status, resp)
}

func probe(ctx context.Context, hc HealthChecker) string {
	if hc == nil {
		return "disabled"
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return "error"
	}
	return "ok"
}
