package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"farm-access/internal/middleware"
)

// RouterConfig holds the cross-cutting pieces of the HTTP surface.
type RouterConfig struct {
	Auth           func(http.Handler) http.Handler
	RateLimit      middleware.RateLimitConfig
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

// NewRouter builds the HTTP router: public health and metrics endpoints and
// the authenticated /v1 API.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Public endpoints: no auth required
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimit.RequestsPerSecond > 0 {
			r.Use(middleware.RateLimiter(cfg.RateLimit))
		}
		r.Use(cfg.Auth)

		r.Post("/permissions/check", h.CheckPermission)

		r.Route("/access-requests", func(r chi.Router) {
			r.Post("/", h.CreateAccessRequest)
			r.Get("/", h.ListAccessRequests)
			r.Get("/{id}", h.GetAccessRequest)
			r.Post("/{id}/review", h.ReviewAccessRequest)
		})

		r.Route("/grants", func(r chi.Router) {
			r.Get("/", h.ListGrants)
			r.Post("/temporary", h.GrantTemporaryPermission)
			r.Post("/roles", h.AssignRole)
			r.Post("/delegations", h.Delegate)
			r.Delete("/{id}", h.RevokeGrant)
		})

		r.Get("/drift", h.DetectDrift)
		r.Post("/drift/remediate", h.RemediateDrift)
		r.Get("/analytics", h.GetAnalytics)
		r.Get("/audit", h.QueryAudit)
	})
	return r
}
