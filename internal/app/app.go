// Package app wires the access governance engine: storage, services,
// background jobs and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"farm-access/internal/api"
	"farm-access/internal/catalog"
	"farm-access/internal/config"
	internaldb "farm-access/internal/db"
	"farm-access/internal/db/repository"
	"farm-access/internal/domain"
	"farm-access/internal/metrics"
	"farm-access/internal/middleware"
	"farm-access/internal/service/governance"
	"farm-access/internal/service/security"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg      *config.Config
	Store    *internaldb.Store
	Catalog  *catalog.Catalog
	Notifier domain.ReviewerNotifier
	Logger   *slog.Logger
	// Registry receives the engine's metrics. Nil skips registration.
	Registry *prometheus.Registry
}

// Services groups the service pointers the router, scheduler and CLI need.
type Services struct {
	Resolver  *security.Resolver
	Ledger    *security.Ledger
	Workflow  *security.Workflow
	Drift     *governance.DriftDetector
	Analytics *governance.Analytics
	Audit     *governance.AuditLog
}

// App holds the fully-wired application.
type App struct {
	Services  Services
	Scheduler *governance.Scheduler
	Logins    *repository.LoginRepo
	Catalog   *catalog.Catalog

	cfg    *config.Config
	logger *slog.Logger
}

// GrantWindow converts the configured window into the workflow policy.
func GrantWindow(cfg *config.Config) security.GrantWindow {
	if cfg.GrantWindowMode == config.GrantWindowFixed {
		return security.GrantWindow{Mode: security.WindowFixed, Fixed: cfg.GrantWindow}
	}
	return security.GrantWindow{Mode: security.WindowReviewDeadline}
}

// New wires repositories and services from the provided deps. Nothing is
// started; call Start for the background jobs.
func New(deps Deps) (*App, error) {
	if deps.Cfg == nil || deps.Store == nil || deps.Catalog == nil || deps.Logger == nil {
		return nil, fmt.Errorf("app: config, store, catalog and logger are required")
	}
	cfg := deps.Cfg
	if deps.Registry != nil {
		metrics.Register(deps.Registry)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}

	// === Repositories: writes go through the single-connection pool ===
	grantRepo := repository.NewGrantRepo(deps.Store.Write, deps.Store.Read)
	requestRepo := repository.NewAccessRequestRepo(deps.Store.Write, deps.Store.Read)
	auditRepo := repository.NewAuditRepo(deps.Store.Write, deps.Store.Read)
	loginRepo := repository.NewLoginRepo(deps.Store.Write)

	// === Audit ===
	auditLog := governance.NewAuditLog(auditRepo, governance.AuditLogConfig{
		Shards:    cfg.AuditShards,
		QueueSize: cfg.AuditQueueSize,
	}, deps.Logger)

	// === Security services ===
	resolver := security.NewResolver(grantRepo, deps.Catalog, auditLog, deps.Logger)
	ledger := security.NewLedger(grantRepo, deps.Catalog, resolver, auditLog, deps.Logger)
	workflow := security.NewWorkflow(requestRepo, deps.Catalog, resolver, auditLog, notifier, GrantWindow(cfg), deps.Logger)

	// === Governance ===
	drift := governance.NewDriftDetector(grantRepo, deps.Logger)
	analytics := governance.NewAnalytics(requestRepo, auditRepo)
	scheduler := governance.NewScheduler(workflow, drift, governance.SchedulerConfig{
		SweepSchedule: cfg.SweepSchedule,
		DriftSchedule: cfg.DriftSchedule,
		DriftTenants:  cfg.DriftTenants,
	}, deps.Logger)

	return &App{
		Services: Services{
			Resolver:  resolver,
			Ledger:    ledger,
			Workflow:  workflow,
			Drift:     drift,
			Analytics: analytics,
			Audit:     auditLog,
		},
		Scheduler: scheduler,
		Logins:    loginRepo,
		Catalog:   deps.Catalog,
		cfg:       cfg,
		logger:    deps.Logger,
	}, nil
}

// Start launches the background jobs.
func (a *App) Start(ctx context.Context) error {
	return a.Scheduler.Start(ctx)
}

// Router builds the HTTP handler with validator guarding /v1.
func (a *App) Router(validator middleware.JWTValidator, gatherer prometheus.Gatherer) http.Handler {
	s := a.Services
	h := api.NewHandler(s.Resolver, s.Workflow, s.Ledger, s.Drift, s.Analytics, s.Audit, a.logger)
	auth := middleware.NewAuthenticator(validator, a.Logins, a.logger)
	return api.NewRouter(h, api.RouterConfig{
		Auth: auth.Middleware(),
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.cfg.RateLimitRPS,
			Burst:             a.cfg.RateLimitBurst,
		},
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
		Gatherer:       gatherer,
		Logger:         a.logger,
	})
}

// Shutdown stops the scheduler, waits for in-flight reviewer notifications
// and drains the audit queues. The store is left open for the caller.
func (a *App) Shutdown() {
	a.Scheduler.Stop()
	a.Services.Workflow.WaitNotifications()
	a.Services.Audit.Close()
}

// NewValidator builds the token validator: OIDC when an issuer is
// configured, the HS256 shared secret otherwise.
func NewValidator(ctx context.Context, auth config.AuthConfig) (middleware.JWTValidator, error) {
	if auth.OIDCEnabled() {
		return middleware.NewOIDCValidator(ctx, auth.IssuerURL, auth.Audience)
	}
	return middleware.NewHS256Validator(auth.JWTSecret)
}

type noopNotifier struct{}

func (noopNotifier) NotifyReviewers(context.Context, domain.AccessRequest) error { return nil }
