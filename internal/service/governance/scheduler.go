package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"farm-access/internal/domain"
	"farm-access/internal/metrics"
)

// RequestSweeper expires overdue access requests.
type RequestSweeper interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// SchedulerConfig holds cron specs for the periodic jobs. An empty spec
// disables the job.
type SchedulerConfig struct {
	SweepSchedule string
	DriftSchedule string
	DriftTenants  []string
}

// Scheduler runs the expiry sweep and drift scans on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	sweeper RequestSweeper
	drift   *DriftDetector
	cfg     SchedulerConfig
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a Scheduler. drift may be nil when no drift scan is
// configured.
func NewScheduler(sweeper RequestSweeper, drift *DriftDetector, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		sweeper: sweeper,
		drift:   drift,
		cfg:     cfg,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start registers the configured jobs and starts the cron loop. Jobs run
// with a context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.SweepSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, s.runSweep); err != nil {
			return fmt.Errorf("sweep schedule %q: %w", s.cfg.SweepSchedule, err)
		}
	}
	if s.cfg.DriftSchedule != "" && s.drift != nil && len(s.cfg.DriftTenants) > 0 {
		if _, err := s.cron.AddFunc(s.cfg.DriftSchedule, s.runDriftScan); err != nil {
			return fmt.Errorf("drift schedule %q: %w", s.cfg.DriftSchedule, err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"sweep", s.cfg.SweepSchedule, "drift", s.cfg.DriftSchedule, "jobs", len(s.cron.Entries()))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) runSweep() {
	n, err := s.sweeper.ExpireOverdue(s.jobContext())
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expiry sweep", "expired", n)
	}
}

func (s *Scheduler) runDriftScan() {
	ctx := s.jobContext()
	for _, tenant := range s.cfg.DriftTenants {
		findings, err := s.drift.Detect(ctx, tenant)
		if err != nil {
			s.logger.Error("drift scan failed", "tenant", tenant, "error", err)
			continue
		}
		RecordDriftMetrics(tenant, findings)
		for _, f := range findings {
			s.logger.Warn("permission drift",
				"tenant", tenant, "subject", f.SubjectID, "grant_id", f.GrantID,
				"type", f.Type, "severity", f.Severity, "description", f.Description)
		}
	}
}

// RecordDriftMetrics publishes the per-type finding counts of one scan.
func RecordDriftMetrics(tenant string, findings []domain.PermissionDrift) {
	counts := map[domain.DriftType]int{
		domain.DriftStale:       0,
		domain.DriftExcessive:   0,
		domain.DriftConflicting: 0,
		domain.DriftSuspicious:  0,
	}
	for _, f := range findings {
		counts[f.Type]++
	}
	for t, n := range counts {
		metrics.DriftFindings.WithLabelValues(tenant, string(t)).Set(float64(n))
	}
}
