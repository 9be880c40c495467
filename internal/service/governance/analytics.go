package governance

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"farm-access/internal/domain"
)

// Window bounds and result sizes for Summarize.
const (
	MinWindowDays      = 1
	MaxWindowDays      = 3650
	topPermissionCount = 5
	accessByUserCount  = 10
)

// Analytics derives access summaries from request history and the audit
// trail.
type Analytics struct {
	requests domain.AccessRequestRepository
	audit    domain.AuditRepository
	now      domain.Clock
}

// NewAnalytics creates an Analytics aggregator.
func NewAnalytics(requests domain.AccessRequestRepository, audit domain.AuditRepository) *Analytics {
	return &Analytics{requests: requests, audit: audit, now: time.Now}
}

// WithClock replaces the time source.
func (a *Analytics) WithClock(clock domain.Clock) *Analytics {
	a.now = clock
	return a
}

// Summarize aggregates the last windowDays of a tenant's activity. Request
// statistics and per-subject activity are loaded concurrently; if ctx is
// cancelled, or either query fails, no summary is returned.
func (a *Analytics) Summarize(ctx context.Context, tenantID string, windowDays int) (*domain.AccessSummary, error) {
	if tenantID == "" {
		return nil, domain.ErrValidation("tenant is required")
	}
	if windowDays < MinWindowDays || windowDays > MaxWindowDays {
		return nil, domain.ErrValidation("window_days must be between %d and %d", MinWindowDays, MaxWindowDays)
	}
	since := a.now().UTC().AddDate(0, 0, -windowDays)

	var (
		stats    *domain.RequestStats
		activity []domain.SubjectActivity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = a.requests.Stats(gctx, tenantID, since)
		return err
	})
	g.Go(func() error {
		var err error
		activity, err = a.audit.ActivityBySubject(gctx, tenantID, since, accessByUserCount)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	top := stats.ByPermission
	if len(top) > topPermissionCount {
		top = top[:topPermissionCount]
	}
	if len(activity) > accessByUserCount {
		activity = activity[:accessByUserCount]
	}

	return &domain.AccessSummary{
		TenantID:                tenantID,
		WindowDays:              windowDays,
		TotalRequests:           stats.Total,
		ApprovedRequests:        stats.Approved,
		DeniedRequests:          stats.Denied,
		EmergencyAccesses:       stats.Emergency,
		TopRequestedPermissions: top,
		AccessByUser:            activity,
		RiskScore:               RiskScore(stats.Total, stats.Denied, stats.Emergency),
	}, nil
}

// RiskScore combines the denial and emergency rates (in percent) into a
// score in [0, 100]: min(100, denial*0.5 + emergency*2), rounded. It is 0
// when there were no requests.
func RiskScore(total, denied, emergency int64) int {
	if total <= 0 {
		return 0
	}
	denialRate := float64(denied) / float64(total) * 100
	emergencyRate := float64(emergency) / float64(total) * 100
	score := math.Min(100, denialRate*0.5+emergencyRate*2)
	return int(math.Round(math.Max(0, score)))
}
