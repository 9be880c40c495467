package governance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"farm-access/internal/domain"
)

// StaleAfter is how long a subject may go without logging in before its
// grants are reported as stale.
const StaleAfter = 90 * 24 * time.Hour

// excessiveFactor scales the expected permission count of a role into the
// threshold above which a grant is reported as excessive.
const excessiveFactor = 1.5

const defaultExpectedPermissions = 8

// expectedPermissions is the nominal permission count per system role.
var expectedPermissions = map[string]int{
	"owner":        25,
	"manager":      15,
	"worker":       8,
	"viewer":       4,
	"accountant":   6,
	"veterinarian": 4,
}

// ExpectedPermissions returns the nominal permission count for roleID.
func ExpectedPermissions(roleID string) int {
	if n, ok := expectedPermissions[roleID]; ok {
		return n
	}
	return defaultExpectedPermissions
}

// DriftDetector reports grants that have drifted from policy. It reads one
// consistent snapshot per call and never writes.
type DriftDetector struct {
	grants domain.GrantRepository
	logger *slog.Logger
	now    domain.Clock
}

// NewDriftDetector creates a DriftDetector.
func NewDriftDetector(grants domain.GrantRepository, logger *slog.Logger) *DriftDetector {
	return &DriftDetector{
		grants: grants,
		logger: logger.With("component", "drift-detector"),
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (d *DriftDetector) WithClock(clock domain.Clock) *DriftDetector {
	d.now = clock
	return d
}

// Detect evaluates every flag-active grant of tenant against the stale,
// excessive and expired-but-active rules. Findings are ordered by grant
// creation and then by rule.
func (d *DriftDetector) Detect(ctx context.Context, tenantID string) ([]domain.PermissionDrift, error) {
	if tenantID == "" {
		return nil, domain.ErrValidation("tenant is required")
	}
	snap, err := d.grants.SnapshotTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("snapshot tenant %s: %w", tenantID, err)
	}

	now := d.now().UTC()
	findings := []domain.PermissionDrift{}
	for _, g := range snap.Grants {
		if !g.IsActive {
			continue
		}
		finding := func(t domain.DriftType, sev domain.Severity, desc string) domain.PermissionDrift {
			return domain.PermissionDrift{
				SubjectID:   g.SubjectID,
				TenantID:    g.TenantID,
				GrantID:     g.ID,
				Type:        t,
				Severity:    sev,
				Description: desc,
				DetectedAt:  now,
			}
		}

		if last, ok := snap.LastLogins[g.SubjectID]; ok && now.Sub(last) > StaleAfter {
			days := int(now.Sub(last) / (24 * time.Hour))
			findings = append(findings, finding(domain.DriftStale, domain.SeverityMedium,
				fmt.Sprintf("%s has not logged in for %d days", g.SubjectID, days)))
		}

		expected := ExpectedPermissions(g.RoleID)
		if float64(len(g.Permissions)) > excessiveFactor*float64(expected) {
			findings = append(findings, finding(domain.DriftExcessive, domain.SeverityHigh,
				fmt.Sprintf("grant carries %d permissions, expected about %d for role %s",
					len(g.Permissions), expected, g.RoleID)))
		}

		if g.ExpiredButActive(now) {
			findings = append(findings, finding(domain.DriftConflicting, domain.SeverityCritical,
				fmt.Sprintf("grant expired at %s but is still flagged active",
					g.ExpiresAt.UTC().Format(time.RFC3339))))
		}
	}

	d.logger.Debug("drift scan complete", "tenant", tenantID, "grants", len(snap.Grants), "findings", len(findings))
	return findings, nil
}
