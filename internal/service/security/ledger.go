package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"farm-access/internal/catalog"
	"farm-access/internal/domain"
	"farm-access/internal/metrics"
)

// Ledger is the service over grant assignments. Whether a grant is active is
// always computed at read time from its flag and expiry.
type Ledger struct {
	grants  domain.GrantRepository
	catalog *catalog.Catalog
	checker domain.PermissionChecker
	audit   domain.AuditRecorder
	logger  *slog.Logger
	now     domain.Clock
}

// NewLedger creates a Ledger. checker authorizes administrative callers and
// delegators.
func NewLedger(grants domain.GrantRepository, cat *catalog.Catalog, checker domain.PermissionChecker, audit domain.AuditRecorder, logger *slog.Logger) *Ledger {
	return &Ledger{
		grants:  grants,
		catalog: cat,
		checker: checker,
		audit:   audit,
		logger:  logger.With("component", "ledger"),
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(clock domain.Clock) *Ledger {
	l.now = clock
	return l
}

// CreateGrant writes g to the ledger without an authorization check. It is
// the operator path used by the admin CLI and by the other ledger operations.
func (l *Ledger) CreateGrant(ctx context.Context, g domain.NewGrant) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	created, err := l.grants.Create(ctx, g)
	if err != nil {
		return "", fmt.Errorf("create grant: %w", err)
	}

	metrics.GrantsIssued.WithLabelValues(created.RoleID).Inc()
	l.record(created.SubjectID, created.TenantID, strings.Join(created.Permissions, ","),
		domain.AuditPermissionGranted, domain.OutcomeGranted, g.Reason)
	l.logger.Info("grant issued",
		"grant_id", created.ID, "subject", created.SubjectID, "tenant", created.TenantID,
		"role", created.RoleID, "granted_by", created.GrantedBy)
	return created.ID, nil
}

// ListActiveGrants returns the subject's grants that are active at now.
func (l *Ledger) ListActiveGrants(ctx context.Context, subjectID, tenantID string, now time.Time) ([]domain.Grant, error) {
	all, err := l.grants.ListForSubject(ctx, subjectID, tenantID)
	if err != nil {
		return nil, err
	}
	active := make([]domain.Grant, 0, len(all))
	for _, g := range all {
		if g.ActiveAt(now) {
			active = append(active, g)
		}
	}
	return active, nil
}

// Deactivate clears the active flag of a grant.
func (l *Ledger) Deactivate(ctx context.Context, grantID string) error {
	return l.grants.Deactivate(ctx, grantID)
}

// AssignRole grants every permission of a catalog role to subject. actor
// must hold permissions.assign in the tenant.
func (l *Ledger) AssignRole(ctx context.Context, actorID, subjectID, tenantID, roleID string, expiresAt *time.Time, reason string) (string, error) {
	if err := l.requireAssign(ctx, actorID, tenantID); err != nil {
		return "", err
	}
	role, ok := l.catalog.Role(roleID)
	if !ok {
		return "", domain.ErrNotFound("role %q not found", roleID)
	}
	if expiresAt != nil && !expiresAt.After(l.now()) {
		return "", domain.ErrValidation("expiry must be in the future")
	}
	return l.CreateGrant(ctx, domain.NewGrant{
		SubjectID:   subjectID,
		TenantID:    tenantID,
		RoleID:      role.ID,
		Permissions: role.Permissions,
		ExpiresAt:   expiresAt,
		Reason:      reason,
		GrantedBy:   actorID,
	})
}

// GrantTemporaryPermission issues a single-permission grant expiring at
// expiresAt. actor must hold permissions.assign in the tenant.
func (l *Ledger) GrantTemporaryPermission(ctx context.Context, actorID, subjectID, tenantID, permission string, expiresAt time.Time, reason string) (string, error) {
	if err := l.requireAssign(ctx, actorID, tenantID); err != nil {
		return "", err
	}
	if !l.catalog.HasPermission(permission) {
		return "", domain.ErrValidation("unknown permission %q", permission)
	}
	if !expiresAt.After(l.now()) {
		return "", domain.ErrValidation("expiry must be in the future")
	}
	return l.CreateGrant(ctx, domain.NewGrant{
		SubjectID:   subjectID,
		TenantID:    tenantID,
		RoleID:      domain.RoleTemporaryAccess,
		Permissions: []string{permission},
		ExpiresAt:   &expiresAt,
		Reason:      reason,
		GrantedBy:   actorID,
	})
}

// Delegate passes a subset of the delegator's role permissions to subject
// until expiresAt. Every delegated permission must be covered by an active
// grant of a role that can delegate, and the delegation cannot outlive that
// grant. Temporary and delegated grants never count as a source. The
// delegator must also be allowed each permission right now.
func (l *Ledger) Delegate(ctx context.Context, delegatorID, subjectID, tenantID string, permissions []string, expiresAt time.Time, reason string) (string, error) {
	now := l.now()
	switch {
	case len(permissions) == 0:
		return "", domain.ErrValidation("at least one permission is required")
	case subjectID == "" || subjectID == delegatorID:
		return "", domain.ErrValidation("delegation requires a different subject")
	case !expiresAt.After(now):
		return "", domain.ErrValidation("expiry must be in the future")
	}
	for _, p := range permissions {
		if !l.catalog.HasPermission(p) {
			return "", domain.ErrValidation("unknown permission %q", p)
		}
	}

	grants, err := l.ListActiveGrants(ctx, delegatorID, tenantID, now)
	if err != nil {
		return "", err
	}
	sources := l.delegatingGrants(grants)
	if len(sources) == 0 {
		return "", domain.ErrAccessDenied("%s holds no role that may delegate in %s", delegatorID, tenantID)
	}
	for _, p := range permissions {
		source, ok := longestCovering(sources, p)
		if !ok {
			return "", domain.ErrAccessDenied("%s cannot delegate %s: not part of a delegating role", delegatorID, p)
		}
		if source.ExpiresAt != nil && expiresAt.After(*source.ExpiresAt) {
			return "", domain.ErrValidation("delegation of %s cannot outlive the delegator's grant (expires %s)",
				p, source.ExpiresAt.UTC().Format(time.RFC3339))
		}
		if !l.checker.CheckPermission(ctx, delegatorID, tenantID, p, nil, nil) {
			return "", domain.ErrAccessDenied("%s cannot delegate %s", delegatorID, p)
		}
	}

	return l.CreateGrant(ctx, domain.NewGrant{
		SubjectID:   subjectID,
		TenantID:    tenantID,
		RoleID:      domain.RoleDelegatedAccess,
		Permissions: permissions,
		ExpiresAt:   &expiresAt,
		Reason:      reason,
		GrantedBy:   delegatorID,
	})
}

// delegatingGrants keeps the grants whose catalog role can delegate.
func (l *Ledger) delegatingGrants(grants []domain.Grant) []domain.Grant {
	var out []domain.Grant
	for _, g := range grants {
		role, ok := l.catalog.Role(g.RoleID)
		if ok && role.CanDelegate {
			out = append(out, g)
		}
	}
	return out
}

// longestCovering picks the longest-lived grant among sources that covers
// permission.
func longestCovering(sources []domain.Grant, permission string) (domain.Grant, bool) {
	var best domain.Grant
	found := false
	for _, g := range sources {
		if !grantCovers(g, permission) {
			continue
		}
		switch {
		case !found:
			best, found = g, true
		case best.ExpiresAt == nil:
		case g.ExpiresAt == nil || g.ExpiresAt.After(*best.ExpiresAt):
			best = g
		}
	}
	return best, found
}

func grantCovers(g domain.Grant, permission string) bool {
	for _, held := range g.Permissions {
		if domain.PermissionCovers(held, permission) {
			return true
		}
	}
	return false
}

// RemediateExpired deactivates the tenant's grants that are past expiry but
// still flagged active and returns how many were changed.
func (l *Ledger) RemediateExpired(ctx context.Context, tenantID string) (int, error) {
	fixed, err := l.grants.DeactivateExpired(ctx, tenantID, l.now())
	if err != nil {
		return 0, fmt.Errorf("remediate expired grants: %w", err)
	}
	for _, g := range fixed {
		metrics.GrantsRevoked.Inc()
		l.record(g.SubjectID, g.TenantID, strings.Join(g.Permissions, ","),
			domain.AuditPermissionRevoked, domain.OutcomeGranted, "expired grant deactivated")
	}
	if len(fixed) > 0 {
		l.logger.Info("expired grants remediated", "tenant", tenantID, "count", len(fixed))
	}
	return len(fixed), nil
}

// Revoke deactivates a grant of tenantID on behalf of actor, who must hold
// permissions.assign there. A grant of another tenant is reported as not
// found.
func (l *Ledger) Revoke(ctx context.Context, actorID, tenantID, grantID string) error {
	g, err := l.grants.GetByID(ctx, grantID)
	if err != nil {
		return err
	}
	if g.TenantID != tenantID {
		return domain.ErrNotFound("grant %q not found", grantID)
	}
	if err := l.requireAssign(ctx, actorID, tenantID); err != nil {
		return err
	}
	if err := l.grants.Deactivate(ctx, grantID); err != nil {
		return err
	}
	metrics.GrantsRevoked.Inc()
	l.record(g.SubjectID, g.TenantID, strings.Join(g.Permissions, ","),
		domain.AuditPermissionRevoked, domain.OutcomeGranted, "revoked by "+actorID)
	l.logger.Info("grant revoked", "grant_id", grantID, "actor", actorID)
	return nil
}

func (l *Ledger) requireAssign(ctx context.Context, actorID, tenantID string) error {
	if actorID == "" {
		return domain.ErrAccessDenied("authentication required")
	}
	if !l.checker.CheckPermission(ctx, actorID, tenantID, domain.PermissionAssign, nil, nil) {
		return domain.ErrAccessDenied("%s lacks %s in %s", actorID, domain.PermissionAssign, tenantID)
	}
	return nil
}

func (l *Ledger) record(subjectID, tenantID, permission string, kind domain.AuditKind, outcome domain.AuditOutcome, reason string) {
	l.audit.Record(domain.AccessAuditEntry{
		SubjectID:  subjectID,
		TenantID:   tenantID,
		Permission: permission,
		Kind:       kind,
		Source:     domain.SourceLedger,
		Outcome:    outcome,
		Reason:     reason,
		CreatedAt:  l.now().UTC(),
	})
}
