// Package security implements permission resolution, the grant ledger and
// the access request workflow.
package security

import (
	"context"
	"log/slog"
	"time"

	"farm-access/internal/catalog"
	"farm-access/internal/domain"
	"farm-access/internal/metrics"
)

// Decision reasons reported by the resolver.
const (
	ReasonNoActiveGrants   = "no active grants"
	ReasonAdminAccess      = "admin access"
	ReasonConditionsNotMet = "conditions not met"
	ReasonGranted          = "permission granted"
	ReasonCategoryWildcard = "category wildcard"
	ReasonNotFound         = "permission not found"
	ReasonSystemError      = "system error"
)

// Decision is the outcome of resolving one permission check.
type Decision struct {
	Allowed bool
	Reason  string
}

var _ domain.PermissionChecker = (*Resolver)(nil)

// Resolver decides whether a subject holds a permission in a tenant. It never
// returns an error: any failure denies with ReasonSystemError.
type Resolver struct {
	grants  domain.GrantRepository
	catalog *catalog.Catalog
	audit   domain.AuditRecorder
	logger  *slog.Logger
	now     domain.Clock
}

// NewResolver creates a Resolver.
func NewResolver(grants domain.GrantRepository, cat *catalog.Catalog, audit domain.AuditRecorder, logger *slog.Logger) *Resolver {
	return &Resolver{
		grants:  grants,
		catalog: cat,
		audit:   audit,
		logger:  logger.With("component", "resolver"),
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (r *Resolver) WithClock(clock domain.Clock) *Resolver {
	r.now = clock
	return r
}

// Resolve evaluates permission for subject in tenant. evalCtx supplies the
// fields that permission conditions are checked against and may be nil.
func (r *Resolver) Resolve(ctx context.Context, subjectID, tenantID, permission string, resourceID *string, evalCtx map[string]any) Decision {
	d, err := r.resolve(ctx, subjectID, tenantID, permission, evalCtx)
	if err != nil {
		r.logger.Error("permission check failed closed",
			"subject", subjectID, "tenant", tenantID, "permission", permission, "error", err)
		d = Decision{Allowed: false, Reason: ReasonSystemError}
	}

	metrics.PermissionChecks.WithLabelValues(string(domain.OutcomeOf(d.Allowed)), d.Reason).Inc()
	r.audit.Record(domain.AccessAuditEntry{
		SubjectID:  subjectID,
		TenantID:   tenantID,
		Permission: permission,
		ResourceID: resourceID,
		Kind:       domain.AuditPermissionCheck,
		Source:     domain.SourceResolver,
		Outcome:    domain.OutcomeOf(d.Allowed),
		Reason:     d.Reason,
		CreatedAt:  r.now().UTC(),
	})
	return d
}

// CheckPermission reports whether Resolve allows the permission.
func (r *Resolver) CheckPermission(ctx context.Context, subjectID, tenantID, permission string, resourceID *string, evalCtx map[string]any) bool {
	return r.Resolve(ctx, subjectID, tenantID, permission, resourceID, evalCtx).Allowed
}

func (r *Resolver) resolve(ctx context.Context, subjectID, tenantID, permission string, evalCtx map[string]any) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	grants, err := r.grants.ListForSubject(ctx, subjectID, tenantID)
	if err != nil {
		return Decision{}, err
	}

	now := r.now()
	held := make(map[string]struct{})
	for _, g := range grants {
		if !g.ActiveAt(now) {
			continue
		}
		for _, p := range g.Permissions {
			held[p] = struct{}{}
		}
	}
	if len(held) == 0 {
		return Decision{Reason: ReasonNoActiveGrants}, nil
	}

	if has(held, domain.PermissionAll) || has(held, domain.PermissionSystemAdmin) {
		return Decision{Allowed: true, Reason: ReasonAdminAccess}, nil
	}

	if has(held, permission) {
		if def, ok := r.catalog.Permission(permission); ok {
			for _, c := range def.Conditions {
				if !c.Evaluate(evalCtx) {
					return Decision{Reason: ReasonConditionsNotMet}, nil
				}
			}
		}
		return Decision{Allowed: true, Reason: ReasonGranted}, nil
	}

	if wildcard, ok := domain.CategoryWildcard(permission); ok && has(held, wildcard) {
		return Decision{Allowed: true, Reason: ReasonCategoryWildcard}, nil
	}

	return Decision{Reason: ReasonNotFound}, nil
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
