package domain

import (
	"context"
	"time"
)

// GrantRepository persists grants and their permission sets.
type GrantRepository interface {
	Create(ctx context.Context, g NewGrant) (*Grant, error)
	GetByID(ctx context.Context, id string) (*Grant, error)
	// ListForSubject returns every grant whose IsActive flag is set for the
	// subject in the tenant. Temporal validity is left to the caller.
	ListForSubject(ctx context.Context, subjectID, tenantID string) ([]Grant, error)
	// SnapshotTenant returns every flag-active grant of a tenant and the last
	// login of each subject holding one, read within a single transaction.
	SnapshotTenant(ctx context.Context, tenantID string) (*TenantSnapshot, error)
	Deactivate(ctx context.Context, id string) error
	// DeactivateExpired clears the active flag on grants of the tenant whose
	// expiry is at or before now and returns the affected grants.
	DeactivateExpired(ctx context.Context, tenantID string, now time.Time) ([]Grant, error)
}

// AccessRequestRepository persists access requests and their transitions.
type AccessRequestRepository interface {
	Create(ctx context.Context, r *AccessRequest) (*AccessRequest, error)
	GetByID(ctx context.Context, id string) (*AccessRequest, error)
	List(ctx context.Context, filter AccessRequestFilter) ([]AccessRequest, error)
	ListPending(ctx context.Context) ([]AccessRequest, error)
	// Resolve atomically moves a pending request to a terminal state and, when
	// res.Grant is set, creates that grant in the same transaction. It returns
	// an InvalidStateError if the request is no longer pending.
	Resolve(ctx context.Context, id string, res RequestResolution) (*AccessRequest, error)
	// Stats aggregates requests of a tenant requested at or after since.
	Stats(ctx context.Context, tenantID string, since time.Time) (*RequestStats, error)
}

// AuditRepository provides append-only storage for audit entries.
type AuditRepository interface {
	Insert(ctx context.Context, e *AccessAuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AccessAuditEntry, error)
	// ActivityBySubject counts permission checks per subject since the given
	// instant, busiest subjects first.
	ActivityBySubject(ctx context.Context, tenantID string, since time.Time, limit int) ([]SubjectActivity, error)
}

// LoginRepository records and reads subjects' last successful authentication.
type LoginRepository interface {
	RecordLogin(ctx context.Context, subjectID, tenantID string, at time.Time) error
	LastLogin(ctx context.Context, subjectID, tenantID string) (time.Time, bool, error)
}

// TenantSnapshot is a consistent view of a tenant's ledger.
type TenantSnapshot struct {
	TenantID   string
	Grants     []Grant
	LastLogins map[string]time.Time
}
