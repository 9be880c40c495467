package domain

import "time"

// AuditKind classifies what produced an audit entry.
type AuditKind string

// Audit entry kinds.
const (
	AuditPermissionCheck   AuditKind = "permission_check"
	AuditAccessRequest     AuditKind = "access_request"
	AuditAccessReview      AuditKind = "access_review"
	AuditPermissionGranted AuditKind = "permission_granted"
	AuditPermissionRevoked AuditKind = "permission_revoked"
)

// Audit sources name the component that emitted an entry.
const (
	SourceResolver = "resolver"
	SourceWorkflow = "workflow"
	SourceLedger   = "ledger"
	SourceSweep    = "sweep"
)

// AuditOutcome is the result recorded for an audited action.
type AuditOutcome string

// Audit outcomes.
const (
	OutcomeGranted AuditOutcome = "granted"
	OutcomeDenied  AuditOutcome = "denied"
)

// OutcomeOf maps an allow/deny boolean onto an AuditOutcome.
func OutcomeOf(allowed bool) AuditOutcome {
	if allowed {
		return OutcomeGranted
	}
	return OutcomeDenied
}

// AccessAuditEntry is a single append-only audit record.
type AccessAuditEntry struct {
	ID         string
	SubjectID  string
	TenantID   string
	Permission string
	ResourceID *string
	Kind       AuditKind
	Source     string
	Outcome    AuditOutcome
	Reason     string
	CreatedAt  time.Time
}

// AuditFilter selects audit entries. Nil fields do not filter.
type AuditFilter struct {
	SubjectID *string
	TenantID  *string
	Source    *string
	Kind      *AuditKind
	Since     *time.Time
	Limit     int
}

// SubjectActivity counts audited permission checks for one subject.
type SubjectActivity struct {
	SubjectID string
	Checks    int64
	Denied    int64
}
