package domain

import (
	"context"
	"time"
)

// Clock returns the current time. Services take one so tests can pin time.
type Clock func() time.Time

// ReviewerNotifier informs reviewers that an access request awaits a decision.
// Implemented by the notify package.
type ReviewerNotifier interface {
	NotifyReviewers(ctx context.Context, req AccessRequest) error
}

// AuditRecorder accepts audit entries for durable, ordered storage.
// Implemented by governance.AuditLog.
type AuditRecorder interface {
	Record(entry AccessAuditEntry)
}

// PermissionChecker decides whether a subject holds a permission.
// Implemented by security.Resolver.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, subjectID, tenantID, permission string, resourceID *string, evalCtx map[string]any) bool
}
