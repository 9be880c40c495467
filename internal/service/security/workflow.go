package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"farm-access/internal/catalog"
	"farm-access/internal/domain"
	"farm-access/internal/metrics"
)

// GrantWindowMode selects how long an approved request's grant lasts.
type GrantWindowMode string

const (
	// WindowReviewDeadline expires the grant at the request's review deadline.
	WindowReviewDeadline GrantWindowMode = "review_deadline"
	// WindowFixed expires the grant a fixed duration after approval.
	WindowFixed GrantWindowMode = "fixed"
)

// GrantWindow is the expiry policy for grants issued on approval.
type GrantWindow struct {
	Mode  GrantWindowMode
	Fixed time.Duration
}

// ExpiresAt returns when a grant for req approved at reviewedAt expires.
func (w GrantWindow) ExpiresAt(req domain.AccessRequest, reviewedAt time.Time) time.Time {
	if w.Mode == WindowFixed && w.Fixed > 0 {
		return reviewedAt.Add(w.Fixed).UTC()
	}
	return req.ReviewDeadline.UTC()
}

const (
	defaultNotifyTimeout = 10 * time.Second
	reasonDeadlinePassed = "review deadline passed"
)

// Workflow runs access requests through pending → approved | denied | expired.
// Every transition out of pending is a compare-and-set in the store, so a
// request is resolved exactly once no matter how many reviewers or sweeps
// race on it.
type Workflow struct {
	requests      domain.AccessRequestRepository
	catalog       *catalog.Catalog
	checker       domain.PermissionChecker
	audit         domain.AuditRecorder
	notifier      domain.ReviewerNotifier
	window        GrantWindow
	notifyTimeout time.Duration
	logger        *slog.Logger
	now           domain.Clock
	notifications sync.WaitGroup
}

// NewWorkflow creates a Workflow.
func NewWorkflow(
	requests domain.AccessRequestRepository,
	cat *catalog.Catalog,
	checker domain.PermissionChecker,
	audit domain.AuditRecorder,
	notifier domain.ReviewerNotifier,
	window GrantWindow,
	logger *slog.Logger,
) *Workflow {
	return &Workflow{
		requests:      requests,
		catalog:       cat,
		checker:       checker,
		audit:         audit,
		notifier:      notifier,
		window:        window,
		notifyTimeout: defaultNotifyTimeout,
		logger:        logger.With("component", "access-workflow"),
		now:           time.Now,
	}
}

// WithClock replaces the time source.
func (w *Workflow) WithClock(clock domain.Clock) *Workflow {
	w.now = clock
	return w
}

// Request records a pending access request and returns its id. Reviewers are
// notified in the background for standard requests; emergency requests are
// logged as break-glass and still need an explicit review.
func (w *Workflow) Request(ctx context.Context, in domain.CreateAccessRequest) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	if !w.catalog.HasPermission(in.Permission) {
		return "", domain.ErrValidation("unknown permission %q", in.Permission)
	}

	now := w.now().UTC()
	req, err := w.requests.Create(ctx, &domain.AccessRequest{
		SubjectID:      in.SubjectID,
		TenantID:       in.TenantID,
		Permission:     in.Permission,
		ResourceType:   in.ResourceType,
		ResourceID:     in.ResourceID,
		Justification:  in.Justification,
		Emergency:      in.Emergency,
		Status:         domain.RequestPending,
		RequestedAt:    now,
		ReviewDeadline: now.Add(domain.ReviewWindow(in.Emergency)),
	})
	if err != nil {
		return "", fmt.Errorf("create access request: %w", err)
	}

	metrics.RequestsCreated.WithLabelValues(strconv.FormatBool(req.Emergency)).Inc()
	w.audit.Record(domain.AccessAuditEntry{
		SubjectID:  req.SubjectID,
		TenantID:   req.TenantID,
		Permission: req.Permission,
		ResourceID: req.ResourceID,
		Kind:       domain.AuditAccessRequest,
		Source:     domain.SourceWorkflow,
		Outcome:    domain.OutcomeGranted,
		Reason:     req.Justification,
		CreatedAt:  now,
	})

	if req.Emergency {
		w.logger.Warn("break-glass access requested",
			"request_id", req.ID, "subject", req.SubjectID, "tenant", req.TenantID,
			"permission", req.Permission, "deadline", req.ReviewDeadline)
	} else {
		w.notify(ctx, *req)
	}
	return req.ID, nil
}

func (w *Workflow) notify(ctx context.Context, req domain.AccessRequest) {
	if w.notifier == nil {
		return
	}
	w.notifications.Add(1)
	go func() {
		defer w.notifications.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.notifyTimeout)
		defer cancel()
		if err := w.notifier.NotifyReviewers(nctx, req); err != nil {
			w.logger.Warn("reviewer notification failed", "request_id", req.ID, "error", err)
		}
	}()
}

// WaitNotifications blocks until in-flight reviewer notifications finish.
func (w *Workflow) WaitNotifications() {
	w.notifications.Wait()
}

// Review approves or denies a pending request. The reviewer must hold
// permissions.assign in the request's tenant. Approval issues a temporary
// grant in the same transaction as the status change.
func (w *Workflow) Review(ctx context.Context, requestID, reviewerID string, approve bool, notes *string) (*domain.AccessRequest, error) {
	req, err := w.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestPending {
		return nil, domain.ErrInvalidState("access request %q already resolved (%s)", requestID, req.Status)
	}
	if reviewerID == "" || !w.checker.CheckPermission(ctx, reviewerID, req.TenantID, domain.PermissionAssign, nil, nil) {
		return nil, domain.ErrAccessDenied("%s may not review requests in %s", reviewerID, req.TenantID)
	}

	now := w.now().UTC()
	if req.Overdue(now) {
		if _, err := w.expire(ctx, *req, now); err != nil && !isInvalidState(err) {
			return nil, err
		}
		return nil, domain.ErrInvalidState("access request %q expired at %s", requestID,
			req.ReviewDeadline.Format(time.RFC3339))
	}

	res := domain.RequestResolution{
		Status:     domain.RequestDenied,
		ResolvedAt: now,
		Reviewer:   &reviewerID,
		Notes:      notes,
	}
	if approve {
		expires := w.window.ExpiresAt(*req, now)
		res.Status = domain.RequestApproved
		res.Grant = &domain.NewGrant{
			SubjectID:   req.SubjectID,
			TenantID:    req.TenantID,
			RoleID:      domain.RoleTemporaryAccess,
			Permissions: []string{req.Permission},
			ExpiresAt:   &expires,
			Reason:      req.Justification,
			GrantedBy:   reviewerID,
		}
	}

	resolved, err := w.requests.Resolve(ctx, requestID, res)
	if err != nil {
		return nil, err
	}

	metrics.RequestsResolved.WithLabelValues(string(resolved.Status)).Inc()
	reason := "denied by " + reviewerID
	if approve {
		reason = "approved by " + reviewerID
	}
	w.record(*resolved, domain.AuditAccessReview, domain.SourceWorkflow, domain.OutcomeOf(approve), reason, now)
	if approve {
		metrics.GrantsIssued.WithLabelValues(domain.RoleTemporaryAccess).Inc()
		w.record(*resolved, domain.AuditPermissionGranted, domain.SourceWorkflow, domain.OutcomeGranted, req.Justification, now)
	}
	w.logger.Info("access request reviewed",
		"request_id", requestID, "reviewer", reviewerID, "status", resolved.Status)
	return resolved, nil
}

// ExpireOverdue moves every pending request past its review deadline to
// expired and returns how many it changed. Requests resolved concurrently by
// a reviewer or another sweep are skipped.
func (w *Workflow) ExpireOverdue(ctx context.Context) (int, error) {
	pending, err := w.requests.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending requests: %w", err)
	}

	now := w.now().UTC()
	expired := 0
	for _, req := range pending {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if !req.Overdue(now) {
			continue
		}
		changed, err := w.expire(ctx, req, now)
		if err != nil {
			if isInvalidState(err) {
				continue
			}
			return expired, err
		}
		if changed {
			expired++
		}
	}
	if expired > 0 {
		w.logger.Info("overdue access requests expired", "count", expired)
	}
	return expired, nil
}

func (w *Workflow) expire(ctx context.Context, req domain.AccessRequest, now time.Time) (bool, error) {
	resolved, err := w.requests.Resolve(ctx, req.ID, domain.RequestResolution{
		Status:     domain.RequestExpired,
		ResolvedAt: now,
	})
	if err != nil {
		return false, err
	}
	metrics.RequestsResolved.WithLabelValues(string(domain.RequestExpired)).Inc()
	w.record(*resolved, domain.AuditAccessReview, domain.SourceSweep, domain.OutcomeDenied, reasonDeadlinePassed, now)
	return true, nil
}

// Get returns a request by id.
func (w *Workflow) Get(ctx context.Context, id string) (*domain.AccessRequest, error) {
	return w.requests.GetByID(ctx, id)
}

// List returns a tenant's requests, optionally filtered by status.
func (w *Workflow) List(ctx context.Context, filter domain.AccessRequestFilter) ([]domain.AccessRequest, error) {
	if filter.TenantID == "" {
		return nil, domain.ErrValidation("tenant is required")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, domain.ErrValidation("unknown status %q", *filter.Status)
	}
	return w.requests.List(ctx, filter)
}

func (w *Workflow) record(req domain.AccessRequest, kind domain.AuditKind, source string, outcome domain.AuditOutcome, reason string, at time.Time) {
	w.audit.Record(domain.AccessAuditEntry{
		SubjectID:  req.SubjectID,
		TenantID:   req.TenantID,
		Permission: req.Permission,
		ResourceID: req.ResourceID,
		Kind:       kind,
		Source:     source,
		Outcome:    outcome,
		Reason:     reason,
		CreatedAt:  at,
	})
}

func isInvalidState(err error) bool {
	var invalid *domain.InvalidStateError
	return errors.As(err, &invalid)
}
