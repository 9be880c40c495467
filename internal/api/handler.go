// Package api exposes the access governance services over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"farm-access/internal/domain"
	"farm-access/internal/middleware"
	"farm-access/internal/service/security"
)

// PermissionResolver answers permission checks with a reason.
type PermissionResolver interface {
	Resolve(ctx context.Context, subjectID, tenantID, permission string, resourceID *string, evalCtx map[string]any) security.Decision
	CheckPermission(ctx context.Context, subjectID, tenantID, permission string, resourceID *string, evalCtx map[string]any) bool
}

// AccessWorkflow manages access requests.
type AccessWorkflow interface {
	Request(ctx context.Context, in domain.CreateAccessRequest) (string, error)
	Review(ctx context.Context, requestID, reviewerID string, approve bool, notes *string) (*domain.AccessRequest, error)
	Get(ctx context.Context, id string) (*domain.AccessRequest, error)
	List(ctx context.Context, filter domain.AccessRequestFilter) ([]domain.AccessRequest, error)
}

// GrantLedger issues and revokes grants.
type GrantLedger interface {
	ListActiveGrants(ctx context.Context, subjectID, tenantID string, now time.Time) ([]domain.Grant, error)
	AssignRole(ctx context.Context, actorID, subjectID, tenantID, roleID string, expiresAt *time.Time, reason string) (string, error)
	GrantTemporaryPermission(ctx context.Context, actorID, subjectID, tenantID, permission string, expiresAt time.Time, reason string) (string, error)
	Delegate(ctx context.Context, delegatorID, subjectID, tenantID string, permissions []string, expiresAt time.Time, reason string) (string, error)
	Revoke(ctx context.Context, actorID, tenantID, grantID string) error
	RemediateExpired(ctx context.Context, tenantID string) (int, error)
}

// DriftScanner reports permission drift for a tenant.
type DriftScanner interface {
	Detect(ctx context.Context, tenantID string) ([]domain.PermissionDrift, error)
}

// AccessAnalytics summarizes a tenant's access activity.
type AccessAnalytics interface {
	Summarize(ctx context.Context, tenantID string, windowDays int) (*domain.AccessSummary, error)
}

// AuditQuerier reads the audit trail.
type AuditQuerier interface {
	Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AccessAuditEntry, error)
}

// Handler implements the /v1 endpoints.
type Handler struct {
	resolver  PermissionResolver
	workflow  AccessWorkflow
	ledger    GrantLedger
	drift     DriftScanner
	analytics AccessAnalytics
	audit     AuditQuerier
	logger    *slog.Logger
	now       domain.Clock
}

// NewHandler creates a Handler.
func NewHandler(
	resolver PermissionResolver,
	workflow AccessWorkflow,
	ledger GrantLedger,
	drift DriftScanner,
	analytics AccessAnalytics,
	audit AuditQuerier,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		resolver:  resolver,
		workflow:  workflow,
		ledger:    ledger,
		drift:     drift,
		analytics: analytics,
		audit:     audit,
		logger:    logger.With("component", "api"),
		now:       time.Now,
	}
}

type errorBody struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code. Internal errors are logged and
// replaced with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	msg := err.Error()
	reqID := middleware.RequestIDFromContext(r.Context())
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", reqID, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Code: status, Message: msg, RequestID: reqID})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

// principal returns the authenticated caller. The auth middleware guarantees
// one is present on /v1 routes.
func principal(r *http.Request) (domain.ContextPrincipal, error) {
	p, ok := domain.PrincipalFromContext(r.Context())
	if !ok || p.Subject == "" || p.Tenant == "" {
		return domain.ContextPrincipal{}, domain.ErrAccessDenied("authentication required")
	}
	return p, nil
}

// authorize returns the caller when they hold permission in their tenant.
func (h *Handler) authorize(r *http.Request, permission string) (domain.ContextPrincipal, error) {
	p, err := principal(r)
	if err != nil {
		return p, err
	}
	if !h.resolver.CheckPermission(r.Context(), p.Subject, p.Tenant, permission, nil, nil) {
		return p, domain.ErrAccessDenied("%s requires %s", p.Subject, permission)
	}
	return p, nil
}

// canSee reports whether the caller may read data about subjectID.
func (h *Handler) canSee(r *http.Request, p domain.ContextPrincipal, subjectID, permission string) bool {
	if subjectID == p.Subject {
		return true
	}
	return h.resolver.CheckPermission(r.Context(), p.Subject, p.Tenant, permission, nil, nil)
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, domain.ErrValidation("%s must be RFC 3339: %v", name, err)
	}
	t = t.UTC()
	return &t, nil
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.ErrValidation("%s must be an integer", name)
	}
	return n, nil
}

func optional(r *http.Request, name string) *string {
	if v := r.URL.Query().Get(name); v != "" {
		return &v
	}
	return nil
}
