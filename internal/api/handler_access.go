package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"farm-access/internal/domain"
)

// CheckPermission handles POST /v1/permissions/check. Callers check their
// own permissions; checking another subject requires audit.read.
func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body checkPermissionRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.Permission == "" {
		h.writeError(w, r, domain.ErrValidation("permission is required"))
		return
	}
	subject := body.SubjectID
	if subject == "" {
		subject = p.Subject
	}
	if !h.canSee(r, p, subject, domain.PermissionAuditRead) {
		h.writeError(w, r, domain.ErrAccessDenied("checking another subject requires %s", domain.PermissionAuditRead))
		return
	}

	d := h.resolver.Resolve(r.Context(), subject, p.Tenant, body.Permission, body.ResourceID, body.Context)
	writeJSON(w, http.StatusOK, decisionResponse{Allowed: d.Allowed, Reason: d.Reason})
}

// CreateAccessRequest handles POST /v1/access-requests for the caller.
func (h *Handler) CreateAccessRequest(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body createAccessRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.workflow.Request(r.Context(), domain.CreateAccessRequest{
		SubjectID:     p.Subject,
		TenantID:      p.Tenant,
		Permission:    body.Permission,
		ResourceType:  body.ResourceType,
		ResourceID:    body.ResourceID,
		Justification: body.Justification,
		Emergency:     body.Emergency,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.workflow.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, accessRequestToAPI(*req))
}

// ListAccessRequests handles GET /v1/access-requests. Reviewers see the
// whole tenant; everyone else sees their own requests.
func (h *Handler) ListAccessRequests(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	since, err := parseTimeParam(r, "since")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := domain.AccessRequestFilter{TenantID: p.Tenant, SubjectID: optional(r, "subject_id"), Since: since, Limit: limit}
	if s := optional(r, "status"); s != nil {
		st := domain.AccessRequestStatus(*s)
		filter.Status = &st
	}
	if !h.resolver.CheckPermission(r.Context(), p.Subject, p.Tenant, domain.PermissionAssign, nil, nil) {
		if filter.SubjectID != nil && *filter.SubjectID != p.Subject {
			h.writeError(w, r, domain.ErrAccessDenied("listing other subjects' requests requires %s", domain.PermissionAssign))
			return
		}
		filter.SubjectID = &p.Subject
	}

	reqs, err := h.workflow.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[accessRequest]{Items: mapSlice(reqs, accessRequestToAPI)})
}

// GetAccessRequest handles GET /v1/access-requests/{id}.
func (h *Handler) GetAccessRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := h.visibleRequest(w, r)
	if !ok {
		return
	}
	p, _ := principal(r)
	if !h.canSee(r, p, req.SubjectID, domain.PermissionAssign) {
		h.writeError(w, r, domain.ErrAccessDenied("access request belongs to another subject"))
		return
	}
	writeJSON(w, http.StatusOK, accessRequestToAPI(*req))
}

// ReviewAccessRequest handles POST /v1/access-requests/{id}/review.
func (h *Handler) ReviewAccessRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := h.visibleRequest(w, r)
	if !ok {
		return
	}
	var body reviewBody
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, _ := principal(r)
	resolved, err := h.workflow.Review(r.Context(), req.ID, p.Subject, body.Approve, body.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessRequestToAPI(*resolved))
}

// visibleRequest loads the {id} request. Requests of other tenants are
// reported as not found.
func (h *Handler) visibleRequest(w http.ResponseWriter, r *http.Request) (*domain.AccessRequest, bool) {
	p, err := principal(r)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	id := chi.URLParam(r, "id")
	req, err := h.workflow.Get(r.Context(), id)
	if err == nil && req.TenantID != p.Tenant {
		err = domain.ErrNotFound("access request %q not found", id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return req, true
}
