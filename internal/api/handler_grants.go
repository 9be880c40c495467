package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"farm-access/internal/domain"
)

// ListGrants handles GET /v1/grants?subject_id=. Without subject_id the
// caller's own active grants are returned.
func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	subject := p.Subject
	if s := optional(r, "subject_id"); s != nil {
		subject = *s
	}
	if !h.canSee(r, p, subject, domain.PermissionAuditRead) {
		h.writeError(w, r, domain.ErrAccessDenied("listing another subject's grants requires %s", domain.PermissionAuditRead))
		return
	}
	grants, err := h.ledger.ListActiveGrants(r.Context(), subject, p.Tenant, h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[grant]{Items: mapSlice(grants, grantToAPI)})
}

// GrantTemporaryPermission handles POST /v1/grants/temporary.
func (h *Handler) GrantTemporaryPermission(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body temporaryGrantBody
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.ledger.GrantTemporaryPermission(r.Context(), p.Subject, body.SubjectID, p.Tenant,
		body.Permission, body.ExpiresAt, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// AssignRole handles POST /v1/grants/roles.
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body roleGrantBody
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.ledger.AssignRole(r.Context(), p.Subject, body.SubjectID, p.Tenant, body.RoleID, body.ExpiresAt, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// Delegate handles POST /v1/grants/delegations.
func (h *Handler) Delegate(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body delegationBody
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.ledger.Delegate(r.Context(), p.Subject, body.SubjectID, p.Tenant, body.Permissions, body.ExpiresAt, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// RevokeGrant handles DELETE /v1/grants/{id}.
func (h *Handler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.ledger.Revoke(r.Context(), p.Subject, p.Tenant, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
