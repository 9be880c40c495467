package api

import (
	"net/http"

	"farm-access/internal/domain"
)

const defaultWindowDays = 30

// DetectDrift handles GET /v1/drift for the caller's tenant.
func (h *Handler) DetectDrift(w http.ResponseWriter, r *http.Request) {
	p, err := h.authorize(r, domain.PermissionAuditRead)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	findings, err := h.drift.Detect(r.Context(), p.Tenant)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[driftFinding]{Items: mapSlice(findings, driftToAPI)})
}

// RemediateDrift handles POST /v1/drift/remediate, deactivating grants that
// are past expiry but still flagged active.
func (h *Handler) RemediateDrift(w http.ResponseWriter, r *http.Request) {
	p, err := h.authorize(r, domain.PermissionAssign)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.ledger.RemediateExpired(r.Context(), p.Tenant)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remediated": n})
}

// GetAnalytics handles GET /v1/analytics?window_days=.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	p, err := h.authorize(r, domain.PermissionAuditRead)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	days, err := parseIntParam(r, "window_days", defaultWindowDays)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.analytics.Summarize(r.Context(), p.Tenant, days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryToAPI(*summary))
}

// QueryAudit handles GET /v1/audit. Results are always scoped to the
// caller's tenant.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	p, err := h.authorize(r, domain.PermissionAuditRead)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	since, err := parseTimeParam(r, "since")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := domain.AuditFilter{
		TenantID:  &p.Tenant,
		SubjectID: optional(r, "subject_id"),
		Source:    optional(r, "source"),
		Since:     since,
		Limit:     limit,
	}
	if k := optional(r, "kind"); k != nil {
		kind := domain.AuditKind(*k)
		filter.Kind = &kind
	}

	entries, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[auditEntry]{Items: mapSlice(entries, auditEntryToAPI)})
}
