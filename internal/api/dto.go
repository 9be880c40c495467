package api

import (
	"time"

	"farm-access/internal/domain"
)

// === Requests ===

type checkPermissionRequest struct {
	SubjectID  string         `json:"subject_id,omitempty"`
	Permission string         `json:"permission"`
	ResourceID *string        `json:"resource_id,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

type createAccessRequestBody struct {
	Permission    string  `json:"permission"`
	ResourceType  string  `json:"resource_type"`
	ResourceID    *string `json:"resource_id,omitempty"`
	Justification string  `json:"justification"`
	Emergency     bool    `json:"emergency"`
}

type reviewBody struct {
	Approve bool    `json:"approve"`
	Notes   *string `json:"notes,omitempty"`
}

type temporaryGrantBody struct {
	SubjectID  string    `json:"subject_id"`
	Permission string    `json:"permission"`
	ExpiresAt  time.Time `json:"expires_at"`
	Reason     string    `json:"reason"`
}

type roleGrantBody struct {
	SubjectID string     `json:"subject_id"`
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason"`
}

type delegationBody struct {
	SubjectID   string    `json:"subject_id"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
	Reason      string    `json:"reason"`
}

// === Responses ===

type decisionResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

type idResponse struct {
	ID string `json:"id"`
}

type accessRequest struct {
	ID             string     `json:"id"`
	SubjectID      string     `json:"subject_id"`
	TenantID       string     `json:"tenant_id"`
	Permission     string     `json:"permission"`
	ResourceType   string     `json:"resource_type"`
	ResourceID     *string    `json:"resource_id,omitempty"`
	Justification  string     `json:"justification"`
	Emergency      bool       `json:"emergency"`
	Status         string     `json:"status"`
	RequestedAt    time.Time  `json:"requested_at"`
	ReviewDeadline time.Time  `json:"review_deadline"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	Reviewer       *string    `json:"reviewer,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	GrantID        *string    `json:"grant_id,omitempty"`
}

type grant struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subject_id"`
	TenantID    string     `json:"tenant_id"`
	RoleID      string     `json:"role_id"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Reason      string     `json:"reason"`
	GrantedBy   string     `json:"granted_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

type driftFinding struct {
	SubjectID      string    `json:"subject_id"`
	GrantID        string    `json:"grant_id"`
	Type           string    `json:"type"`
	Severity       string    `json:"severity"`
	Description    string    `json:"description"`
	AutoRemediated bool      `json:"auto_remediated"`
	DetectedAt     time.Time `json:"detected_at"`
}

type permissionCount struct {
	Permission string `json:"permission"`
	Count      int64  `json:"count"`
}

type subjectActivity struct {
	SubjectID string `json:"subject_id"`
	Checks    int64  `json:"checks"`
	Denied    int64  `json:"denied"`
}

type accessSummary struct {
	TenantID                string            `json:"tenant_id"`
	WindowDays              int               `json:"window_days"`
	TotalRequests           int64             `json:"total_requests"`
	ApprovedRequests        int64             `json:"approved_requests"`
	DeniedRequests          int64             `json:"denied_requests"`
	EmergencyAccesses       int64             `json:"emergency_accesses"`
	TopRequestedPermissions []permissionCount `json:"top_requested_permissions"`
	AccessByUser            []subjectActivity `json:"access_by_user"`
	RiskScore               int               `json:"risk_score"`
}

type auditEntry struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subject_id"`
	TenantID   string    `json:"tenant_id"`
	Permission string    `json:"permission"`
	ResourceID *string   `json:"resource_id,omitempty"`
	Kind       string    `json:"kind"`
	Source     string    `json:"source"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// === Mapping helpers ===

func accessRequestToAPI(r domain.AccessRequest) accessRequest {
	return accessRequest{
		ID:             r.ID,
		SubjectID:      r.SubjectID,
		TenantID:       r.TenantID,
		Permission:     r.Permission,
		ResourceType:   r.ResourceType,
		ResourceID:     r.ResourceID,
		Justification:  r.Justification,
		Emergency:      r.Emergency,
		Status:         string(r.Status),
		RequestedAt:    r.RequestedAt,
		ReviewDeadline: r.ReviewDeadline,
		ReviewedAt:     r.ReviewedAt,
		Reviewer:       r.Reviewer,
		Notes:          r.Notes,
		GrantID:        r.GrantID,
	}
}

func grantToAPI(g domain.Grant) grant {
	return grant{
		ID:          g.ID,
		SubjectID:   g.SubjectID,
		TenantID:    g.TenantID,
		RoleID:      g.RoleID,
		Permissions: g.Permissions,
		ExpiresAt:   g.ExpiresAt,
		Reason:      g.Reason,
		GrantedBy:   g.GrantedBy,
		CreatedAt:   g.CreatedAt,
	}
}

func driftToAPI(d domain.PermissionDrift) driftFinding {
	return driftFinding{
		SubjectID:      d.SubjectID,
		GrantID:        d.GrantID,
		Type:           string(d.Type),
		Severity:       string(d.Severity),
		Description:    d.Description,
		AutoRemediated: d.AutoRemediated,
		DetectedAt:     d.DetectedAt,
	}
}

func summaryToAPI(s domain.AccessSummary) accessSummary {
	top := make([]permissionCount, len(s.TopRequestedPermissions))
	for i, p := range s.TopRequestedPermissions {
		top[i] = permissionCount{Permission: p.Permission, Count: p.Count}
	}
	byUser := make([]subjectActivity, len(s.AccessByUser))
	for i, a := range s.AccessByUser {
		byUser[i] = subjectActivity{SubjectID: a.SubjectID, Checks: a.Checks, Denied: a.Denied}
	}
	return accessSummary{
		TenantID:                s.TenantID,
		WindowDays:              s.WindowDays,
		TotalRequests:           s.TotalRequests,
		ApprovedRequests:        s.ApprovedRequests,
		DeniedRequests:          s.DeniedRequests,
		EmergencyAccesses:       s.EmergencyAccesses,
		TopRequestedPermissions: top,
		AccessByUser:            byUser,
		RiskScore:               s.RiskScore,
	}
}

func auditEntryToAPI(e domain.AccessAuditEntry) auditEntry {
	return auditEntry{
		ID:         e.ID,
		SubjectID:  e.SubjectID,
		TenantID:   e.TenantID,
		Permission: e.Permission,
		ResourceID: e.ResourceID,
		Kind:       string(e.Kind),
		Source:     e.Source,
		Outcome:    string(e.Outcome),
		Reason:     e.Reason,
		CreatedAt:  e.CreatedAt,
	}
}

func mapSlice[T, U any](in []T, f func(T) U) []U {
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}
