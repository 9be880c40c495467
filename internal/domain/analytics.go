package domain

// PermissionCount pairs a permission with how often it was requested.
type PermissionCount struct {
	Permission string
	Count      int64
}

// RequestStats aggregates access requests for a tenant over a window.
type RequestStats struct {
	Total        int64
	Approved     int64
	Denied       int64
	Emergency    int64
	ByPermission []PermissionCount
}

// AccessSummary is the analytics view for a tenant over a window.
type AccessSummary struct {
	TenantID                string
	WindowDays              int
	TotalRequests           int64
	ApprovedRequests        int64
	DeniedRequests          int64
	EmergencyAccesses       int64
	TopRequestedPermissions []PermissionCount
	AccessByUser            []SubjectActivity
	RiskScore               int
}
