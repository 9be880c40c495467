package domain

import "time"

// AccessRequestStatus is the state of an access request.
type AccessRequestStatus string

// Access request states. Pending is the only non-terminal state.
const (
	RequestPending  AccessRequestStatus = "pending"
	RequestApproved AccessRequestStatus = "approved"
	RequestDenied   AccessRequestStatus = "denied"
	RequestExpired  AccessRequestStatus = "expired"
)

// Review windows by urgency.
const (
	EmergencyReviewWindow = 4 * time.Hour
	StandardReviewWindow  = 24 * time.Hour
)

// IsTerminal reports whether no further transition is possible.
func (s AccessRequestStatus) IsTerminal() bool {
	return s != RequestPending
}

// Valid reports whether s is a known status.
func (s AccessRequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestDenied, RequestExpired:
		return true
	}
	return false
}

// AccessRequest is a justified request for a single permission, pending
// reviewer approval.
type AccessRequest struct {
	ID             string
	SubjectID      string
	TenantID       string
	Permission     string
	ResourceType   string
	ResourceID     *string
	Justification  string
	Emergency      bool
	Status         AccessRequestStatus
	RequestedAt    time.Time
	ReviewDeadline time.Time
	ReviewedAt     *time.Time
	Reviewer       *string
	Notes          *string
	GrantID        *string
}

// ReviewWindow returns how long reviewers have to act on a request.
func ReviewWindow(emergency bool) time.Duration {
	if emergency {
		return EmergencyReviewWindow
	}
	return StandardReviewWindow
}

// Overdue reports whether a pending request's review deadline has passed at t.
func (r AccessRequest) Overdue(t time.Time) bool {
	return r.Status == RequestPending && !r.ReviewDeadline.After(t)
}

// CreateAccessRequest is the input for submitting an access request.
type CreateAccessRequest struct {
	SubjectID     string
	TenantID      string
	Permission    string
	ResourceType  string
	ResourceID    *string
	Justification string
	Emergency     bool
}

// Validate checks the request payload for required fields.
func (r CreateAccessRequest) Validate() error {
	switch {
	case r.SubjectID == "":
		return ErrValidation("subject is required")
	case r.TenantID == "":
		return ErrValidation("tenant is required")
	case r.Permission == "":
		return ErrValidation("permission is required")
	case r.ResourceType == "":
		return ErrValidation("resource type is required")
	case r.Justification == "":
		return ErrValidation("justification is required")
	}
	return nil
}

// RequestResolution describes the terminal transition applied to a pending
// request, together with the grant to issue on approval.
type RequestResolution struct {
	Status     AccessRequestStatus
	ResolvedAt time.Time
	Reviewer   *string
	Notes      *string
	Grant      *NewGrant
}

// AccessRequestFilter filters access request listings.
type AccessRequestFilter struct {
	TenantID  string
	SubjectID *string
	Status    *AccessRequestStatus
	Since     *time.Time
	Limit     int
}
