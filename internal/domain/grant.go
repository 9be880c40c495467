package domain

import "time"

// Grant is a (possibly time-bounded) assignment of a role or permission set
// to a subject within a tenant.
//
// IsActive is an administrative override for early revocation only; whether
// a grant is currently valid is always derived from both IsActive and
// ExpiresAt at read time (see ActiveAt).
type Grant struct {
	ID              string
	SubjectID       string
	TenantID        string
	RoleID          string
	PermissionSetID string
	Permissions     []string
	ExpiresAt       *time.Time
	IsActive        bool
	Reason          string
	GrantedBy       string
	CreatedAt       time.Time
}

// ActiveAt reports whether the grant is valid at instant t.
func (g Grant) ActiveAt(t time.Time) bool {
	if !g.IsActive {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(t)
}

// ExpiredButActive reports whether the grant's flag still says active even
// though its expiry has passed at t. This is a ledger hygiene failure.
func (g Grant) ExpiredButActive(t time.Time) bool {
	return g.IsActive && g.ExpiresAt != nil && !g.ExpiresAt.After(t)
}

// NewGrant holds the fields needed to create a grant.
type NewGrant struct {
	SubjectID   string
	TenantID    string
	RoleID      string
	Permissions []string
	ExpiresAt   *time.Time
	Reason      string
	GrantedBy   string
}

// Validate checks the request for required fields.
func (n NewGrant) Validate() error {
	switch {
	case n.SubjectID == "":
		return ErrValidation("subject is required")
	case n.TenantID == "":
		return ErrValidation("tenant is required")
	case n.RoleID == "":
		return ErrValidation("role is required")
	case len(n.Permissions) == 0:
		return ErrValidation("grant must carry at least one permission")
	}
	return nil
}
