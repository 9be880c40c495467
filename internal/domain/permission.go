package domain

import "strings"

// Distinguished permission identifiers.
const (
	PermissionAll          = "*"
	PermissionSystemAdmin  = "system.admin"
	PermissionAssign       = "permissions.assign"
	PermissionAuditRead    = "audit.read"
	RoleTemporaryAccess    = "temporary_access"
	RoleDelegatedAccess    = "delegated_access"
	categoryWildcardSuffix = ".*"
)

// Permission is an immutable catalog entry naming an allowed action on a
// resource type. IDs take the form "category.action".
type Permission struct {
	ID           string
	Name         string
	Description  string
	ResourceType string
	Actions      []string
	Conditions   []Condition
}

// Category returns the category prefix of the permission ID.
func (p Permission) Category() string {
	return PermissionCategory(p.ID)
}

// PermissionCategory returns the substring before the first '.', or the whole
// identifier when it contains no dot.
func PermissionCategory(id string) string {
	category, _, _ := strings.Cut(id, ".")
	return category
}

// CategoryWildcard returns the "category.*" identifier covering id. ok is
// false when id has no dot, since no category pattern covers it.
func CategoryWildcard(id string) (wildcard string, ok bool) {
	category, _, found := strings.Cut(id, ".")
	if !found {
		return "", false
	}
	return category + categoryWildcardSuffix, true
}

// PermissionCovers reports whether holding pattern grants id: an exact
// match, "*", "system.admin" or the category wildcard of id.
func PermissionCovers(pattern, id string) bool {
	switch pattern {
	case id, PermissionAll, PermissionSystemAdmin:
		return true
	}
	wildcard, ok := CategoryWildcard(id)
	return ok && pattern == wildcard
}

// IsWildcard reports whether id is "*" or a "category.*" pattern.
func IsWildcard(id string) bool {
	return id == PermissionAll || strings.HasSuffix(id, categoryWildcardSuffix)
}

// Role is a named, reusable bundle of permissions.
type Role struct {
	ID          string
	Name        string
	Permissions []string
	IsSystem    bool
	CanDelegate bool
}
