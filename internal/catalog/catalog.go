// Package catalog provides the immutable registry of permissions and roles.
//
// A Catalog is built once at process start (from the embedded default or a
// YAML file) and passed by reference to every component that needs it. It
// exposes no mutating methods.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"farm-access/internal/domain"
)

//go:embed default.yaml
var defaultCatalog []byte

// Catalog is a read-only registry of permissions and roles.
type Catalog struct {
	permissions map[string]domain.Permission
	roles       map[string]domain.Role
	permOrder   []string
	roleOrder   []string
	categories  map[string]bool
}

type fileDoc struct {
	Permissions []permissionDoc `yaml:"permissions"`
	Roles       []roleDoc       `yaml:"roles"`
}

type permissionDoc struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	ResourceType string         `yaml:"resource_type"`
	Actions      []string       `yaml:"actions"`
	Conditions   []conditionDoc `yaml:"conditions"`
}

type conditionDoc struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
}

type roleDoc struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	IsSystem    bool     `yaml:"is_system"`
	CanDelegate bool     `yaml:"can_delegate"`
	Permissions []string `yaml:"permissions"`
}

// Default returns the built-in farm-management catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from a YAML file. An empty path yields the default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse builds a catalog from YAML. Unknown fields, duplicate identifiers,
// unknown condition operators and role references to undefined permissions
// are all rejected.
func Parse(data []byte) (*Catalog, error) {
	var doc fileDoc
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		permissions: make(map[string]domain.Permission, len(doc.Permissions)),
		roles:       make(map[string]domain.Role, len(doc.Roles)),
		categories:  make(map[string]bool),
	}

	for _, pd := range doc.Permissions {
		p, err := buildPermission(pd)
		if err != nil {
			return nil, err
		}
		if _, dup := c.permissions[p.ID]; dup {
			return nil, fmt.Errorf("duplicate permission %q", p.ID)
		}
		c.permissions[p.ID] = p
		c.permOrder = append(c.permOrder, p.ID)
		c.categories[p.Category()] = true
	}

	for _, rd := range doc.Roles {
		if rd.ID == "" {
			return nil, fmt.Errorf("role id is required")
		}
		if rd.ID == domain.RoleTemporaryAccess || rd.ID == domain.RoleDelegatedAccess {
			return nil, fmt.Errorf("role id %q is reserved", rd.ID)
		}
		if _, dup := c.roles[rd.ID]; dup {
			return nil, fmt.Errorf("duplicate role %q", rd.ID)
		}
		for _, perm := range rd.Permissions {
			if !c.references(perm) {
				return nil, fmt.Errorf("role %q references undefined permission %q", rd.ID, perm)
			}
		}
		c.roles[rd.ID] = domain.Role{
			ID:          rd.ID,
			Name:        rd.Name,
			Permissions: append([]string(nil), rd.Permissions...),
			IsSystem:    rd.IsSystem,
			CanDelegate: rd.CanDelegate,
		}
		c.roleOrder = append(c.roleOrder, rd.ID)
	}

	return c, nil
}

func buildPermission(pd permissionDoc) (domain.Permission, error) {
	category, action, ok := strings.Cut(pd.ID, ".")
	if !ok || category == "" || action == "" || strings.Contains(pd.ID, "*") {
		return domain.Permission{}, fmt.Errorf("permission id %q must have the form category.action", pd.ID)
	}
	p := domain.Permission{
		ID:           pd.ID,
		Name:         pd.Name,
		Description:  pd.Description,
		ResourceType: pd.ResourceType,
		Actions:      append([]string(nil), pd.Actions...),
	}
	for _, cd := range pd.Conditions {
		cond, err := domain.NewCondition(cd.Field, domain.Operator(cd.Operator), cd.Value)
		if err != nil {
			return domain.Permission{}, fmt.Errorf("permission %q: %w", pd.ID, err)
		}
		p.Conditions = append(p.Conditions, cond)
	}
	return p, nil
}

// references reports whether id names a defined permission or a wildcard
// covering at least one defined category.
func (c *Catalog) references(id string) bool {
	if id == domain.PermissionAll {
		return true
	}
	if strings.HasSuffix(id, ".*") {
		return c.categories[strings.TrimSuffix(id, ".*")]
	}
	_, ok := c.permissions[id]
	return ok
}

// Permission returns the permission definition for id.
func (c *Catalog) Permission(id string) (domain.Permission, bool) {
	p, ok := c.permissions[id]
	return p, ok
}

// HasPermission reports whether id is a defined permission.
func (c *Catalog) HasPermission(id string) bool {
	_, ok := c.permissions[id]
	return ok
}

// Role returns the role definition for id.
func (c *Catalog) Role(id string) (domain.Role, bool) {
	r, ok := c.roles[id]
	if !ok {
		return domain.Role{}, false
	}
	r.Permissions = append([]string(nil), r.Permissions...)
	return r, true
}

// Permissions returns all permission definitions in catalog order.
func (c *Catalog) Permissions() []domain.Permission {
	out := make([]domain.Permission, 0, len(c.permOrder))
	for _, id := range c.permOrder {
		out = append(out, c.permissions[id])
	}
	return out
}

// Roles returns all role definitions in catalog order.
func (c *Catalog) Roles() []domain.Role {
	out := make([]domain.Role, 0, len(c.roleOrder))
	for _, id := range c.roleOrder {
		r, _ := c.Role(id)
		out = append(out, r)
	}
	return out
}

// Categories returns the sorted set of permission categories.
func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.categories))
	for cat := range c.categories {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}
