package policy

import "github.com/google/uuid"

// Action names for permission rows.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Role is an administrative grouping of permissions. Read-mostly; mutated
// only through admin endpoints, never by request-path code.
type Role struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	TenantSpecific bool      `json:"tenant_specific"`
	InviteRoles    []string  `json:"invite_roles,omitempty"`
}

// Permission is one (role, collection, action) grant. Conditions and
// RelConditions hold raw filter objects; they are parsed and compiled by the
// query package at request time. A missing Permission row means the action
// is denied outright.
type Permission struct {
	ID            uuid.UUID                 `json:"id"`
	RoleID        uuid.UUID                 `json:"role_id"`
	Collection    string                    `json:"collection"`
	Action        string                    `json:"action"`
	Fields        []string                  `json:"fields,omitempty"`
	Conditions    map[string]any            `json:"conditions,omitempty"`
	RelConditions map[string]map[string]any `json:"rel_conditions,omitempty"`
	DefaultValues map[string]any            `json:"default_values,omitempty"`
}

// Grant is the per-(collection, action) slice of a resolved policy.
type Grant struct {
	Fields        []string                  `json:"fields,omitempty"`
	Conditions    map[string]any            `json:"conditions,omitempty"`
	RelConditions map[string]map[string]any `json:"rel_conditions,omitempty"`
	DefaultValues map[string]any            `json:"default_values,omitempty"`
}

// AllowsField reports whether the grant's field allow-list permits the given
// field. An absent list means all fields are allowed.
func (g Grant) AllowsField(name string) bool {
	if len(g.Fields) == 0 {
		return true
	}
	for _, f := range g.Fields {
		if f == "*" || f == name {
			return true
		}
	}
	return false
}

// ResolvedPolicy is the enforceable permission set for one role. Built once,
// cached without expiry until permission rows for the role change.
type ResolvedPolicy struct {
	RoleID         uuid.UUID        `json:"role_id"`
	RoleName       string           `json:"role_name"`
	TenantSpecific bool             `json:"tenant_specific"`
	Grants         map[string]Grant `json:"grants"` // keyed "{collection}_{action}"
}

// Lookup returns the grant for (collection, action) and whether one exists.
func (p *ResolvedPolicy) Lookup(collection, action string) (Grant, bool) {
	g, ok := p.Grants[collection+"_"+action]
	return g, ok
}

// IsAdmin reports whether this policy belongs to the built-in admin role,
// which bypasses permission checks entirely.
func (p *ResolvedPolicy) IsAdmin() bool {
	return p.RoleName == "admin"
}
