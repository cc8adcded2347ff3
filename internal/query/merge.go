package query

import (
	"sort"
	"strings"

	"strata-backend/internal/accountability"
	"strata-backend/internal/policy"
	"strata-backend/internal/store"
)

// Merged is the outcome of combining the caller's filter with the permission
// conditions of their role for one (collection, action). The two trees stay
// separate because permission conditions compile with forced INNER joins
// while the caller's filter keeps LEFT semantics.
type Merged struct {
	Grant  policy.Grant
	Admin  bool
	Policy FilterNode
	User   FilterNode
}

// MergeFilter checks the accountability against (collection, action) and
// combines permission conditions with the caller's filter. The combination
// is always conjunctive; a caller can narrow what their role sees, never
// widen it. No grant row means denial, regardless of the caller's filter.
func (c *Compiler) MergeFilter(acc *accountability.Accountability, collection, action string, userFilter FilterNode) (*Merged, error) {
	col := c.reg.GetCollection(collection)
	if col == nil {
		return nil, UnknownCollectionError(collection)
	}

	if acc != nil && acc.Policy != nil && acc.Policy.IsAdmin() {
		return &Merged{Admin: true, User: userFilter}, nil
	}

	if acc == nil || acc.Policy == nil {
		return nil, PermissionDeniedError(collection, action)
	}
	grant, ok := acc.Policy.Lookup(collection, action)
	if !ok {
		return nil, PermissionDeniedError(collection, action)
	}

	var parts []FilterNode

	if len(grant.Conditions) > 0 {
		node, err := ParseFilter(c.substitute(grant.Conditions, acc))
		if err != nil {
			return nil, err
		}
		if node != nil {
			parts = append(parts, node)
		}
	}

	// relation conditions are written relative to the related collection;
	// prefixing re-anchors them at the base so they compile on the same
	// join plan
	relPaths := make([]string, 0, len(grant.RelConditions))
	for path := range grant.RelConditions {
		relPaths = append(relPaths, path)
	}
	sort.Strings(relPaths)
	for _, path := range relPaths {
		node, err := ParseFilter(c.substitute(grant.RelConditions[path], acc))
		if err != nil {
			return nil, err
		}
		if node != nil {
			parts = append(parts, prefixPaths(node, path))
		}
	}

	if acc.Policy.TenantSpecific && acc.TenantID != nil && col.HasField("tenant_id") {
		parts = append(parts, &Leaf{Path: "tenant_id", Op: "eq", Value: acc.TenantID.String()})
	}

	merged := &Merged{Grant: grant, User: userFilter}
	switch len(parts) {
	case 0:
	case 1:
		merged.Policy = parts[0]
	default:
		merged.Policy = &And{Children: parts}
	}
	return merged, nil
}

// substitute replaces $CURRENT_USER / $CURRENT_ROLE / $CURRENT_TENANT markers
// in condition values with the caller's identity. Unauthenticated callers
// substitute nil, which compiles to IS NULL and matches nothing useful.
func (c *Compiler) substitute(raw map[string]any, acc *accountability.Accountability) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = substituteValue(v, acc)
	}
	return out
}

func substituteValue(v any, acc *accountability.Accountability) any {
	switch vv := v.(type) {
	case string:
		switch vv {
		case "$CURRENT_USER":
			if acc.UserID == nil {
				return nil
			}
			return acc.UserID.String()
		case "$CURRENT_ROLE":
			if acc.Role == nil {
				return nil
			}
			return acc.Role.ID.String()
		case "$CURRENT_TENANT":
			if acc.TenantID == nil {
				return nil
			}
			return acc.TenantID.String()
		}
		return vv
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, inner := range vv {
			out[k] = substituteValue(inner, acc)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, inner := range vv {
			out[i] = substituteValue(inner, acc)
		}
		return out
	default:
		return v
	}
}

// compileMerged renders the merged predicate. Permission conditions force
// INNER joins on the paths they traverse; the caller's filter keeps LEFT
// joins so optional relations stay optional.
func (c *Compiler) compileMerged(m *Merged, jc *joinContext, pb store.ParamBuilder) (string, error) {
	var parts []string
	if m.Policy != nil {
		sql, err := c.compileNode(m.Policy, jc, pb, true)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	if m.User != nil {
		sql, err := c.compileNode(m.User, jc, pb, false)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	return strings.Join(parts, " AND "), nil
}
