package query

import (
	"fmt"
	"sort"
	"strings"
)

// FilterNode is the closed variant type for parsed filter objects.
// A nil FilterNode matches all rows.
type FilterNode interface {
	isFilter()
}

// Leaf is one (field path, operator, value) predicate. The path may be
// dotted for relation traversal; the value may be a ColumnRef for
// column-to-column comparison.
type Leaf struct {
	Path  string
	Op    string
	Value any
}

// And combines child filters conjunctively.
type And struct {
	Children []FilterNode
}

// Or combines child filters disjunctively.
type Or struct {
	Children []FilterNode
}

func (*Leaf) isFilter() {}
func (*And) isFilter()  {}
func (*Or) isFilter()   {}

// ColumnRef marks a leaf value that names another column instead of a bound
// literal. It is validated against the schema before being embedded raw.
type ColumnRef struct {
	Path string
}

// Supported leaf operators.
var validOperators = map[string]bool{
	"eq": true, "neq": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "nin": true,
	"like": true, "nlike": true, "ilike": true, "nilike": true,
	"contains": true, "ncontains": true,
	"starts_with": true, "ends_with": true,
	"between": true, "nbetween": true,
	"null": true, "nnull": true,
	"regex":      true,
	"intersects": true,
}

// ParseFilter converts a raw filter object into a FilterNode tree.
//
//	{"status": {"_eq": "published"}, "_or": [{...}, {...}]}
//
// Leaf keys are field paths; "_and"/"_or" hold arrays of nested filters;
// a bare scalar value is shorthand for _eq; sibling keys at one level are
// AND-ed. {"_col": "path"} values become ColumnRefs. Keys are processed in
// sorted order so the same filter always compiles to the same SQL.
func ParseFilter(raw map[string]any) (FilterNode, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var children []FilterNode
	for _, key := range keys {
		value := raw[key]
		switch key {
		case "_and", "_or":
			items, ok := value.([]any)
			if !ok {
				return nil, NewAppError("INVALID_FILTER", 400, fmt.Sprintf("%s must hold an array of filters", key))
			}
			var nested []FilterNode
			for _, item := range items {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, NewAppError("INVALID_FILTER", 400, fmt.Sprintf("%s entries must be filter objects", key))
				}
				node, err := ParseFilter(m)
				if err != nil {
					return nil, err
				}
				if node != nil {
					nested = append(nested, node)
				}
			}
			if len(nested) == 0 {
				continue
			}
			if key == "_and" {
				children = append(children, &And{Children: nested})
			} else {
				children = append(children, &Or{Children: nested})
			}
		default:
			leaves, err := parseLeafEntry(key, value)
			if err != nil {
				return nil, err
			}
			children = append(children, leaves...)
		}
	}

	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return children[0], nil
	default:
		return &And{Children: children}, nil
	}
}

func parseLeafEntry(path string, value any) ([]FilterNode, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		// bare scalar: equality
		return []FilterNode{&Leaf{Path: path, Op: "eq", Value: value}}, nil
	}

	opKeys := make([]string, 0, len(ops))
	for k := range ops {
		opKeys = append(opKeys, k)
	}
	sort.Strings(opKeys)

	var leaves []FilterNode
	for _, rawOp := range opKeys {
		op := strings.TrimPrefix(rawOp, "_")
		if !validOperators[op] {
			return nil, InvalidOperatorError(rawOp, path)
		}
		leaves = append(leaves, &Leaf{Path: path, Op: op, Value: normalizeValue(ops[rawOp])})
	}
	return leaves, nil
}

// normalizeValue turns {"_col": "path"} markers into ColumnRefs.
func normalizeValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v
	}
	ref, ok := m["_col"].(string)
	if !ok {
		return v
	}
	return ColumnRef{Path: ref}
}

// prefixPaths returns a copy of the tree with every leaf path (and ColumnRef
// path) prefixed by the given relation path. Used when compiling permission
// relation-conditions, whose paths are relative to the joined collection.
func prefixPaths(node FilterNode, prefix string) FilterNode {
	switch n := node.(type) {
	case *Leaf:
		value := n.Value
		if ref, ok := value.(ColumnRef); ok {
			value = ColumnRef{Path: prefix + "." + ref.Path}
		}
		return &Leaf{Path: prefix + "." + n.Path, Op: n.Op, Value: value}
	case *And:
		children := make([]FilterNode, len(n.Children))
		for i, c := range n.Children {
			children[i] = prefixPaths(c, prefix)
		}
		return &And{Children: children}
	case *Or:
		children := make([]FilterNode, len(n.Children))
		for i, c := range n.Children {
			children[i] = prefixPaths(c, prefix)
		}
		return &Or{Children: children}
	default:
		return node
	}
}
