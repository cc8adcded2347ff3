package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"strata-backend/internal/schema"
	"strata-backend/internal/store"
)

// Compiler turns parsed filter trees into parameterized SQL fragments for
// one registered collection. A Compiler is cheap; build one per request.
type Compiler struct {
	reg     *schema.Registry
	dialect store.Dialect

	// StrictWrites makes out-of-allow-list payload fields fail the write
	// instead of being silently dropped.
	StrictWrites bool
}

func NewCompiler(reg *schema.Registry, dialect store.Dialect) *Compiler {
	return &Compiler{reg: reg, dialect: dialect}
}

// PrimaryKeyField returns the primary key field name for a collection, or
// empty when the collection is unknown.
func (c *Compiler) PrimaryKeyField(collection string) string {
	col := c.reg.GetCollection(collection)
	if col == nil {
		return ""
	}
	return col.PrimaryKey.Field
}

// compileNode renders one filter node. inner forces INNER joins for every
// relation path the node touches; permission conditions use this so a
// LEFT-joined row cannot satisfy them via NULLs.
func (c *Compiler) compileNode(node FilterNode, jc *joinContext, pb store.ParamBuilder, inner bool) (string, error) {
	switch n := node.(type) {
	case *Leaf:
		return c.compileLeaf(n, jc, pb, inner)
	case *And:
		return c.compileGroup(n.Children, " AND ", jc, pb, inner)
	case *Or:
		return c.compileGroup(n.Children, " OR ", jc, pb, inner)
	default:
		return "", NewAppError("INVALID_FILTER", 400, "unsupported filter node")
	}
}

func (c *Compiler) compileGroup(children []FilterNode, sep string, jc *joinContext, pb store.ParamBuilder, inner bool) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		sql, err := c.compileNode(child, jc, pb, inner)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

// operatorValidForField narrows the operator set per field type. Text-only
// operators on a numeric column are a compile error, not a runtime one.
func operatorValidForField(op string, f *schema.Field) bool {
	switch op {
	case "like", "nlike", "ilike", "nilike", "contains", "ncontains", "starts_with", "ends_with", "regex":
		return f.IsText()
	case "gt", "gte", "lt", "lte", "between", "nbetween":
		return f.IsNumeric() || f.IsTemporal() || f.IsText()
	case "intersects":
		return f.IsGeometry()
	default:
		return true
	}
}

func (c *Compiler) compileLeaf(leaf *Leaf, jc *joinContext, pb store.ParamBuilder, inner bool) (string, error) {
	col, field, err := jc.resolveField(leaf.Path, inner)
	if err != nil {
		return "", err
	}
	if !operatorValidForField(leaf.Op, field) {
		return "", InvalidOperatorError("_"+leaf.Op, leaf.Path)
	}

	// column-to-column comparison: validate the referenced path, then embed
	// the qualified column instead of a placeholder
	rhs := func(v any) (string, error) {
		if ref, ok := v.(ColumnRef); ok {
			refCol, _, err := jc.resolveField(ref.Path, inner)
			if err != nil {
				return "", err
			}
			return refCol, nil
		}
		return pb.Add(v), nil
	}

	switch leaf.Op {
	case "eq":
		if leaf.Value == nil {
			return col + " IS NULL", nil
		}
		r, err := rhs(leaf.Value)
		if err != nil {
			return "", err
		}
		return col + " = " + r, nil
	case "neq":
		if leaf.Value == nil {
			return col + " IS NOT NULL", nil
		}
		r, err := rhs(leaf.Value)
		if err != nil {
			return "", err
		}
		return col + " != " + r, nil
	case "gt", "gte", "lt", "lte":
		ops := map[string]string{"gt": ">", "gte": ">=", "lt": "<", "lte": "<="}
		r, err := rhs(leaf.Value)
		if err != nil {
			return "", err
		}
		return col + " " + ops[leaf.Op] + " " + r, nil
	case "in", "nin":
		values, err := valueList(leaf.Op, leaf.Value)
		if err != nil {
			return "", err
		}
		if leaf.Op == "in" {
			return c.dialect.InExpr(col, pb, values), nil
		}
		return c.dialect.NotInExpr(col, pb, values), nil
	case "like", "nlike":
		keyword := " LIKE "
		if leaf.Op == "nlike" {
			keyword = " NOT LIKE "
		}
		return col + keyword + pb.Add(leaf.Value), nil
	case "ilike", "nilike":
		return c.dialect.ILikeExpr(col, pb.Add(leaf.Value), leaf.Op == "nilike"), nil
	case "contains", "ncontains":
		pattern := "%" + stringValue(leaf.Value) + "%"
		return c.dialect.ILikeExpr(col, pb.Add(pattern), leaf.Op == "ncontains"), nil
	case "starts_with":
		return c.dialect.ILikeExpr(col, pb.Add(stringValue(leaf.Value)+"%"), false), nil
	case "ends_with":
		return c.dialect.ILikeExpr(col, pb.Add("%"+stringValue(leaf.Value)), false), nil
	case "between", "nbetween":
		values, err := valueList(leaf.Op, leaf.Value)
		if err != nil {
			return "", err
		}
		if len(values) != 2 {
			return "", InvalidOperatorArityError("_"+leaf.Op, 2, len(values))
		}
		keyword := " BETWEEN "
		if leaf.Op == "nbetween" {
			keyword = " NOT BETWEEN "
		}
		return col + keyword + pb.Add(values[0]) + " AND " + pb.Add(values[1]), nil
	case "null", "nnull":
		// value toggles polarity: {"_null": false} means IS NOT NULL
		wantNull := leaf.Op == "null"
		if b, ok := leaf.Value.(bool); ok && !b {
			wantNull = !wantNull
		}
		if wantNull {
			return col + " IS NULL", nil
		}
		return col + " IS NOT NULL", nil
	case "regex":
		expr := c.dialect.RegexExpr(col, pb.Add(leaf.Value))
		if expr == "" {
			return "", InvalidOperatorError("_regex", leaf.Path)
		}
		return expr, nil
	case "intersects":
		return fmt.Sprintf("ST_Intersects(%s, ST_GeomFromGeoJSON(%s))", col, pb.Add(jsonString(leaf.Value))), nil
	default:
		return "", InvalidOperatorError("_"+leaf.Op, leaf.Path)
	}
}

func valueList(op string, v any) ([]any, error) {
	switch vv := v.(type) {
	case []any:
		return vv, nil
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, nil
	default:
		return nil, NewAppError("INVALID_FILTER", 400, fmt.Sprintf("_%s requires an array value", op))
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// jsonString renders a GeoJSON value back to its JSON text so it can be
// bound as a single parameter.
func jsonString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
