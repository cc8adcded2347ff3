package query

import (
	"fmt"
	"strings"

	"strata-backend/internal/store"
)

// SortField is one ordering term. Field may be a dotted relation path or one
// of the pseudo-fields "_distance" and "_relevance".
type SortField struct {
	Field string
	Desc  bool
}

// GeoPoint is the reference point for nearest-first ordering.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ParseSortString parses the compact comma form: "-name,createdAt" orders by
// name descending, then createdAt ascending.
func ParseSortString(s string) []SortField {
	var out []SortField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, "-") {
			out = append(out, SortField{Field: part[1:], Desc: true})
		} else {
			out = append(out, SortField{Field: strings.TrimPrefix(part, "+")})
		}
	}
	return out
}

// orderTerm is one compiled ORDER BY entry. joined marks expressions that
// reference a joined alias rather than the base table; a grouped dedup plan
// must fold those to one value per group before ordering on them.
type orderTerm struct {
	expr   string
	desc   bool
	joined bool
}

// render emits the ORDER BY fragment. Under a GROUP BY-over-pk plan a joined
// column is not functionally dependent on the group key, so it is wrapped in
// MIN (ascending) or MAX (descending) to order each group by its best match.
func (t orderTerm) render(grouped bool) string {
	expr := t.expr
	if grouped && t.joined {
		if t.desc {
			expr = "MAX(" + expr + ")"
		} else {
			expr = "MIN(" + expr + ")"
		}
	}
	if t.desc {
		return expr + " DESC"
	}
	return expr + " ASC"
}

func renderOrderTerms(terms []orderTerm, grouped bool) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.render(grouped)
	}
	return out
}

// compileSort builds the ORDER BY term list. Dotted paths resolve through
// the shared join plan. A field the schema does not know is emitted as a
// sanitized qualified reference rather than failing, so computed or
// view-provided columns stay sortable.
func (c *Compiler) compileSort(sorts []SortField, jc *joinContext, pb store.ParamBuilder, opts *ReadOptions) ([]orderTerm, error) {
	var terms []orderTerm
	for _, s := range sorts {
		switch s.Field {
		case "_distance":
			expr, err := c.distanceExpr(jc, pb, opts)
			if err != nil {
				return nil, err
			}
			if expr == "" {
				continue
			}
			terms = append(terms, orderTerm{expr: expr, desc: s.Desc})
			continue
		case "_relevance":
			expr := c.relevanceExpr(jc, pb, opts)
			if expr == "" {
				continue
			}
			// relevance is a rank; descending means best match first
			terms = append(terms, orderTerm{expr: expr, desc: s.Desc})
			continue
		}

		col, _, err := jc.resolveField(s.Field, false)
		if err == nil {
			terms = append(terms, orderTerm{
				expr:   col,
				desc:   s.Desc,
				joined: strings.Contains(s.Field, "."),
			})
			continue
		}
		if appErr, ok := err.(*AppError); ok && appErr.Code == "UNKNOWN_FIELD" {
			raw, joined := rawSortColumn(s.Field, jc)
			if raw != "" {
				terms = append(terms, orderTerm{expr: raw, desc: s.Desc, joined: joined})
			}
			continue
		}
		return nil, err
	}
	return terms, nil
}

// rawSortColumn builds a qualified reference for a column the schema does
// not declare, reporting whether it lives on a joined alias. Only identifier
// characters survive sanitization; anything else drops the term entirely.
func rawSortColumn(path string, jc *joinContext) (string, bool) {
	idx := strings.LastIndex(path, ".")
	alias := jc.baseAlias
	column := path
	if idx >= 0 {
		joinPath := path[:idx]
		column = path[idx+1:]
		j, ok := jc.joins[joinPath]
		if !ok {
			return "", false
		}
		alias = j.Alias
	}
	if !isIdentifier(column) {
		return "", false
	}
	return alias + "." + column, alias != jc.baseAlias
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// distanceExpr compiles geodesic distance from the collection's first
// geometry field to the reference point. PostGIS only; on SQLite the term is
// skipped.
func (c *Compiler) distanceExpr(jc *joinContext, pb store.ParamBuilder, opts *ReadOptions) (string, error) {
	if opts == nil || opts.Near == nil {
		return "", NewAppError("INVALID_SORT", 400, "_distance requires a near reference point")
	}
	if c.dialect.Name() != "postgres" {
		return "", nil
	}
	var geomCol string
	for _, f := range jc.base.Fields {
		if f.IsGeometry() {
			geomCol = jc.baseAlias + "." + f.Name
			break
		}
	}
	if geomCol == "" {
		return "", NewAppError("INVALID_SORT", 400, "_distance requires a geometry field on the collection")
	}
	return fmt.Sprintf(
		"ST_Distance(%s::geography, ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography)",
		geomCol, pb.Add(opts.Near.Lng), pb.Add(opts.Near.Lat)), nil
}

// relevanceExpr compiles a full-text rank over the search field set.
// PostgreSQL only; elsewhere the term is skipped and row order is whatever
// the remaining sort terms produce.
func (c *Compiler) relevanceExpr(jc *joinContext, pb store.ParamBuilder, opts *ReadOptions) string {
	if opts == nil || opts.Search == "" || c.dialect.Name() != "postgres" {
		return ""
	}
	fields := opts.SearchFields
	if len(fields) == 0 {
		fields = jc.base.TextFieldNames()
	}
	if len(fields) == 0 {
		return ""
	}
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		if jc.base.HasField(f) {
			cols = append(cols, fmt.Sprintf("coalesce(%s.%s, '')", jc.baseAlias, f))
		}
	}
	if len(cols) == 0 {
		return ""
	}
	return fmt.Sprintf("ts_rank(to_tsvector('simple', %s), plainto_tsquery('simple', %s))",
		strings.Join(cols, " || ' ' || "), pb.Add(opts.Search))
}
