package query

import (
	"fmt"
	"strings"

	"strata-backend/internal/accountability"
	"strata-backend/internal/policy"
	"strata-backend/internal/schema"
	"strata-backend/internal/store"
)

const (
	defaultLimit = 25
	maxLimit     = 100
)

// ReadOptions is the caller-supplied query surface for one read.
type ReadOptions struct {
	Fields       []string             `json:"fields,omitempty"`
	Filter       map[string]any       `json:"filter,omitempty"`
	Sort         []SortField          `json:"sort,omitempty"`
	Limit        int                  `json:"limit,omitempty"`
	Page         int                  `json:"page,omitempty"`
	Offset       int                  `json:"offset,omitempty"`
	Aggregate    map[string]Aggregate `json:"aggregate,omitempty"`
	GroupBy      []string             `json:"group_by,omitempty"`
	Search       string               `json:"search,omitempty"`
	SearchFields []string             `json:"search_fields,omitempty"`
	Include      []string             `json:"include,omitempty"`
	Near         *GeoPoint            `json:"near,omitempty"`
}

// CompiledQuery is one executable statement with its bound parameters.
type CompiledQuery struct {
	SQL    string
	Params []any
}

// CompiledRead pairs the data query with its count companion. The two share
// the identical join plan and predicate; the count carries no sort, limit or
// offset, so the reported total always matches the filter that produced the
// page. Limit and Offset carry the clamped pagination values the data query
// actually uses, so response metadata can echo effective numbers rather
// than raw caller input.
type CompiledRead struct {
	Data   CompiledQuery
	Count  CompiledQuery
	Fields []string
	Limit  int
	Offset int
}

// CompileRead builds the data and count queries for one authorized read.
func (c *Compiler) CompileRead(acc *accountability.Accountability, collection string, opts *ReadOptions) (*CompiledRead, error) {
	col := c.reg.GetCollection(collection)
	if col == nil {
		return nil, UnknownCollectionError(collection)
	}
	if opts == nil {
		opts = &ReadOptions{}
	}

	userFilter, err := ParseFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	merged, err := c.MergeFilter(acc, collection, policy.ActionRead, userFilter)
	if err != nil {
		return nil, err
	}

	jc := newJoinContext(c.reg, col)

	// includes first so filter/sort paths reuse their aliases
	for _, path := range opts.Include {
		if _, err := jc.resolve(path, false); err != nil {
			return nil, err
		}
	}

	pb := c.dialect.NewParamBuilder()
	where, err := c.compileMerged(merged, jc, pb)
	if err != nil {
		return nil, err
	}

	if opts.Search != "" {
		searchExpr, err := c.searchExpr(jc, pb, opts)
		if err != nil {
			return nil, err
		}
		if searchExpr != "" {
			if where != "" {
				where = where + " AND " + searchExpr
			} else {
				where = searchExpr
			}
		}
	}

	// aggregate paths may add joins, so resolve them before the join SQL is
	// rendered; the count query shares whatever plan results
	var aggSelects, groups []string
	if len(opts.Aggregate) > 0 || len(opts.GroupBy) > 0 {
		aggSelects, groups, err = c.compileAggregates(opts.Aggregate, opts.GroupBy, jc)
		if err != nil {
			return nil, err
		}
	}

	// count params snapshot before sort placeholders are appended
	countParams := append([]any(nil), pb.Params()...)

	sortTerms, err := c.compileSort(opts.Sort, jc, pb, opts)
	if err != nil {
		return nil, err
	}

	joinSQL := jc.renderSQL()
	baseAlias := jc.baseAlias
	pk := baseAlias + "." + col.PrimaryKey.Field

	whereSQL := ""
	if where != "" {
		whereSQL = " WHERE " + where
	}

	// A to-many join multiplies base rows. The data query dedupes by
	// grouping on the primary key rather than SELECT DISTINCT: grouping
	// keeps ORDER BY terms from joined aliases legal on Postgres (wrapped
	// in MIN/MAX per group), where DISTINCT would reject any ORDER BY
	// expression missing from the select list.
	toMany := jc.hasToMany()
	grouped := toMany && len(aggSelects) == 0

	var dataSQL strings.Builder
	dataSQL.WriteString("SELECT ")
	if len(aggSelects) > 0 {
		dataSQL.WriteString(strings.Join(aggSelects, ", "))
	} else {
		fields, err := c.projection(col, baseAlias, merged, opts.Fields)
		if err != nil {
			return nil, err
		}
		dataSQL.WriteString(strings.Join(fields, ", "))
	}
	fmt.Fprintf(&dataSQL, " FROM %s AS %s", col.Table, baseAlias)
	dataSQL.WriteString(joinSQL)
	dataSQL.WriteString(whereSQL)
	if len(groups) > 0 {
		dataSQL.WriteString(" GROUP BY " + strings.Join(groups, ", "))
	} else if grouped {
		dataSQL.WriteString(" GROUP BY " + pk)
	}
	if len(sortTerms) > 0 {
		dataSQL.WriteString(" ORDER BY " + strings.Join(renderOrderTerms(sortTerms, grouped), ", "))
	} else if len(aggSelects) == 0 {
		dataSQL.WriteString(" ORDER BY " + pk + " ASC")
	}

	limit, offset := pagination(opts)
	if len(aggSelects) == 0 {
		fmt.Fprintf(&dataSQL, " LIMIT %d OFFSET %d", limit, offset)
	}

	countCol := "COUNT(*) AS count"
	if toMany {
		countCol = fmt.Sprintf("COUNT(DISTINCT %s) AS count", pk)
	}
	countSQL := fmt.Sprintf("SELECT %s FROM %s AS %s%s%s",
		countCol, col.Table, baseAlias, joinSQL, whereSQL)

	return &CompiledRead{
		Data:   CompiledQuery{SQL: dataSQL.String(), Params: pb.Params()},
		Count:  CompiledQuery{SQL: countSQL, Params: countParams},
		Fields: c.allowedFields(col, merged, opts.Fields),
		Limit:  limit,
		Offset: offset,
	}, nil
}

// searchExpr builds the OR-of-ILIKE predicate over the search field set.
func (c *Compiler) searchExpr(jc *joinContext, pb store.ParamBuilder, opts *ReadOptions) (string, error) {
	fields := opts.SearchFields
	if len(fields) == 0 {
		fields = jc.base.TextFieldNames()
	}
	var parts []string
	pattern := "%" + opts.Search + "%"
	for _, f := range fields {
		qualified, field, err := jc.resolveField(f, false)
		if err != nil {
			return "", err
		}
		if !field.IsText() {
			continue
		}
		parts = append(parts, c.dialect.ILikeExpr(qualified, pb.Add(pattern), false))
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

// projection returns the qualified select list after applying the grant's
// field allow-list. Requesting a field outside the allow-list is not an
// error; the field is simply absent from the result.
func (c *Compiler) projection(col *schema.Collection, baseAlias string, merged *Merged, requested []string) ([]string, error) {
	names := c.allowedFields(col, merged, requested)
	if len(names) == 0 {
		return nil, FieldNotAllowedError(strings.Join(requested, ","))
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = baseAlias + "." + n
	}
	return out, nil
}

func (c *Compiler) allowedFields(col *schema.Collection, merged *Merged, requested []string) []string {
	candidates := requested
	if len(candidates) == 0 {
		candidates = col.FieldNames()
	}
	var out []string
	for _, n := range candidates {
		if !col.HasField(n) {
			continue
		}
		if !merged.Admin && !merged.Grant.AllowsField(n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func pagination(opts *ReadOptions) (limit, offset int) {
	limit = opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset = opts.Offset
	if opts.Page > 0 {
		offset = (opts.Page - 1) * limit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
