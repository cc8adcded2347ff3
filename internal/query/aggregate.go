package query

import (
	"fmt"
	"sort"
	"strings"
)

// Aggregate is one result-alias entry: alias -> {function, field}. Field may
// be a dotted relation path; "*" is only meaningful for count.
type Aggregate struct {
	Func  string `json:"func"`
	Field string `json:"field"`
}

var aggregateFuncs = map[string]string{
	"count":         "COUNT",
	"countDistinct": "COUNT",
	"sum":           "SUM",
	"avg":           "AVG",
	"min":           "MIN",
	"max":           "MAX",
	"arrayAgg":      "array_agg",
}

// compileAggregates renders aggregate select expressions and the GROUP BY
// list. Relation paths resolve through the same join plan the filter and
// sort used, so an aggregate over a path already joined for filtering adds
// no second join.
//
// When the plan contains a to-many join, aggregates run over the multiplied
// row set: count(*) is rewritten to a distinct count of the base primary
// key, but sum/avg/min/max intentionally see the joined multiset, and a
// caller wanting per-base-row semantics uses countDistinct on the path.
func (c *Compiler) compileAggregates(aggs map[string]Aggregate, groupBy []string, jc *joinContext) (selects []string, groups []string, err error) {
	aliases := make([]string, 0, len(aggs))
	for alias := range aggs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	// resolve every path up front so the to-many check below sees the
	// complete join plan
	cols := make(map[string]string, len(aggs))
	for _, alias := range aliases {
		agg := aggs[alias]
		if _, ok := aggregateFuncs[agg.Func]; !ok {
			return nil, nil, NewAppError("INVALID_AGGREGATE", 400, fmt.Sprintf("Unknown aggregate function: %s", agg.Func))
		}
		if !isIdentifier(alias) {
			return nil, nil, NewAppError("INVALID_AGGREGATE", 400, fmt.Sprintf("Invalid aggregate alias: %s", alias))
		}
		if agg.Field == "*" || agg.Field == "" {
			if agg.Func != "count" {
				return nil, nil, NewAppError("INVALID_AGGREGATE", 400, fmt.Sprintf("%s requires a field", agg.Func))
			}
			cols[alias] = "*"
			continue
		}
		col, _, err := jc.resolveField(agg.Field, false)
		if err != nil {
			return nil, nil, err
		}
		cols[alias] = col
	}
	for _, g := range groupBy {
		col, _, err := jc.resolveField(g, false)
		if err != nil {
			return nil, nil, err
		}
		groups = append(groups, col)
	}

	toMany := jc.hasToMany()
	basePK := jc.baseAlias + "." + jc.base.PrimaryKey.Field

	for _, alias := range aliases {
		agg := aggs[alias]
		col := cols[alias]
		switch {
		case agg.Func == "countDistinct":
			selects = append(selects, fmt.Sprintf("COUNT(DISTINCT %s) AS %s", col, alias))
		case agg.Func == "count" && col == "*" && toMany:
			selects = append(selects, fmt.Sprintf("COUNT(DISTINCT %s) AS %s", basePK, alias))
		default:
			selects = append(selects, fmt.Sprintf("%s(%s) AS %s", aggregateFuncs[agg.Func], col, alias))
		}
	}
	for i, g := range groupBy {
		selects = append(selects, groups[i]+" AS "+aliasForGroup(g))
	}
	return selects, groups, nil
}

// aliasForGroup flattens a dotted group-by path into a result column name.
func aliasForGroup(path string) string {
	return strings.ReplaceAll(path, ".", "_")
}
