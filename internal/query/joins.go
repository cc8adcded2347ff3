package query

import (
	"fmt"
	"strings"

	"strata-backend/internal/schema"
)

const (
	joinLeft  = "LEFT"
	joinInner = "INNER"
)

// Join is one resolved join in the plan. Pivot joins synthesized for
// many-to-many and polymorphic traversals are separate entries tied to
// their owner through the pivot field.
type Join struct {
	Path       string
	Alias      string
	Table      string
	Type       string // joinLeft or joinInner
	On         string
	ToMany     bool
	Collection *schema.Collection
	pivot      *Join
}

// joinContext accumulates the join plan for one compiled query. Each
// distinct relation path gets exactly one alias; resolving the same path
// again, from a filter, a sort, an include or a permission condition, reuses
// it. Requesting a path with inner=true promotes an existing LEFT join (and
// its pivot) to INNER.
type joinContext struct {
	reg       *schema.Registry
	base      *schema.Collection
	baseAlias string
	joins     map[string]*Join
	order     []string
}

func newJoinContext(reg *schema.Registry, base *schema.Collection) *joinContext {
	return &joinContext{
		reg:       reg,
		base:      base,
		baseAlias: base.Table,
		joins:     make(map[string]*Join),
	}
}

func aliasFor(path string) string {
	return strings.ReplaceAll(path, ".", "_")
}

// resolve walks the relation path left to right, creating or reusing one
// join per path prefix. A segment that is not a declared relation on the
// collection reached so far is a compile-time error.
func (jc *joinContext) resolve(path string, inner bool) (*Join, error) {
	segments := strings.Split(path, ".")
	current := jc.base
	currentAlias := jc.baseAlias
	prefix := ""
	var j *Join

	for _, seg := range segments {
		if seg == "" {
			return nil, UnknownRelationPathError(path)
		}
		if prefix == "" {
			prefix = seg
		} else {
			prefix = prefix + "." + seg
		}

		if existing, ok := jc.joins[prefix]; ok {
			if inner {
				existing.promote()
			}
			j = existing
			current = existing.Collection
			currentAlias = existing.Alias
			continue
		}

		rel := jc.reg.RelationOn(current.Name, seg)
		if rel == nil {
			return nil, UnknownRelationPathError(prefix)
		}
		target := jc.reg.GetCollection(rel.Target)
		if target == nil {
			return nil, UnknownRelationPathError(prefix)
		}

		joinType := joinLeft
		if inner {
			joinType = joinInner
		}
		alias := aliasFor(prefix)

		var newJoin *Join
		switch {
		case rel.IsBelongsTo():
			newJoin = &Join{
				Path:  prefix,
				Alias: alias,
				Table: target.Table,
				Type:  joinType,
				On: fmt.Sprintf("%s.%s = %s.%s",
					currentAlias, rel.SourceKey, alias, target.PrimaryKey.Field),
				ToMany:     false,
				Collection: target,
			}
		case rel.IsHasMany():
			newJoin = &Join{
				Path:  prefix,
				Alias: alias,
				Table: target.Table,
				Type:  joinType,
				On: fmt.Sprintf("%s.%s = %s.%s",
					alias, rel.TargetKey, currentAlias, current.PrimaryKey.Field),
				ToMany:     true,
				Collection: target,
			}
		case rel.IsManyToMany():
			pivotAlias := alias + "_jt"
			pivotOn := fmt.Sprintf("%s.%s = %s.%s",
				pivotAlias, rel.SourceJoinKey, currentAlias, current.PrimaryKey.Field)
			if rel.IsPolymorphic() {
				// discriminator value comes from the schema, not the caller
				pivotOn += fmt.Sprintf(" AND %s.%s = '%s'",
					pivotAlias, rel.TypeField, strings.ReplaceAll(rel.Target, "'", "''"))
			}
			pivot := &Join{
				Path:   prefix + "#pivot",
				Alias:  pivotAlias,
				Table:  rel.JoinTable,
				Type:   joinType,
				On:     pivotOn,
				ToMany: true,
			}
			jc.joins[pivot.Path] = pivot
			jc.order = append(jc.order, pivot.Path)

			newJoin = &Join{
				Path:  prefix,
				Alias: alias,
				Table: target.Table,
				Type:  joinType,
				On: fmt.Sprintf("%s.%s = %s.%s",
					alias, target.PrimaryKey.Field, pivotAlias, rel.TargetJoinKey),
				ToMany:     true,
				Collection: target,
				pivot:      pivot,
			}
		default:
			return nil, UnknownRelationPathError(prefix)
		}

		jc.joins[prefix] = newJoin
		jc.order = append(jc.order, prefix)
		j = newJoin
		current = target
		currentAlias = alias
	}
	return j, nil
}

func (j *Join) promote() {
	j.Type = joinInner
	if j.pivot != nil {
		j.pivot.Type = joinInner
	}
}

// resolveField resolves a possibly dotted field path to a qualified column
// reference, requesting joins as a side effect. Returns the column SQL and
// the schema field.
func (jc *joinContext) resolveField(path string, inner bool) (string, *schema.Field, error) {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		field := jc.base.GetField(path)
		if field == nil {
			return "", nil, UnknownFieldError(path)
		}
		return jc.baseAlias + "." + path, field, nil
	}

	joinPath, column := path[:idx], path[idx+1:]
	j, err := jc.resolve(joinPath, inner)
	if err != nil {
		return "", nil, err
	}
	field := j.Collection.GetField(column)
	if field == nil {
		return "", nil, UnknownFieldError(path)
	}
	return j.Alias + "." + column, field, nil
}

// hasToMany reports whether any join in the plan can multiply base rows,
// which forces DISTINCT projection and distinct counting.
func (jc *joinContext) hasToMany() bool {
	for _, j := range jc.joins {
		if j.ToMany {
			return true
		}
	}
	return false
}

// renderSQL emits the join clauses in resolution order, parents before
// children.
func (jc *joinContext) renderSQL() string {
	var sb strings.Builder
	for _, path := range jc.order {
		j := jc.joins[path]
		fmt.Fprintf(&sb, " %s JOIN %s AS %s ON %s", j.Type, j.Table, j.Alias, j.On)
	}
	return sb.String()
}

// joinCount returns the number of joins in the plan, excluding pivots.
func (jc *joinContext) joinCount() int {
	n := 0
	for _, path := range jc.order {
		if !strings.HasSuffix(path, "#pivot") {
			n++
		}
	}
	return n
}
