package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"strata-backend/internal/accountability"
	"strata-backend/internal/policy"
	"strata-backend/internal/schema"
	"strata-backend/internal/store"
)

// CompiledWrite is one fail-atomic write statement. AppliedDefaults records
// the permission defaults that were injected so the HTTP collaborator can
// echo them back in the response payload.
type CompiledWrite struct {
	Query           CompiledQuery
	AppliedDefaults map[string]any
	StrippedFields  []string

	// ID is the generated primary key for creates, nil otherwise.
	ID any
}

// CompileWrite builds the statement for one create, update or delete.
// Update and delete scope the target through the permission row conditions,
// so a caller can never mutate a row their role cannot read under the same
// conditions. Field handling follows the compiler's strict mode: out of
// allow-list values either fail the request or are dropped and reported.
func (c *Compiler) CompileWrite(acc *accountability.Accountability, collection, action string, id any, payload map[string]any) (*CompiledWrite, error) {
	col := c.reg.GetCollection(collection)
	if col == nil {
		return nil, UnknownCollectionError(collection)
	}
	switch action {
	case policy.ActionCreate, policy.ActionUpdate, policy.ActionDelete:
	default:
		return nil, NewAppError("INVALID_ACTION", 400, fmt.Sprintf("Unknown write action: %s", action))
	}

	merged, err := c.MergeFilter(acc, collection, action, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := &CompiledWrite{AppliedDefaults: map[string]any{}}
	pb := c.dialect.NewParamBuilder()

	values, err := c.writeValues(col, merged, acc, action, payload, now, out)
	if err != nil {
		return nil, err
	}

	switch action {
	case policy.ActionCreate:
		return c.compileInsert(col, values, pb, out)
	case policy.ActionUpdate:
		return c.compileUpdate(col, merged, values, id, pb, out)
	default:
		return c.compileDelete(col, merged, id, pb, out)
	}
}

// writeValues validates the payload against the schema and the grant's
// allow-list, then injects permission defaults and auto-managed columns.
func (c *Compiler) writeValues(col *schema.Collection, merged *Merged, acc *accountability.Accountability, action string, payload map[string]any, now time.Time, out *CompiledWrite) (map[string]any, error) {
	if action == policy.ActionDelete {
		return nil, nil
	}

	values := make(map[string]any, len(payload))
	for name, v := range payload {
		field := col.GetField(name)
		if field == nil {
			if c.StrictWrites {
				return nil, UnknownFieldError(name)
			}
			out.StrippedFields = append(out.StrippedFields, name)
			continue
		}
		if field.IsAuto() || name == col.PrimaryKey.Field {
			out.StrippedFields = append(out.StrippedFields, name)
			continue
		}
		if !merged.Admin && !merged.Grant.AllowsField(name) {
			if c.StrictWrites {
				return nil, FieldNotAllowedError(name)
			}
			out.StrippedFields = append(out.StrippedFields, name)
			continue
		}
		values[name] = v
	}

	for name, raw := range merged.Grant.DefaultValues {
		if _, supplied := values[name]; supplied {
			continue
		}
		if !col.HasField(name) {
			continue
		}
		resolved, err := resolveDefault(raw, acc, now)
		if err != nil {
			return nil, err
		}
		values[name] = resolved
		out.AppliedDefaults[name] = resolved
	}

	if acc.Policy != nil && acc.Policy.TenantSpecific && acc.TenantID != nil && col.HasField("tenant_id") {
		if _, supplied := values["tenant_id"]; !supplied {
			values["tenant_id"] = acc.TenantID.String()
			out.AppliedDefaults["tenant_id"] = values["tenant_id"]
		}
	}

	for _, f := range col.Fields {
		if f.Auto == "create" && action == policy.ActionCreate {
			values[f.Name] = now
		}
		if f.Auto == "update" {
			values[f.Name] = now
		}
	}

	if action == policy.ActionCreate && col.PrimaryKey.Generated && col.PrimaryKey.Type == "uuid" {
		id := uuid.NewString()
		values[col.PrimaryKey.Field] = id
		out.ID = id
	}
	return values, nil
}

func (c *Compiler) compileInsert(col *schema.Collection, values map[string]any, pb store.ParamBuilder, out *CompiledWrite) (*CompiledWrite, error) {
	if len(values) == 0 {
		return nil, NewAppError("EMPTY_PAYLOAD", 400, "Nothing to insert")
	}
	cols := sortedKeys(values)
	placeholders := make([]string, len(cols))
	for i, name := range cols {
		placeholders[i] = pb.Add(values[name])
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		col.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if c.dialect.Name() == "postgres" {
		sql += " RETURNING " + col.PrimaryKey.Field
	}
	out.Query = CompiledQuery{SQL: sql, Params: pb.Params()}
	return out, nil
}

func (c *Compiler) compileUpdate(col *schema.Collection, merged *Merged, values map[string]any, id any, pb store.ParamBuilder, out *CompiledWrite) (*CompiledWrite, error) {
	if len(values) == 0 {
		return nil, NewAppError("EMPTY_PAYLOAD", 400, "Nothing to update")
	}
	cols := sortedKeys(values)
	sets := make([]string, len(cols))
	for i, name := range cols {
		sets[i] = name + " = " + pb.Add(values[name])
	}
	where, err := c.writeScope(col, merged, id, pb)
	if err != nil {
		return nil, err
	}
	out.Query = CompiledQuery{
		SQL:    fmt.Sprintf("UPDATE %s SET %s WHERE %s", col.Table, strings.Join(sets, ", "), where),
		Params: pb.Params(),
	}
	return out, nil
}

func (c *Compiler) compileDelete(col *schema.Collection, merged *Merged, id any, pb store.ParamBuilder, out *CompiledWrite) (*CompiledWrite, error) {
	where, err := c.writeScope(col, merged, id, pb)
	if err != nil {
		return nil, err
	}
	out.Query = CompiledQuery{
		SQL:    fmt.Sprintf("DELETE FROM %s WHERE %s", col.Table, where),
		Params: pb.Params(),
	}
	return out, nil
}

// writeScope builds the WHERE for update/delete: the primary key match plus,
// when the grant carries row conditions, a membership subquery over the same
// join plan a read would use. The subquery keeps UPDATE/DELETE free of join
// syntax differences between engines.
func (c *Compiler) writeScope(col *schema.Collection, merged *Merged, id any, pb store.ParamBuilder) (string, error) {
	if id == nil {
		return "", NewAppError("MISSING_ID", 400, "Write requires a primary key value")
	}
	pkExpr := col.PrimaryKey.Field + " = " + pb.Add(id)
	if merged.Policy == nil {
		return pkExpr, nil
	}

	jc := newJoinContext(c.reg, col)
	inner, err := c.compileNode(merged.Policy, jc, pb, true)
	if err != nil {
		return "", err
	}
	sub := fmt.Sprintf("SELECT %s.%s FROM %s AS %s%s WHERE %s",
		jc.baseAlias, col.PrimaryKey.Field, col.Table, jc.baseAlias, jc.renderSQL(), inner)
	return fmt.Sprintf("%s AND %s IN (%s)", pkExpr, col.PrimaryKey.Field, sub), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
