package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"strata-backend/internal/store"
)

// User carries the core user fields accountability resolution needs.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	RoleID       uuid.UUID
	TenantID     *uuid.UUID
	Active       bool
}

// Store reads and writes role, permission and user rows. It contains no
// caching; the Cache owns that and wraps every mutation so invalidation can
// never be skipped.
type Store struct {
	db *store.Store
}

func NewStore(db *store.Store) *Store {
	return &Store{db: db}
}

// Role loads a role row by id.
func (s *Store) Role(ctx context.Context, id uuid.UUID) (*Role, error) {
	return s.scanRole(ctx, "id", id.String())
}

// RoleByName loads a role row by unique name.
func (s *Store) RoleByName(ctx context.Context, name string) (*Role, error) {
	return s.scanRole(ctx, "name", name)
}

func (s *Store) scanRole(ctx context.Context, col, val string) (*Role, error) {
	pb := s.db.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT id, name, description, tenant_specific, invite_roles FROM _roles WHERE %s = %s",
		col, pb.Add(val))

	var r Role
	var id string
	var description sql.NullString
	var inviteJSON []byte
	err := s.db.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).
		Scan(&id, &r.Name, &description, &r.TenantSpecific, &inviteJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	r.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse role id: %w", err)
	}
	r.Description = description.String
	if len(inviteJSON) > 0 {
		if err := json.Unmarshal(inviteJSON, &r.InviteRoles); err != nil {
			return nil, fmt.Errorf("parse invite_roles: %w", err)
		}
	}
	return &r, nil
}

// Roles loads all role rows ordered by name.
func (s *Store) Roles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		"SELECT id, name, description, tenant_specific, invite_roles FROM _roles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var r Role
		var id string
		var description sql.NullString
		var inviteJSON []byte
		if err := rows.Scan(&id, &r.Name, &description, &r.TenantSpecific, &inviteJSON); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse role id: %w", err)
		}
		r.Description = description.String
		if len(inviteJSON) > 0 {
			if err := json.Unmarshal(inviteJSON, &r.InviteRoles); err != nil {
				return nil, fmt.Errorf("parse invite_roles: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PermissionsForRole loads all permission rows for one role.
func (s *Store) PermissionsForRole(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	pb := s.db.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		`SELECT id, role_id, collection, action, fields, conditions, rel_conditions, default_values
		 FROM _permissions WHERE role_id = %s ORDER BY collection, action`, pb.Add(roleID.String()))

	rows, err := s.db.DB.QueryContext(ctx, sqlStr, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		var id, rid string
		var fieldsJSON, condJSON, relJSON, defJSON []byte
		if err := rows.Scan(&id, &rid, &p.Collection, &p.Action, &fieldsJSON, &condJSON, &relJSON, &defJSON); err != nil {
			return nil, fmt.Errorf("scan permission row: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse permission id: %w", err)
		}
		if p.RoleID, err = uuid.Parse(rid); err != nil {
			return nil, fmt.Errorf("parse permission role id: %w", err)
		}
		if err := unmarshalInto(fieldsJSON, &p.Fields); err != nil {
			return nil, fmt.Errorf("parse permission fields: %w", err)
		}
		if err := unmarshalInto(condJSON, &p.Conditions); err != nil {
			return nil, fmt.Errorf("parse permission conditions: %w", err)
		}
		if err := unmarshalInto(relJSON, &p.RelConditions); err != nil {
			return nil, fmt.Errorf("parse permission rel_conditions: %w", err)
		}
		if err := unmarshalInto(defJSON, &p.DefaultValues); err != nil {
			return nil, fmt.Errorf("parse permission default_values: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ResolvePolicy assembles the enforceable policy for one role from its role
// and permission rows.
func (s *Store) ResolvePolicy(ctx context.Context, roleID uuid.UUID) (*ResolvedPolicy, error) {
	role, err := s.Role(ctx, roleID)
	if err != nil {
		return nil, err
	}
	perms, err := s.PermissionsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	policy := &ResolvedPolicy{
		RoleID:         role.ID,
		RoleName:       role.Name,
		TenantSpecific: role.TenantSpecific,
		Grants:         make(map[string]Grant, len(perms)),
	}
	for _, p := range perms {
		policy.Grants[p.Collection+"_"+p.Action] = Grant{
			Fields:        p.Fields,
			Conditions:    p.Conditions,
			RelConditions: p.RelConditions,
			DefaultValues: p.DefaultValues,
		}
	}
	return policy, nil
}

// User loads a user row by id.
func (s *Store) User(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.scanUser(ctx, "id", id.String())
}

// UserByEmail loads a user row by unique email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(ctx, "email", email)
}

func (s *Store) scanUser(ctx context.Context, col, val string) (*User, error) {
	pb := s.db.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT id, email, password_hash, role_id, tenant_id, active FROM _users WHERE %s = %s",
		col, pb.Add(val))

	var u User
	var id string
	var roleID, tenantID sql.NullString
	err := s.db.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).
		Scan(&id, &u.Email, &u.PasswordHash, &roleID, &tenantID, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	if roleID.Valid {
		if u.RoleID, err = uuid.Parse(roleID.String); err != nil {
			return nil, fmt.Errorf("parse user role id: %w", err)
		}
	}
	if tenantID.Valid {
		tid, err := uuid.Parse(tenantID.String)
		if err != nil {
			return nil, fmt.Errorf("parse user tenant id: %w", err)
		}
		u.TenantID = &tid
	}
	return &u, nil
}

// createRole inserts a role row. Exposed through the Cache so callers cannot
// bypass invalidation.
func (s *Store) createRole(ctx context.Context, r *Role) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	invite, err := json.Marshal(r.InviteRoles)
	if err != nil {
		return fmt.Errorf("encode invite_roles: %w", err)
	}
	if r.InviteRoles == nil {
		invite = []byte("[]")
	}

	pb := s.db.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO _roles (id, name, description, tenant_specific, invite_roles) VALUES (%s, %s, %s, %s, %s)",
		pb.Add(r.ID.String()), pb.Add(r.Name), pb.Add(r.Description), pb.Add(r.TenantSpecific), pb.Add(string(invite)))
	_, err = store.Exec(ctx, s.db.DB, sqlStr, pb.Params()...)
	return s.db.Dialect.MapError(err)
}

// deleteRole removes a role row; permission rows cascade.
func (s *Store) deleteRole(ctx context.Context, id uuid.UUID) error {
	pb := s.db.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM _roles WHERE id = %s", pb.Add(id.String()))
	n, err := store.Exec(ctx, s.db.DB, sqlStr, pb.Params()...)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// upsertPermission inserts or replaces the permission row for the
// (role, collection, action) triple.
func (s *Store) upsertPermission(ctx context.Context, p *Permission) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	fields, err := marshalOrNil(p.Fields)
	if err != nil {
		return err
	}
	cond, err := marshalOrNil(p.Conditions)
	if err != nil {
		return err
	}
	rel, err := marshalOrNil(p.RelConditions)
	if err != nil {
		return err
	}
	def, err := marshalOrNil(p.DefaultValues)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	pb := s.db.Dialect.NewParamBuilder()
	delSQL := fmt.Sprintf("DELETE FROM _permissions WHERE role_id = %s AND collection = %s AND action = %s",
		pb.Add(p.RoleID.String()), pb.Add(p.Collection), pb.Add(p.Action))
	if _, err := store.Exec(ctx, tx, delSQL, pb.Params()...); err != nil {
		return err
	}

	pb = s.db.Dialect.NewParamBuilder()
	insSQL := fmt.Sprintf(
		`INSERT INTO _permissions (id, role_id, collection, action, fields, conditions, rel_conditions, default_values)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(p.ID.String()), pb.Add(p.RoleID.String()), pb.Add(p.Collection), pb.Add(p.Action),
		pb.Add(fields), pb.Add(cond), pb.Add(rel), pb.Add(def))
	if _, err := store.Exec(ctx, tx, insSQL, pb.Params()...); err != nil {
		return s.db.Dialect.MapError(err)
	}

	return tx.Commit()
}

// deletePermission removes a permission row and reports which role owned it.
func (s *Store) deletePermission(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	pb := s.db.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT role_id FROM _permissions WHERE id = %s", pb.Add(id.String()))
	var rid string
	err := s.db.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&rid)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, store.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("load permission: %w", err)
	}
	roleID, err := uuid.Parse(rid)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse role id: %w", err)
	}

	pb = s.db.Dialect.NewParamBuilder()
	delSQL := fmt.Sprintf("DELETE FROM _permissions WHERE id = %s", pb.Add(id.String()))
	if _, err := store.Exec(ctx, s.db.DB, delSQL, pb.Params()...); err != nil {
		return uuid.Nil, err
	}
	return roleID, nil
}

func marshalOrNil(v any) (any, error) {
	switch val := v.(type) {
	case []string:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case map[string]map[string]any:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode permission column: %w", err)
	}
	return string(data), nil
}

func unmarshalInto(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
