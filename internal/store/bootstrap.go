package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Bootstrap creates all system tables and seeds the built-in roles. Safe to
// call on every startup; all DDL is IF NOT EXISTS and seeds are idempotent.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("create system tables: %w", err)
	}

	for _, role := range []struct {
		name, description string
	}{
		{"admin", "Unrestricted administrative access"},
		{"public", "Unauthenticated access"},
	} {
		if err := s.seedRole(ctx, role.name, role.description); err != nil {
			return fmt.Errorf("seed role %s: %w", role.name, err)
		}
	}
	return nil
}

func (s *Store) seedRole(ctx context.Context, name, description string) error {
	pb := s.Dialect.NewParamBuilder()
	existsSQL := fmt.Sprintf("SELECT COUNT(*) AS n FROM _roles WHERE name = %s", pb.Add(name))
	row, err := QueryRow(ctx, s.DB, existsSQL, pb.Params()...)
	if err != nil {
		return err
	}
	if n, ok := row["n"].(int64); ok && n > 0 {
		return nil
	}

	pb = s.Dialect.NewParamBuilder()
	insertSQL := fmt.Sprintf(
		"INSERT INTO _roles (id, name, description) VALUES (%s, %s, %s)",
		pb.Add(uuid.NewString()), pb.Add(name), pb.Add(description))
	_, err = Exec(ctx, s.DB, insertSQL, pb.Params()...)
	return s.Dialect.MapError(err)
}
