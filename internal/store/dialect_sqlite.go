package store

import (
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
// Used by local development and by tests that need a real database without
// a server.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NowExpr() string { return "CURRENT_TIMESTAMP" }

func (d *SQLiteDialect) InExpr(col string, pb ParamBuilder, values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", "))
}

func (d *SQLiteDialect) NotInExpr(col string, pb ParamBuilder, values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s NOT IN (%s)", col, strings.Join(placeholders, ", "))
}

func (d *SQLiteDialect) ILikeExpr(col string, placeholder string, negate bool) string {
	// SQLite LIKE is case-insensitive for ASCII already
	if negate {
		return fmt.Sprintf("%s NOT LIKE %s", col, placeholder)
	}
	return fmt.Sprintf("%s LIKE %s", col, placeholder)
}

func (d *SQLiteDialect) RegexExpr(col string, placeholder string) string {
	// REGEXP requires a user function; fall back to LIKE-less GLOB semantics
	// is wrong, so surface it as unsupported by returning empty.
	return ""
}

func (d *SQLiteDialect) SystemTablesSQL() string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _collections (
    name        TEXT PRIMARY KEY,
    table_name  TEXT NOT NULL UNIQUE,
    definition  TEXT NOT NULL,
    created_at  TEXT DEFAULT CURRENT_TIMESTAMP,
    updated_at  TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS _relations (
    name        TEXT NOT NULL,
    source      TEXT NOT NULL REFERENCES _collections(name) ON DELETE CASCADE,
    definition  TEXT NOT NULL,
    created_at  TEXT DEFAULT CURRENT_TIMESTAMP,
    updated_at  TEXT DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (source, name)
);

CREATE TABLE IF NOT EXISTS _roles (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    description     TEXT,
    tenant_specific INTEGER NOT NULL DEFAULT 0,
    invite_roles    TEXT NOT NULL DEFAULT '[]',
    created_at      TEXT DEFAULT CURRENT_TIMESTAMP,
    updated_at      TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS _permissions (
    id             TEXT PRIMARY KEY,
    role_id        TEXT NOT NULL REFERENCES _roles(id) ON DELETE CASCADE,
    collection     TEXT NOT NULL,
    action         TEXT NOT NULL,
    fields         TEXT,
    conditions     TEXT,
    rel_conditions TEXT,
    default_values TEXT,
    created_at     TEXT DEFAULT CURRENT_TIMESTAMP,
    updated_at     TEXT DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (role_id, collection, action)
);

CREATE TABLE IF NOT EXISTS _users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role_id       TEXT REFERENCES _roles(id),
    tenant_id     TEXT,
    active        INTEGER NOT NULL DEFAULT 1,
    created_at    TEXT DEFAULT CURRENT_TIMESTAMP,
    updated_at    TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS _sessions (
    id         TEXT PRIMARY KEY,
    token      TEXT NOT NULL UNIQUE,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    tenant_id  TEXT,
    type       TEXT NOT NULL DEFAULT 'default',
    expires_at TIMESTAMP NOT NULL,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP,
    updated_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON _sessions (user_id, type);
CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON _sessions (expires_at);
`
