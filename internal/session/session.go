package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"strata-backend/internal/config"
	"strata-backend/internal/store"
)

// Session types. Only non-default types are subject to concurrency limits.
const (
	TypeDefault = "default"
	TypeWeb     = "web"
	TypeMobile  = "mobile"
)

// timeLayout is the stored form of expires_at. Fixed-width fractional
// seconds keep SQLite's lexicographic TEXT comparison consistent with
// chronological order; RFC3339Nano trims trailing zeros, which would sort a
// whole second after any fraction of that same second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrLimitExceeded is returned by Create when the user already holds the
// configured maximum of live sessions of the requested type. Surfaced
// distinctly so clients can prompt a device logout.
var ErrLimitExceeded = errors.New("session limit exceeded")

// ErrNotFound is returned by Validate for unknown and for expired tokens;
// the two cases are indistinguishable by design.
var ErrNotFound = errors.New("session not found")

type Session struct {
	ID        uuid.UUID  `json:"id"`
	Token     string     `json:"-"`
	UserID    uuid.UUID  `json:"user_id"`
	TenantID  *uuid.UUID `json:"tenant_id,omitempty"`
	Type      string     `json:"type"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Manager owns the session lifecycle: Active on create, collapsed straight
// to deleted when validation sees an expired row (lazy expiry), with the
// sweeper reclaiming idle expired rows in the background.
type Manager struct {
	db  *store.Store
	cfg config.SessionConfig
	log *logrus.Entry
}

func NewManager(db *store.Store, cfg config.SessionConfig, log *logrus.Entry) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Manager{db: db, cfg: cfg, log: log.WithField("component", "sessions")}
}

// newToken returns a 256-bit random token, hex encoded.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create inserts a new active session and returns it. The per-type limit is
// checked first via EnforceLimit.
//
// Known race: the limit check and the insert are not serialized, so two
// concurrent logins at the limit can both pass the check and both succeed,
// exceeding the configured maximum by a bounded amount. Accepted tradeoff;
// a later sequential login still fails.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID, sessionType, roleName string) (*Session, error) {
	if sessionType == "" {
		sessionType = TypeDefault
	}

	if err := m.EnforceLimit(ctx, userID, sessionType, tenantID, roleName); err != nil {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.New(),
		Token:     token,
		UserID:    userID,
		TenantID:  tenantID,
		Type:      sessionType,
		ExpiresAt: time.Now().UTC().Add(m.cfg.TTL),
		CreatedAt: time.Now().UTC(),
	}

	pb := m.db.Dialect.NewParamBuilder()
	var tenant any
	if tenantID != nil {
		tenant = tenantID.String()
	}
	sqlStr := fmt.Sprintf(
		`INSERT INTO _sessions (id, token, user_id, tenant_id, type, expires_at) VALUES (%s, %s, %s, %s, %s, %s)`,
		pb.Add(s.ID.String()), pb.Add(s.Token), pb.Add(s.UserID.String()),
		pb.Add(tenant), pb.Add(s.Type), pb.Add(s.ExpiresAt.Format(timeLayout)))
	if _, err := store.Exec(ctx, m.db.DB, sqlStr, pb.Params()...); err != nil {
		return nil, m.db.Dialect.MapError(err)
	}

	return s, nil
}

// Validate looks a session up by token. An expired row is deleted on the
// spot and reported as absent, so callers can never observe the Expired
// state.
func (m *Manager) Validate(ctx context.Context, token string) (*Session, error) {
	pb := m.db.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT id, token, user_id, tenant_id, type, expires_at, created_at FROM _sessions WHERE token = %s",
		pb.Add(token))

	row, err := store.QueryRow(ctx, m.db.DB, sqlStr, pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	if time.Now().UTC().After(s.ExpiresAt) {
		if err := m.Delete(ctx, token); err != nil {
			m.log.WithError(err).Warn("lazy expiry delete failed")
		}
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes a session by token (logout or lazy expiry).
func (m *Manager) Delete(ctx context.Context, token string) error {
	pb := m.db.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM _sessions WHERE token = %s", pb.Add(token))
	_, err := store.Exec(ctx, m.db.DB, sqlStr, pb.Params()...)
	return err
}

// EnforceLimit rejects a new session of the given type when the user already
// holds the configured maximum of non-expired sessions of that type.
// Sessions of the default type are never limited, and the exempt
// (administrator) role always passes.
func (m *Manager) EnforceLimit(ctx context.Context, userID uuid.UUID, sessionType string, tenantID *uuid.UUID, roleName string) error {
	if sessionType == TypeDefault {
		return nil
	}
	if m.cfg.ExemptRole != "" && roleName == m.cfg.ExemptRole {
		return nil
	}
	limit, ok := m.cfg.Limits[sessionType]
	if !ok || limit <= 0 {
		return nil
	}

	pb := m.db.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT COUNT(*) AS n FROM _sessions WHERE user_id = %s AND type = %s AND expires_at > %s",
		pb.Add(userID.String()), pb.Add(sessionType), pb.Add(time.Now().UTC().Format(timeLayout)))
	if tenantID != nil {
		sqlStr += fmt.Sprintf(" AND tenant_id = %s", pb.Add(tenantID.String()))
	}

	var n int64
	if err := m.db.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&n); err != nil {
		return fmt.Errorf("count sessions: %w", err)
	}
	if n >= int64(limit) {
		return fmt.Errorf("%w: %d %s sessions (limit %d)", ErrLimitExceeded, n, sessionType, limit)
	}
	return nil
}

// DeleteExpired removes every session past its expiry. Called by the sweeper.
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	pb := m.db.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM _sessions WHERE expires_at <= %s",
		pb.Add(time.Now().UTC().Format(timeLayout)))
	return store.Exec(ctx, m.db.DB, sqlStr, pb.Params()...)
}

func scanSession(row map[string]any) (*Session, error) {
	s := &Session{}
	var err error

	if s.ID, err = uuid.Parse(fmt.Sprintf("%v", row["id"])); err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	s.Token, _ = row["token"].(string)
	if s.UserID, err = uuid.Parse(fmt.Sprintf("%v", row["user_id"])); err != nil {
		return nil, fmt.Errorf("parse session user id: %w", err)
	}
	if row["tenant_id"] != nil {
		tid, err := uuid.Parse(fmt.Sprintf("%v", row["tenant_id"]))
		if err != nil {
			return nil, fmt.Errorf("parse session tenant id: %w", err)
		}
		s.TenantID = &tid
	}
	s.Type, _ = row["type"].(string)
	if s.ExpiresAt, err = parseTime(row["expires_at"]); err != nil {
		return nil, fmt.Errorf("parse session expiry: %w", err)
	}
	if row["created_at"] != nil {
		s.CreatedAt, _ = parseTime(row["created_at"])
	}
	return s, nil
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", t)
	case nil:
		return time.Time{}, errors.New("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}
