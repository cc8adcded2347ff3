package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"strata-backend/internal/config"
	"strata-backend/internal/store"
)

func testManager(t *testing.T, cfg config.SessionConfig) *Manager {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	st := store.NewWithDB(db, "sqlite")
	_, err = db.Exec(st.Dialect.SystemTablesSQL())
	require.NoError(t, err)

	log := logrus.NewEntry(logrus.New())
	return NewManager(st, cfg, log)
}

func TestCreateAndValidate(t *testing.T) {
	m := testManager(t, config.SessionConfig{TTL: time.Hour})
	ctx := context.Background()
	userID := uuid.New()

	s, err := m.Create(ctx, userID, nil, TypeWeb, "editor")
	require.NoError(t, err)
	require.Len(t, s.Token, 64)

	got, err := m.Validate(ctx, s.Token)
	require.NoError(t, err)
	require.Equal(t, userID, got.UserID)
	require.Equal(t, TypeWeb, got.Type)
}

func TestValidate_UnknownToken(t *testing.T) {
	m := testManager(t, config.SessionConfig{TTL: time.Hour})

	_, err := m.Validate(context.Background(), "deadbeef")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidate_LazyExpiryIsPermanent(t *testing.T) {
	m := testManager(t, config.SessionConfig{TTL: time.Hour})
	ctx := context.Background()

	s, err := m.Create(ctx, uuid.New(), nil, TypeWeb, "editor")
	require.NoError(t, err)

	// push the row into the past directly
	_, err = m.db.DB.ExecContext(ctx,
		"UPDATE _sessions SET expires_at = ?1 WHERE token = ?2",
		time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano), s.Token)
	require.NoError(t, err)

	_, err = m.Validate(ctx, s.Token)
	require.ErrorIs(t, err, ErrNotFound)

	// the expired row is deleted, not merely hidden
	var n int
	err = m.db.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _sessions WHERE token = ?1", s.Token).Scan(&n)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = m.Validate(ctx, s.Token)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreate_LimitExceededOnSequentialLogin(t *testing.T) {
	m := testManager(t, config.SessionConfig{
		TTL:    time.Hour,
		Limits: map[string]int{TypeMobile: 1},
	})
	ctx := context.Background()
	userID := uuid.New()

	_, err := m.Create(ctx, userID, nil, TypeMobile, "editor")
	require.NoError(t, err)

	_, err = m.Create(ctx, userID, nil, TypeMobile, "editor")
	require.ErrorIs(t, err, ErrLimitExceeded)

	// a different type is counted separately
	_, err = m.Create(ctx, userID, nil, TypeWeb, "editor")
	require.NoError(t, err)

	// another user is unaffected
	_, err = m.Create(ctx, uuid.New(), nil, TypeMobile, "editor")
	require.NoError(t, err)
}

func TestCreate_DefaultTypeNeverLimited(t *testing.T) {
	m := testManager(t, config.SessionConfig{
		TTL:    time.Hour,
		Limits: map[string]int{TypeDefault: 1},
	})
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx, userID, nil, TypeDefault, "editor")
		require.NoError(t, err)
	}
}

func TestCreate_ExemptRoleBypassesLimit(t *testing.T) {
	m := testManager(t, config.SessionConfig{
		TTL:        time.Hour,
		Limits:     map[string]int{TypeMobile: 1},
		ExemptRole: "admin",
	})
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx, userID, nil, TypeMobile, "admin")
		require.NoError(t, err)
	}
}

func TestCreate_ExpiredSessionsDoNotCount(t *testing.T) {
	m := testManager(t, config.SessionConfig{
		TTL:    time.Hour,
		Limits: map[string]int{TypeMobile: 1},
	})
	ctx := context.Background()
	userID := uuid.New()

	s, err := m.Create(ctx, userID, nil, TypeMobile, "editor")
	require.NoError(t, err)

	_, err = m.db.DB.ExecContext(ctx,
		"UPDATE _sessions SET expires_at = ?1 WHERE token = ?2",
		time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano), s.Token)
	require.NoError(t, err)

	_, err = m.Create(ctx, userID, nil, TypeMobile, "editor")
	require.NoError(t, err)
}

func TestStoredExpiryOrdersWithinOneSecond(t *testing.T) {
	m := testManager(t, config.SessionConfig{TTL: time.Hour})
	ctx := context.Background()

	a, err := m.Create(ctx, uuid.New(), nil, TypeWeb, "editor")
	require.NoError(t, err)
	b, err := m.Create(ctx, uuid.New(), nil, TypeWeb, "editor")
	require.NoError(t, err)

	// stored form carries fixed-width fractional seconds; a trimmed form
	// would make "…00Z" sort after "…00.5Z" in TEXT comparison
	var stored string
	err = m.db.DB.QueryRow("SELECT expires_at FROM _sessions WHERE token = ?1", a.Token).Scan(&stored)
	require.NoError(t, err)
	require.Regexp(t, `\.\d{9}Z$`, stored)

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	_, err = m.db.DB.Exec("UPDATE _sessions SET expires_at = ?1 WHERE token = ?2",
		base.Format(timeLayout), a.Token)
	require.NoError(t, err)
	_, err = m.db.DB.Exec("UPDATE _sessions SET expires_at = ?1 WHERE token = ?2",
		base.Add(500*time.Millisecond).Format(timeLayout), b.Token)
	require.NoError(t, err)

	cutoff := base.Add(250 * time.Millisecond).Format(timeLayout)
	var n int
	err = m.db.DB.QueryRow("SELECT COUNT(*) FROM _sessions WHERE expires_at > ?1", cutoff).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the half-second expiry sorts past the cutoff")
}

func TestDelete(t *testing.T) {
	m := testManager(t, config.SessionConfig{TTL: time.Hour})
	ctx := context.Background()

	s, err := m.Create(ctx, uuid.New(), nil, TypeWeb, "editor")
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, s.Token))

	_, err = m.Validate(ctx, s.Token)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteExpired(t *testing.T) {
	m := testManager(t, config.SessionConfig{TTL: time.Hour})
	ctx := context.Background()

	live, err := m.Create(ctx, uuid.New(), nil, TypeWeb, "editor")
	require.NoError(t, err)
	stale, err := m.Create(ctx, uuid.New(), nil, TypeWeb, "editor")
	require.NoError(t, err)

	_, err = m.db.DB.ExecContext(ctx,
		"UPDATE _sessions SET expires_at = ?1 WHERE token = ?2",
		time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano), stale.Token)
	require.NoError(t, err)

	n, err := m.DeleteExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = m.Validate(ctx, live.Token)
	require.NoError(t, err)
}

func TestTenantScopedLimit(t *testing.T) {
	m := testManager(t, config.SessionConfig{
		TTL:    time.Hour,
		Limits: map[string]int{TypeMobile: 1},
	})
	ctx := context.Background()
	userID := uuid.New()
	tenantA := uuid.New()
	tenantB := uuid.New()

	_, err := m.Create(ctx, userID, &tenantA, TypeMobile, "editor")
	require.NoError(t, err)

	// same user, different tenant: counted separately
	_, err = m.Create(ctx, userID, &tenantB, TypeMobile, "editor")
	require.NoError(t, err)

	_, err = m.Create(ctx, userID, &tenantA, TypeMobile, "editor")
	require.ErrorIs(t, err, ErrLimitExceeded)
}
