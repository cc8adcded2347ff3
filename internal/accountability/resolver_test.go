package accountability

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"strata-backend/internal/config"
	"strata-backend/internal/policy"
	"strata-backend/internal/session"
	"strata-backend/internal/store"
)

type testEnv struct {
	db       *store.Store
	policies *policy.Cache
	sessions *session.Manager
	resolver *Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	st := store.NewWithDB(db, "sqlite")
	require.NoError(t, st.Bootstrap(context.Background()))

	log := logrus.NewEntry(logrus.New())
	policies := policy.NewCache(policy.NewStore(st), nil, 16, log)
	sessions := session.NewManager(st, config.SessionConfig{TTL: time.Hour}, log)

	return &testEnv{
		db:       st,
		policies: policies,
		sessions: sessions,
		resolver: NewResolver(sessions, policies, log),
	}
}

func (e *testEnv) seedUser(t *testing.T, roleName string, active bool) *policy.User {
	t.Helper()
	ctx := context.Background()

	role, err := e.policies.Store().RoleByName(ctx, roleName)
	if err == store.ErrNotFound {
		role = &policy.Role{Name: roleName}
		require.NoError(t, e.policies.CreateRole(ctx, role))
	} else {
		require.NoError(t, err)
	}

	id := uuid.New()
	activeVal := 0
	if active {
		activeVal = 1
	}
	pb := e.db.Dialect.NewParamBuilder()
	insertSQL := fmt.Sprintf(
		"INSERT INTO _users (id, email, password_hash, role_id, active) VALUES (%s, %s, %s, %s, %s)",
		pb.Add(id.String()), pb.Add(id.String()+"@example.com"), pb.Add("x"),
		pb.Add(role.ID.String()), pb.Add(activeVal))
	_, err = store.Exec(ctx, e.db.DB, insertSQL, pb.Params()...)
	require.NoError(t, err)

	return &policy.User{ID: id, RoleID: role.ID, Active: active}
}

func TestResolve_AuthenticatedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "editor", true)

	require.NoError(t, env.policies.UpsertPermission(ctx, &policy.Permission{
		RoleID:     user.RoleID,
		Collection: "Article",
		Action:     policy.ActionRead,
	}))

	sess, err := env.sessions.Create(ctx, user.ID, nil, "web", "editor")
	require.NoError(t, err)

	acc := env.resolver.Resolve(ctx, sess.Token, nil, "10.0.0.1")
	require.True(t, acc.IsAuthenticated())
	require.Equal(t, user.ID, *acc.UserID)
	require.Equal(t, "editor", acc.Role.Name)
	require.Equal(t, "10.0.0.1", acc.IP)

	_, ok := acc.Policy.Lookup("Article", policy.ActionRead)
	require.True(t, ok)
	require.False(t, acc.IsAdmin())
}

func TestResolve_EmptyTokenIsAnonymous(t *testing.T) {
	env := newTestEnv(t)

	acc := env.resolver.Resolve(context.Background(), "", nil, "10.0.0.1")
	require.False(t, acc.IsAuthenticated())
	require.Nil(t, acc.UserID)
	require.Equal(t, "public", acc.Policy.RoleName)
}

func TestResolve_UnknownTokenIsAnonymous(t *testing.T) {
	env := newTestEnv(t)

	acc := env.resolver.Resolve(context.Background(), "no-such-token", nil, "")
	require.False(t, acc.IsAuthenticated())
	require.Equal(t, "public", acc.Policy.RoleName)
}

func TestResolve_ExpiredSessionIsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "editor", true)

	sess, err := env.sessions.Create(ctx, user.ID, nil, "web", "editor")
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano)
	_, err = env.db.DB.Exec("UPDATE _sessions SET expires_at = ?1 WHERE token = ?2", past, sess.Token)
	require.NoError(t, err)

	acc := env.resolver.Resolve(ctx, sess.Token, nil, "")
	require.False(t, acc.IsAuthenticated())
}

func TestResolve_InactiveUserIsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "editor", false)

	sess, err := env.sessions.Create(ctx, user.ID, nil, "web", "editor")
	require.NoError(t, err)

	acc := env.resolver.Resolve(ctx, sess.Token, nil, "")
	require.False(t, acc.IsAuthenticated())
}

func TestResolve_AdminRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "admin", true)

	sess, err := env.sessions.Create(ctx, user.ID, nil, "web", "admin")
	require.NoError(t, err)

	acc := env.resolver.Resolve(ctx, sess.Token, nil, "")
	require.True(t, acc.IsAuthenticated())
	require.True(t, acc.IsAdmin())
}

func TestResolve_SessionTenantWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "editor", true)

	tenant := uuid.New()
	sess, err := env.sessions.Create(ctx, user.ID, &tenant, "web", "editor")
	require.NoError(t, err)

	hint := uuid.New()
	acc := env.resolver.Resolve(ctx, sess.Token, &hint, "")
	require.NotNil(t, acc.TenantID)
	require.Equal(t, tenant, *acc.TenantID)
}

func TestAnonymous_CachesPublicRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.resolver.Anonymous(ctx, "")
	require.NotNil(t, first.Role)

	// The role row lookup happens once; a second call must reuse it even if
	// the backing row vanishes.
	_, err := env.db.DB.Exec("DELETE FROM _roles WHERE name = 'public'")
	require.NoError(t, err)

	second := env.resolver.Anonymous(ctx, "")
	require.NotNil(t, second.Role)
	require.Equal(t, first.Role.ID, second.Role.ID)
}
