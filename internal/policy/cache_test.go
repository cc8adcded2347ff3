package policy

import (
	"context"
	"database/sql"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"strata-backend/internal/store"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	st := store.NewWithDB(db, "sqlite")
	_, err = db.Exec(st.Dialect.SystemTablesSQL())
	require.NoError(t, err)
	return NewStore(st)
}

func testCache(t *testing.T, withRedis bool) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	var client *redis.Client
	var mr *miniredis.Miniredis
	if withRedis {
		mr = miniredis.RunT(t)
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}
	log := logrus.NewEntry(logrus.New())
	return NewCache(testStore(t), client, 16, log), mr
}

func seedRole(t *testing.T, c *Cache, name string) *Role {
	t.Helper()
	r := &Role{Name: name}
	require.NoError(t, c.CreateRole(context.Background(), r))
	return r
}

func TestResolve_AssemblesGrants(t *testing.T) {
	c, _ := testCache(t, false)
	ctx := context.Background()
	role := seedRole(t, c, "editor")

	require.NoError(t, c.UpsertPermission(ctx, &Permission{
		RoleID:     role.ID,
		Collection: "Article",
		Action:     ActionRead,
		Fields:     []string{"id", "title"},
		Conditions: map[string]any{"status": map[string]any{"_eq": "published"}},
	}))

	resolved, err := c.Resolve(ctx, role.ID)
	require.NoError(t, err)
	require.Equal(t, "editor", resolved.RoleName)

	grant, ok := resolved.Lookup("Article", ActionRead)
	require.True(t, ok)
	require.Equal(t, []string{"id", "title"}, grant.Fields)

	_, ok = resolved.Lookup("Article", ActionDelete)
	require.False(t, ok)
}

func TestResolve_IsIdempotentFromCache(t *testing.T) {
	c, _ := testCache(t, false)
	ctx := context.Background()
	role := seedRole(t, c, "editor")

	first, err := c.Resolve(ctx, role.ID)
	require.NoError(t, err)

	// remove the backing row; a cached policy must still be served
	_, err = c.store.db.DB.ExecContext(ctx, "DELETE FROM _roles WHERE id = ?1", role.ID.String())
	require.NoError(t, err)

	second, err := c.Resolve(ctx, role.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestResolve_PopulatesRedisTier(t *testing.T) {
	c, mr := testCache(t, true)
	ctx := context.Background()
	role := seedRole(t, c, "editor")

	_, err := c.Resolve(ctx, role.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists("policy:"+role.ID.String()))
}

func TestResolve_ServesFromRedisOnLocalMiss(t *testing.T) {
	c, mr := testCache(t, true)
	ctx := context.Background()
	role := seedRole(t, c, "editor")

	_, err := c.Resolve(ctx, role.ID)
	require.NoError(t, err)

	// fresh cache sharing the redis tier but an empty local tier and an
	// empty store
	fresh := NewCache(testStore(t), redis.NewClient(&redis.Options{Addr: mr.Addr()}), 16, logrus.NewEntry(logrus.New()))
	resolved, err := fresh.Resolve(ctx, role.ID)
	require.NoError(t, err)
	require.Equal(t, "editor", resolved.RoleName)
}

func TestUpsertPermission_InvalidatesBothTiers(t *testing.T) {
	c, mr := testCache(t, true)
	ctx := context.Background()
	role := seedRole(t, c, "editor")

	before, err := c.Resolve(ctx, role.ID)
	require.NoError(t, err)
	_, ok := before.Lookup("Article", ActionRead)
	require.False(t, ok)

	require.NoError(t, c.UpsertPermission(ctx, &Permission{
		RoleID:     role.ID,
		Collection: "Article",
		Action:     ActionRead,
	}))
	require.False(t, mr.Exists("policy:"+role.ID.String()))

	after, err := c.Resolve(ctx, role.ID)
	require.NoError(t, err)
	_, ok = after.Lookup("Article", ActionRead)
	require.True(t, ok)
}

func TestUpsertPermission_ReplacesTriple(t *testing.T) {
	c, _ := testCache(t, false)
	ctx := context.Background()
	role := seedRole(t, c, "editor")

	require.NoError(t, c.UpsertPermission(ctx, &Permission{
		RoleID: role.ID, Collection: "Article", Action: ActionRead,
		Fields: []string{"id"},
	}))
	require.NoError(t, c.UpsertPermission(ctx, &Permission{
		RoleID: role.ID, Collection: "Article", Action: ActionRead,
		Fields: []string{"id", "title"},
	}))

	resolved, err := c.Resolve(ctx, role.ID)
	require.NoError(t, err)
	grant, ok := resolved.Lookup("Article", ActionRead)
	require.True(t, ok)
	require.Equal(t, []string{"id", "title"}, grant.Fields)

	perms, err := c.store.PermissionsForRole(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
}

func TestDeleteRole_EvictsPolicy(t *testing.T) {
	c, _ := testCache(t, false)
	ctx := context.Background()
	role := seedRole(t, c, "temp")

	_, err := c.Resolve(ctx, role.ID)
	require.NoError(t, err)

	require.NoError(t, c.DeleteRole(ctx, role.ID))

	_, err = c.Resolve(ctx, role.ID)
	require.Error(t, err)
}

func TestDeletePermission_InvalidatesOwningRole(t *testing.T) {
	c, _ := testCache(t, false)
	ctx := context.Background()
	role := seedRole(t, c, "editor")

	perm := &Permission{RoleID: role.ID, Collection: "Article", Action: ActionRead}
	require.NoError(t, c.UpsertPermission(ctx, perm))

	resolved, err := c.Resolve(ctx, role.ID)
	require.NoError(t, err)
	_, ok := resolved.Lookup("Article", ActionRead)
	require.True(t, ok)

	require.NoError(t, c.DeletePermission(ctx, perm.ID))

	resolved, err = c.Resolve(ctx, role.ID)
	require.NoError(t, err)
	_, ok = resolved.Lookup("Article", ActionRead)
	require.False(t, ok)
}

func TestDeleteRole_Unknown(t *testing.T) {
	c, _ := testCache(t, false)
	err := c.DeleteRole(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}
