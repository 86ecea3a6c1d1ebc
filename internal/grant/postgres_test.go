package grant_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/promoterhub/promoterhub/internal/audit"
	"github.com/promoterhub/promoterhub/internal/grant"
	"github.com/promoterhub/promoterhub/internal/platform/database"
	"github.com/promoterhub/promoterhub/internal/rbac"
)

func setupStore(t *testing.T) (*grant.PostgresStore, *database.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("promoterhub_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(connStr, "file://../../migrations"))

	pool, err := database.Connect(ctx, connStr, 5)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return grant.NewPostgresStore(pool), pool
}

func TestPostgresStore_GrantLifecycle(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	g, err := store.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermPromoterDelete, ScopeID: "t1", Granted: true, UpdatedBy: "admin-1"}, grant.NoVersion, nil)
	require.NoError(t, err)
	assert.Positive(t, g.Version)
	assert.Equal(t, "admin-1", g.UpdatedBy)

	_, err = store.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermPromoterDelete, ScopeID: "t1", Granted: false}, grant.NoVersion, nil)
	assert.ErrorIs(t, err, grant.ErrVersionConflict)

	g2, err := store.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermPromoterDelete, ScopeID: "t1", Granted: false}, g.Version, nil)
	require.NoError(t, err)
	assert.Greater(t, g2.Version, g.Version)

	grants, err := store.GetGrants(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.False(t, grants[0].Granted)

	assert.ErrorIs(t, store.DeleteGrant(ctx, "u1", rbac.PermPromoterDelete, "t1", g.Version, nil), grant.ErrVersionConflict)
	require.NoError(t, store.DeleteGrant(ctx, "u1", rbac.PermPromoterDelete, "t1", g2.Version, nil))
	assert.ErrorIs(t, store.DeleteGrant(ctx, "u1", rbac.PermPromoterDelete, "t1", g2.Version, nil), grant.ErrNotFound)
}

func TestPostgresStore_RoleLifecycle(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, ok, err := store.GetRole(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := store.WriteRole(ctx, rbac.RoleAssignment{UserID: "u1", Role: rbac.RoleEmployer, ScopeID: "t1"}, grant.NoVersion, nil)
	require.NoError(t, err)

	b, err := store.WriteRole(ctx, rbac.RoleAssignment{UserID: "u1", Role: rbac.RoleAdmin}, a.Version, nil)
	require.NoError(t, err)
	assert.Greater(t, b.Version, a.Version)

	_, err = store.WriteRole(ctx, rbac.RoleAssignment{UserID: "u1", Role: rbac.RoleViewer}, a.Version, nil)
	assert.ErrorIs(t, err, grant.ErrVersionConflict)

	got, ok, err := store.GetRole(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rbac.RoleAdmin, got.Role)
}

func TestPostgresStore_HookJoinsTransaction(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()
	sink := audit.NewPostgresSink(pool)

	record := func(ctx context.Context) error {
		return sink.Record(ctx, audit.NewEvent(audit.ActionRoleSet, "admin-1", "u1", "t1", map[string]any{audit.ChangeAfter: "hr"}))
	}
	_, err := store.WriteRole(ctx, rbac.RoleAssignment{UserID: "u1", Role: rbac.RoleHR}, grant.NoVersion, record)
	require.NoError(t, err)

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_events WHERE target_id = 'u1'").Scan(&count))
	assert.Equal(t, 1, count)

	// A failing hook rolls back the role write.
	_, err = store.WriteRole(ctx, rbac.RoleAssignment{UserID: "u2", Role: rbac.RoleHR}, grant.NoVersion, func(context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	_, ok, err := store.GetRole(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, ok)
}
