package grant_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promoterhub/promoterhub/internal/grant"
	"github.com/promoterhub/promoterhub/internal/rbac"
)

func TestMemoryStore_WriteGrantLifecycle(t *testing.T) {
	ctx := context.Background()
	s := grant.NewMemoryStore()

	g, err := s.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermPromoterDelete, ScopeID: "t1", Granted: true}, grant.NoVersion, nil)
	require.NoError(t, err)
	assert.Positive(t, g.Version)
	assert.False(t, g.UpdatedAt.IsZero())

	got, ok, err := s.GetGrant(ctx, "u1", rbac.PermPromoterDelete, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, g, got)

	g2, err := s.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermPromoterDelete, ScopeID: "t1", Granted: false}, g.Version, nil)
	require.NoError(t, err)
	assert.Greater(t, g2.Version, g.Version)
	assert.False(t, g2.Granted)

	require.NoError(t, s.DeleteGrant(ctx, "u1", rbac.PermPromoterDelete, "t1", g2.Version, nil))
	_, ok, err = s.GetGrant(ctx, "u1", rbac.PermPromoterDelete, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_StaleVersion(t *testing.T) {
	ctx := context.Background()
	s := grant.NewMemoryStore()

	g, err := s.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermContractsView, Granted: true}, grant.NoVersion, nil)
	require.NoError(t, err)

	// A second insert based on "absent" loses.
	_, err = s.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermContractsView, Granted: false}, grant.NoVersion, nil)
	assert.ErrorIs(t, err, grant.ErrVersionConflict)

	_, err = s.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermContractsView, Granted: false}, g.Version+100, nil)
	assert.ErrorIs(t, err, grant.ErrVersionConflict)

	err = s.DeleteGrant(ctx, "u1", rbac.PermContractsView, "", g.Version+1, nil)
	assert.ErrorIs(t, err, grant.ErrVersionConflict)

	err = s.DeleteGrant(ctx, "u1", rbac.PermContractsCreate, "", 1, nil)
	assert.ErrorIs(t, err, grant.ErrNotFound)
}

func TestMemoryStore_HookFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s := grant.NewMemoryStore()
	fail := func(context.Context) error { return assert.AnError }

	_, err := s.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermContractsView, Granted: true}, grant.NoVersion, fail)
	assert.ErrorIs(t, err, assert.AnError)
	grants, err := s.GetGrants(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, grants)

	_, err = s.WriteRole(ctx, rbac.RoleAssignment{UserID: "u1", Role: rbac.RoleHR}, grant.NoVersion, fail)
	assert.ErrorIs(t, err, assert.AnError)
	_, ok, err := s.GetRole(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_VersionsAreMonotonicAcrossTables(t *testing.T) {
	ctx := context.Background()
	s := grant.NewMemoryStore()

	a, err := s.WriteRole(ctx, rbac.RoleAssignment{UserID: "u1", Role: rbac.RoleEmployee}, grant.NoVersion, nil)
	require.NoError(t, err)
	g, err := s.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermUserView, Granted: true}, grant.NoVersion, nil)
	require.NoError(t, err)
	b, err := s.WriteRole(ctx, rbac.RoleAssignment{UserID: "u1", Role: rbac.RoleHR}, a.Version, nil)
	require.NoError(t, err)

	assert.Less(t, a.Version, g.Version)
	assert.Less(t, g.Version, b.Version)

	got, ok, err := s.GetRole(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rbac.RoleHR, got.Role)
}

func TestMemoryStore_GetGrantsSorted(t *testing.T) {
	ctx := context.Background()
	s := grant.NewMemoryStore()
	for _, g := range []rbac.Grant{
		{UserID: "u1", PermissionID: rbac.PermPromoterView, ScopeID: "t2", Granted: true},
		{UserID: "u1", PermissionID: rbac.PermContractsView, Granted: false},
		{UserID: "u1", PermissionID: rbac.PermPromoterView, Granted: true},
		{UserID: "u2", PermissionID: rbac.PermPromoterView, Granted: true},
	} {
		_, err := s.WriteGrant(ctx, g, grant.NoVersion, nil)
		require.NoError(t, err)
	}

	grants, err := s.GetGrants(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, grants, 3)
	assert.Equal(t, rbac.PermContractsView, grants[0].PermissionID)
	assert.Equal(t, "", grants[1].ScopeID)
	assert.Equal(t, "t2", grants[2].ScopeID)
}

func TestMemoryStore_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	s := grant.NewMemoryStore()
	base, err := s.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermContractsDelete, Granted: false}, grant.NoVersion, nil)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, stale int
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.WriteGrant(ctx, rbac.Grant{UserID: "u1", PermissionID: rbac.PermContractsDelete, Granted: i%2 == 0}, base.Version, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, grant.ErrVersionConflict) {
				stale++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 9, stale)
}

func TestMemoryStore_ReadErr(t *testing.T) {
	s := grant.NewMemoryStore()
	s.ReadErr = assert.AnError

	_, err := s.GetGrants(context.Background(), "u1")
	assert.ErrorIs(t, err, assert.AnError)
	_, _, err = s.GetRole(context.Background(), "u1")
	assert.ErrorIs(t, err, assert.AnError)
}
