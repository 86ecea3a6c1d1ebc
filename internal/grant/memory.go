package grant

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/promoterhub/promoterhub/internal/rbac"
)

type grantKey struct {
	userID       string
	permissionID string
	scopeID      string
}

// MemoryStore is an in-process store for tests, dev mode and the operator
// CLI. Hooks run while the store lock is held, so a write and its hook are
// atomic with respect to every other call.
type MemoryStore struct {
	mu      sync.RWMutex
	grants  map[grantKey]rbac.Grant
	roles   map[string]rbac.RoleAssignment
	version int64
	now     func() time.Time

	// ReadErr, when set, fails every read. Used to exercise fail-closed paths.
	ReadErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants: make(map[grantKey]rbac.Grant),
		roles:  make(map[string]rbac.RoleAssignment),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) nextVersion() int64 {
	s.version++
	return s.version
}

func (s *MemoryStore) GetGrants(_ context.Context, userID string) ([]rbac.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}

	var out []rbac.Grant
	for k, g := range s.grants {
		if k.userID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PermissionID != out[j].PermissionID {
			return out[i].PermissionID < out[j].PermissionID
		}
		return out[i].ScopeID < out[j].ScopeID
	})
	return out, nil
}

func (s *MemoryStore) GetGrant(_ context.Context, userID, permissionID, scopeID string) (rbac.Grant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ReadErr != nil {
		return rbac.Grant{}, false, s.ReadErr
	}
	g, ok := s.grants[grantKey{userID, permissionID, scopeID}]
	return g, ok, nil
}

func (s *MemoryStore) GetRole(_ context.Context, userID string) (rbac.RoleAssignment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ReadErr != nil {
		return rbac.RoleAssignment{}, false, s.ReadErr
	}
	a, ok := s.roles[userID]
	return a, ok, nil
}

// WriteGrant upserts g if the stored row still has expectedVersion
// (NoVersion when the row must not exist). It returns the stored grant.
func (s *MemoryStore) WriteGrant(ctx context.Context, g rbac.Grant, expectedVersion int64, hook CommitHook) (rbac.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{g.UserID, g.PermissionID, g.ScopeID}
	current, exists := s.grants[key]
	if err := checkVersion(exists, current.Version, expectedVersion); err != nil {
		return rbac.Grant{}, fmt.Errorf("writing grant %s for %s: %w", g.PermissionID, g.UserID, err)
	}

	g.Version = s.version + 1
	g.UpdatedAt = s.now()
	if err := runHook(ctx, hook); err != nil {
		return rbac.Grant{}, err
	}
	s.nextVersion()
	s.grants[key] = g
	return g, nil
}

// DeleteGrant removes the override if it still has expectedVersion.
func (s *MemoryStore) DeleteGrant(ctx context.Context, userID, permissionID, scopeID string, expectedVersion int64, hook CommitHook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{userID, permissionID, scopeID}
	current, exists := s.grants[key]
	if !exists {
		return fmt.Errorf("deleting grant %s for %s: %w", permissionID, userID, ErrNotFound)
	}
	if err := checkVersion(exists, current.Version, expectedVersion); err != nil {
		return fmt.Errorf("deleting grant %s for %s: %w", permissionID, userID, err)
	}

	if err := runHook(ctx, hook); err != nil {
		return err
	}
	s.nextVersion()
	delete(s.grants, key)
	return nil
}

// WriteRole upserts the role row if it still has expectedVersion.
func (s *MemoryStore) WriteRole(ctx context.Context, a rbac.RoleAssignment, expectedVersion int64, hook CommitHook) (rbac.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.roles[a.UserID]
	if err := checkVersion(exists, current.Version, expectedVersion); err != nil {
		return rbac.RoleAssignment{}, fmt.Errorf("writing role for %s: %w", a.UserID, err)
	}

	a.Version = s.version + 1
	a.UpdatedAt = s.now()
	if err := runHook(ctx, hook); err != nil {
		return rbac.RoleAssignment{}, err
	}
	s.nextVersion()
	s.roles[a.UserID] = a
	return a, nil
}

func checkVersion(exists bool, current, expected int64) error {
	if !exists {
		if expected != NoVersion {
			return ErrVersionConflict
		}
		return nil
	}
	if current != expected {
		return ErrVersionConflict
	}
	return nil
}
