package rbac

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

type memoContextKey struct{}

type memoKey struct {
	principal  Principal
	permission string
	resource   Resource
}

func (k memoKey) String() string {
	return strings.Join([]string{
		k.principal.UserID, string(k.principal.Role), k.principal.OwnedScopeID, k.principal.TenantID,
		k.permission,
		k.resource.Type, k.resource.OwnerID, k.resource.TenantID,
	}, "\x00")
}

// Memo caches decisions for the lifetime of one request. Concurrent
// identical evaluations share a single computation.
type Memo struct {
	mu      sync.Mutex
	results map[memoKey]Decision
	group   singleflight.Group
}

// WithMemo attaches a fresh Memo to ctx. Call it once per request; a memo
// must never outlive the request that created it.
func WithMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoContextKey{}, &Memo{results: make(map[memoKey]Decision)})
}

func memoFrom(ctx context.Context) *Memo {
	m, _ := ctx.Value(memoContextKey{}).(*Memo)
	return m
}

func (m *Memo) do(p Principal, permissionID string, res Resource, fn func() Decision) Decision {
	key := memoKey{principal: p, permission: permissionID, resource: res}

	m.mu.Lock()
	d, ok := m.results[key]
	m.mu.Unlock()
	if ok {
		return d
	}

	v, _, _ := m.group.Do(key.String(), func() (any, error) {
		m.mu.Lock()
		d, ok := m.results[key]
		m.mu.Unlock()
		if ok {
			return d, nil
		}

		d = fn()
		// Store failures are not remembered so a retry in the same request
		// can still succeed.
		if d.Reason != ReasonStoreUnavailable {
			m.mu.Lock()
			m.results[key] = d
			m.mu.Unlock()
		}
		return d, nil
	})
	return v.(Decision)
}

// Len reports how many decisions are cached.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}
