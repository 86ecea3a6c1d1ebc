package rbac_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promoterhub/promoterhub/internal/rbac"
)

func TestMemo_DeduplicatesWithinRequest(t *testing.T) {
	store := newGrantsFake()
	eval := rbac.NewEvaluator(store)
	ctx := rbac.WithMemo(context.Background())
	p := rbac.Principal{UserID: "h1", Role: rbac.RoleHR}

	for range 5 {
		assert.True(t, eval.Evaluate(ctx, p, rbac.PermPromoterView, rbac.Resource{Type: "promoter"}).Allowed)
	}
	assert.Equal(t, int64(1), store.reads.Load())

	// A different resource is a different key.
	eval.Evaluate(ctx, p, rbac.PermPromoterView, rbac.Resource{Type: "promoter", OwnerID: "x"})
	assert.Equal(t, int64(2), store.reads.Load())
}

func TestMemo_ConcurrentDuplicatesShareOneRead(t *testing.T) {
	store := newGrantsFake()
	eval := rbac.NewEvaluator(store)
	ctx := rbac.WithMemo(context.Background())
	p := rbac.Principal{UserID: "e1", Role: rbac.RoleEmployer}

	checks := make([]rbac.Check, 20)
	for i := range checks {
		checks[i] = rbac.Check{Permission: rbac.PermCompanyView}
	}
	for _, d := range eval.EvaluateAll(ctx, p, checks) {
		assert.True(t, d.Allowed)
	}
	assert.Equal(t, int64(1), store.reads.Load())
}

func TestMemo_StoreFailureIsNotCached(t *testing.T) {
	store := newGrantsFake()
	store.err = assert.AnError
	eval := rbac.NewEvaluator(store)
	ctx := rbac.WithMemo(context.Background())
	p := rbac.Principal{UserID: "u1", Role: rbac.RoleAdmin}

	d := eval.Evaluate(ctx, p, rbac.PermAuditView, rbac.Resource{})
	require.Equal(t, rbac.ReasonStoreUnavailable, d.Reason)

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	d = eval.Evaluate(ctx, p, rbac.PermAuditView, rbac.Resource{})
	assert.True(t, d.Allowed)
}

func TestMemo_ScopedToContext(t *testing.T) {
	store := newGrantsFake()
	eval := rbac.NewEvaluator(store)
	p := rbac.Principal{UserID: "v1", Role: rbac.RoleViewer}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := rbac.WithMemo(context.Background())
			eval.Evaluate(ctx, p, rbac.PermDashboardView, rbac.Resource{})
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(3), store.reads.Load())
}
