package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/promoterhub/promoterhub/internal/auth"
	"github.com/promoterhub/promoterhub/internal/platform/middleware"
)

func TestHandleListEvents_NilPool(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest("GET", "/api/v1/audit/events", nil)
	w := httptest.NewRecorder()

	h.HandleListEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
	assert.Contains(t, w.Body.String(), `"events":[]`)
}

func TestHandleListEvents_InvalidLimit(t *testing.T) {
	h := NewHandler(nil)
	for _, raw := range []string{"abc", "0", "-5"} {
		req := httptest.NewRequest("GET", "/api/v1/audit/events?limit="+raw, nil)
		w := httptest.NewRecorder()

		h.HandleListEvents(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
	}
}

func TestHandleListEvents_InvalidTime(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest("GET", "/api/v1/audit/events?before=yesterday", nil)
	w := httptest.NewRecorder()

	h.HandleListEvents(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "before must be RFC3339")
}

func TestHandleListEvents_ComposedFilters(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest("GET",
		"/api/v1/audit/events?action=role.set&target_id=user-1&source=api&after=2026-02-26T00:00:00Z&limit=500",
		nil,
	)
	w := httptest.NewRecorder()

	h.HandleListEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestTenantFilter(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/audit/events", nil)
	assert.Empty(t, TenantFilter(req))

	ctx := auth.WithIdentity(req.Context(), &auth.Identity{UserID: "u1", TenantID: "t1"})
	var got string
	middleware.TenantContext(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = TenantFilter(r)
	})).ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))
	assert.Equal(t, "t1", got)

	req = httptest.NewRequest("GET", "/api/v1/audit/events?tenant_id=t2", nil)
	assert.Equal(t, "t2", TenantFilter(req))
}
