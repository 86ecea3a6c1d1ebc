package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promoterhub/promoterhub/internal/admin"
	"github.com/promoterhub/promoterhub/internal/audit"
	"github.com/promoterhub/promoterhub/internal/auth"
	"github.com/promoterhub/promoterhub/internal/grant"
	"github.com/promoterhub/promoterhub/internal/platform/server"
	"github.com/promoterhub/promoterhub/internal/rbac"
)

func TestServer_HealthCheck(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestServer_ReadinessCheck_NoDB(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_ReadinessCheck_InMemory(t *testing.T) {
	srv := server.New(":0", server.Dependencies{InMemory: true})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "memory")
}

func TestServer_NotFound(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StartStop(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	cancel()

	err := <-errCh
	assert.NoError(t, err)
}

type testEnv struct {
	srv    *server.Server
	tokens *auth.TokenService
	store  *grant.MemoryStore
	sink   *audit.MemorySink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens := auth.NewTokenService("test-signing-key-must-be-32-chars!!", "promoterhub", 24)
	store := grant.NewMemoryStore()
	sink := &audit.MemorySink{}
	engine := rbac.NewEvaluator(store)
	guard := rbac.NewGuard(engine, rbac.NewResolver(store, nil), rbac.WithAuditLogger(noopDenials{}))

	srv := server.New(":0", server.Dependencies{
		InMemory:     true,
		Auth:         tokens,
		Guard:        guard,
		RBACHandler:  rbac.NewHandler(engine),
		AdminHandler: admin.NewHandler(admin.NewService(store, engine, sink, nil), admin.HandlerConfig{}),
		AuditHandler: audit.NewHandler(nil),
	})
	return &testEnv{srv: srv, tokens: tokens, store: store, sink: sink}
}

type noopDenials struct{}

func (noopDenials) Log(context.Context, rbac.AuditEvent) {}

func (e *testEnv) do(t *testing.T, identity *auth.Identity, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if identity != nil {
		token, err := e.tokens.CreateAccessToken(identity)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Catalog(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, nil, http.MethodGet, "/api/v1/roles", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, &auth.Identity{UserID: "u1", Role: "viewer"}, http.MethodGet, "/api/v1/roles", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, &auth.Identity{UserID: "u1"}, http.MethodGet, "/api/v1/permissions", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Check(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, &auth.Identity{UserID: "h1", Role: "hr", TenantID: "t1"}, http.MethodPost, "/api/v1/authz/check",
		`{"checks":[{"permission":"promoter:create","resource":{"tenant_id":"t1"}},{"permission":"promoter:delete","resource":{"tenant_id":"t1"}}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Results []struct {
			Allowed bool `json:"allowed"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.True(t, body.Results[0].Allowed)
	assert.False(t, body.Results[1].Allowed)
}

func TestServer_AuditEvents(t *testing.T) {
	env := newTestEnv(t)
	employer := &auth.Identity{UserID: "emp-1", EmployerID: "t1"}

	w := env.do(t, employer, http.MethodGet, "/api/v1/audit/events", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err := env.store.WriteGrant(context.Background(), rbac.Grant{UserID: "emp-1", PermissionID: rbac.PermAuditView, Granted: true}, grant.NoVersion, nil)
	require.NoError(t, err)

	w = env.do(t, employer, http.MethodGet, "/api/v1/audit/events", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Another tenant's log looks like it does not exist.
	w = env.do(t, employer, http.MethodGet, "/api/v1/audit/events?tenant_id=t2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, &auth.Identity{UserID: "a1", Role: "admin"}, http.MethodGet, "/api/v1/audit/events?tenant_id=t2", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_AdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.store.WriteRole(ctx, rbac.RoleAssignment{UserID: "a1", Role: rbac.RoleAdmin}, grant.NoVersion, nil)
	require.NoError(t, err)
	_, err = env.store.WriteRole(ctx, rbac.RoleAssignment{UserID: "u1", Role: rbac.RoleViewer, TenantID: "t1"}, grant.NoVersion, nil)
	require.NoError(t, err)

	// The stored row outranks whatever the token claims.
	w := env.do(t, &auth.Identity{UserID: "u1", Role: "owner"}, http.MethodPut, "/api/v1/users/u1/role", `{"role":"employee"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, &auth.Identity{UserID: "a1"}, http.MethodPut, "/api/v1/users/u1/role", `{"role":"employee"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	a, ok, err := env.store.GetRole(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rbac.RoleEmployee, a.Role)
	assert.Len(t, env.sink.Events(), 1)
}
