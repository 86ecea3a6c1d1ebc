package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promoterhub/promoterhub/internal/admin"
	"github.com/promoterhub/promoterhub/internal/audit"
	"github.com/promoterhub/promoterhub/internal/auth"
	"github.com/promoterhub/promoterhub/internal/platform/database"
	"github.com/promoterhub/promoterhub/internal/platform/middleware"
	"github.com/promoterhub/promoterhub/internal/rbac"
)

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool *pgxpool.Pool
	// InMemory marks a dev server running on the in-memory grant store;
	// readiness then does not require a database.
	InMemory           bool
	Auth               *auth.TokenService
	Guard              *rbac.Guard
	RBACHandler        *rbac.Handler
	AdminHandler       *admin.Handler
	AuditHandler       *audit.Handler
	DevMode            bool
	DevIdentity        *auth.Identity
	Logger             *slog.Logger
	CORSAllowedOrigins []string
}

type Server struct {
	httpServer   *http.Server
	protectedMux *http.ServeMux
	pool         *pgxpool.Pool
	inMemory     bool
	handler      http.Handler
}

func New(addr string, deps Dependencies) *Server {
	// Protected routes mux, wrapped with auth middleware
	protectedMux := http.NewServeMux()

	var protectedHandler http.Handler = protectedMux
	protectedHandler = middleware.TenantContext(protectedHandler)
	if deps.Auth != nil {
		if deps.DevMode && deps.DevIdentity != nil {
			protectedHandler = auth.MiddlewareWithDevMode(deps.Auth, deps.DevIdentity)(protectedHandler)
		} else {
			protectedHandler = auth.Middleware(deps.Auth)(protectedHandler)
		}
	}

	// Top-level mux: public routes + protected catch-all
	topMux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		protectedMux: protectedMux,
		pool:         deps.Pool,
		inMemory:     deps.InMemory,
	}

	// Public routes (no auth required)
	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)

	if deps.Guard != nil {
		resolve := deps.Guard.Resolve

		// Catalog and UI checks: any authenticated caller
		if deps.RBACHandler != nil {
			protectedMux.Handle("POST /api/v1/authz/check", resolve(http.HandlerFunc(deps.RBACHandler.HandleCheck)))
			protectedMux.Handle("GET /api/v1/permissions", resolve(http.HandlerFunc(deps.RBACHandler.HandleListPermissions)))
			protectedMux.Handle("GET /api/v1/roles", resolve(http.HandlerFunc(deps.RBACHandler.HandleListRoles)))
		}

		// Administration: the service makes its own decisions
		if deps.AdminHandler != nil {
			deps.AdminHandler.RegisterRoutes(protectedMux, resolve)
		}

		// Audit routes: the guard checks the same tenant the handler filters on
		if deps.AuditHandler != nil {
			protectedMux.Handle("GET /api/v1/audit/events",
				deps.Guard.Require(rbac.PermAuditView, auditResource)(
					http.HandlerFunc(deps.AuditHandler.HandleListEvents),
				),
			)
		}
	}

	// All other routes go through auth middleware
	topMux.Handle("/", protectedHandler)

	// Wrap top-level mux with observability middleware
	var handler http.Handler = topMux
	handler = middleware.SecureHeaders()(handler)
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

func auditResource(r *http.Request, _ rbac.Principal) (rbac.Resource, error) {
	return rbac.Resource{Type: "audit_event", TenantID: audit.TenantFilter(r)}, nil
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ProtectedMux returns the mux for authenticated routes.
// Use this to register routes that require authentication.
func (s *Server) ProtectedMux() *http.ServeMux {
	return s.protectedMux
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		if s.inMemory {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "store": "memory"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database not connected",
		})
		return
	}

	if err := database.Ping(r.Context(), s.pool, 2*time.Second); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
