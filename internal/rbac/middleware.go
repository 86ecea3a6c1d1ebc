package rbac

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/promoterhub/promoterhub/internal/auth"
)

// AuditLogger is the audit interface for RBAC denial logging.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent)
}

// AuditEvent describes one denied request.
type AuditEvent struct {
	UserID     string
	TenantID   string
	Permission string
	Resource   Resource
	Reason     Reason
	Method     string
	Path       string
}

// ResourceFunc extracts the resource a request targets.
type ResourceFunc func(r *http.Request, p Principal) (Resource, error)

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithAuditLogger attaches an audit logger to log RBAC denials.
func WithAuditLogger(logger AuditLogger) GuardOption {
	return func(g *Guard) {
		g.audit = logger
	}
}

// WithGuardLogger sets the logger used for resolution failures.
func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

// Guard is HTTP middleware that resolves the Principal once per request
// and gates handlers on Evaluate.
type Guard struct {
	engine   PolicyEngine
	resolver *Resolver
	audit    AuditLogger
	logger   *slog.Logger
}

func NewGuard(engine PolicyEngine, resolver *Resolver, opts ...GuardOption) *Guard {
	g := &Guard{engine: engine, resolver: resolver, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type principalContextKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the Principal resolved by the Guard.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// Resolve attaches the Principal and a request memo to the context
// without gating. Handlers behind it make their own decisions.
func (g *Guard) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, ok := g.resolve(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require returns middleware that allows the request only when the
// Principal may perform permission on the resource resourceFn extracts.
// A nil resourceFn evaluates against an empty resource.
func (g *Guard) Require(permission string, resourceFn ResourceFunc) func(http.Handler) http.Handler {
	readOnly := false
	if perm, err := LookupPermission(permission); err == nil {
		readOnly = perm.ReadOnly()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := g.resolve(w, r)
			if !ok {
				return
			}
			r = r.WithContext(ctx)
			principal, _ := PrincipalFromContext(ctx)

			var resource Resource
			if resourceFn != nil {
				var err error
				resource, err = resourceFn(r, principal)
				if err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
					return
				}
			}

			decision := g.engine.Evaluate(ctx, principal, permission, resource)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if g.audit != nil {
				g.audit.Log(ctx, AuditEvent{
					UserID:     principal.UserID,
					TenantID:   principal.TenantID,
					Permission: permission,
					Resource:   resource,
					Reason:     decision.Reason,
					Method:     r.Method,
					Path:       r.URL.Path,
				})
			}

			switch {
			case decision.Reason == ReasonStoreUnavailable:
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "authorization check failed"})
			case decision.Reason == ReasonCrossTenantAccess && readOnly:
				// Reads outside the caller's tenants look like missing resources.
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			default:
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden", "reason": decision.Reason})
			}
		})
	}
}

func (g *Guard) resolve(w http.ResponseWriter, r *http.Request) (context.Context, bool) {
	ctx := r.Context()
	if _, ok := PrincipalFromContext(ctx); ok {
		if memoFrom(ctx) == nil {
			ctx = WithMemo(ctx)
		}
		return ctx, true
	}

	identity := auth.GetIdentity(ctx)
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return nil, false
	}

	principal, err := g.resolver.Resolve(ctx, identity)
	if err != nil {
		g.logger.Error("resolving principal", "user_id", identity.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "authorization check failed"})
		return nil, false
	}

	return WithPrincipal(WithMemo(ctx), principal), true
}

// TenantResource is a ResourceFunc for routes scoped to the caller's own
// tenant.
func TenantResource(resourceType string) ResourceFunc {
	return func(_ *http.Request, p Principal) (Resource, error) {
		tenant := p.TenantID
		if tenant == "" {
			tenant = p.OwnedScopeID
		}
		return Resource{Type: resourceType, TenantID: tenant}, nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
