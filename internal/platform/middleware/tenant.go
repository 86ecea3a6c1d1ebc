package middleware

import (
	"context"
	"net/http"

	"github.com/promoterhub/promoterhub/internal/auth"
)

type tenantContextKey struct{}

// TenantContext records the caller's tenant for downstream filtering. The
// identity's tenant wins; an employer administrator without one falls back
// to the employer they administer.
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := auth.GetIdentity(r.Context())
		if identity == nil {
			next.ServeHTTP(w, r)
			return
		}

		tenant := identity.TenantID
		if tenant == "" {
			tenant = identity.EmployerID
		}
		if tenant != "" {
			r = r.WithContext(WithTenantID(r.Context(), tenant))
		}
		next.ServeHTTP(w, r)
	})
}

// WithTenantID returns a copy of ctx carrying tenantID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// GetTenantID retrieves the tenant ID from the request context.
func GetTenantID(ctx context.Context) string {
	if id, ok := ctx.Value(tenantContextKey{}).(string); ok {
		return id
	}
	return ""
}
