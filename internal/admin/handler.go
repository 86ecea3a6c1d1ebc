package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/promoterhub/promoterhub/internal/rbac"
)

// HandlerConfig tunes the administration endpoints.
type HandlerConfig struct {
	RateLimit  int
	RateWindow time.Duration
}

// Handler exposes the Service over HTTP.
type Handler struct {
	svc      *Service
	validate *validator.Validate
	cfg      HandlerConfig
}

func NewHandler(svc *Service, cfg HandlerConfig) *Handler {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &Handler{svc: svc, validate: validator.New(), cfg: cfg}
}

type grantBody struct {
	Granted         *bool  `json:"granted" validate:"required"`
	ScopeID         string `json:"scope_id" validate:"max=128"`
	ExpectedVersion *int64 `json:"expected_version" validate:"omitempty,gte=0"`
}

type roleBody struct {
	Role            string  `json:"role" validate:"required,max=32"`
	ScopeID         *string `json:"scope_id" validate:"omitempty,max=128"`
	TenantID        *string `json:"tenant_id" validate:"omitempty,max=128"`
	ExpectedVersion *int64  `json:"expected_version" validate:"omitempty,gte=0"`
}

// RegisterRoutes mounts the administration routes. wrap must resolve the
// Principal into the request context (rbac.Guard.Resolve).
func (h *Handler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	limiter := httprate.Limit(h.cfg.RateLimit, h.cfg.RateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
		}),
	)
	mutate := func(fn http.HandlerFunc) http.Handler {
		return wrap(limiter(fn))
	}

	mux.Handle("GET /api/v1/users/{id}/access", wrap(http.HandlerFunc(h.HandleGetAccess)))
	mux.Handle("PUT /api/v1/users/{id}/permissions/{permission}", mutate(h.HandleSetPermission))
	mux.Handle("DELETE /api/v1/users/{id}/permissions/{permission}", mutate(h.HandleResetPermission))
	mux.Handle("PUT /api/v1/users/{id}/role", mutate(h.HandleSetRole))
}

// rateLimitKey limits per acting user, falling back to the client address.
func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := rbac.PrincipalFromContext(r.Context()); ok && p.UserID != "" {
		return "user:" + p.UserID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) HandleGetAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	access, err := h.svc.Access(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, access)
}

func (h *Handler) HandleSetPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body grantBody
	if !h.decode(w, r, &body) {
		return
	}

	req := GrantRequest{
		TargetUserID:    r.PathValue("id"),
		PermissionID:    r.PathValue("permission"),
		ScopeID:         body.ScopeID,
		ExpectedVersion: body.ExpectedVersion,
	}
	var (
		out Outcome
		err error
	)
	if *body.Granted {
		out, err = h.svc.GrantPermission(r.Context(), actor, req)
	} else {
		out, err = h.svc.RevokePermission(r.Context(), actor, req)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleResetPermission takes scope_id and expected_version as query
// parameters since DELETE carries no body.
func (h *Handler) HandleResetPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	req := GrantRequest{
		TargetUserID: r.PathValue("id"),
		PermissionID: r.PathValue("permission"),
		ScopeID:      r.URL.Query().Get("scope_id"),
	}
	if raw := r.URL.Query().Get("expected_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected_version must be a non-negative integer"})
			return
		}
		req.ExpectedVersion = &v
	}

	out, err := h.svc.ResetPermission(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var body roleBody
	if !h.decode(w, r, &body) {
		return
	}

	out, err := h.svc.SetRole(r.Context(), actor, RoleRequest{
		TargetUserID:    r.PathValue("id"),
		Role:            body.Role,
		ScopeID:         body.ScopeID,
		TenantID:        body.TenantID,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[strings.ToLower(fe.Field())] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation failed"})
		return false
	}
	return true
}

func actorFrom(w http.ResponseWriter, r *http.Request) (rbac.Principal, bool) {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return rbac.Principal{}, false
	}
	return p, true
}

func writeError(w http.ResponseWriter, err error) {
	var forbidden *ForbiddenError
	switch {
	case errors.Is(err, ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &forbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden", "reason": forbidden.Reason})
	case errors.Is(err, ErrSelfElevation):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden", "reason": "self_elevation"})
	case errors.Is(err, ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "concurrent modification, re-read and retry"})
	case errors.Is(err, ErrAuditWrite):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit write failed, change not applied"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
