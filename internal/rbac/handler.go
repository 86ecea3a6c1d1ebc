package rbac

import (
	"encoding/json"
	"net/http"
)

// MaxChecks bounds one POST /api/v1/authz/check body.
const MaxChecks = 100

// Handler serves the catalog and the batch check endpoint. Routes must sit
// behind Guard.Resolve.
type Handler struct {
	engine *Evaluator
}

func NewHandler(engine *Evaluator) *Handler {
	return &Handler{engine: engine}
}

type checkRequest struct {
	Checks []Check `json:"checks"`
}

type checkResult struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
	Reason     Reason `json:"reason"`
}

// HandleCheck answers "may the caller do X" for each requested check, in
// request order. UI guards use it to decide which controls to show.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Checks) == 0 || len(req.Checks) > MaxChecks {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "checks must contain between 1 and 100 entries"})
		return
	}

	decisions := h.engine.EvaluateAll(r.Context(), principal, req.Checks)
	results := make([]checkResult, len(decisions))
	for i, d := range decisions {
		results[i] = checkResult{Permission: req.Checks[i].Permission, Allowed: d.Allowed, Reason: d.Reason}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": principal,
		"results":   results,
	})
}

// HandleListPermissions returns the catalog grouped by category.
func (h *Handler) HandleListPermissions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": PermissionsByCategory()})
}

// RoleView is a catalog role as served to administration screens.
type RoleView struct {
	Name        Role     `json:"name"`
	Rank        int      `json:"rank"`
	Permissions []string `json:"permissions"`
}

// HandleListRoles returns the roles in ascending rank with their defaults.
func (h *Handler) HandleListRoles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"roles": RoleViews()})
}

// RoleViews lists each catalog role with its rank and sorted default
// permission ids.
func RoleViews() []RoleView {
	roles := Roles()
	out := make([]RoleView, 0, len(roles))
	for _, role := range roles {
		rank, _ := RoleRank(role)
		view := RoleView{Name: role, Rank: rank}
		for _, p := range Permissions() {
			if roleHolds(role, p.ID) {
				view.Permissions = append(view.Permissions, p.ID)
			}
		}
		out = append(out, view)
	}
	return out
}
