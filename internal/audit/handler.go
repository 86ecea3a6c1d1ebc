package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/promoterhub/promoterhub/internal/platform/database"
	"github.com/promoterhub/promoterhub/internal/platform/middleware"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler serves audit query endpoints.
type Handler struct {
	db    database.Querier
	store *Store
}

// NewHandler creates an audit query handler. db may be nil, in which case
// listings are empty.
func NewHandler(db database.Querier) *Handler {
	return &Handler{db: db, store: NewStore()}
}

// TenantFilter is the tenant a listing request reads: the tenant_id query
// parameter, else the caller's tenant. The route guard evaluates against
// the same value so the filter is always an authorized tenant.
func TenantFilter(r *http.Request) string {
	if t := r.URL.Query().Get("tenant_id"); t != "" {
		return t
	}
	return middleware.GetTenantID(r.Context())
}

// HandleListEvents returns audit events.
// GET /api/v1/audit/events?tenant_id=&action=&actor_id=&target_id=&source=&after=&before=&limit=
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := ListEventsParams{
		TenantID: TenantFilter(r),
		Limit:    defaultListLimit,
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		params.Limit = min(n, maxListLimit)
	}

	for name, dst := range map[string]**string{
		"action":    &params.Action,
		"actor_id":  &params.ActorID,
		"target_id": &params.TargetID,
		"source":    &params.Source,
	} {
		if v := q.Get(name); v != "" {
			*dst = &v
		}
	}

	for name, dst := range map[string]**time.Time{
		"after":  &params.After,
		"before": &params.Before,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": name + " must be RFC3339"})
			return
		}
		*dst = &t
	}

	if h.db == nil {
		writeAuditJSON(w, http.StatusOK, map[string]any{"events": []Event{}, "count": 0})
		return
	}

	events, err := h.store.List(r.Context(), h.db, params)
	if err != nil {
		slog.Error("listing audit events", "error", err)
		writeAuditJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	writeAuditJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
