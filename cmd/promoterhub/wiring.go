package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/promoterhub/promoterhub/internal/admin"
	"github.com/promoterhub/promoterhub/internal/audit"
	"github.com/promoterhub/promoterhub/internal/grant"
	"github.com/promoterhub/promoterhub/internal/platform/config"
	"github.com/promoterhub/promoterhub/internal/platform/database"
	"github.com/promoterhub/promoterhub/internal/platform/middleware"
	"github.com/promoterhub/promoterhub/internal/rbac"
)

var errNoDatabase = errors.New("database.url is required outside dev mode")

type storage struct {
	kind    string
	grants  admin.Store
	sink    audit.Sink
	denials audit.Logger
}

// buildStorage picks the grant store and audit sinks. Without a pool the
// in-memory store is allowed only in dev mode.
func buildStorage(pool *database.Pool, cfg *config.Config, logger *slog.Logger) (storage, error) {
	if pool == nil {
		if !cfg.Auth.DevMode {
			return storage{}, errNoDatabase
		}
		logger.Warn("no database configured, grants and audit events are kept in memory")
		mem := &audit.MemorySink{}
		return storage{kind: "memory", grants: grant.NewMemoryStore(), sink: mem, denials: mem}, nil
	}

	denials := audit.NewAsyncLogger(pool, audit.NewStore(), audit.LoggerConfig{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: time.Duration(cfg.Audit.FlushIntervalMs) * time.Millisecond,
		Logger:        logger.With("component", "audit"),
	})
	return storage{
		kind:    "postgres",
		grants:  grant.NewPostgresStore(pool),
		sink:    audit.NewPostgresSink(pool),
		denials: denials,
	}, nil
}

// denialAdapter bridges audit.Logger to rbac.AuditLogger.
type denialAdapter struct {
	l audit.Logger
}

func (a *denialAdapter) Log(ctx context.Context, event rbac.AuditEvent) {
	tenant := event.Resource.TenantID
	if tenant == "" {
		tenant = event.TenantID
	}
	change := map[string]any{
		audit.ChangePermission: event.Permission,
		audit.ChangeReason:     event.Reason.String(),
		"method":               event.Method,
		"path":                 event.Path,
		"resource_type":        event.Resource.Type,
	}
	if id := middleware.GetRequestID(ctx); id != "" {
		change[audit.ChangeRequestID] = id
	}

	evt := audit.NewEvent(audit.ActionAccessDenied, event.UserID, event.Resource.OwnerID, tenant, change)
	evt.Source = "guard"
	a.l.Log(ctx, evt)
}
