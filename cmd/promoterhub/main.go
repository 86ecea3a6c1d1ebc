package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/promoterhub/promoterhub/internal/admin"
	"github.com/promoterhub/promoterhub/internal/audit"
	"github.com/promoterhub/promoterhub/internal/auth"
	"github.com/promoterhub/promoterhub/internal/platform/config"
	"github.com/promoterhub/promoterhub/internal/platform/database"
	"github.com/promoterhub/promoterhub/internal/platform/server"
	"github.com/promoterhub/promoterhub/internal/platform/telemetry"
	"github.com/promoterhub/promoterhub/internal/rbac"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logging
	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("promoterhub starting",
		"version", "0.1.0",
		"port", cfg.Server.Port,
	)

	if cfg.Auth.JWT.SigningKey == "" && !cfg.Auth.DevMode {
		return errors.New("auth.jwt.signingkey is required outside dev mode")
	}

	ctx := context.Background()
	var pool *database.Pool
	if cfg.Database.URL != "" {
		slog.Info("connecting to database")
		p, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		pool = p
		defer pool.Close()

		migrationsURL := fmt.Sprintf("file://%s", cfg.Database.MigrationsPath)
		if err := database.RunMigrations(cfg.Database.URL, migrationsURL); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("migrations complete")
	}

	st, err := buildStorage(pool, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.denials.Close(); err != nil {
			slog.Error("closing audit logger", "error", err)
		}
	}()

	// RBAC
	engine := rbac.NewEvaluator(st.grants,
		rbac.WithLogger(telemetry.Component(logger, "rbac")),
		rbac.WithBatchConcurrency(cfg.RBAC.BatchConcurrency),
	)
	resolver := rbac.NewResolver(st.grants, telemetry.Component(logger, "rbac"))
	guard := rbac.NewGuard(engine, resolver,
		rbac.WithAuditLogger(&denialAdapter{l: st.denials}),
		rbac.WithGuardLogger(telemetry.Component(logger, "rbac")),
	)

	// Administration
	adminSvc := admin.NewService(st.grants, engine, st.sink, telemetry.Component(logger, "admin"))
	adminHandler := admin.NewHandler(adminSvc, admin.HandlerConfig{
		RateLimit:  cfg.Admin.RateLimit,
		RateWindow: time.Duration(cfg.Admin.RateWindowSecs) * time.Second,
	})

	// Audit query handler (empty listings without a database)
	auditHandler := audit.NewHandler(nil)
	if pool != nil {
		auditHandler = audit.NewHandler(pool)
	}

	tokenSvc := auth.NewTokenService(cfg.Auth.JWT.SigningKey, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.ExpiryHours)

	// Dev mode identity
	var devIdentity *auth.Identity
	if cfg.Auth.DevMode {
		slog.Warn("running in dev mode, authentication bypassed with 'Bearer dev'")
		devIdentity = &auth.Identity{
			UserID:    "dev-user",
			TenantID:  "dev-tenant",
			Role:      string(rbac.RoleOwner),
			TokenType: "access",
		}
	}

	// Create and start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Dependencies{
		Pool:               pool,
		InMemory:           pool == nil,
		Auth:               tokenSvc,
		Guard:              guard,
		RBACHandler:        rbac.NewHandler(engine),
		AdminHandler:       adminHandler,
		AuditHandler:       auditHandler,
		DevMode:            cfg.Auth.DevMode,
		DevIdentity:        devIdentity,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("server ready", "addr", addr, "dev_mode", cfg.Auth.DevMode, "store", st.kind)
	return srv.Start(ctx)
}
