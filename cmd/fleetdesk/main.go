package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fleetdesk/internal/app"
	"github.com/odyssey-erp/fleetdesk/internal/approvals"
	"github.com/odyssey-erp/fleetdesk/internal/authz"
	authzhttp "github.com/odyssey-erp/fleetdesk/internal/authz/http"
	"github.com/odyssey-erp/fleetdesk/internal/observability"
	"github.com/odyssey-erp/fleetdesk/internal/platform/cache"
	"github.com/odyssey-erp/fleetdesk/internal/platform/db"
	"github.com/odyssey-erp/fleetdesk/internal/rbac"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
	"github.com/odyssey-erp/fleetdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Warn("redis unavailable, subject cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	location, err := cfg.Location()
	if err != nil {
		logger.Error("load timezone", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	authzRepo := authz.NewRepository(dbpool)
	subjects := authz.NewCachedSubjects(authzRepo, redisClient, cfg.AuthzCacheTTL)
	authzService := authz.NewService(subjects, authzRepo, authz.Options{
		Logger:              logger,
		MissingContext:      cfg.MissingContextPolicy(),
		Location:            location,
		SnapshotConcurrency: cfg.AuthzSnapshotConcurrency,
		Recorder:            metrics,
	})

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, auditLogger, subjects, authzService, logger)
	rbacMiddleware := rbac.Middleware{Authorizer: authzService, Logger: logger}
	adminHandler := rbac.NewHandler(logger, rbacService, rbacMiddleware)

	approvalService := approvals.NewService(approvals.NewRepository(dbpool), approvalRecorder, authzService, logger)
	approvalHandler := approvals.NewHandler(logger, approvalService, rbacMiddleware)

	asynqOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(asynqOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynqOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	authzHandler := authzhttp.NewHandler(authzhttp.Config{
		Logger:     logger,
		Authorizer: authzService,
		Resources:  authzRepo,
		Queue:      jobClient,
		Approvals:  approvalService,
		RBAC:       rbacMiddleware,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Subjects:        shared.NewSubjectVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTLeeway, logger),
		AuthzHandler:    authzHandler,
		AdminHandler:    adminHandler,
		ApprovalHandler: approvalHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server starting", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
