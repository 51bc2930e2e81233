package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/erpcore/automation-engine/internal/api/rest"
	"github.com/erpcore/automation-engine/internal/api/rest/handlers"
	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/repository/postgres"
	"github.com/erpcore/automation-engine/internal/scheduler"
	"github.com/erpcore/automation-engine/internal/services"
	"github.com/erpcore/automation-engine/internal/workers"
	"github.com/erpcore/automation-engine/pkg/auth"
	"github.com/erpcore/automation-engine/pkg/config"
	"github.com/erpcore/automation-engine/pkg/database"
	"github.com/erpcore/automation-engine/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	logger.SetDefault(log)
	log.Info("Starting automation engine",
		logger.String("version", cfg.App.Version),
		logger.String("environment", cfg.App.Environment),
	)

	db, err := database.NewPostgresDB(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	redis, err := database.NewRedisClient(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redis.Close()

	// Repositories
	automationRepo := postgres.NewAutomationRepository(db)
	runRepo := postgres.NewRunRepository(db)
	workflowRepo := postgres.NewWorkflowRepository(db)
	instanceRepo := postgres.NewInstanceRepository(db)
	recordRepo := postgres.NewRecordRepository(db)

	// Outbound capabilities
	notificationService := services.NewNotificationService(&cfg.Notification, log)
	webhookCaller := services.NewHTTPWebhookCaller(0, log)

	collab := engine.Collaborators{
		Mailer:   notificationService.EmailSender(),
		SMS:      notificationService.SMSGateway(),
		Webhooks: webhookCaller,
		Records:  recordRepo,
	}

	// Engine core
	evaluator := engine.NewEvaluator(log)
	executor := engine.NewActionExecutor(collab, cfg.Engine.MaxActionAttempts, cfg.Engine.RetryBackoffBase, log)
	runner := engine.NewRunner(automationRepo, runRepo, evaluator, executor, log)
	sequencer := engine.NewSequencer(workflowRepo, instanceRepo, evaluator, executor, log)

	// Trigger scheduler
	guard := scheduler.NewRedisGuard(redis.Client)
	sched := scheduler.NewScheduler(
		automationRepo, runRepo, runner, guard,
		cfg.Engine.SchedulerTick, cfg.Engine.DispatchLeaseTTL, log,
	)

	// Events published by business modules reach the scheduler and the
	// workflow launcher through the in-process bus
	bus := services.NewInProcessEventBus(log)
	bus.Subscribe(services.WildcardEvent, sched.HandleEvent)

	launcher := services.NewWorkflowLauncher(workflowRepo, sequencer, log)
	bus.Subscribe(services.WildcardEvent, launcher.HandleEvent)

	// Approval service and SLA sweep
	approvalService := services.NewApprovalService(
		sequencer, workflowRepo, instanceRepo, collab.Mailer, log,
	)
	expirationWorker := workers.NewApprovalExpirationWorker(
		approvalService, cfg.Engine.ApprovalExpiryTick, log,
	)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	sched.Start(workerCtx)
	expirationWorker.Start(workerCtx)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if cfg.App.Environment == "production" {
			return fmt.Errorf("JWT_SECRET environment variable must be set in production")
		}
		jwtSecret = "default-secret-change-this-in-production"
		log.Warn("JWT_SECRET not set, using default (INSECURE - only for development)")
	}
	verifier := auth.NewTokenVerifier(jwtSecret)

	h := handlers.NewHandlers(
		log,
		sched,
		bus,
		approvalService,
		runRepo,
		instanceRepo,
		&handlers.HealthCheckers{
			DB:    db,
			Redis: redis,
		},
	)

	router := rest.NewRouter(log, h, verifier)
	router.SetupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Engine API listening", logger.String("address", addr))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", logger.String("signal", sig.String()))

		// Stop intake of new firings before draining requests
		sched.Stop()
		launcher.Stop()
		expirationWorker.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		log.Info("Engine stopped gracefully")
	}

	return nil
}
