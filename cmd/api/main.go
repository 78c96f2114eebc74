// Package main is the entry point for the daybook service.
//
// It loads configuration, connects to PostgreSQL, builds the Slack gateway,
// wires the dynamic report scheduler and the suspend/wake recovery engine,
// and serves the control-plane HTTP API.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"daybook/internal/api/handlers"
	"daybook/internal/config"
	"daybook/internal/core"
	"daybook/internal/db"
	"daybook/internal/external"
	"daybook/internal/recovery"
	"daybook/internal/reports"
	"daybook/internal/scheduler"
)

// startupTimeout bounds database connection and state restoration at boot.
const startupTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("daybook starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancelBoot := context.WithTimeout(ctx, startupTimeout)
	defer cancelBoot()

	pool, err := newPool(bootCtx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Repositories.
	users := db.NewUserTimezoneRepository(pool)
	entries := db.NewRecoveredEntryRepository(pool)
	suspends := db.NewSuspendStateRepository(pool)

	// Chat platform gateway.
	gateway := external.NewSlackGateway(
		slack.New(cfg.Slack.BotToken.Unmask()),
		cfg.Slack.BotUserID,
		logger,
	)

	// Scheduler stack.
	metrics := scheduler.NewMetrics()
	dynamic := scheduler.NewDynamicScheduler(scheduler.DynamicSchedulerConfig{
		Users:           users,
		Sender:          gateway,
		Metrics:         metrics,
		Logger:          logger,
		DeliveryTimeout: cfg.Schedule.DeliveryTimeout,
	})
	monitor := scheduler.NewChangeMonitor(users, dynamic, cfg.Schedule.PollInterval, logger)
	facade, err := scheduler.NewFacade(scheduler.FacadeConfig{
		Dynamic:          dynamic,
		Monitor:          monitor,
		Users:            users,
		Sender:           gateway,
		Metrics:          metrics,
		Logger:           logger,
		StaticReportTime: cfg.Schedule.StaticReportTime,
	})
	if err != nil {
		return fmt.Errorf("building scheduler facade: %w", err)
	}

	// Recovery engine and suspend controller.
	rec := recovery.NewRecovery(recovery.RecoveryConfig{
		Users:           users,
		Source:          gateway,
		Entries:         entries,
		Sender:          gateway,
		Classifier:      reports.NewKeywordClassifier(logger),
		Logger:          logger,
		SummaryUserID:   cfg.Recovery.SummaryUserID,
		ServiceTimezone: cfg.Recovery.ServiceTimezone,
		MessageDelay:    cfg.Recovery.MessageDelay,
		FetchTimeout:    cfg.Recovery.FetchTimeout,
	})
	controller := recovery.NewController(recovery.ControllerConfig{
		Store:           suspends,
		Recovery:        rec,
		Pauser:          dynamic.Triggers(),
		Logger:          logger,
		ServiceTimezone: cfg.Recovery.ServiceTimezone,
	})

	// A crash between prepare-suspend and wake leaves an open cycle; pick it
	// up before the scheduler starts so triggers stay drained.
	if err := controller.Restore(bootCtx); err != nil {
		return fmt.Errorf("restoring suspend state: %w", err)
	}

	rec.StartClassifier(ctx)
	defer rec.StopClassifier()

	facade.Start(ctx)
	defer facade.Stop()

	// HTTP surface.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
	}

	controlHandler := handlers.NewControlHandler(controller, rec, logger)
	scheduleHandler := handlers.NewScheduleHandler(facade, dynamic, monitor, logger)
	srv.MountRoutes(
		func(r chi.Router) { controlHandler.RegisterRoutes(r, srv.RequireOperator) },
		func(r chi.Router) { scheduleHandler.RegisterRoutes(r, srv.RequireOperator) },
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serving: %w", err)
	}

	logger.Info("daybook stopped")
	return nil
}

// newPool builds the pgx connection pool from config and verifies
// connectivity before startup continues.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// newLogger builds the application-wide JSON slog logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
