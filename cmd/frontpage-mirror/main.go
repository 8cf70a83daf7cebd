package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/subwatch/frontpage-mirror/internal/config"
	"github.com/subwatch/frontpage-mirror/internal/domain"
	"github.com/subwatch/frontpage-mirror/internal/httpserver"
	"github.com/subwatch/frontpage-mirror/internal/reddit"
	"github.com/subwatch/frontpage-mirror/internal/scheduler"
	"github.com/subwatch/frontpage-mirror/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.VerboseLogging {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("opened store", "path", cfg.DatabasePath)

	client := reddit.NewClient(cfg.Reddit)

	sched := scheduler.New(logger)
	cleanup := domain.NewCleanup(store, store, client, sched, logger, cfg.VerboseLogging)
	mirror := domain.NewMirror(client, store, cleanup, cfg.DestinationSubreddit, logger)
	watcher := domain.NewWatcher(store, client, mirror, cfg, logger)

	sched.Register(domain.JobReconcile, watcher.Reconcile)
	sched.Register(domain.JobCheckRemovals, watcher.CheckRemovals)
	sched.Register(domain.JobCleanup, cleanup.Run)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start first so the immediate reconcile armed by install runs under the
	// cancellable context rather than the scheduler's default one.
	sched.Start(ctx)
	if err := install(ctx, cfg, sched, cleanup, logger); err != nil {
		return fmt.Errorf("install jobs: %w", err)
	}

	server := httpserver.NewServer(cfg.ListenAddr, store, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-groupCtx.Done():
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("bot started",
		"feed", cfg.FeedToMonitor,
		"destination", cfg.DestinationSubreddit,
		"listen_addr", cfg.ListenAddr,
	)

	if err := group.Wait(); err != nil {
		logger.Error("shutdown with error", "error", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	select {
	case <-sched.Stop().Done():
	case <-waitCtx.Done():
		logger.Warn("gave up waiting for running jobs")
	}

	return nil
}

// install re-registers the scheduled jobs from scratch, runs one-time
// migrations, and kicks off an immediate reconciliation. It is safe to run
// on every startup.
func install(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler, cleanup *domain.Cleanup, logger *slog.Logger) error {
	sched.CancelAll()

	if err := sched.AddCron(domain.JobReconcile, cfg.Jobs.ReconcileCron); err != nil {
		return err
	}
	if err := sched.AddCron(domain.JobCheckRemovals, cfg.Jobs.CheckCron); err != nil {
		return err
	}
	if err := sched.AddCron(domain.JobCleanup, cfg.Jobs.CleanupCron); err != nil {
		return err
	}

	// Migrations are marker-guarded and retried on the next startup if they
	// fail, so a flaky API at boot never keeps the bot down.
	if err := cleanup.SpreadExisting(ctx); err != nil {
		logger.Error("cleanup spread migration failed", "error", err)
	}
	if err := cleanup.Backfill(ctx, cfg.DestinationSubreddit); err != nil {
		logger.Error("cleanup backfill migration failed", "error", err)
	}

	sched.ScheduleOnce(domain.JobReconcile, time.Now())
	if err := cleanup.ScheduleAdhoc(ctx); err != nil {
		logger.Error("ad-hoc cleanup scheduling failed", "error", err)
	}

	logger.Info("jobs rescheduled",
		"reconcile_cron", cfg.Jobs.ReconcileCron,
		"check_cron", cfg.Jobs.CheckCron,
		"cleanup_cron", cfg.Jobs.CleanupCron,
	)
	return nil
}
