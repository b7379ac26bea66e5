package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guildmirror/internal/config"
	"guildmirror/internal/constants"
	"guildmirror/internal/database"
	"guildmirror/internal/metrics"
	"guildmirror/internal/retry"
	"guildmirror/internal/service"
	"guildmirror/internal/tracing"
	"guildmirror/pkg/mirror"
	"guildmirror/pkg/source"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("guildmirror %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting guildmirror")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	sourceClient, err := source.NewClient(cfg.Source.Token, cfg.Source.GuildID, logger)
	if err != nil {
		return fmt.Errorf("failed to create source client: %w", err)
	}
	mirrorClient, err := mirror.NewClient(cfg.Mirror.Token, logger)
	if err != nil {
		return fmt.Errorf("failed to create mirror client: %w", err)
	}

	registry := metrics.NewRegistry()
	correspondence := service.NewCorrespondenceStore(db, logger)
	if err := correspondence.Warm(ctx, cfg.Source.GuildID); err != nil {
		logger.Warnf("Failed to warm mapping cache: %v", err)
	}

	tracker := service.NewAccessFailureTracker(db, logger, registry,
		cfg.Sync.MaxFailuresBeforeBlacklist, cfg.Sync.BlacklistCutoffHourUTC)

	diffEngine := service.NewDiffEngine(sourceClient, mirrorClient, correspondence, tracker,
		logger, registry, cfg.Source.GuildID, cfg.Mirror.GuildID, cfg.Sync.ProtectedChannels)

	downloader := service.NewHTTPDownloader(&http.Client{
		Timeout: time.Duration(cfg.Relay.DownloadTimeoutSec) * time.Second,
	})
	throttle := service.NewThrottle(time.Duration(cfg.Relay.ThrottleSpacingMs) * time.Millisecond)
	dispatchBackoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Jitter:       true,
	})

	pipeline := service.NewRelayPipeline(sourceClient, mirrorClient, correspondence, tracker,
		db, downloader, throttle, dispatchBackoff, logger, registry, service.RelayPipelineOptions{
			MirrorGuildID:   cfg.Mirror.GuildID,
			MaxFileBytes:    cfg.Relay.MaxAttachmentBytes,
			MaxBatchBytes:   cfg.Relay.MaxBatchBytes,
			DispatchTimeout: time.Duration(cfg.Relay.DispatchTimeoutSec) * time.Second,
			Notifier:        service.NewLogNotifier(logger),
		})

	orchestrator := service.NewOrchestrator(sourceClient, pipeline, diffEngine, tracker, db,
		logger, cfg.Sync.HistoryRetentionDays, constants.DefaultHistoryMaxRows)

	if err := sourceClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect source client: %w", err)
	}
	defer sourceClient.Close()

	if err := mirrorClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mirror client: %w", err)
	}
	defer mirrorClient.Close()

	if cfg.Sync.ReconcileOnStartup {
		orchestrator.Reconcile(ctx)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Sync.ReconcileCronSpec, func() { orchestrator.Reconcile(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}
	if _, err := scheduler.AddFunc(cfg.Sync.SweepCronSpec, func() {
		orchestrator.SweepBlacklists(ctx)
		orchestrator.CleanupHistory()
	}); err != nil {
		return fmt.Errorf("failed to schedule blacklist sweep: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	go orchestrator.Run(ctx)

	server := NewServer(cfg.Server, registry, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Shutdown completed")
	return nil
}
