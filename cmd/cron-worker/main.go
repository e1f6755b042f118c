package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cardvault/marketplace-backend/internal/assets"
	"github.com/cardvault/marketplace-backend/internal/cron"
	"github.com/cardvault/marketplace-backend/internal/ledger"
	"github.com/cardvault/marketplace-backend/internal/listings"
	"github.com/cardvault/marketplace-backend/pkg/config"
	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/instance"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	"github.com/cardvault/marketplace-backend/pkg/metrics"
	"github.com/cardvault/marketplace-backend/pkg/migrate"
	"github.com/cardvault/marketplace-backend/pkg/outbox"
	"github.com/cardvault/marketplace-backend/pkg/redis"
	"github.com/cardvault/marketplace-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs", err)
		}
	}()

	// The lease outlives one cycle so a slow sweep is not run twice.
	lock, err := cron.NewRedisLock(redisClient, lockName(cfg.App.Env), cfg.Cron.Interval)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, gcsClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.Interval / 2,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, gcsClient *gcs.Client) (*cron.Registry, error) {
	sweep, err := cron.NewReconciliationSweepJob(cron.ReconciliationSweepParams{
		Logger:    logg,
		Ledger:    ledger.NewRepository(dbClient.DB()),
		Listings:  listings.NewRepository(dbClient.DB()),
		BatchSize: cfg.Cron.SweepBatchSize,
		MinAge:    cfg.Cron.SweepMinAge,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionParams{
		Logger:         logg,
		DB:             dbClient,
		Outbox:         outbox.NewRepository(dbClient.DB()),
		Retention:      time.Duration(cfg.Outbox.RetentionDays) * 24 * time.Hour,
		ParkedAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	uploads, err := cron.NewStaleUploadCleanupJob(cron.StaleUploadCleanupParams{
		Logger:    logg,
		Uploads:   assets.NewRepository(dbClient.DB()),
		Objects:   gcsClient,
		Bucket:    cfg.GCS.BucketName,
		MaxAge:    cfg.Cron.StaleUploadAge,
		BatchSize: cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{sweep, retention, uploads} {
		if err := registry.Register(job); err != nil {
			return nil, fmt.Errorf("register %s: %w", job.Name(), err)
		}
	}
	return registry, nil
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
