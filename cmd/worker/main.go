package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	paymentsconsumer "github.com/cardvault/marketplace-backend/internal/consumers/payments"
	"github.com/cardvault/marketplace-backend/internal/assets"
	"github.com/cardvault/marketplace-backend/internal/ledger"
	"github.com/cardvault/marketplace-backend/internal/listings"
	"github.com/cardvault/marketplace-backend/internal/profiles"
	stripewebhook "github.com/cardvault/marketplace-backend/internal/webhooks/stripe"
	"github.com/cardvault/marketplace-backend/pkg/bigquery"
	"github.com/cardvault/marketplace-backend/pkg/config"
	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/instance"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	"github.com/cardvault/marketplace-backend/pkg/metrics"
	"github.com/cardvault/marketplace-backend/pkg/migrate"
	"github.com/cardvault/marketplace-backend/pkg/outbox/idempotency"
	"github.com/cardvault/marketplace-backend/pkg/outbox/registry"
	"github.com/cardvault/marketplace-backend/pkg/pubsub"
	"github.com/cardvault/marketplace-backend/pkg/redis"
	"github.com/cardvault/marketplace-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery", err)
		}
	}()

	gateway, err := stripe.NewGateway(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	reconciler, err := stripewebhook.NewReconciler(stripewebhook.ReconcilerParams{
		DB:          dbClient,
		Ledger:      ledger.NewRepository(dbClient.DB()),
		Listings:    listings.NewRepository(dbClient.DB()),
		Assets:      assets.NewRepository(dbClient.DB()),
		Profiles:    profiles.NewRepository(dbClient.DB()),
		Accounts:    gateway,
		Metrics:     metrics.NewPaymentsMetrics(prometheus.DefaultRegisterer),
		Logger:      logg,
		PayoutDelay: cfg.Payments.PayoutDelay,
	})
	if err != nil {
		logg.Error(ctx, "failed to create reconciler", err)
		os.Exit(1)
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		os.Exit(1)
	}

	consumer, err := paymentsconsumer.NewConsumer(paymentsconsumer.ConsumerParams{
		Subscription: pubsubClient.PaymentsSubscription(),
		Reconciler:   reconciler,
		Decoders:     registry.NewPaymentsDecoders(),
		Idempotency:  manager,
		Facts:        bqClient,
		FactsTable:   bqClient.SalesTable(),
		Logger:       logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create payments consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger:   logg,
		Consumer: consumer,
		Dependencies: []dependency{
			{name: "database", ping: dbClient.Ping},
			{name: "redis", ping: redisClient.Ping},
			{name: "pubsub", ping: pubsubClient.Ping},
			{name: "bigquery", ping: bqClient.Ping},
		},
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"subscription": cfg.PubSub.PaymentsSubscription,
		"stripe_env":   gateway.Environment(),
		"instance":     instance.GetID(),
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
