package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cardvault/marketplace-backend/api/routes"
	"github.com/cardvault/marketplace-backend/internal/assets"
	"github.com/cardvault/marketplace-backend/internal/connect"
	"github.com/cardvault/marketplace-backend/internal/credits"
	"github.com/cardvault/marketplace-backend/internal/ledger"
	"github.com/cardvault/marketplace-backend/internal/listings"
	"github.com/cardvault/marketplace-backend/internal/payments"
	"github.com/cardvault/marketplace-backend/internal/profiles"
	stripewebhook "github.com/cardvault/marketplace-backend/internal/webhooks/stripe"
	"github.com/cardvault/marketplace-backend/pkg/config"
	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	"github.com/cardvault/marketplace-backend/pkg/metrics"
	"github.com/cardvault/marketplace-backend/pkg/migrate"
	"github.com/cardvault/marketplace-backend/pkg/outbox"
	"github.com/cardvault/marketplace-backend/pkg/redis"
	"github.com/cardvault/marketplace-backend/pkg/storage/gcs"
	"github.com/cardvault/marketplace-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs", err)
		}
	}()

	gateway, err := stripe.NewGateway(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	deps, err := buildDeps(cfg, logg, dbClient, redisClient, gcsClient, gateway)
	if err != nil {
		logg.Error(ctx, "failed to wire api", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": gateway.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shut down gracefully")
	}
}

func buildDeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, gcsClient *gcs.Client, gateway *stripe.Gateway) (routes.Deps, error) {
	listingRepo := listings.NewRepository(dbClient.DB())
	assetRepo := assets.NewRepository(dbClient.DB())
	profileRepo := profiles.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	verifier, err := stripewebhook.NewVerifier(gateway.WebhookSecrets())
	if err != nil {
		return routes.Deps{}, err
	}
	guard, err := stripewebhook.NewGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		return routes.Deps{}, err
	}
	inbox, err := stripewebhook.NewInbox(dbClient, outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
	if err != nil {
		return routes.Deps{}, err
	}
	intake, err := stripewebhook.NewIntake(stripewebhook.IntakeParams{
		Verifier: verifier,
		Guard:    guard,
		Decoder:  stripewebhook.Decoder{CreditsPerUSD: cfg.Payments.CreditsPerUSD},
		Queue:    inbox,
		Metrics:  metrics.NewPaymentsMetrics(prometheus.DefaultRegisterer),
		Logger:   logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Gateway:            gateway,
		Transactions:       ledgerRepo,
		Listings:           listingRepo,
		Profiles:           profileRepo,
		PlatformFeePercent: cfg.Payments.PlatformFeePercent,
		Currency:           cfg.Payments.Currency,
		Logger:             logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	creditsSvc, err := credits.NewService(credits.ServiceParams{
		Gateway:       gateway,
		CreditsPerUSD: cfg.Payments.CreditsPerUSD,
		PackSizesUSD:  cfg.Payments.CreditPackSizesUSD,
		Currency:      cfg.Payments.Currency,
		PublicURL:     cfg.App.PublicURL,
		SuccessPath:   cfg.Stripe.CheckoutSuccessPath,
		CancelPath:    cfg.Stripe.CheckoutCancelPath,
		Logger:        logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	connectSvc, err := connect.NewService(connect.ServiceParams{
		Gateway:    gateway,
		Profiles:   profileRepo,
		PublicURL:  cfg.App.PublicURL,
		ReturnPath: cfg.Stripe.OnboardingReturnPath,
		RetryPath:  cfg.Stripe.OnboardingRetryPath,
		Logger:     logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	listingsSvc, err := listings.NewService(listings.ServiceParams{
		Repo:     listingRepo,
		Assets:   assetRepo,
		Profiles: profileRepo,
		Currency: cfg.Payments.Currency,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	assetsSvc, err := assets.NewService(assets.ServiceParams{
		Repo:      assetRepo,
		Tx:        dbClient,
		Store:     gcsClient,
		Bucket:    cfg.GCS.BucketName,
		UploadTTL: cfg.GCS.UploadURLExpiry,
		MaxBytes:  int64(cfg.GCS.MaxUploadMB) << 20,
		Logger:    logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	profilesSvc, err := profiles.NewService(profileRepo)
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Gatherer: prometheus.DefaultGatherer,
		Intake:   intake,
		Payments: paymentsSvc,
		Credits:  creditsSvc,
		Connect:  connectSvc,
		Listings: listingsSvc,
		Assets:   assetsSvc,
		Profiles: profilesSvc,
	}, nil
}
