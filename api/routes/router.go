package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardvault/marketplace-backend/api/controllers"
	webhookcontrollers "github.com/cardvault/marketplace-backend/api/controllers/webhooks"
	"github.com/cardvault/marketplace-backend/api/middleware"
	"github.com/cardvault/marketplace-backend/internal/assets"
	"github.com/cardvault/marketplace-backend/internal/connect"
	"github.com/cardvault/marketplace-backend/internal/credits"
	"github.com/cardvault/marketplace-backend/internal/listings"
	"github.com/cardvault/marketplace-backend/internal/payments"
	"github.com/cardvault/marketplace-backend/internal/profiles"
	"github.com/cardvault/marketplace-backend/pkg/config"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

var (
	checkoutPolicy = middleware.RateLimitPolicy{Name: "checkout", Window: time.Minute, Limit: 20}
	writePolicy    = middleware.RateLimitPolicy{Name: "write", Window: time.Minute, Limit: 60}
	browsePolicy   = middleware.RateLimitPolicy{Name: "browse", Window: time.Minute, Limit: 300}
)

type webhookIntake interface {
	Handle(ctx context.Context, payload []byte, header string) (string, error)
}

type redisStore interface {
	middleware.ResponseStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

// Deps is everything the API surface needs. Nil services answer 500.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    redisStore
	Gatherer prometheus.Gatherer

	Intake   webhookIntake
	Payments payments.Service
	Credits  credits.Service
	Connect  connect.Service
	Listings listings.Service
	Assets   assets.Service
	Profiles profiles.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	pingers := map[string]controllers.Pinger{}
	if deps.DB != nil {
		pingers["db"] = deps.DB
	}
	if deps.Redis != nil {
		pingers["redis"] = deps.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, pingers, logg))
	})
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	idempotent := middleware.Idempotency(deps.Redis, logg)
	throttle := func(policy middleware.RateLimitPolicy) func(http.Handler) http.Handler {
		return middleware.RateLimit(policy, deps.Redis, logg)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.Intake, logg))

		// Public catalogue.
		r.Group(func(r chi.Router) {
			r.Use(throttle(browsePolicy))
			r.Get("/listings", controllers.ListingsBrowse(deps.Listings, logg))
			r.Get("/listings/{listingID}", controllers.ListingGet(deps.Listings, logg))
			r.Get("/profiles/{profileID}/listings", controllers.SellerListings(deps.Listings, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.With(throttle(checkoutPolicy), idempotent).Post("/payments/intents", controllers.PaymentIntentCreate(deps.Payments, logg))
			r.Get("/payments/intents/{intentID}", controllers.PaymentIntentGet(deps.Payments, logg))
			r.With(throttle(checkoutPolicy), idempotent).Post("/credits/checkout", controllers.CreditsCheckout(deps.Credits, logg))
			r.With(throttle(checkoutPolicy)).Post("/connect/onboarding", controllers.ConnectOnboarding(deps.Connect, logg))

			r.With(throttle(writePolicy), idempotent).Post("/listings", controllers.ListingCreate(deps.Listings, logg))
			r.With(throttle(writePolicy), idempotent).Post("/listings/{listingID}/cancel", controllers.ListingCancel(deps.Listings, logg))

			r.Get("/assets", controllers.AssetsList(deps.Assets, logg))
			r.With(throttle(writePolicy), idempotent).Post("/assets/uploads", controllers.AssetUploadPresign(deps.Assets, logg))
			r.With(throttle(writePolicy), idempotent).Post("/assets/uploads/{uploadID}/finalize", controllers.AssetUploadFinalize(deps.Assets, logg))

			r.Get("/profiles/me", controllers.ProfileMe(deps.Profiles, logg))
		})
	})

	return r
}
