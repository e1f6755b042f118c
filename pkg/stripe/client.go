package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/cardvault/marketplace-backend/pkg/config"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

// Tenant selects which Stripe account an API call is made as.
type Tenant string

const (
	// TenantPlatform collects credit purchases and admin-owned sales.
	TenantPlatform Tenant = "platform"
	// TenantMarketplace is the Connect platform that direct-charges sellers.
	TenantMarketplace Tenant = "marketplace"
)

var (
	errAPIKeyRequired   = errors.New("stripe platform api key is required")
	errSecretRequired   = errors.New("at least one stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Gateway holds one API client per tenant plus the webhook signing secrets.
// Build it once in main and pass it down.
type Gateway struct {
	platform    *stripe.Client
	marketplace *stripe.Client
	environment string
	secrets     []string
}

// NewGateway validates the configured keys against the environment. Without
// a marketplace key the platform key serves both tenants.
func NewGateway(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Gateway, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	platformKey := strings.TrimSpace(cfg.PlatformAPIKey)
	if platformKey == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, platformKey); err != nil {
		return nil, fmt.Errorf("platform key: %w", err)
	}
	marketplaceKey := strings.TrimSpace(cfg.MarketplaceAPIKey)
	if marketplaceKey == "" {
		marketplaceKey = platformKey
	} else if err := validateAPIKey(env, marketplaceKey); err != nil {
		return nil, fmt.Errorf("marketplace key: %w", err)
	}

	secrets := cfg.WebhookSecrets()
	if len(secrets) == 0 {
		return nil, errSecretRequired
	}

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe gateway initialized (%s, %d webhook secrets)", env, len(secrets)))
	}

	return &Gateway{
		platform:    stripe.NewClient(platformKey),
		marketplace: stripe.NewClient(marketplaceKey),
		environment: env,
		secrets:     secrets,
	}, nil
}

// Client returns the API client for tenant.
func (g *Gateway) Client(tenant Tenant) *stripe.Client {
	if g == nil {
		return nil
	}
	if tenant == TenantMarketplace {
		return g.marketplace
	}
	return g.platform
}

func (g *Gateway) Environment() string {
	if g == nil {
		return ""
	}
	return g.environment
}

// WebhookSecrets returns the signing secrets in verification order.
func (g *Gateway) WebhookSecrets() []string {
	if g == nil {
		return nil
	}
	out := make([]string, len(g.secrets))
	copy(out, g.secrets)
	return out
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
