package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Stripe       StripeConfig
	Payments     PaymentsConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARDVAULT_APP_ENV" required:"true"`
	Port         string `envconfig:"CARDVAULT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CARDVAULT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARDVAULT_LOG_WARN_STACK" default:"false"`
	PublicURL    string `envconfig:"CARDVAULT_PUBLIC_URL" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CARDVAULT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CARDVAULT_DB_DSN"`
	Driver string `envconfig:"CARDVAULT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CARDVAULT_DB_HOST"`
	Port     int    `envconfig:"CARDVAULT_DB_PORT" default:"5432"`
	User     string `envconfig:"CARDVAULT_DB_USER"`
	Password string `envconfig:"CARDVAULT_DB_PASSWORD"`
	Name     string `envconfig:"CARDVAULT_DB_NAME"`
	SSLMode  string `envconfig:"CARDVAULT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CARDVAULT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARDVAULT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARDVAULT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARDVAULT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CARDVAULT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CARDVAULT_REDIS_ADDR"`
	Password     string        `envconfig:"CARDVAULT_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARDVAULT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARDVAULT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARDVAULT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARDVAULT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARDVAULT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARDVAULT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig describes how access tokens issued by the auth provider are verified.
type JWTConfig struct {
	Secret   string `envconfig:"CARDVAULT_JWT_SECRET" required:"true"`
	Issuer   string `envconfig:"CARDVAULT_JWT_ISSUER" required:"true"`
	Audience string `envconfig:"CARDVAULT_JWT_AUDIENCE" default:"authenticated"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CARDVAULT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL  time.Duration `envconfig:"CARDVAULT_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	ConsumerIdempotencyTTL time.Duration `envconfig:"CARDVAULT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CARDVAULT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"CARDVAULT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CARDVAULT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName      string        `envconfig:"CARDVAULT_GCS_BUCKET_NAME" required:"true"`
	UploadURLExpiry time.Duration `envconfig:"CARDVAULT_GCS_UPLOAD_URL_EXPIRY" default:"15m"`
	PublicBaseURL   string        `envconfig:"CARDVAULT_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
	MaxUploadMB     int           `envconfig:"CARDVAULT_MAX_UPLOAD_MB" default:"20"`
}

type PubSubConfig struct {
	PaymentsTopic        string `envconfig:"CARDVAULT_PUBSUB_PAYMENTS_TOPIC" required:"true"`
	PaymentsSubscription string `envconfig:"CARDVAULT_PUBSUB_PAYMENTS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset    string `envconfig:"CARDVAULT_BIGQUERY_DATASET" default:"cardvault"`
	SalesTable string `envconfig:"CARDVAULT_BIGQUERY_SALES_TABLE" default:"marketplace_sales"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CARDVAULT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CARDVAULT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CARDVAULT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"CARDVAULT_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"CARDVAULT_CRON_INTERVAL" default:"15m"`
	SweepBatchSize int           `envconfig:"CARDVAULT_CRON_SWEEP_BATCH_SIZE" default:"200"`
	SweepMinAge    time.Duration `envconfig:"CARDVAULT_CRON_SWEEP_MIN_AGE" default:"30m"`
	StaleUploadAge time.Duration `envconfig:"CARDVAULT_CRON_STALE_UPLOAD_AGE" default:"72h"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CARDVAULT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// StripeConfig carries the credentials of both Stripe tenants. The platform
// account collects credit purchases and platform-owned sales; the marketplace
// account is the Connect platform that direct-charges sellers' accounts.
type StripeConfig struct {
	PlatformAPIKey       string `envconfig:"CARDVAULT_STRIPE_PLATFORM_API_KEY" required:"true"`
	MarketplaceAPIKey    string `envconfig:"CARDVAULT_STRIPE_MARKETPLACE_API_KEY"`
	WebhookSecret        string `envconfig:"CARDVAULT_STRIPE_WEBHOOK_SECRET" required:"true"`
	ConnectWebhookSecret string `envconfig:"CARDVAULT_STRIPE_CONNECT_WEBHOOK_SECRET"`
	Env                  string `envconfig:"CARDVAULT_STRIPE_ENV" default:"test"`
	OnboardingReturnPath string `envconfig:"CARDVAULT_STRIPE_ONBOARDING_RETURN_PATH" default:"/settings/payouts?onboarding=done"`
	OnboardingRetryPath  string `envconfig:"CARDVAULT_STRIPE_ONBOARDING_REFRESH_PATH" default:"/settings/payouts?onboarding=retry"`
	CheckoutSuccessPath  string `envconfig:"CARDVAULT_STRIPE_CHECKOUT_SUCCESS_PATH" default:"/credits/success?session_id={CHECKOUT_SESSION_ID}"`
	CheckoutCancelPath   string `envconfig:"CARDVAULT_STRIPE_CHECKOUT_CANCEL_PATH" default:"/credits"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// WebhookSecrets returns the candidate signing secrets in verification order.
func (s StripeConfig) WebhookSecrets() []string {
	secrets := make([]string, 0, 2)
	for _, secret := range []string{s.WebhookSecret, s.ConnectWebhookSecret} {
		if trimmed := strings.TrimSpace(secret); trimmed != "" {
			secrets = append(secrets, trimmed)
		}
	}
	return secrets
}

type PaymentsConfig struct {
	PlatformFeePercent string        `envconfig:"CARDVAULT_PAYMENTS_PLATFORM_FEE_PERCENT" default:"5"`
	Currency           string        `envconfig:"CARDVAULT_PAYMENTS_CURRENCY" default:"usd"`
	CreditsPerUSD      int64         `envconfig:"CARDVAULT_PAYMENTS_CREDITS_PER_USD" default:"10"`
	CreditPackSizesUSD []int64       `envconfig:"CARDVAULT_PAYMENTS_CREDIT_PACKS_USD" default:"5,10,20,50,100"`
	PayoutDelay        time.Duration `envconfig:"CARDVAULT_PAYMENTS_PAYOUT_DELAY" default:"10m"`
}

func (p PaymentsConfig) validate() error {
	pct, err := strconv.ParseFloat(strings.TrimSpace(p.PlatformFeePercent), 64)
	if err != nil {
		return fmt.Errorf("%s must be numeric: %w", EnvPlatformFeePercent, err)
	}
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%s must be between 0 and 100", EnvPlatformFeePercent)
	}
	if p.CreditsPerUSD <= 0 {
		return fmt.Errorf("%s must be positive", EnvCreditsPerUSD)
	}
	if len(p.CreditPackSizesUSD) == 0 {
		return fmt.Errorf("%s requires at least one pack size", EnvCreditPacksUSD)
	}
	return nil
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	discreteValues := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if discreteValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
