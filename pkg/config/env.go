package config

// EnvPrefix is handed to envconfig; every field carries an explicit key so the
// prefix only applies to untagged fields.
const EnvPrefix = "CARDVAULT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv = "CARDVAULT_APP_ENV"
	EnvPort   = "CARDVAULT_APP_PORT"

	EnvDBDSN  = "CARDVAULT_DB_DSN"
	EnvDBHost = "CARDVAULT_DB_HOST"
	EnvDBUser = "CARDVAULT_DB_USER"
	EnvDBName = "CARDVAULT_DB_NAME"

	EnvRedisURL = "CARDVAULT_REDIS_URL"

	EnvJWTSecret = "CARDVAULT_JWT_SECRET"
	EnvJWTIssuer = "CARDVAULT_JWT_ISSUER"

	EnvGCPProjectID = "CARDVAULT_GCP_PROJECT_ID"
	EnvGCSBucket    = "CARDVAULT_GCS_BUCKET_NAME"

	EnvPubSubPaymentsTopic = "CARDVAULT_PUBSUB_PAYMENTS_TOPIC"
	EnvPubSubPaymentsSub   = "CARDVAULT_PUBSUB_PAYMENTS_SUBSCRIPTION"

	EnvStripePlatformKey    = "CARDVAULT_STRIPE_PLATFORM_API_KEY"
	EnvStripeMarketplaceKey = "CARDVAULT_STRIPE_MARKETPLACE_API_KEY"
	EnvStripeWebhookSecret  = "CARDVAULT_STRIPE_WEBHOOK_SECRET"
	EnvStripeConnectSecret  = "CARDVAULT_STRIPE_CONNECT_WEBHOOK_SECRET"
	EnvPlatformFeePercent   = "CARDVAULT_PAYMENTS_PLATFORM_FEE_PERCENT"
	EnvCreditsPerUSD        = "CARDVAULT_PAYMENTS_CREDITS_PER_USD"
	EnvCreditPacksUSD       = "CARDVAULT_PAYMENTS_CREDIT_PACKS_USD"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
