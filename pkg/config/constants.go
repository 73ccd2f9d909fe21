package config

const EnvPrefix = "EVENTPASS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "EVENTPASS_APP_ENV"
	EnvPort     = "EVENTPASS_APP_PORT"
	EnvLogLevel = "EVENTPASS_LOG_LEVEL"

	EnvDBDSN  = "EVENTPASS_DB_DSN"
	EnvDBHost = "EVENTPASS_DB_HOST"
	EnvDBUser = "EVENTPASS_DB_USER"
	EnvDBName = "EVENTPASS_DB_NAME"

	EnvRedisURL = "EVENTPASS_REDIS_URL"

	EnvJWTSecret = "EVENTPASS_JWT_SECRET"
	EnvJWTIssuer = "EVENTPASS_JWT_ISSUER"

	EnvGCPProjectID = "EVENTPASS_GCP_PROJECT_ID"

	EnvPubSubReportingSub      = "EVENTPASS_PUBSUB_REPORTING_SUBSCRIPTION"
	EnvPubSubEventLifecycleSub = "EVENTPASS_PUBSUB_EVENT_LIFECYCLE_SUBSCRIPTION"

	EnvFeesDefaultPercentage = "EVENTPASS_FEES_DEFAULT_PERCENTAGE"

	EnvPayUMerchantKey = "EVENTPASS_PAYU_MERCHANT_KEY"
	EnvPayUSuccessURL  = "EVENTPASS_PAYU_SUCCESS_URL"
	EnvPayUFailureURL  = "EVENTPASS_PAYU_FAILURE_URL"

	EnvSignerBaseURL = "EVENTPASS_SIGNER_BASE_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
