package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
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
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Payments     PaymentsConfig
	Fees         FeesConfig
	PayU         PayUConfig
	Signer       SignerConfig
	Cron         CronConfig
	API          APIConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Fees.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"EVENTPASS_APP_ENV" required:"true"`
	Port         string `envconfig:"EVENTPASS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"EVENTPASS_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"EVENTPASS_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"EVENTPASS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"EVENTPASS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"EVENTPASS_DB_DSN"`
	Driver string `envconfig:"EVENTPASS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"EVENTPASS_DB_HOST"`
	LegacyPort     int    `envconfig:"EVENTPASS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"EVENTPASS_DB_USER"`
	LegacyPassword string `envconfig:"EVENTPASS_DB_PASSWORD"`
	LegacyName     string `envconfig:"EVENTPASS_DB_NAME"`
	LegacySSLMode  string `envconfig:"EVENTPASS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EVENTPASS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EVENTPASS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EVENTPASS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EVENTPASS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"EVENTPASS_DB_SLOW_QUERY" default:"500ms"`
	ConnectAttempts uint64        `envconfig:"EVENTPASS_DB_CONNECT_ATTEMPTS" default:"5"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EVENTPASS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"EVENTPASS_REDIS_ADDR"`
	Password     string        `envconfig:"EVENTPASS_REDIS_PASSWORD"`
	DB           int           `envconfig:"EVENTPASS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EVENTPASS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EVENTPASS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EVENTPASS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EVENTPASS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EVENTPASS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for access tokens minted by the
// identity service.
type JWTConfig struct {
	Secret            string        `envconfig:"EVENTPASS_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"EVENTPASS_JWT_ISSUER" required:"true"`
	Audience          string        `envconfig:"EVENTPASS_JWT_AUDIENCE"`
	Leeway            time.Duration `envconfig:"EVENTPASS_JWT_LEEWAY" default:"30s"`
	ExpirationMinutes int           `envconfig:"EVENTPASS_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"EVENTPASS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"EVENTPASS_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"EVENTPASS_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"EVENTPASS_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"EVENTPASS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"EVENTPASS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic   string `envconfig:"EVENTPASS_PUBSUB_NOTIFICATION_TOPIC" default:"ep-notification-events"`
	PaymentsTopic       string `envconfig:"EVENTPASS_PUBSUB_PAYMENTS_TOPIC" default:"ep-payment-events"`
	ReportingTopic      string `envconfig:"EVENTPASS_PUBSUB_REPORTING_TOPIC" default:"ep-reporting-events"`
	ReportingSub        string `envconfig:"EVENTPASS_PUBSUB_REPORTING_SUBSCRIPTION" required:"true"`
	EventLifecycleSub   string `envconfig:"EVENTPASS_PUBSUB_EVENT_LIFECYCLE_SUBSCRIPTION" required:"true"`
	EventLifecycleTopic string `envconfig:"EVENTPASS_PUBSUB_EVENT_LIFECYCLE_TOPIC" default:"event-lifecycle"`
}

type BigQueryConfig struct {
	Dataset              string `envconfig:"EVENTPASS_BIGQUERY_DATASET" default:"eventpass"`
	PayoutSnapshotsTable string `envconfig:"EVENTPASS_BIGQUERY_PAYOUT_TABLE" default:"payout_snapshots"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"EVENTPASS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"EVENTPASS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"EVENTPASS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"EVENTPASS_OUTBOX_RETENTION" default:"720h"`
	DLQRetention   time.Duration `envconfig:"EVENTPASS_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

// PaymentsConfig controls order windows, reservation holds and the bounds put
// on order creation.
type PaymentsConfig struct {
	Currency             string        `envconfig:"EVENTPASS_PAYMENTS_CURRENCY" default:"INR"`
	OrderWindow          time.Duration `envconfig:"EVENTPASS_PAYMENTS_ORDER_WINDOW" default:"15m"`
	PendingGrace         time.Duration `envconfig:"EVENTPASS_PAYMENTS_PENDING_GRACE" default:"30m"`
	HoldTTL              time.Duration `envconfig:"EVENTPASS_PAYMENTS_HOLD_TTL" default:"30m"`
	CreateTimeout        time.Duration `envconfig:"EVENTPASS_PAYMENTS_CREATE_TIMEOUT" default:"5s"`
	RedirectAttempts     int           `envconfig:"EVENTPASS_PAYMENTS_REDIRECT_ATTEMPTS" default:"3"`
	RedirectBackoff      time.Duration `envconfig:"EVENTPASS_PAYMENTS_REDIRECT_BACKOFF" default:"200ms"`
	SweepBatchSize       int           `envconfig:"EVENTPASS_PAYMENTS_SWEEP_BATCH_SIZE" default:"100"`
	ExternalIDPrefix     string        `envconfig:"EVENTPASS_PAYMENTS_EXTERNAL_ID_PREFIX" default:"EP"`
	MaxSeatsPerRequester int           `envconfig:"EVENTPASS_PAYMENTS_MAX_SEATS" default:"10"`
}

type FeesConfig struct {
	DefaultPercentage string `envconfig:"EVENTPASS_FEES_DEFAULT_PERCENTAGE" default:"10.00"`
}

// DefaultPercentageDecimal parses the configured fallback fee percentage.
func (f FeesConfig) DefaultPercentageDecimal() decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(f.DefaultPercentage))
	if err != nil {
		return decimal.Zero
	}
	return value
}

func (f FeesConfig) validate() error {
	value, err := decimal.NewFromString(strings.TrimSpace(f.DefaultPercentage))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvFeesDefaultPercentage, err)
	}
	if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be within [0,100], got %s", EnvFeesDefaultPercentage, value.String())
	}
	return nil
}

type PayUConfig struct {
	MerchantKey  string `envconfig:"EVENTPASS_PAYU_MERCHANT_KEY" required:"true"`
	PaymentURL   string `envconfig:"EVENTPASS_PAYU_PAYMENT_URL" default:"https://test.payu.in/_payment"`
	VerifyURL    string `envconfig:"EVENTPASS_PAYU_VERIFY_URL" default:"https://test.payu.in/merchant/postservice?form=2"`
	SuccessURL   string `envconfig:"EVENTPASS_PAYU_SUCCESS_URL" required:"true"`
	FailureURL   string `envconfig:"EVENTPASS_PAYU_FAILURE_URL" required:"true"`
	ProductLabel string `envconfig:"EVENTPASS_PAYU_PRODUCT_LABEL" default:"EventPass ticket"`
}

// SignerConfig points at the service that owns the gateway salt and computes
// request and response hashes.
type SignerConfig struct {
	BaseURL  string        `envconfig:"EVENTPASS_SIGNER_BASE_URL" required:"true"`
	APIToken string        `envconfig:"EVENTPASS_SIGNER_API_TOKEN"`
	Timeout  time.Duration `envconfig:"EVENTPASS_SIGNER_TIMEOUT" default:"3s"`
}

// APIConfig holds HTTP surface policy: allowed origins and the per-caller
// throttle on order creation.
type APIConfig struct {
	CORSOrigins       []string      `envconfig:"EVENTPASS_API_CORS_ORIGINS" default:"http://localhost:3000"`
	OrderCreateLimit  int           `envconfig:"EVENTPASS_API_ORDER_CREATE_LIMIT" default:"10"`
	OrderCreateWindow time.Duration `envconfig:"EVENTPASS_API_ORDER_CREATE_WINDOW" default:"1m"`
}

type CronConfig struct {
	Interval      time.Duration `envconfig:"EVENTPASS_CRON_INTERVAL" default:"1m"`
	LockTTL       time.Duration `envconfig:"EVENTPASS_CRON_LOCK_TTL" default:"5m"`
	StatusPollAge time.Duration `envconfig:"EVENTPASS_CRON_STATUS_POLL_AGE" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
