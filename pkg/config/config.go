package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix  = ""
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Webhook      WebhookConfig
	Checkout     CheckoutConfig
	FeatureFlags FeatureFlagsConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LUMALEARN_APP_ENV" required:"true"`
	Port         string `envconfig:"LUMALEARN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LUMALEARN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LUMALEARN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"LUMALEARN_DB_DSN"`

	Host     string `envconfig:"LUMALEARN_DB_HOST"`
	Port     int    `envconfig:"LUMALEARN_DB_PORT" default:"5432"`
	User     string `envconfig:"LUMALEARN_DB_USER"`
	Password string `envconfig:"LUMALEARN_DB_PASSWORD"`
	Name     string `envconfig:"LUMALEARN_DB_NAME"`
	SSLMode  string `envconfig:"LUMALEARN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LUMALEARN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LUMALEARN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LUMALEARN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LUMALEARN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LUMALEARN_REDIS_URL" required:"true"`
	PoolSize     int           `envconfig:"LUMALEARN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LUMALEARN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LUMALEARN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LUMALEARN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LUMALEARN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"LUMALEARN_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"LUMALEARN_JWT_ISSUER" required:"true"`
}

type StripeConfig struct {
	APIKey string `envconfig:"LUMALEARN_STRIPE_API_KEY" required:"true"`
	Secret string `envconfig:"LUMALEARN_STRIPE_WEBHOOK_SECRET" required:"true"`
	Env    string `envconfig:"LUMALEARN_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"LUMALEARN_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type CheckoutConfig struct {
	SuccessURL string `envconfig:"LUMALEARN_CHECKOUT_SUCCESS_URL" required:"true"`
	CancelURL  string `envconfig:"LUMALEARN_CHECKOUT_CANCEL_URL" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LUMALEARN_AUTO_MIGRATE" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LUMALEARN_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LUMALEARN_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LUMALEARN_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"LUMALEARN_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	BillingTopic string `envconfig:"LUMALEARN_PUBSUB_BILLING_TOPIC" default:"ll-billing-events"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	required := map[string]string{
		"LUMALEARN_DB_HOST": db.Host,
		"LUMALEARN_DB_USER": db.User,
		"LUMALEARN_DB_NAME": db.Name,
	}
	for _, key := range []string{"LUMALEARN_DB_HOST", "LUMALEARN_DB_USER", "LUMALEARN_DB_NAME"} {
		if required[key] == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either LUMALEARN_DB_DSN or %s are required", strings.Join(missing, ", "))
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
