package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	Gateway GatewayConfig

	DatabaseURL       string
	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBTimeoutSeconds  int

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Kafka     KafkaConfig
	Scheduler SchedulerConfig

	BroadcastTimeoutMillis int

	ReconciliationConfigPath string
	BootstrapAPIKey          string
}

// GatewayConfig describes the Jenga payment gateway integration.
type GatewayConfig struct {
	HMACSecret       string
	MerchantCode     string
	SignatureHeader  string
	ReferencePattern string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	WebhookPerHour int64
	WebhookBurst   int64
}

type KafkaConfig struct {
	Brokers      []string
	PaymentTopic string
	ClientID     string
}

// SchedulerConfig drives the periodic payment status sweep.
type SchedulerConfig struct {
	Enabled         bool
	IntervalSeconds int
	BatchSize       int
}

var (
	ErrMissingHMACSecret   = errors.New("JENGA_HMAC_SECRET is required")
	ErrMissingMerchantCode = errors.New("JENGA_MERCHANT_CODE is required")
	ErrMissingDatabase     = errors.New("DATABASE_URL or DATABASE_HOST/DATABASE_NAME is required")
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	perHour := getenvInt64("WEBHOOK_RATE_LIMIT_PER_HOUR", 1000)

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "rentflow"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Gateway: GatewayConfig{
			HMACSecret:       strings.TrimSpace(os.Getenv("JENGA_HMAC_SECRET")),
			MerchantCode:     strings.TrimSpace(os.Getenv("JENGA_MERCHANT_CODE")),
			SignatureHeader:  getenv("JENGA_SIGNATURE_HEADER", "X-Jenga-Signature"),
			ReferencePattern: strings.TrimSpace(os.Getenv("JENGA_REFERENCE_PATTERN")),
		},
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            strings.TrimSpace(os.Getenv("DATABASE_HOST")),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            strings.TrimSpace(os.Getenv("DATABASE_NAME")),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        os.Getenv("DATABASE_PASSWORD"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME_SECONDS", 300)),
		DBTimeoutSeconds:  int(getenvInt64("DATABASE_TIMEOUT_SECONDS", 10)),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		RateLimit: RateLimitConfig{
			WebhookPerHour: perHour,
			WebhookBurst:   getenvInt64("WEBHOOK_RATE_LIMIT_BURST", perHour),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(os.Getenv("KAFKA_BROKERS")),
			PaymentTopic: getenv("KAFKA_PAYMENT_TOPIC", "rentflow.payments"),
			ClientID:     getenv("KAFKA_CLIENT_ID", "rentflow"),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			IntervalSeconds: int(getenvInt64("SCHEDULER_INTERVAL_SECONDS", 3600)),
			BatchSize:       int(getenvInt64("SCHEDULER_BATCH_SIZE", 100)),
		},
		BroadcastTimeoutMillis:   int(getenvInt64("BROADCAST_TIMEOUT_MS", 2000)),
		ReconciliationConfigPath: getenv("RECONCILIATION_CONFIG_PATH", "config/reconciliation.yml"),
		BootstrapAPIKey:          strings.TrimSpace(os.Getenv("BOOTSTRAP_API_KEY")),
	}

	return cfg
}

// Validate rejects configurations the service cannot run safely with.
// It is called on startup so missing secrets fail the boot, not a request.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Gateway.HMACSecret) == "" {
		errs = append(errs, ErrMissingHMACSecret)
	}
	if strings.TrimSpace(c.Gateway.MerchantCode) == "" {
		errs = append(errs, ErrMissingMerchantCode)
	}
	if !c.hasDatabase() {
		errs = append(errs, ErrMissingDatabase)
	}
	switch c.DBType {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_TYPE %q", c.DBType))
	}
	if c.RateLimit.WebhookPerHour < 0 {
		errs = append(errs, errors.New("WEBHOOK_RATE_LIMIT_PER_HOUR must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) hasDatabase() bool {
	if c.DatabaseURL != "" {
		return true
	}
	if c.DBType == "sqlite" {
		return c.DBName != ""
	}
	return c.DBHost != "" && c.DBName != ""
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
