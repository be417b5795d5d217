package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Notification modes.
const (
	NotifyDirect = "direct"
	NotifyQueue  = "queue"
)

// Config holds application configuration.
type Config struct {
	ServiceName string
	Environment string
	LogLevel    string
	LogFormat   string
	RunLocal    bool
	Port        string

	TelegramToken         string
	TelegramAPIEndpoint   string
	TelegramWebhookSecret string
	FrontendURL           string
	AdminToken            string

	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string
	StripePriceID        string
	StripeReturnURL      string

	StoreDriver   string
	RecordsTable  string
	DatabaseURL   string
	DBAutoMigrate bool

	NotifyMode     string
	QueueURL       string
	DeliveryTable  string
	DeliveryTTL    time.Duration
	GatewayTimeout time.Duration
	NotifyTimeout  time.Duration

	AWSRegion        string
	AWSEndpoint      string
	MetricsNamespace string
	MetricsEnabled   bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	frontend := strings.TrimRight(getenv("FRONTEND_URL", ""), "/")
	return Config{
		ServiceName: getenv("SERVICE_NAME", "paid-confirmations"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogFormat:   getenv("LOG_FORMAT", "json"),
		RunLocal:    getenvBool("RUN_LOCAL", false),
		Port:        getenv("PORT", "8080"),

		TelegramToken:         strings.TrimSpace(getenv("TELEGRAM_BOT_TOKEN", "")),
		TelegramAPIEndpoint:   getenv("TELEGRAM_API_ENDPOINT", ""),
		TelegramWebhookSecret: strings.TrimSpace(getenv("TELEGRAM_WEBHOOK_SECRET", "")),
		FrontendURL:           frontend,
		AdminToken:            strings.TrimSpace(getenv("ADMIN_TOKEN", "")),

		StripeSecretKey:      strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		StripePublishableKey: strings.TrimSpace(getenv("STRIPE_PUBLISHABLE_KEY", "")),
		StripeWebhookSecret:  strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		StripePriceID:        strings.TrimSpace(getenv("STRIPE_PRICE_ID", "")),
		StripeReturnURL:      getenv("STRIPE_RETURN_URL", frontend+"/paid.html?session_id={CHECKOUT_SESSION_ID}"),

		StoreDriver:   strings.ToLower(getenv("STORE_DRIVER", StoreDynamoDB)),
		RecordsTable:  getenv("RECORDS_TABLE", "payment-records"),
		DatabaseURL:   strings.TrimSpace(getenv("DATABASE_URL", "")),
		DBAutoMigrate: getenvBool("DB_AUTO_MIGRATE", true),

		NotifyMode:     strings.ToLower(getenv("NOTIFY_MODE", NotifyDirect)),
		QueueURL:       getenv("CONFIRMATIONS_QUEUE_URL", ""),
		DeliveryTable:  getenv("DELIVERY_TABLE", "confirmation-deliveries"),
		DeliveryTTL:    getenvDuration("DELIVERY_TTL", 7*24*time.Hour),
		GatewayTimeout: getenvDuration("GATEWAY_TIMEOUT", 12*time.Second),
		NotifyTimeout:  getenvDuration("NOTIFY_TIMEOUT", 10*time.Second),

		AWSRegion:        getenv("AWS_REGION", "us-east-1"),
		AWSEndpoint:      getenv("AWS_ENDPOINT_URL", ""),
		MetricsNamespace: getenv("METRICS_NAMESPACE", "PaidConfirmations"),
		MetricsEnabled:   getenvBool("METRICS_ENABLED", true),
	}
}

// Validate reports every missing or inconsistent setting the API needs.
func (c Config) Validate() error {
	var errs []error
	required := []struct{ key, value string }{
		{"TELEGRAM_BOT_TOKEN", c.TelegramToken},
		{"STRIPE_SECRET_KEY", c.StripeSecretKey},
		{"STRIPE_PUBLISHABLE_KEY", c.StripePublishableKey},
		{"STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret},
		{"STRIPE_PRICE_ID", c.StripePriceID},
		{"FRONTEND_URL", c.FrontendURL},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}

	switch c.StoreDriver {
	case StoreDynamoDB:
		if c.RecordsTable == "" {
			errs = append(errs, errors.New("RECORDS_TABLE is required for the dynamodb store"))
		}
	case StorePostgres, StoreSQLite:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the %s store", c.StoreDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.NotifyMode {
	case NotifyDirect:
	case NotifyQueue:
		if c.QueueURL == "" {
			errs = append(errs, errors.New("CONFIRMATIONS_QUEUE_URL is required when NOTIFY_MODE=queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFY_MODE %q", c.NotifyMode))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// getenvDuration accepts Go durations ("15s") or bare seconds ("15").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

// ValidateWorker checks the subset of settings the confirmation worker uses.
func (c Config) ValidateWorker() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.DeliveryTable == "" {
		errs = append(errs, errors.New("DELIVERY_TABLE is required"))
	}
	return errors.Join(errs...)
}
