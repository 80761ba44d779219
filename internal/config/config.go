package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	LedgerDriver   string `env:"LEDGER_DRIVER" envDefault:"postgres" validate:"oneof=postgres memory"`
	DatabaseURL    string `env:"DATABASE_URL" validate:"required_if=LedgerDriver postgres"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"false"`

	AuthTokenSecret string `env:"AUTH_TOKEN_SECRET,required" validate:"required,min=32"`
	AuthTokenIssuer string `env:"AUTH_TOKEN_ISSUER"`

	PaymentProvider          string        `env:"PAYMENT_PROVIDER" envDefault:"mock" validate:"oneof=mock"`
	PaymentWebhookSecret     string        `env:"PAYMENT_WEBHOOK_SECRET,required" validate:"required"`
	MockGatewayScenariosFile string        `env:"MOCK_GATEWAY_SCENARIOS_FILE"`
	GatewayTimeout           time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	WebhookRetryInterval     time.Duration `env:"WEBHOOK_RETRY_INTERVAL" envDefault:"1m" validate:"gte=0"`
	WebhookMaxAttempts       int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"5" validate:"gt=0,lte=100"`
	DefaultCurrency          string        `env:"DEFAULT_CURRENCY" envDefault:"USD" validate:"len=3"`
	CartTTL                  time.Duration `env:"CART_TTL" envDefault:"168h" validate:"gt=0"`
	CatalogFile              string        `env:"CATALOG_FILE"`
	CacheProvider            string        `env:"CACHE_PROVIDER" envDefault:"memory" validate:"oneof=memory redis"`
	CacheSize                int           `env:"CACHE_SIZE" envDefault:"10000" validate:"gt=0"`
	RedisConnectionString    string        `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`
	EncryptionKey            string        `env:"ENCRYPTION_KEY,required" validate:"required,len=32"`
	EmailProvider            string        `env:"EMAIL_PROVIDER" envDefault:"log" validate:"oneof=log resend"`
	ResendAPIKey             string        `env:"RESEND_API_KEY" validate:"required_if=EmailProvider resend"`
	EmailFrom                string        `env:"EMAIL_FROM" validate:"required_if=EmailProvider resend"`
	EventsProvider           string        `env:"EVENTS_PROVIDER" envDefault:"none" validate:"oneof=none nats"`
	NATSURL                  string        `env:"NATS_URL" validate:"required_if=EventsProvider nats"`
	BaseURL                  string        `env:"BASE_URL" validate:"omitempty,url"`

	SentryDSN         string `env:"SENTRY_DSN"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"development"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if c.LedgerDriver == "memory" && c.MigrateOnStart {
		return fmt.Errorf("MIGRATE_ON_START requires LEDGER_DRIVER=postgres")
	}

	baseURL := strings.TrimSpace(c.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("BASE_URL must be a valid absolute URL")
		}
		if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
			return fmt.Errorf("BASE_URL must use https outside local development")
		}
	}

	return nil
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	if c == nil {
		return false
	}
	if baseURL := strings.TrimSpace(c.BaseURL); baseURL != "" {
		if parsed, err := url.Parse(baseURL); err == nil {
			return strings.EqualFold(parsed.Scheme, "https")
		}
	}
	return c.Port == "443" || c.Port == "8443"
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
