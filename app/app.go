package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/cache"
	"github.com/gitshopapp/commerce/internal/catalog"
	"github.com/gitshopapp/commerce/internal/config"
	"github.com/gitshopapp/commerce/internal/crypto"
	"github.com/gitshopapp/commerce/internal/db"
	"github.com/gitshopapp/commerce/internal/email"
	"github.com/gitshopapp/commerce/internal/events"
	"github.com/gitshopapp/commerce/internal/gateway"
	"github.com/gitshopapp/commerce/internal/gateway/mock"
	"github.com/gitshopapp/commerce/internal/handlers"
	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/ledger/memory"
	"github.com/gitshopapp/commerce/internal/logging"
	"github.com/gitshopapp/commerce/internal/observability"
	"github.com/gitshopapp/commerce/internal/services"
	"github.com/gitshopapp/commerce/internal/session"
)

const emailTimeout = 10 * time.Second

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	DB        *pgxpool.Pool
	Store     ledger.Store
	Cache     cache.Provider
	Publisher events.Publisher
	Webhooks  *services.WebhookService
	Handlers  *handlers.Handlers

	closers []func() error
}

// New builds the application graph from the environment.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg)
}

func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 0.2,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Sentry: cfg.SentryDSN != "",
	})
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startupCancel()

	if err := a.build(startupCtx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	switch cfg.LedgerDriver {
	case "memory":
		logger.Warn("using the in-memory ledger; data is lost on restart")
		a.Store = memory.New()
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, a.Metrics)
		if err != nil {
			return err
		}
		a.DB = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		a.Store = db.NewLedger(pool)
	}

	cacheProvider, err := cache.NewProvider(ctx, cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
		MemorySize:            cfg.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache provider: %w", err)
	}
	a.Cache = cacheProvider
	a.closers = append(a.closers, cacheProvider.Close)

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize sealer: %w", err)
	}

	pricer, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return err
	}

	paymentGateway, err := newGateway(cfg, a.Metrics)
	if err != nil {
		return err
	}

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.ResendAPIKey,
		From:     cfg.EmailFrom,
	}, observability.NewHTTPClient(emailTimeout), logger.With("component", "email"))
	if err != nil {
		return fmt.Errorf("failed to initialize email provider: %w", err)
	}
	notifier, err := email.NewNotifier(emailProvider)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	a.Publisher = events.Noop()
	if cfg.EventsProvider == "nats" {
		publisher, err := events.NewNATSPublisher(ctx, events.NATSConfig{URL: cfg.NATSURL}, logger.With("component", "events"))
		if err != nil {
			return fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		a.Publisher = publisher
		a.closers = append(a.closers, publisher.Close)
	}

	deps := services.Deps{
		Store:              a.Store,
		Gateway:            paymentGateway,
		Sealer:             sealer,
		Catalog:            pricer,
		Cache:              cacheProvider,
		Notifier:           notifier,
		Publisher:          a.Publisher,
		Metrics:            a.Metrics,
		Currency:           cfg.DefaultCurrency,
		CartTTL:            cfg.CartTTL,
		WebhookMaxAttempts: cfg.WebhookMaxAttempts,
	}
	component := func(name string) services.Deps {
		d := deps
		d.Logger = logger.With("component", name)
		return d
	}
	a.Webhooks = services.NewWebhookService(component("webhook_service"))

	h, err := handlers.New(handlers.Dependencies{
		Config:   cfg,
		Store:    a.Store,
		Carts:    services.NewCartService(component("cart_service")),
		Orders:   services.NewOrderService(component("order_service")),
		Payments: services.NewPaymentService(component("payment_service")),
		Webhooks: a.Webhooks,
		Verifier: auth.NewVerifier(cfg.AuthTokenSecret, cfg.AuthTokenIssuer),
		Sessions: session.NewManager(cacheProvider, cfg.SecureCookies(), cfg.CartTTL),
		Metrics:  a.Metrics,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}
	a.Handlers = h
	return nil
}

func newGateway(cfg *config.Config, metrics *observability.Metrics) (gateway.Gateway, error) {
	switch cfg.PaymentProvider {
	case mock.ProviderName:
		var opts []mock.Option
		if cfg.MockGatewayScenariosFile != "" {
			scenarios, err := mock.LoadScenarios(cfg.MockGatewayScenariosFile)
			if err != nil {
				return nil, err
			}
			opts = append(opts, mock.WithScenarios(scenarios))
		}
		return gateway.WithTimeout(mock.New(cfg.PaymentWebhookSecret, opts...), cfg.GatewayTimeout, metrics), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", cfg.PaymentProvider)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	if a == nil {
		return
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil && a.Logger != nil {
		a.Logger.Warn("failed to release resources", "error", err)
	}
	sentry.Flush(2 * time.Second)
}
