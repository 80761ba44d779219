package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/config"
	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/logging"
	"github.com/gitshopapp/commerce/internal/observability"
	"github.com/gitshopapp/commerce/internal/services"
	"github.com/gitshopapp/commerce/internal/session"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

// Handlers exposes the cart, order, payment and webhook services over HTTP.
type Handlers struct {
	config   *config.Config
	store    ledger.Store
	carts    *services.CartService
	orders   *services.OrderService
	payments *services.PaymentService
	webhooks *services.WebhookService
	verifier *auth.Verifier
	sessions *session.Manager
	metrics  *observability.Metrics
	logger   *slog.Logger
}

type Dependencies struct {
	Config   *config.Config
	Store    ledger.Store
	Carts    *services.CartService
	Orders   *services.OrderService
	Payments *services.PaymentService
	Webhooks *services.WebhookService
	Verifier *auth.Verifier
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("handlers dependencies: store is required")
	}
	if deps.Carts == nil {
		return nil, fmt.Errorf("handlers dependencies: cart service is required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("handlers dependencies: order service is required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("handlers dependencies: payment service is required")
	}
	if deps.Webhooks == nil {
		return nil, fmt.Errorf("handlers dependencies: webhook service is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("handlers dependencies: token verifier is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("handlers dependencies: session manager is required")
	}

	return &Handlers{
		config:   deps.Config,
		store:    deps.Store,
		carts:    deps.Carts,
		orders:   deps.Orders,
		payments: deps.Payments,
		webhooks: deps.Webhooks,
		verifier: deps.Verifier,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.store.Ping(ctx); err != nil {
		logger.Error("ledger health check failed", "error", err)
		http.Error(w, "Ledger unhealthy", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		logger.Error("failed to encode health response", "error", err)
	}
}

// Metrics serves the Prometheus registry.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}
