// Package services implements the cart, order, payment and webhook use cases
// on top of the ledger and the payment gateway.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/cache"
	"github.com/gitshopapp/commerce/internal/catalog"
	"github.com/gitshopapp/commerce/internal/crypto"
	"github.com/gitshopapp/commerce/internal/events"
	"github.com/gitshopapp/commerce/internal/gateway"
	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/logging"
	"github.com/gitshopapp/commerce/internal/models"
	"github.com/gitshopapp/commerce/internal/observability"
)

const (
	defaultCartTTL            = 7 * 24 * time.Hour
	defaultWebhookMaxAttempts = 5
	defaultCurrency           = "USD"
)

// OrderNotifier is told about customer-visible order changes after they
// commit. Failures are logged and never roll anything back.
type OrderNotifier interface {
	OrderConfirmed(ctx context.Context, order *models.Order) error
	OrderCancelled(ctx context.Context, order *models.Order) error
	OrderShipped(ctx context.Context, order *models.Order) error
	RefundIssued(ctx context.Context, order *models.Order, amount decimal.Decimal) error
}

type noopOrderNotifier struct{}

func (noopOrderNotifier) OrderConfirmed(context.Context, *models.Order) error { return nil }
func (noopOrderNotifier) OrderCancelled(context.Context, *models.Order) error { return nil }
func (noopOrderNotifier) OrderShipped(context.Context, *models.Order) error   { return nil }
func (noopOrderNotifier) RefundIssued(context.Context, *models.Order, decimal.Decimal) error {
	return nil
}

// Deps are the collaborators shared by every service. Store is required, and
// Gateway is required by the payment and webhook services; the rest default
// to no-ops.
type Deps struct {
	Store     ledger.Store
	Gateway   gateway.Gateway
	Sealer    crypto.Sealer
	Catalog   *catalog.Pricer
	Cache     cache.Provider
	Notifier  OrderNotifier
	Publisher events.Publisher
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	Now       func() time.Time

	Currency           string
	CartTTL            time.Duration
	WebhookMaxAttempts int
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = noopOrderNotifier{}
	}
	if d.Publisher == nil {
		d.Publisher = events.Noop()
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Currency == "" {
		d.Currency = defaultCurrency
	}
	if d.CartTTL <= 0 {
		d.CartTTL = defaultCartTTL
	}
	if d.WebhookMaxAttempts <= 0 {
		d.WebhookMaxAttempts = defaultWebhookMaxAttempts
	}
	return d
}

func (d Deps) now() time.Time {
	return d.Now().UTC()
}

func (d Deps) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, d.Logger)
}

func actorFor(p auth.Principal) (models.ActorType, string) {
	if p.IsAdmin() {
		return models.ActorAdmin, p.ID
	}
	return models.ActorUser, p.ID
}

func requireUser(p auth.Principal) error {
	if p.ID == "" {
		return ErrForbidden
	}
	if p.IsGuest() {
		return fmt.Errorf("%w: sign in to continue", ErrForbidden)
	}
	return nil
}

func newOrderEvent(orderID uuid.UUID, eventType string, actor models.ActorType, actorID string, at time.Time) *models.OrderEvent {
	return &models.OrderEvent{
		ID:        uuid.New(),
		OrderID:   orderID,
		Type:      eventType,
		ActorType: actor,
		ActorID:   actorID,
		CreatedAt: at,
	}
}

// publish sends a bus event after commit. Delivery is best effort; the audit
// row written in the transaction is the record.
func (d Deps) publish(ctx context.Context, id, eventType string, at time.Time, data any) {
	err := d.Publisher.Publish(ctx, events.Event{
		ID:         id,
		Type:       eventType,
		OccurredAt: at,
		Data:       data,
	})
	if err != nil {
		d.loggerFromContext(ctx).Warn("failed to publish event", "error", err, "type", eventType, "event_id", id)
	}
}

func (d Deps) notify(ctx context.Context, what string, send func() error) {
	if err := send(); err != nil {
		d.loggerFromContext(ctx).Warn("failed to send notification", "error", err, "notification", what)
	}
}

// startSpan opens a manual span named "<opName>.<op>" and returns the context
// that carries it.
func startSpan(ctx context.Context, opName, op, description string) (context.Context, *sentry.Span) {
	span := sentry.StartSpan(
		ctx,
		opName+"."+op,
		sentry.WithOpName(opName),
		sentry.WithDescription(description),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	return span.Context(), span
}
