// Package ledger defines the transactional persistence contract for orders,
// carts, payment transactions and webhook events.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("unique constraint violated")
)

// Store runs units of work against the ledger. InTx commits every write made
// through q atomically, or none of them if fn returns an error. View runs reads
// without a transaction.
type Store interface {
	InTx(ctx context.Context, fn func(q Queries) error) error
	View(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}

type Queries interface {
	OrderQueries
	CartQueries
	PaymentQueries
	WebhookQueries
}

type OrderQueries interface {
	// InsertOrder inserts the order row with its line items and discounts.
	InsertOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// GetOrderForUpdate reads the order and holds a row lock until commit.
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// UpdateOrder persists the mutable order fields.
	UpdateOrder(ctx context.Context, order *models.Order) error
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error)
	InsertOrderEvent(ctx context.Context, event *models.OrderEvent) error
	ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error)
}

type CartQueries interface {
	// LockCart returns the owner's cart, creating it if needed, and holds a row lock until commit.
	LockCart(ctx context.Context, ownerKey string) (*models.Cart, error)
	GetCart(ctx context.Context, ownerKey string) (*models.Cart, error)
	TouchCart(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error
	FindCartItem(ctx context.Context, cartID uuid.UUID, productID, variantID string) (*models.CartLineItem, error)
	GetCartItem(ctx context.Context, itemID uuid.UUID) (*models.CartLineItem, error)
	InsertCartItem(ctx context.Context, item *models.CartLineItem) error
	UpdateCartItem(ctx context.Context, item *models.CartLineItem) error
	DeleteCartItem(ctx context.Context, itemID uuid.UUID) error
	DeleteCartItems(ctx context.Context, cartID uuid.UUID) error
}

type PaymentQueries interface {
	GetCustomer(ctx context.Context, userID, provider string) (*models.PaymentCustomer, error)
	InsertCustomer(ctx context.Context, customer *models.PaymentCustomer) error

	InsertPaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	GetPaymentMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, userID string) ([]models.PaymentMethod, error)
	// LockPaymentMethods reads the user's methods holding row locks until commit.
	LockPaymentMethods(ctx context.Context, userID string) ([]models.PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, userID string, id uuid.UUID) error
	DeletePaymentMethod(ctx context.Context, id uuid.UUID) error

	InsertTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	// GetPaymentByIntent returns the payment-type transaction for a provider intent.
	GetPaymentByIntent(ctx context.Context, provider, intentID string) (*models.PaymentTransaction, error)
	GetTransactionByProviderRef(ctx context.Context, provider, providerTransactionID string) (*models.PaymentTransaction, error)
	UpdateTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	ListTransactionsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error)
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]models.PaymentTransaction, error)
	// SumRefunds totals refund amounts against a parent, counting rows in
	// statuses that still reserve part of the refundable balance.
	SumRefunds(ctx context.Context, parentID uuid.UUID) (decimal.Decimal, error)

	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, provider, providerSubscriptionID string) (*models.Subscription, error)
}

type WebhookQueries interface {
	InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	GetWebhookEvent(ctx context.Context, provider, providerEventID string) (*models.WebhookEvent, error)
	GetWebhookEventForUpdate(ctx context.Context, provider, providerEventID string) (*models.WebhookEvent, error)
	UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	// ListRetryableWebhookEvents returns verified events that are pending or
	// failed with fewer than maxAttempts attempts, oldest first.
	ListRetryableWebhookEvents(ctx context.Context, maxAttempts, limit int) ([]models.WebhookEvent, error)
}
