package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/cache"
	"github.com/gitshopapp/commerce/internal/catalog"
	"github.com/gitshopapp/commerce/internal/crypto"
	"github.com/gitshopapp/commerce/internal/gateway/mock"
	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/ledger/memory"
	"github.com/gitshopapp/commerce/internal/models"
)

const testWebhookSecret = "whsec_services_test"

var (
	customer = auth.Principal{ID: "user-1", Role: auth.RoleCustomer, Email: "buyer@example.com"}
	stranger = auth.Principal{ID: "user-2", Role: auth.RoleCustomer, Email: "other@example.com"}
	admin    = auth.Principal{ID: "admin-1", Role: auth.RoleAdmin}
	guest    = auth.Principal{ID: "sess-1", Role: auth.RoleGuest}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []string
	refunds []decimal.Decimal
}

func (n *recordingNotifier) record(kind string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, kind)
}

func (n *recordingNotifier) OrderConfirmed(context.Context, *models.Order) error {
	n.record("confirmed")
	return nil
}

func (n *recordingNotifier) OrderCancelled(context.Context, *models.Order) error {
	n.record("cancelled")
	return nil
}

func (n *recordingNotifier) OrderShipped(context.Context, *models.Order) error {
	n.record("shipped")
	return nil
}

func (n *recordingNotifier) RefundIssued(_ context.Context, _ *models.Order, amount decimal.Decimal) error {
	n.mu.Lock()
	n.refunds = append(n.refunds, amount)
	n.mu.Unlock()
	n.record("refund")
	return nil
}

func (n *recordingNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

type harness struct {
	store    *memory.Store
	gateway  *mock.Gateway
	clock    *testClock
	notifier *recordingNotifier

	carts    *CartService
	orders   *OrderService
	payments *PaymentService
	webhooks *WebhookService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	sealer, err := crypto.NewSealer(strings.Repeat("k", 32))
	require.NoError(t, err)
	prices, err := catalog.Load("")
	require.NoError(t, err)
	memCache, err := cache.NewMemoryProvider(100)
	require.NoError(t, err)

	h := &harness{
		store:    memory.New(),
		gateway:  mock.New(testWebhookSecret),
		clock:    &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
	}
	deps := Deps{
		Store:    h.store,
		Gateway:  h.gateway,
		Sealer:   sealer,
		Catalog:  prices,
		Cache:    memCache,
		Notifier: h.notifier,
		Now:      h.clock.Now,
	}
	h.carts = NewCartService(deps)
	h.orders = NewOrderService(deps)
	h.payments = NewPaymentService(deps)
	h.webhooks = NewWebhookService(deps)
	return h
}

// scenarioOrder is two 25.00 items with 10% off: 45.00.
func (h *harness) scenarioOrder(t *testing.T, p auth.Principal) *models.Order {
	t.Helper()
	order, err := h.orders.CreateOrder(t.Context(), p, CreateOrderInput{
		LineItems: []LineItemInput{{ProductID: "widget", Title: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("25.00")}},
		Discounts: []DiscountInput{{Code: "TENOFF", Kind: models.DiscountPercentage, Value: decimal.NewFromInt(10)}},
	})
	require.NoError(t, err)
	return order
}

func (h *harness) addMethod(t *testing.T, p auth.Principal, token string) *models.PaymentMethod {
	t.Helper()
	method, err := h.payments.AddPaymentMethod(t.Context(), p, AddPaymentMethodInput{Token: token})
	require.NoError(t, err)
	return method
}

// paidOrder creates the scenario order and pays it in full with token.
func (h *harness) paidOrder(t *testing.T, token string) (*models.Order, *models.PaymentTransaction) {
	t.Helper()
	order := h.scenarioOrder(t, customer)
	method := h.addMethod(t, customer, token)

	tx, err := h.payments.CreatePaymentIntent(t.Context(), customer, CreatePaymentIntentInput{
		OrderID:         &order.ID,
		Amount:          order.Total,
		PaymentMethodID: &method.ID,
	})
	require.NoError(t, err)

	tx, err = h.payments.ConfirmPayment(t.Context(), customer, ConfirmPaymentInput{IntentID: tx.ProviderIntentID})
	require.NoError(t, err)
	require.Equal(t, models.TransactionSucceeded, tx.Status)
	h.gateway.Deliveries()
	return h.order(t, order.ID), tx
}

func (h *harness) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	var order *models.Order
	err := h.store.View(t.Context(), func(q ledger.Queries) error {
		var err error
		order, err = q.GetOrder(t.Context(), id)
		return err
	})
	require.NoError(t, err)
	return order
}

func (h *harness) transaction(t *testing.T, id uuid.UUID) *models.PaymentTransaction {
	t.Helper()
	var tx *models.PaymentTransaction
	err := h.store.View(t.Context(), func(q ledger.Queries) error {
		var err error
		tx, err = q.GetTransaction(t.Context(), id)
		return err
	})
	require.NoError(t, err)
	return tx
}

func (h *harness) eventTypes(t *testing.T, orderID uuid.UUID) []string {
	t.Helper()
	list, err := h.orders.ListOrderEvents(t.Context(), admin, orderID)
	require.NoError(t, err)
	types := make([]string, len(list))
	for i, e := range list {
		types[i] = e.Type
	}
	return types
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func countOf(list []string, want string) int {
	n := 0
	for _, v := range list {
		if v == want {
			n++
		}
	}
	return n
}
