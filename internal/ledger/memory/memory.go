// Package memory is an in-process ledger.Store. Transactions run one at a time
// against a copy of the state that replaces the live state on commit.
package memory

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/models"
)

var errReadOnly = errors.New("write attempted in read-only view")

type Store struct {
	mu     sync.RWMutex
	st     *state
	faults map[string]error
	faultM sync.Mutex
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), faults: map[string]error{}}
}

// FailOn makes the next call to the named query method return err.
func (s *Store) FailOn(method string, err error) {
	s.faultM.Lock()
	defer s.faultM.Unlock()
	s.faults[method] = err
}

func (s *Store) takeFault(method string) error {
	s.faultM.Lock()
	defer s.faultM.Unlock()
	err, ok := s.faults[method]
	if !ok {
		return nil
	}
	delete(s.faults, method)
	return err
}

func (s *Store) InTx(ctx context.Context, fn func(q ledger.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.st.clone()
	if err := fn(&view{store: s, st: draft}); err != nil {
		return err
	}
	s.st = draft
	return nil
}

func (s *Store) View(ctx context.Context, fn func(q ledger.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&view{store: s, st: s.st, readOnly: true})
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type state struct {
	orders       map[uuid.UUID]models.Order
	orderNumbers map[string]uuid.UUID
	orderEvents  map[uuid.UUID][]models.OrderEvent
	carts        map[string]models.Cart
	cartItems    map[uuid.UUID]models.CartLineItem
	customers    map[string]models.PaymentCustomer
	methods      map[uuid.UUID]models.PaymentMethod
	transactions map[uuid.UUID]models.PaymentTransaction
	webhooks     map[string]models.WebhookEvent
	subs         map[string]models.Subscription
}

func newState() *state {
	return &state{
		orders:       map[uuid.UUID]models.Order{},
		orderNumbers: map[string]uuid.UUID{},
		orderEvents:  map[uuid.UUID][]models.OrderEvent{},
		carts:        map[string]models.Cart{},
		cartItems:    map[uuid.UUID]models.CartLineItem{},
		customers:    map[string]models.PaymentCustomer{},
		methods:      map[uuid.UUID]models.PaymentMethod{},
		transactions: map[uuid.UUID]models.PaymentTransaction{},
		webhooks:     map[string]models.WebhookEvent{},
		subs:         map[string]models.Subscription{},
	}
}

// clone copies the maps. Stored values are never mutated in place, so sharing
// their nested slices between generations is safe.
func (st *state) clone() *state {
	events := make(map[uuid.UUID][]models.OrderEvent, len(st.orderEvents))
	for k, v := range st.orderEvents {
		events[k] = append([]models.OrderEvent(nil), v...)
	}
	return &state{
		orders:       maps.Clone(st.orders),
		orderNumbers: maps.Clone(st.orderNumbers),
		orderEvents:  events,
		carts:        maps.Clone(st.carts),
		cartItems:    maps.Clone(st.cartItems),
		customers:    maps.Clone(st.customers),
		methods:      maps.Clone(st.methods),
		transactions: maps.Clone(st.transactions),
		webhooks:     maps.Clone(st.webhooks),
		subs:         maps.Clone(st.subs),
	}
}

type view struct {
	store    *Store
	st       *state
	readOnly bool
}

var _ ledger.Queries = (*view)(nil)

func (v *view) write(method string) error {
	if v.readOnly {
		return errReadOnly
	}
	return v.store.takeFault(method)
}

func (v *view) read(method string) error {
	return v.store.takeFault(method)
}

func key(parts ...string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\x00"
		}
		out += p
	}
	return out
}

// Orders

func (v *view) InsertOrder(ctx context.Context, order *models.Order) error {
	if err := v.write("InsertOrder"); err != nil {
		return err
	}
	if _, exists := v.st.orderNumbers[order.OrderNumber]; exists {
		return ledger.ErrConflict
	}
	if _, exists := v.st.orders[order.ID]; exists {
		return ledger.ErrConflict
	}
	v.st.orders[order.ID] = *order.Clone()
	v.st.orderNumbers[order.OrderNumber] = order.ID
	return nil
}

func (v *view) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if err := v.read("GetOrder"); err != nil {
		return nil, err
	}
	order, ok := v.st.orders[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return order.Clone(), nil
}

func (v *view) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return v.GetOrder(ctx, id)
}

func (v *view) UpdateOrder(ctx context.Context, order *models.Order) error {
	if err := v.write("UpdateOrder"); err != nil {
		return err
	}
	existing, ok := v.st.orders[order.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	updated := order.Clone()
	updated.LineItems = existing.LineItems
	updated.Discounts = existing.Discounts
	updated.OrderNumber = existing.OrderNumber
	v.st.orders[order.ID] = *updated
	return nil
}

func (v *view) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	if err := v.read("ListOrders"); err != nil {
		return nil, err
	}
	var out []*models.Order
	for _, order := range v.st.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		out = append(out, order.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderNumber > out[j].OrderNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (v *view) InsertOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	if err := v.write("InsertOrderEvent"); err != nil {
		return err
	}
	if _, ok := v.st.orders[event.OrderID]; !ok {
		return ledger.ErrNotFound
	}
	v.st.orderEvents[event.OrderID] = append(v.st.orderEvents[event.OrderID], *event)
	return nil
}

func (v *view) ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error) {
	if err := v.read("ListOrderEvents"); err != nil {
		return nil, err
	}
	return append([]models.OrderEvent(nil), v.st.orderEvents[orderID]...), nil
}

// Carts

func (v *view) LockCart(ctx context.Context, ownerKey string) (*models.Cart, error) {
	if err := v.write("LockCart"); err != nil {
		return nil, err
	}
	cart, ok := v.st.carts[ownerKey]
	if !ok {
		now := time.Now().UTC()
		cart = models.Cart{ID: uuid.New(), OwnerKey: ownerKey, CreatedAt: now, UpdatedAt: now}
		v.st.carts[ownerKey] = cart
	}
	return v.withItems(cart), nil
}

func (v *view) GetCart(ctx context.Context, ownerKey string) (*models.Cart, error) {
	if err := v.read("GetCart"); err != nil {
		return nil, err
	}
	cart, ok := v.st.carts[ownerKey]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return v.withItems(cart), nil
}

func (v *view) withItems(cart models.Cart) *models.Cart {
	cart.Items = nil
	for _, item := range v.st.cartItems {
		if item.CartID == cart.ID {
			cart.Items = append(cart.Items, item)
		}
	}
	sort.Slice(cart.Items, func(i, j int) bool {
		return cart.Items[i].CreatedAt.Before(cart.Items[j].CreatedAt)
	})
	return &cart
}

func (v *view) TouchCart(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error {
	if err := v.write("TouchCart"); err != nil {
		return err
	}
	for owner, cart := range v.st.carts {
		if cart.ID == cartID {
			cart.ExpiresAt = expiresAt
			cart.UpdatedAt = time.Now().UTC()
			v.st.carts[owner] = cart
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (v *view) FindCartItem(ctx context.Context, cartID uuid.UUID, productID, variantID string) (*models.CartLineItem, error) {
	if err := v.read("FindCartItem"); err != nil {
		return nil, err
	}
	for _, item := range v.st.cartItems {
		if item.CartID == cartID && item.ProductID == productID && item.VariantID == variantID {
			return &item, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (v *view) GetCartItem(ctx context.Context, itemID uuid.UUID) (*models.CartLineItem, error) {
	if err := v.read("GetCartItem"); err != nil {
		return nil, err
	}
	item, ok := v.st.cartItems[itemID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &item, nil
}

func (v *view) InsertCartItem(ctx context.Context, item *models.CartLineItem) error {
	if err := v.write("InsertCartItem"); err != nil {
		return err
	}
	for _, existing := range v.st.cartItems {
		if existing.CartID == item.CartID && existing.ProductID == item.ProductID && existing.VariantID == item.VariantID {
			return ledger.ErrConflict
		}
	}
	v.st.cartItems[item.ID] = *item
	return nil
}

func (v *view) UpdateCartItem(ctx context.Context, item *models.CartLineItem) error {
	if err := v.write("UpdateCartItem"); err != nil {
		return err
	}
	if _, ok := v.st.cartItems[item.ID]; !ok {
		return ledger.ErrNotFound
	}
	v.st.cartItems[item.ID] = *item
	return nil
}

func (v *view) DeleteCartItem(ctx context.Context, itemID uuid.UUID) error {
	if err := v.write("DeleteCartItem"); err != nil {
		return err
	}
	if _, ok := v.st.cartItems[itemID]; !ok {
		return ledger.ErrNotFound
	}
	delete(v.st.cartItems, itemID)
	return nil
}

func (v *view) DeleteCartItems(ctx context.Context, cartID uuid.UUID) error {
	if err := v.write("DeleteCartItems"); err != nil {
		return err
	}
	for id, item := range v.st.cartItems {
		if item.CartID == cartID {
			delete(v.st.cartItems, id)
		}
	}
	return nil
}

// Payments

func (v *view) GetCustomer(ctx context.Context, userID, provider string) (*models.PaymentCustomer, error) {
	if err := v.read("GetCustomer"); err != nil {
		return nil, err
	}
	customer, ok := v.st.customers[key(userID, provider)]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &customer, nil
}

func (v *view) InsertCustomer(ctx context.Context, customer *models.PaymentCustomer) error {
	if err := v.write("InsertCustomer"); err != nil {
		return err
	}
	k := key(customer.UserID, customer.Provider)
	if _, exists := v.st.customers[k]; exists {
		return ledger.ErrConflict
	}
	v.st.customers[k] = *customer
	return nil
}

func (v *view) InsertPaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	if err := v.write("InsertPaymentMethod"); err != nil {
		return err
	}
	if method.IsDefault {
		for _, existing := range v.st.methods {
			if existing.UserID == method.UserID && existing.IsDefault {
				return ledger.ErrConflict
			}
		}
	}
	v.st.methods[method.ID] = *method
	return nil
}

func (v *view) GetPaymentMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	if err := v.read("GetPaymentMethod"); err != nil {
		return nil, err
	}
	method, ok := v.st.methods[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &method, nil
}

func (v *view) ListPaymentMethods(ctx context.Context, userID string) ([]models.PaymentMethod, error) {
	if err := v.read("ListPaymentMethods"); err != nil {
		return nil, err
	}
	var out []models.PaymentMethod
	for _, method := range v.st.methods {
		if method.UserID == userID {
			out = append(out, method)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *view) LockPaymentMethods(ctx context.Context, userID string) ([]models.PaymentMethod, error) {
	return v.ListPaymentMethods(ctx, userID)
}

func (v *view) SetDefaultPaymentMethod(ctx context.Context, userID string, id uuid.UUID) error {
	if err := v.write("SetDefaultPaymentMethod"); err != nil {
		return err
	}
	target, ok := v.st.methods[id]
	if !ok || target.UserID != userID {
		return ledger.ErrNotFound
	}
	for mid, method := range v.st.methods {
		if method.UserID != userID {
			continue
		}
		method.IsDefault = mid == id
		v.st.methods[mid] = method
	}
	return nil
}

func (v *view) DeletePaymentMethod(ctx context.Context, id uuid.UUID) error {
	if err := v.write("DeletePaymentMethod"); err != nil {
		return err
	}
	if _, ok := v.st.methods[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(v.st.methods, id)
	return nil
}

func (v *view) InsertTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	if err := v.write("InsertTransaction"); err != nil {
		return err
	}
	if _, exists := v.st.transactions[tx.ID]; exists {
		return ledger.ErrConflict
	}
	v.st.transactions[tx.ID] = *tx
	return nil
}

func (v *view) GetTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	if err := v.read("GetTransaction"); err != nil {
		return nil, err
	}
	tx, ok := v.st.transactions[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &tx, nil
}

func (v *view) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return v.GetTransaction(ctx, id)
}

func (v *view) GetPaymentByIntent(ctx context.Context, provider, intentID string) (*models.PaymentTransaction, error) {
	if err := v.read("GetPaymentByIntent"); err != nil {
		return nil, err
	}
	for _, tx := range v.st.transactions {
		if tx.Provider == provider && tx.ProviderIntentID == intentID && tx.Type == models.TransactionPayment {
			return &tx, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (v *view) GetTransactionByProviderRef(ctx context.Context, provider, providerTransactionID string) (*models.PaymentTransaction, error) {
	if err := v.read("GetTransactionByProviderRef"); err != nil {
		return nil, err
	}
	for _, tx := range v.st.transactions {
		if tx.Provider == provider && tx.ProviderTransactionID == providerTransactionID {
			return &tx, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (v *view) UpdateTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	if err := v.write("UpdateTransaction"); err != nil {
		return err
	}
	if _, ok := v.st.transactions[tx.ID]; !ok {
		return ledger.ErrNotFound
	}
	v.st.transactions[tx.ID] = *tx
	return nil
}

func (v *view) ListTransactionsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error) {
	if err := v.read("ListTransactionsByOrder"); err != nil {
		return nil, err
	}
	var out []models.PaymentTransaction
	for _, tx := range v.st.transactions {
		if tx.OrderID != nil && *tx.OrderID == orderID {
			out = append(out, tx)
		}
	}
	sortTransactions(out)
	return out, nil
}

func (v *view) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]models.PaymentTransaction, error) {
	if err := v.read("ListTransactionsByUser"); err != nil {
		return nil, err
	}
	var out []models.PaymentTransaction
	for _, tx := range v.st.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sortTransactions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortTransactions(txs []models.PaymentTransaction) {
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
}

func (v *view) SumRefunds(ctx context.Context, parentID uuid.UUID) (decimal.Decimal, error) {
	if err := v.read("SumRefunds"); err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, tx := range v.st.transactions {
		if tx.ParentTransactionID == nil || *tx.ParentTransactionID != parentID {
			continue
		}
		if tx.Type.IsRefund() && tx.Status.Reserves() {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}

func (v *view) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := v.write("UpsertSubscription"); err != nil {
		return err
	}
	k := key(sub.Provider, sub.ProviderSubscriptionID)
	if existing, ok := v.st.subs[k]; ok {
		sub.ID = existing.ID
	}
	v.st.subs[k] = *sub
	return nil
}

func (v *view) GetSubscription(ctx context.Context, provider, providerSubscriptionID string) (*models.Subscription, error) {
	if err := v.read("GetSubscription"); err != nil {
		return nil, err
	}
	sub, ok := v.st.subs[key(provider, providerSubscriptionID)]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &sub, nil
}

// Webhooks

func (v *view) InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	if err := v.write("InsertWebhookEvent"); err != nil {
		return err
	}
	k := key(event.Provider, event.ProviderEventID)
	if _, exists := v.st.webhooks[k]; exists {
		return ledger.ErrConflict
	}
	v.st.webhooks[k] = *event
	return nil
}

func (v *view) GetWebhookEvent(ctx context.Context, provider, providerEventID string) (*models.WebhookEvent, error) {
	if err := v.read("GetWebhookEvent"); err != nil {
		return nil, err
	}
	event, ok := v.st.webhooks[key(provider, providerEventID)]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &event, nil
}

func (v *view) GetWebhookEventForUpdate(ctx context.Context, provider, providerEventID string) (*models.WebhookEvent, error) {
	return v.GetWebhookEvent(ctx, provider, providerEventID)
}

func (v *view) UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	if err := v.write("UpdateWebhookEvent"); err != nil {
		return err
	}
	k := key(event.Provider, event.ProviderEventID)
	if _, ok := v.st.webhooks[k]; !ok {
		return ledger.ErrNotFound
	}
	v.st.webhooks[k] = *event
	return nil
}

func (v *view) ListRetryableWebhookEvents(ctx context.Context, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	if err := v.read("ListRetryableWebhookEvents"); err != nil {
		return nil, err
	}
	var out []models.WebhookEvent
	for _, event := range v.st.webhooks {
		if event.Status == models.WebhookProcessed || event.Attempts >= maxAttempts || len(event.Data) == 0 {
			continue
		}
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
