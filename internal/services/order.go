package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/events"
	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/models"
	"github.com/gitshopapp/commerce/internal/money"
	"github.com/gitshopapp/commerce/internal/pricing"
)

const (
	orderNumberAttempts = 3
	defaultListLimit    = 50
	maxListLimit        = 200
)

type OrderService struct {
	Deps
	pricer *pricing.Pricer
}

func NewOrderService(deps Deps) *OrderService {
	return &OrderService{Deps: deps.withDefaults(), pricer: pricing.NewPricer()}
}

type LineItemInput struct {
	ProductID  string          `json:"product_id" validate:"required,max=128"`
	VariantID  string          `json:"variant_id" validate:"max=128"`
	SKU        string          `json:"sku" validate:"max=128"`
	Title      string          `json:"title" validate:"max=255"`
	Quantity   int             `json:"quantity" validate:"gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Properties map[string]any  `json:"properties"`
}

type DiscountInput struct {
	Code  string              `json:"code" validate:"required,max=64"`
	Kind  models.DiscountKind `json:"kind" validate:"required,oneof=percentage fixed_amount shipping"`
	Value decimal.Decimal     `json:"value"`
}

type CreateOrderInput struct {
	Email           string          `json:"email" validate:"omitempty,email,max=254"`
	Currency        string          `json:"currency" validate:"omitempty,len=3"`
	LineItems       []LineItemInput `json:"line_items" validate:"required,min=1,max=100,dive"`
	Discounts       []DiscountInput `json:"discounts" validate:"max=10,dive"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	BillingAddress  *models.Address `json:"billing_address"`
	ShippingAddress *models.Address `json:"shipping_address"`
	Notes           string          `json:"notes" validate:"max=2000"`
	Tags            []string        `json:"tags" validate:"max=20,dive,max=64"`
}

// CheckoutInput carries everything CreateOrderInput does except the lines and
// amounts, which come from the cart and the price book.
type CheckoutInput struct {
	Email           string          `json:"email" validate:"omitempty,email,max=254"`
	Discounts       []DiscountInput `json:"discounts" validate:"max=10,dive"`
	BillingAddress  *models.Address `json:"billing_address"`
	ShippingAddress *models.Address `json:"shipping_address"`
	Notes           string          `json:"notes" validate:"max=2000"`
	Tags            []string        `json:"tags" validate:"max=20,dive,max=64"`
}

// UpdateOrderInput is an admin patch; nil fields are left unchanged.
type UpdateOrderInput struct {
	Status          *models.OrderStatus `json:"status"`
	TrackingNumber  *string             `json:"tracking_number" validate:"omitempty,max=128"`
	TrackingCarrier *string             `json:"tracking_carrier" validate:"omitempty,max=64"`
	TrackingURL     *string             `json:"tracking_url" validate:"omitempty,url,max=2048"`
	Notes           *string             `json:"notes" validate:"omitempty,max=2000"`
	Tags            *[]string           `json:"tags" validate:"omitempty,max=20,dive,max=64"`
}

type ListOrdersInput struct {
	UserID string
	Status models.OrderStatus
	Limit  int
	Offset int
}

// CreateOrder prices the supplied lines, freezes each discount against the
// subtotal and inserts the order with its lines, discounts and created event
// in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, p auth.Principal, input CreateOrderInput) (*models.Order, error) {
	ctx, span := startSpan(ctx, "service.order", "create", "CreateOrder")
	defer span.Finish()

	if err := requireUser(p); err != nil {
		return nil, err
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	currency, err := s.currency(input.Currency)
	if err != nil {
		return nil, err
	}
	discounts, err := buildDiscounts(input.Discounts)
	if err != nil {
		return nil, err
	}

	lines := make([]pricing.Line, len(input.LineItems))
	items := make([]models.LineItem, len(input.LineItems))
	for i, li := range input.LineItems {
		if li.UnitPrice.IsNegative() {
			return nil, validationError("line %d: price must not be negative", i)
		}
		lines[i] = pricing.Line{Quantity: li.Quantity, UnitPrice: money.Round(li.UnitPrice, currency)}
		items[i] = models.LineItem{
			ProductID:  li.ProductID,
			VariantID:  li.VariantID,
			SKU:        li.SKU,
			Title:      li.Title,
			Quantity:   li.Quantity,
			UnitPrice:  lines[i].UnitPrice,
			Properties: li.Properties,
		}
		if items[i].Title == "" {
			items[i].Title = li.ProductID
		}
	}

	breakdown, err := s.pricer.Compute(lines, discounts, input.Tax, input.Shipping, currency)
	if err != nil {
		return nil, validationError("%v", err)
	}

	draft := &models.Order{
		UserID:          p.ID,
		Email:           firstNonEmpty(input.Email, p.Email),
		Currency:        currency,
		BillingAddress:  input.BillingAddress,
		ShippingAddress: input.ShippingAddress,
		Notes:           input.Notes,
		Tags:            input.Tags,
		LineItems:       items,
	}
	applyBreakdown(draft, breakdown)

	order, err := s.insertWithNumber(ctx, p, draft, "direct", nil)
	if err != nil {
		return nil, err
	}
	s.afterCreate(ctx, order, "direct")
	return order, nil
}

// CheckoutCart prices the caller's cart against the catalog, creates the order
// and empties the cart in the same transaction.
func (s *OrderService) CheckoutCart(ctx context.Context, p auth.Principal, input CheckoutInput) (*models.Order, error) {
	ctx, span := startSpan(ctx, "service.order", "checkout", "CheckoutCart")
	defer span.Finish()

	if err := requireUser(p); err != nil {
		return nil, err
	}
	if s.Catalog == nil {
		return nil, validationError("checkout is not available without a catalog")
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	discounts, err := buildDiscounts(input.Discounts)
	if err != nil {
		return nil, err
	}
	currency := s.Catalog.Currency()

	prepare := func(ctx context.Context, q ledger.Queries, order *models.Order) error {
		cart, err := lockLiveCart(ctx, q, p.OwnerKey(), s.now())
		if err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return validationError("cart is empty")
		}

		lines := make([]pricing.Line, len(cart.Items))
		order.LineItems = make([]models.LineItem, len(cart.Items))
		for i, ci := range cart.Items {
			priced, err := s.Catalog.Price(ci.ProductID, ci.VariantID, ci.Properties)
			if err != nil {
				return validationError("%v", err)
			}
			lines[i] = pricing.Line{Quantity: ci.Quantity, UnitPrice: priced.UnitPrice}
			order.LineItems[i] = models.LineItem{
				ProductID:  priced.ProductID,
				VariantID:  priced.VariantID,
				SKU:        priced.SKU,
				Title:      priced.Title,
				Quantity:   ci.Quantity,
				UnitPrice:  priced.UnitPrice,
				Properties: ci.Properties,
			}
		}

		subtotal := decimal.Zero
		for _, line := range lines {
			subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		breakdown, err := s.pricer.Compute(lines, discounts, decimal.Zero, s.Catalog.Shipping(subtotal), currency)
		if err != nil {
			return validationError("%v", err)
		}
		applyBreakdown(order, breakdown)

		if err := q.DeleteCartItems(ctx, cart.ID); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}
		return nil
	}

	draft := &models.Order{
		UserID:          p.ID,
		Email:           firstNonEmpty(input.Email, p.Email),
		Currency:        currency,
		BillingAddress:  input.BillingAddress,
		ShippingAddress: input.ShippingAddress,
		Notes:           input.Notes,
		Tags:            input.Tags,
	}
	order, err := s.insertWithNumber(ctx, p, draft, "checkout", prepare)
	if err != nil {
		return nil, err
	}
	s.afterCreate(ctx, order, "checkout")
	return order, nil
}

// insertWithNumber assigns identifiers and an order number and inserts the
// order, retrying with a fresh number when the store reports a collision.
// prepare, when set, runs first inside the same transaction.
func (s *OrderService) insertWithNumber(ctx context.Context, p auth.Principal, draft *models.Order, source string, prepare func(context.Context, ledger.Queries, *models.Order) error) (*models.Order, error) {
	logger := s.loggerFromContext(ctx)
	actor, actorID := actorFor(p)

	for attempt := 1; ; attempt++ {
		order := draft.Clone()
		now := s.now()

		err := s.Store.InTx(ctx, func(q ledger.Queries) error {
			if prepare != nil {
				if err := prepare(ctx, q, order); err != nil {
					return err
				}
			}
			if !order.BalanceHolds() {
				return fmt.Errorf("order totals do not balance: %s", order.Total)
			}

			order.ID = uuid.New()
			order.OrderNumber = newOrderNumber(now)
			order.Status = models.StatusPending
			order.FinancialStatus = models.FinancialPending
			order.FulfillmentStatus = models.FulfillmentUnfulfilled
			order.CreatedAt = now
			order.UpdatedAt = now
			if order.Tags == nil {
				order.Tags = []string{}
			}
			for i := range order.LineItems {
				order.LineItems[i].ID = uuid.New()
				order.LineItems[i].OrderID = order.ID
			}
			for i := range order.Discounts {
				order.Discounts[i].ID = uuid.New()
				order.Discounts[i].OrderID = order.ID
			}

			if err := q.InsertOrder(ctx, order); err != nil {
				return err
			}

			event := newOrderEvent(order.ID, models.EventOrderCreated, actor, actorID, now)
			event.Current = orderSnapshot(order)
			event.Metadata = map[string]any{"source": source}
			return q.InsertOrderEvent(ctx, event)
		})
		if err == nil {
			return order, nil
		}
		if errors.Is(err, ledger.ErrConflict) && attempt < orderNumberAttempts {
			logger.Warn("order number collision, retrying", "attempt", attempt)
			continue
		}
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrForbidden) {
			return nil, err
		}
		return nil, storeError(err, "failed to create order")
	}
}

func (s *OrderService) afterCreate(ctx context.Context, order *models.Order, source string) {
	s.Metrics.OrderCreated(source)
	s.loggerFromContext(ctx).Info("order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"total", order.Total.String(),
		"currency", order.Currency,
		"source", source)
	s.notify(ctx, "order_confirmation", func() error { return s.Notifier.OrderConfirmed(ctx, order) })
	s.publish(ctx, order.ID.String()+":created", events.OrderCreated, order.CreatedAt, order)
}

// CancelOrder moves a pending or confirmed order to cancelled. Owners may
// cancel their own orders; admins may cancel any.
func (s *OrderService) CancelOrder(ctx context.Context, p auth.Principal, id uuid.UUID, reason string) (*models.Order, error) {
	ctx, span := startSpan(ctx, "service.order", "cancel", "CancelOrder")
	defer span.Finish()

	if err := requireUser(p); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return nil, validationError("reason must be at most 500 characters")
	}

	var (
		order    *models.Order
		previous models.OrderStatus
		event    *models.OrderEvent
	)
	err := s.Store.InTx(ctx, func(q ledger.Queries) error {
		var err error
		order, err = q.GetOrderForUpdate(ctx, id)
		if err != nil {
			return storeError(err, "order")
		}
		if err := authorizeOrder(p, order); err != nil {
			return err
		}
		if !models.CanTransition(order.Status, models.StatusCancelled) {
			return fmt.Errorf("%w: cannot cancel an order that is %s", ErrInvalidTransition, order.Status)
		}

		now := s.now()
		previous = order.Status
		applyStatus(order, models.StatusCancelled, now)
		order.CancelReason = reason
		order.UpdatedAt = now
		if err := q.UpdateOrder(ctx, order); err != nil {
			return storeError(err, "order")
		}

		actor, actorID := actorFor(p)
		event = newOrderEvent(order.ID, models.EventOrderCancelled, actor, actorID, now)
		event.Previous = map[string]any{"status": string(previous)}
		event.Current = map[string]any{"status": string(order.Status)}
		if reason != "" {
			event.Metadata = map[string]any{"reason": reason}
		}
		return q.InsertOrderEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.OrderTransition(string(previous), string(models.StatusCancelled))
	s.loggerFromContext(ctx).Info("order cancelled", "order_id", order.ID, "previous_status", previous)
	s.notify(ctx, "order_cancelled", func() error { return s.Notifier.OrderCancelled(ctx, order) })
	s.publish(ctx, event.ID.String(), events.OrderCancelled, event.CreatedAt, order)
	return order, nil
}

// UpdateOrder applies an admin patch. Status may move forward along the
// fulfillment path or to cancelled where that is legal; refunded is reached
// only through refunds. The event records the before and after of every
// changed field.
func (s *OrderService) UpdateOrder(ctx context.Context, p auth.Principal, id uuid.UUID, input UpdateOrderInput) (*models.Order, error) {
	ctx, span := startSpan(ctx, "service.order", "update", "UpdateOrder")
	defer span.Finish()

	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if input == (UpdateOrderInput{}) {
		return nil, validationError("nothing to update")
	}
	if input.Status != nil {
		if !input.Status.Valid() {
			return nil, validationError("unknown status %q", *input.Status)
		}
		if *input.Status == models.StatusRefunded {
			return nil, fmt.Errorf("%w: orders become refunded through refunds", ErrInvalidTransition)
		}
	}

	var (
		order    *models.Order
		before   *models.Order
		event    *models.OrderEvent
		previous models.OrderStatus
	)
	err := s.Store.InTx(ctx, func(q ledger.Queries) error {
		var err error
		order, err = q.GetOrderForUpdate(ctx, id)
		if err != nil {
			return storeError(err, "order")
		}
		before = order.Clone()
		previous = order.Status
		now := s.now()

		if input.Status != nil && *input.Status != order.Status {
			if !models.CanTransition(order.Status, *input.Status) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, *input.Status)
			}
			applyStatus(order, *input.Status, now)
		}
		if input.TrackingCarrier != nil {
			order.TrackingCarrier = NormalizeCarrierName(*input.TrackingCarrier)
		}
		if input.TrackingNumber != nil {
			order.TrackingNumber = strings.TrimSpace(*input.TrackingNumber)
		}
		if input.TrackingURL != nil {
			order.TrackingURL = strings.TrimSpace(*input.TrackingURL)
		} else if input.TrackingNumber != nil || input.TrackingCarrier != nil {
			if url := BuildTrackingURL(order.TrackingCarrier, order.TrackingNumber); url != "" {
				order.TrackingURL = url
			}
		}
		if input.Notes != nil {
			order.Notes = *input.Notes
		}
		if input.Tags != nil {
			order.Tags = append([]string{}, (*input.Tags)...)
		}

		prev, curr := diffOrders(before, order)
		if len(curr) == 0 {
			return nil
		}

		order.UpdatedAt = now
		if err := q.UpdateOrder(ctx, order); err != nil {
			return storeError(err, "order")
		}

		eventType := models.EventOrderUpdated
		if order.Status == models.StatusCancelled {
			eventType = models.EventOrderCancelled
		}
		event = newOrderEvent(order.ID, eventType, models.ActorAdmin, p.ID, now)
		event.Previous = prev
		event.Current = curr
		return q.InsertOrderEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	if event == nil {
		return order, nil
	}

	logger := s.loggerFromContext(ctx)
	if order.Status != previous {
		s.Metrics.OrderTransition(string(previous), string(order.Status))
		logger.Info("order status updated", "order_id", order.ID, "from", previous, "to", order.Status)
		switch order.Status {
		case models.StatusShipped:
			s.notify(ctx, "order_shipped", func() error { return s.Notifier.OrderShipped(ctx, order) })
		case models.StatusCancelled:
			s.notify(ctx, "order_cancelled", func() error { return s.Notifier.OrderCancelled(ctx, order) })
		}
	}

	busType := events.OrderUpdated
	if order.Status == models.StatusCancelled && previous != models.StatusCancelled {
		busType = events.OrderCancelled
	}
	s.publish(ctx, event.ID.String(), busType, event.CreatedAt, order)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, p auth.Principal, id uuid.UUID) (*models.Order, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.Store.View(ctx, func(q ledger.Queries) error {
		var err error
		order, err = q.GetOrder(ctx, id)
		return err
	})
	if err != nil {
		return nil, storeError(err, "order")
	}
	if err := authorizeOrder(p, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) ListMyOrders(ctx context.Context, p auth.Principal, limit, offset int) ([]*models.Order, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}
	return s.listOrders(ctx, models.OrderFilter{UserID: p.ID, Limit: limit, Offset: offset})
}

// ListOrders is the admin listing across all users.
func (s *OrderService) ListOrders(ctx context.Context, p auth.Principal, input ListOrdersInput) ([]*models.Order, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	if input.Status != "" && !input.Status.Valid() {
		return nil, validationError("unknown status %q", input.Status)
	}
	return s.listOrders(ctx, models.OrderFilter{
		UserID: input.UserID,
		Status: input.Status,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
}

func (s *OrderService) listOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	filter.Limit = min(filter.Limit, maxListLimit)
	filter.Offset = max(filter.Offset, 0)

	var orders []*models.Order
	err := s.Store.View(ctx, func(q ledger.Queries) error {
		var err error
		orders, err = q.ListOrders(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	return orders, nil
}

// ListOrderEvents returns the audit trail of an order the caller may read.
func (s *OrderService) ListOrderEvents(ctx context.Context, p auth.Principal, id uuid.UUID) ([]models.OrderEvent, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}

	var list []models.OrderEvent
	err := s.Store.View(ctx, func(q ledger.Queries) error {
		order, err := q.GetOrder(ctx, id)
		if err != nil {
			return storeError(err, "order")
		}
		if err := authorizeOrder(p, order); err != nil {
			return err
		}
		list, err = q.ListOrderEvents(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.OrderEvent{}
	}
	return list, nil
}

func (s *OrderService) currency(requested string) (string, error) {
	if requested == "" {
		requested = s.Currency
	}
	currency, err := money.NormalizeCurrency(requested)
	if err != nil {
		return "", validationError("%v", err)
	}
	return currency, nil
}

func authorizeOrder(p auth.Principal, order *models.Order) error {
	if p.IsAdmin() || (p.ID != "" && !p.IsGuest() && order.UserID == p.ID) {
		return nil
	}
	return fmt.Errorf("%w: order belongs to another user", ErrForbidden)
}

func buildDiscounts(inputs []DiscountInput) ([]pricing.Discount, error) {
	out := make([]pricing.Discount, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		code := strings.ToUpper(strings.TrimSpace(in.Code))
		if seen[code] {
			return nil, validationError("discount %s applied more than once", code)
		}
		seen[code] = true

		d, err := pricing.NewDiscount(code, in.Kind, in.Value)
		if err != nil {
			return nil, validationError("%v", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func applyBreakdown(order *models.Order, b *pricing.Breakdown) {
	for i := range order.LineItems {
		order.LineItems[i].LineTotal = b.LineTotals[i]
	}
	order.Subtotal = b.Subtotal
	order.Tax = b.Tax
	order.Shipping = b.Shipping
	order.Discount = b.Discount
	order.Total = b.Total
	order.Discounts = b.Discounts
}

// applyStatus sets the status with its timestamps and fulfillment status.
// Skipped fulfillment steps get the same timestamp. Cancelling an order that
// has taken no money voids it.
func applyStatus(order *models.Order, to models.OrderStatus, now time.Time) {
	stamp := func(t **time.Time) {
		if *t == nil {
			ts := now
			*t = &ts
		}
	}
	switch to {
	case models.StatusProcessing:
		stamp(&order.ProcessedAt)
	case models.StatusShipped:
		stamp(&order.ProcessedAt)
		stamp(&order.ShippedAt)
	case models.StatusDelivered:
		stamp(&order.ProcessedAt)
		stamp(&order.ShippedAt)
		stamp(&order.DeliveredAt)
	case models.StatusCancelled:
		stamp(&order.CancelledAt)
		if order.FinancialStatus == models.FinancialPending || order.FinancialStatus == models.FinancialAuthorized {
			order.FinancialStatus = models.FinancialVoided
		}
	}
	order.Status = to
	order.FulfillmentStatus = models.FulfillmentFor(to, order.FulfillmentStatus)
}

// orderSnapshot is the subset of order state recorded on audit events.
func orderSnapshot(o *models.Order) map[string]any {
	return map[string]any{
		"order_number":       o.OrderNumber,
		"status":             string(o.Status),
		"financial_status":   string(o.FinancialStatus),
		"fulfillment_status": string(o.FulfillmentStatus),
		"subtotal":           o.Subtotal.String(),
		"tax":                o.Tax.String(),
		"shipping":           o.Shipping.String(),
		"discount":           o.Discount.String(),
		"total":              o.Total.String(),
		"currency":           o.Currency,
		"line_items":         len(o.LineItems),
	}
}

// diffOrders returns the previous and current values of every mutable field
// that differs between a and b.
func diffOrders(a, b *models.Order) (map[string]any, map[string]any) {
	prev, curr := map[string]any{}, map[string]any{}
	add := func(field string, before, after any) {
		prev[field] = before
		curr[field] = after
	}

	if a.Status != b.Status {
		add("status", string(a.Status), string(b.Status))
	}
	if a.FinancialStatus != b.FinancialStatus {
		add("financial_status", string(a.FinancialStatus), string(b.FinancialStatus))
	}
	if a.FulfillmentStatus != b.FulfillmentStatus {
		add("fulfillment_status", string(a.FulfillmentStatus), string(b.FulfillmentStatus))
	}
	if a.TrackingNumber != b.TrackingNumber {
		add("tracking_number", a.TrackingNumber, b.TrackingNumber)
	}
	if a.TrackingCarrier != b.TrackingCarrier {
		add("tracking_carrier", a.TrackingCarrier, b.TrackingCarrier)
	}
	if a.TrackingURL != b.TrackingURL {
		add("tracking_url", a.TrackingURL, b.TrackingURL)
	}
	if a.Notes != b.Notes {
		add("notes", a.Notes, b.Notes)
	}
	if !slices.Equal(a.Tags, b.Tags) {
		add("tags", a.Tags, b.Tags)
	}
	return prev, curr
}

// newOrderNumber returns ORD-YYYYMMDD-XXXXXXXX, the suffix taken from the
// random part of a ULID.
func newOrderNumber(now time.Time) string {
	id := ulid.Make().String()
	return "ORD-" + now.Format("20060102") + "-" + id[len(id)-8:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
