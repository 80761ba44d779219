package services

import (
	"errors"
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/models"
)

var orderNumberPattern = regexp.MustCompile(`^ORD-20260314-[0-9A-Z]{8}$`)

func TestCreateOrderTotals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     CreateOrderInput
		subtotal  string
		discount  string
		total     string
		discounts int
	}{
		{
			name: "percentage discount",
			input: CreateOrderInput{
				LineItems: []LineItemInput{{ProductID: "widget", Quantity: 2, UnitPrice: dec("25.00")}},
				Discounts: []DiscountInput{{Code: "tenoff", Kind: models.DiscountPercentage, Value: dec("10")}},
			},
			subtotal: "50", discount: "5", total: "45", discounts: 1,
		},
		{
			name: "tax shipping and free shipping",
			input: CreateOrderInput{
				LineItems: []LineItemInput{
					{ProductID: "a", Quantity: 1, UnitPrice: dec("19.99")},
					{ProductID: "b", Quantity: 3, UnitPrice: dec("5.00")},
				},
				Discounts: []DiscountInput{{Code: "SHIPFREE", Kind: models.DiscountShipping, Value: dec("100")}},
				Tax:       dec("2.80"),
				Shipping:  dec("6.50"),
			},
			subtotal: "34.99", discount: "6.5", total: "37.79", discounts: 1,
		},
		{
			name: "fixed discount capped at subtotal",
			input: CreateOrderInput{
				LineItems: []LineItemInput{{ProductID: "a", Quantity: 1, UnitPrice: dec("10.00")}},
				Discounts: []DiscountInput{{Code: "BIG", Kind: models.DiscountFixedAmount, Value: dec("30")}},
				Tax:       dec("1.00"),
			},
			subtotal: "10", discount: "10", total: "1", discounts: 1,
		},
		{
			name: "no discounts",
			input: CreateOrderInput{
				LineItems: []LineItemInput{{ProductID: "a", Quantity: 4, UnitPrice: dec("0.25")}},
			},
			subtotal: "1", discount: "0", total: "1",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			order, err := h.orders.CreateOrder(t.Context(), customer, tc.input)
			require.NoError(t, err)

			assert.True(t, order.Subtotal.Equal(dec(tc.subtotal)), "subtotal %s", order.Subtotal)
			assert.True(t, order.Discount.Equal(dec(tc.discount)), "discount %s", order.Discount)
			assert.True(t, order.Total.Equal(dec(tc.total)), "total %s", order.Total)
			assert.True(t, order.BalanceHolds())
			assert.Len(t, order.Discounts, tc.discounts)
			assert.Regexp(t, orderNumberPattern, order.OrderNumber)
			assert.Equal(t, models.StatusPending, order.Status)
			assert.Equal(t, models.FinancialPending, order.FinancialStatus)
			assert.Equal(t, "USD", order.Currency)
			assert.Equal(t, customer.Email, order.Email)

			stored := h.order(t, order.ID)
			assert.Equal(t, order.OrderNumber, stored.OrderNumber)
			assert.Len(t, stored.LineItems, len(tc.input.LineItems))
			assert.Equal(t, []string{models.EventOrderCreated}, h.eventTypes(t, order.ID))
		})
	}
}

func TestCreateOrderFreezesDiscountAmounts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	order := h.scenarioOrder(t, customer)
	require.Len(t, order.Discounts, 1)
	d := order.Discounts[0]
	assert.Equal(t, "TENOFF", d.Code)
	assert.True(t, d.Value.Equal(decimal.NewFromInt(10)))
	assert.True(t, d.Amount.Equal(dec("5.00")))
	assert.Equal(t, order.ID, d.OrderID)
	assert.True(t, order.Total.Equal(dec("45.00")))
	assert.Equal(t, []string{"confirmed"}, h.notifier.Sent())
}

func TestCreateOrderIsAtomic(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	boom := errors.New("disk full")
	h.store.FailOn("InsertOrderEvent", boom)

	_, err := h.orders.CreateOrder(t.Context(), customer, CreateOrderInput{
		LineItems: []LineItemInput{{ProductID: "widget", Quantity: 1, UnitPrice: dec("5")}},
	})
	require.ErrorIs(t, err, boom)

	orders, err := h.orders.ListOrders(t.Context(), admin, ListOrdersInput{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, h.notifier.Sent())
}

func TestCreateOrderRetriesNumberCollision(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.FailOn("InsertOrder", ledger.ErrConflict)

	order, err := h.orders.CreateOrder(t.Context(), customer, CreateOrderInput{
		LineItems: []LineItemInput{{ProductID: "widget", Quantity: 1, UnitPrice: dec("5")}},
	})
	require.NoError(t, err)
	assert.Regexp(t, orderNumberPattern, order.OrderNumber)
}

func TestCreateOrderRejects(t *testing.T) {
	t.Parallel()

	valid := []LineItemInput{{ProductID: "widget", Quantity: 1, UnitPrice: dec("5")}}
	tests := []struct {
		name      string
		principal auth.Principal
		input     CreateOrderInput
		want      error
	}{
		{name: "guest", principal: guest, input: CreateOrderInput{LineItems: valid}, want: ErrForbidden},
		{name: "anonymous", principal: auth.Principal{}, input: CreateOrderInput{LineItems: valid}, want: ErrForbidden},
		{name: "no lines", principal: customer, input: CreateOrderInput{}, want: ErrValidation},
		{name: "zero quantity", principal: customer, input: CreateOrderInput{LineItems: []LineItemInput{{ProductID: "w", Quantity: 0, UnitPrice: dec("1")}}}, want: ErrValidation},
		{name: "negative price", principal: customer, input: CreateOrderInput{LineItems: []LineItemInput{{ProductID: "w", Quantity: 1, UnitPrice: dec("-1")}}}, want: ErrValidation},
		{name: "negative tax", principal: customer, input: CreateOrderInput{LineItems: valid, Tax: dec("-1")}, want: ErrValidation},
		{name: "bad currency", principal: customer, input: CreateOrderInput{LineItems: valid, Currency: "XX1"}, want: ErrValidation},
		{name: "bad email", principal: customer, input: CreateOrderInput{LineItems: valid, Email: "nope"}, want: ErrValidation},
		{name: "unknown discount kind", principal: customer, input: CreateOrderInput{LineItems: valid, Discounts: []DiscountInput{{Code: "X", Kind: "bogo", Value: dec("1")}}}, want: ErrValidation},
		{name: "percentage over 100", principal: customer, input: CreateOrderInput{LineItems: valid, Discounts: []DiscountInput{{Code: "X", Kind: models.DiscountPercentage, Value: dec("150")}}}, want: ErrValidation},
		{name: "unstorable price", principal: customer, input: CreateOrderInput{LineItems: []LineItemInput{{ProductID: "w", Quantity: 1, UnitPrice: dec("1e20")}}}, want: ErrValidation},
		{name: "price times quantity overflows", principal: customer, input: CreateOrderInput{LineItems: []LineItemInput{{ProductID: "w", Quantity: 5, UnitPrice: dec("300000000000")}}}, want: ErrValidation},
		{name: "unstorable tax", principal: customer, input: CreateOrderInput{LineItems: valid, Tax: dec("1e13")}, want: ErrValidation},
		{name: "unstorable shipping", principal: customer, input: CreateOrderInput{LineItems: valid, Shipping: dec("1e13")}, want: ErrValidation},
		{name: "duplicate code", principal: customer, input: CreateOrderInput{LineItems: valid, Discounts: []DiscountInput{
			{Code: "X", Kind: models.DiscountFixedAmount, Value: dec("1")},
			{Code: "x", Kind: models.DiscountFixedAmount, Value: dec("1")},
		}}, want: ErrValidation},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			_, err := h.orders.CreateOrder(t.Context(), tc.principal, tc.input)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCheckoutCart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "coffee-house-blend", VariantID: "12oz", Quantity: 2, Properties: grind("Whole Bean")})
	require.NoError(t, err)
	_, err = h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)

	order, err := h.orders.CheckoutCart(ctx, customer, CheckoutInput{})
	require.NoError(t, err)

	assert.True(t, order.Subtotal.Equal(dec("61.00")), "subtotal %s", order.Subtotal)
	assert.True(t, order.Shipping.Equal(dec("5.00")), "shipping %s", order.Shipping)
	assert.True(t, order.Total.Equal(dec("66.00")), "total %s", order.Total)
	require.Len(t, order.LineItems, 2)

	titles := map[string]string{}
	for _, li := range order.LineItems {
		titles[li.SKU] = li.Title
	}
	assert.Equal(t, "House Blend Coffee - 12oz bag", titles["COFFEE_HOUSE_12"])
	assert.Equal(t, "Stoneware Mug", titles["MUG_STONEWARE"])

	cart, err := h.carts.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	_, err = h.orders.CheckoutCart(ctx, customer, CheckoutInput{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCheckoutFreeShippingAndGuest(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "coffee-house-blend", VariantID: "2lb", Quantity: 3, Properties: grind("Ground")})
	require.NoError(t, err)

	order, err := h.orders.CheckoutCart(ctx, customer, CheckoutInput{
		Discounts: []DiscountInput{{Code: "FIVE", Kind: models.DiscountFixedAmount, Value: dec("5")}},
	})
	require.NoError(t, err)
	assert.True(t, order.Shipping.IsZero())
	assert.True(t, order.Total.Equal(dec("121.00")), "total %s", order.Total)

	_, err = h.carts.AddItem(ctx, guest, AddCartItemInput{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)
	_, err = h.orders.CheckoutCart(ctx, guest, CheckoutInput{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCheckoutFailureKeepsCart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)

	h.store.FailOn("InsertOrderEvent", errors.New("disk full"))
	_, err = h.orders.CheckoutCart(ctx, customer, CheckoutInput{})
	require.Error(t, err)

	cart, err := h.carts.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		advanceTo models.OrderStatus
		principal auth.Principal
		want      error
	}{
		{name: "owner cancels pending", principal: customer},
		{name: "owner cancels confirmed", advanceTo: models.StatusConfirmed, principal: customer},
		{name: "admin cancels", principal: admin},
		{name: "stranger", principal: stranger, want: ErrForbidden},
		{name: "guest", principal: guest, want: ErrForbidden},
		{name: "processing", advanceTo: models.StatusProcessing, principal: customer, want: ErrInvalidTransition},
		{name: "shipped", advanceTo: models.StatusShipped, principal: admin, want: ErrInvalidTransition},
		{name: "delivered", advanceTo: models.StatusDelivered, principal: customer, want: ErrInvalidTransition},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			ctx := t.Context()
			order := h.scenarioOrder(t, customer)
			if tc.advanceTo != "" {
				status := tc.advanceTo
				_, err := h.orders.UpdateOrder(ctx, admin, order.ID, UpdateOrderInput{Status: &status})
				require.NoError(t, err)
			}
			before := h.order(t, order.ID)

			cancelled, err := h.orders.CancelOrder(ctx, tc.principal, order.ID, "changed my mind")
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
				assert.Equal(t, before.Status, h.order(t, order.ID).Status, "rejected cancel must not change the order")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.StatusCancelled, cancelled.Status)
			assert.Equal(t, "changed my mind", cancelled.CancelReason)
			require.NotNil(t, cancelled.CancelledAt)
			assert.Equal(t, models.FinancialVoided, cancelled.FinancialStatus)

			list, err := h.orders.ListOrderEvents(ctx, admin, order.ID)
			require.NoError(t, err)
			last := list[len(list)-1]
			assert.Equal(t, models.EventOrderCancelled, last.Type)
			assert.Equal(t, string(before.Status), last.Previous["status"])
			assert.Equal(t, "changed my mind", last.Metadata["reason"])

			_, err = h.orders.CancelOrder(ctx, tc.principal, order.ID, "")
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestUpdateOrderFulfillment(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	order := h.scenarioOrder(t, customer)

	shipped := models.StatusShipped
	carrier, number := "ups", "1Z999AA10123456784"
	updated, err := h.orders.UpdateOrder(ctx, admin, order.ID, UpdateOrderInput{
		Status:          &shipped,
		TrackingCarrier: &carrier,
		TrackingNumber:  &number,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusShipped, updated.Status)
	assert.Equal(t, models.FulfillmentFulfilled, updated.FulfillmentStatus)
	assert.Equal(t, "UPS", updated.TrackingCarrier)
	assert.Contains(t, updated.TrackingURL, number)
	require.NotNil(t, updated.ShippedAt)
	require.NotNil(t, updated.ProcessedAt)
	assert.Contains(t, h.notifier.Sent(), "shipped")

	list, err := h.orders.ListOrderEvents(ctx, customer, order.ID)
	require.NoError(t, err)
	last := list[len(list)-1]
	assert.Equal(t, models.EventOrderUpdated, last.Type)
	assert.Equal(t, "pending", last.Previous["status"])
	assert.Equal(t, "shipped", last.Current["status"])
	assert.Equal(t, "UPS", last.Current["tracking_carrier"])

	// Same values again: nothing changes and no event is written.
	_, err = h.orders.UpdateOrder(ctx, admin, order.ID, UpdateOrderInput{TrackingNumber: &number})
	require.NoError(t, err)
	again, err := h.orders.ListOrderEvents(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Len(t, again, len(list))

	backwards := models.StatusConfirmed
	_, err = h.orders.UpdateOrder(ctx, admin, order.ID, UpdateOrderInput{Status: &backwards})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateOrderRejects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	order := h.scenarioOrder(t, customer)

	refunded := models.StatusRefunded
	_, err := h.orders.UpdateOrder(ctx, admin, order.ID, UpdateOrderInput{Status: &refunded})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	notes := "rush"
	_, err = h.orders.UpdateOrder(ctx, customer, order.ID, UpdateOrderInput{Notes: &notes})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.orders.UpdateOrder(ctx, admin, order.ID, UpdateOrderInput{})
	assert.ErrorIs(t, err, ErrValidation)

	bogus := models.OrderStatus("lost")
	_, err = h.orders.UpdateOrder(ctx, admin, order.ID, UpdateOrderInput{Status: &bogus})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOrderReads(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	mine := h.scenarioOrder(t, customer)
	h.scenarioOrder(t, customer)
	theirs := h.scenarioOrder(t, stranger)

	got, err := h.orders.GetOrder(ctx, customer, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	_, err = h.orders.GetOrder(ctx, customer, theirs.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = h.orders.ListOrderEvents(ctx, customer, theirs.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	list, err := h.orders.ListMyOrders(ctx, customer, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	page, err := h.orders.ListMyOrders(ctx, customer, 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	all, err := h.orders.ListOrders(ctx, admin, ListOrdersInput{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := h.orders.ListOrders(ctx, admin, ListOrdersInput{UserID: stranger.ID})
	require.NoError(t, err)
	assert.Len(t, filtered, 1)

	_, err = h.orders.ListOrders(ctx, customer, ListOrdersInput{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAdminCancelMatchesCustomerCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	viaCancel := h.scenarioOrder(t, customer)
	byCustomer, err := h.orders.CancelOrder(ctx, customer, viaCancel.ID, "")
	require.NoError(t, err)

	viaUpdate := h.scenarioOrder(t, customer)
	cancelled := models.StatusCancelled
	byAdmin, err := h.orders.UpdateOrder(ctx, admin, viaUpdate.ID, UpdateOrderInput{Status: &cancelled})
	require.NoError(t, err)

	assert.Equal(t, models.FinancialVoided, byAdmin.FinancialStatus)
	assert.Equal(t, byCustomer.FinancialStatus, byAdmin.FinancialStatus)
	assert.Equal(t, byCustomer.FulfillmentStatus, byAdmin.FulfillmentStatus)
	require.NotNil(t, byAdmin.CancelledAt)

	types := h.eventTypes(t, viaUpdate.ID)
	assert.Equal(t, models.EventOrderCancelled, types[len(types)-1])
}
