package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitshopapp/commerce/internal/auth"
)

func grind(value string) map[string]any {
	return map[string]any{"grind": value}
}

func TestAddItemMergesQuantities(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	first, err := h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "mug", Quantity: 2})
	require.NoError(t, err)
	second, err := h.carts.AddItem(ctx, customer, AddCartItemInput{
		ProductID:  "mug",
		Quantity:   3,
		Properties: map[string]any{"engraving": "Ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.Quantity)

	cart, err := h.carts.GetCart(ctx, customer)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, "Ada", cart.Items[0].Properties["engraving"])
}

func TestAddItemKeepsVariantsApart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "coffee-house-blend", VariantID: "12oz", Quantity: 1, Properties: grind("Ground")})
	require.NoError(t, err)
	_, err = h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "coffee-house-blend", VariantID: "2lb", Quantity: 1, Properties: grind("Ground")})
	require.NoError(t, err)

	cart, err := h.carts.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

func TestAddItemValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input AddCartItemInput
	}{
		{name: "zero quantity", input: AddCartItemInput{ProductID: "mug", Quantity: 0}},
		{name: "too many", input: AddCartItemInput{ProductID: "mug", Quantity: 1000}},
		{name: "missing product", input: AddCartItemInput{Quantity: 1}},
		{name: "unknown product", input: AddCartItemInput{ProductID: "teapot", Quantity: 1}},
		{name: "inactive product", input: AddCartItemInput{ProductID: "tote", Quantity: 1}},
		{name: "missing variant", input: AddCartItemInput{ProductID: "coffee-house-blend", Quantity: 1, Properties: grind("Ground")}},
		{name: "bad option value", input: AddCartItemInput{ProductID: "coffee-house-blend", VariantID: "12oz", Quantity: 1, Properties: grind("Espresso")}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			_, err := h.carts.AddItem(t.Context(), customer, tc.input)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestAddItemQuantityCap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.carts.AddItem(t.Context(), customer, AddCartItemInput{ProductID: "mug", Quantity: 990})
	require.NoError(t, err)
	_, err = h.carts.AddItem(t.Context(), customer, AddCartItemInput{ProductID: "mug", Quantity: 10})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateAndRemoveItems(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	item, err := h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)

	updated, err := h.carts.UpdateItem(ctx, customer, item.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)

	removed, err := h.carts.UpdateItem(ctx, customer, item.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, removed)

	cart, err := h.carts.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	_, err = h.carts.UpdateItem(ctx, customer, item.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCartItemsBelongToTheirOwner(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	item, err := h.carts.AddItem(ctx, guest, AddCartItemInput{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)

	_, err = h.carts.UpdateItem(ctx, customer, item.ID, 3)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, h.carts.RemoveItem(ctx, customer, item.ID), ErrForbidden)

	mine, err := h.carts.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, mine.Items)

	theirs, err := h.carts.GetCart(ctx, guest)
	require.NoError(t, err)
	require.Len(t, theirs.Items, 1)
	assert.Equal(t, "guest:sess-1", theirs.OwnerKey)
}

func TestClearCart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, h.carts.Clear(ctx, customer))

	cart, err := h.carts.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestExpiredCartReadsEmpty(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	_, err := h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "mug", Quantity: 2})
	require.NoError(t, err)

	h.clock.Advance(defaultCartTTL + time.Minute)

	cart, err := h.carts.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	item, err := h.carts.AddItem(ctx, customer, AddCartItemInput{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, item.Quantity, "expired lines must not be merged into")
}

func TestCartRequiresPrincipal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.carts.GetCart(t.Context(), guest)
	require.NoError(t, err)

	_, err = h.carts.AddItem(t.Context(), auth.Principal{}, AddCartItemInput{ProductID: "mug", Quantity: 1})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestConcurrentAddItemKeepsOneLine(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	const workers = 8
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.carts.AddItem(t.Context(), customer, AddCartItemInput{ProductID: "mug", Quantity: 1}); err != nil {
				t.Errorf("add item: %v", err)
			}
		}()
	}
	wg.Wait()

	cart, err := h.carts.GetCart(t.Context(), customer)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, workers, cart.Items[0].Quantity)
}
