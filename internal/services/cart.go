package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/models"
)

const maxCartQuantity = 999

type CartService struct {
	Deps
}

func NewCartService(deps Deps) *CartService {
	return &CartService{Deps: deps.withDefaults()}
}

type AddCartItemInput struct {
	ProductID  string         `json:"product_id" validate:"required,max=128"`
	VariantID  string         `json:"variant_id" validate:"max=128"`
	Quantity   int            `json:"quantity" validate:"gt=0,lte=999"`
	Properties map[string]any `json:"properties"`
}

// AddItem merges the line into the caller's cart: an existing line for the
// same product and variant has its quantity increased and its properties
// replaced.
func (s *CartService) AddItem(ctx context.Context, p auth.Principal, input AddCartItemInput) (*models.CartLineItem, error) {
	ctx, span := startSpan(ctx, "service.cart", "add_item", "AddItem")
	defer span.Finish()

	if p.ID == "" {
		return nil, ErrForbidden
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if s.Catalog != nil {
		if _, err := s.Catalog.Price(input.ProductID, input.VariantID, input.Properties); err != nil {
			return nil, validationError("%v", err)
		}
	}

	var result *models.CartLineItem
	err := s.Store.InTx(ctx, func(q ledger.Queries) error {
		now := s.now()
		cart, err := s.lockCart(ctx, q, p)
		if err != nil {
			return err
		}

		item, err := q.FindCartItem(ctx, cart.ID, input.ProductID, input.VariantID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			item = &models.CartLineItem{
				ID:         uuid.New(),
				CartID:     cart.ID,
				ProductID:  input.ProductID,
				VariantID:  input.VariantID,
				Quantity:   input.Quantity,
				Properties: input.Properties,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := q.InsertCartItem(ctx, item); err != nil {
				return storeError(err, "cart item")
			}
		case err != nil:
			return fmt.Errorf("failed to find cart item: %w", err)
		default:
			if item.Quantity+input.Quantity > maxCartQuantity {
				return validationError("quantity cannot exceed %d", maxCartQuantity)
			}
			item.Quantity += input.Quantity
			item.Properties = input.Properties
			item.UpdatedAt = now
			if err := q.UpdateCartItem(ctx, item); err != nil {
				return storeError(err, "cart item")
			}
		}

		result = item
		return q.TouchCart(ctx, cart.ID, now.Add(s.CartTTL))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateItem overwrites a line's quantity; zero removes the line and returns nil.
func (s *CartService) UpdateItem(ctx context.Context, p auth.Principal, itemID uuid.UUID, quantity int) (*models.CartLineItem, error) {
	ctx, span := startSpan(ctx, "service.cart", "update_item", "UpdateItem")
	defer span.Finish()

	if p.ID == "" {
		return nil, ErrForbidden
	}
	if quantity < 0 || quantity > maxCartQuantity {
		return nil, validationError("quantity must be between 0 and %d", maxCartQuantity)
	}

	var result *models.CartLineItem
	err := s.Store.InTx(ctx, func(q ledger.Queries) error {
		now := s.now()
		cart, item, err := s.ownedItem(ctx, q, p, itemID)
		if err != nil {
			return err
		}

		if quantity == 0 {
			if err := q.DeleteCartItem(ctx, item.ID); err != nil {
				return storeError(err, "cart item")
			}
		} else {
			item.Quantity = quantity
			item.UpdatedAt = now
			if err := q.UpdateCartItem(ctx, item); err != nil {
				return storeError(err, "cart item")
			}
			result = item
		}
		return q.TouchCart(ctx, cart.ID, now.Add(s.CartTTL))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *CartService) RemoveItem(ctx context.Context, p auth.Principal, itemID uuid.UUID) error {
	ctx, span := startSpan(ctx, "service.cart", "remove_item", "RemoveItem")
	defer span.Finish()

	if p.ID == "" {
		return ErrForbidden
	}
	return s.Store.InTx(ctx, func(q ledger.Queries) error {
		cart, item, err := s.ownedItem(ctx, q, p, itemID)
		if err != nil {
			return err
		}
		if err := q.DeleteCartItem(ctx, item.ID); err != nil {
			return storeError(err, "cart item")
		}
		return q.TouchCart(ctx, cart.ID, s.now().Add(s.CartTTL))
	})
}

func (s *CartService) Clear(ctx context.Context, p auth.Principal) error {
	ctx, span := startSpan(ctx, "service.cart", "clear", "Clear")
	defer span.Finish()

	if p.ID == "" {
		return ErrForbidden
	}
	return s.Store.InTx(ctx, func(q ledger.Queries) error {
		cart, err := q.LockCart(ctx, p.OwnerKey())
		if err != nil {
			return fmt.Errorf("failed to lock cart: %w", err)
		}
		if err := q.DeleteCartItems(ctx, cart.ID); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}
		return q.TouchCart(ctx, cart.ID, s.now().Add(s.CartTTL))
	})
}

// GetCart returns the caller's cart; a missing or expired cart reads as empty.
func (s *CartService) GetCart(ctx context.Context, p auth.Principal) (*models.Cart, error) {
	if p.ID == "" {
		return nil, ErrForbidden
	}

	var cart *models.Cart
	err := s.Store.View(ctx, func(q ledger.Queries) error {
		var err error
		cart, err = q.GetCart(ctx, p.OwnerKey())
		return err
	})
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return &models.Cart{OwnerKey: p.OwnerKey(), Items: []models.CartLineItem{}}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	if cart.Expired(s.now()) {
		cart.Items = []models.CartLineItem{}
	}
	if cart.Items == nil {
		cart.Items = []models.CartLineItem{}
	}
	return cart, nil
}

// lockCart locks the caller's cart and empties it first if it has expired.
func (s *CartService) lockCart(ctx context.Context, q ledger.Queries, p auth.Principal) (*models.Cart, error) {
	return lockLiveCart(ctx, q, p.OwnerKey(), s.now())
}

func lockLiveCart(ctx context.Context, q ledger.Queries, ownerKey string, now time.Time) (*models.Cart, error) {
	cart, err := q.LockCart(ctx, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}
	if cart.Expired(now) {
		if err := q.DeleteCartItems(ctx, cart.ID); err != nil {
			return nil, fmt.Errorf("failed to clear expired cart: %w", err)
		}
		cart.Items = nil
	}
	return cart, nil
}

// ownedItem locks the caller's cart and loads an item, which must belong to it.
func (s *CartService) ownedItem(ctx context.Context, q ledger.Queries, p auth.Principal, itemID uuid.UUID) (*models.Cart, *models.CartLineItem, error) {
	cart, err := s.lockCart(ctx, q, p)
	if err != nil {
		return nil, nil, err
	}
	item, err := q.GetCartItem(ctx, itemID)
	if err != nil {
		return nil, nil, storeError(err, "cart item")
	}
	if item.CartID != cart.ID {
		return nil, nil, fmt.Errorf("%w: cart item belongs to another cart", ErrForbidden)
	}
	return cart, item, nil
}
