package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gitshopapp/commerce/internal/models"
)

const cartItemColumns = `id, cart_id, product_id, variant_id, quantity, properties, created_at, updated_at`

func scanCartItem(row pgx.Row) (*models.CartLineItem, error) {
	var item models.CartLineItem
	if err := row.Scan(&item.ID, &item.CartID, &item.ProductID, &item.VariantID,
		&item.Quantity, &item.Properties, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &item, nil
}

// LockCart upserts the owner's cart row; the upsert itself takes the row lock
// that serializes concurrent mutations of the same cart.
func (q *queries) LockCart(ctx context.Context, ownerKey string) (*models.Cart, error) {
	var (
		cart      models.Cart
		expiresAt *time.Time
	)
	err := q.db.QueryRow(ctx, `
		INSERT INTO carts (id, owner_key) VALUES ($1, $2)
		ON CONFLICT (owner_key) DO UPDATE SET owner_key = EXCLUDED.owner_key
		RETURNING id, owner_key, created_at, updated_at, expires_at`,
		uuid.New(), ownerKey,
	).Scan(&cart.ID, &cart.OwnerKey, &cart.CreatedAt, &cart.UpdatedAt, &expiresAt)
	if err != nil {
		return nil, fmt.Errorf("lock cart: %w", mapError(err))
	}
	if expiresAt != nil {
		cart.ExpiresAt = *expiresAt
	}
	if err := q.loadCartItems(ctx, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (q *queries) GetCart(ctx context.Context, ownerKey string) (*models.Cart, error) {
	var (
		cart      models.Cart
		expiresAt *time.Time
	)
	err := q.db.QueryRow(ctx, `
		SELECT id, owner_key, created_at, updated_at, expires_at FROM carts WHERE owner_key = $1`,
		ownerKey,
	).Scan(&cart.ID, &cart.OwnerKey, &cart.CreatedAt, &cart.UpdatedAt, &expiresAt)
	if err != nil {
		return nil, mapError(err)
	}
	if expiresAt != nil {
		cart.ExpiresAt = *expiresAt
	}
	if err := q.loadCartItems(ctx, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (q *queries) loadCartItems(ctx context.Context, cart *models.Cart) error {
	rows, err := q.db.Query(ctx, `SELECT `+cartItemColumns+` FROM cart_line_items WHERE cart_id = $1 ORDER BY created_at, id`, cart.ID)
	if err != nil {
		return fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	cart.Items = nil
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return err
		}
		cart.Items = append(cart.Items, *item)
	}
	return rows.Err()
}

func (q *queries) TouchCart(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error {
	return q.execOne(ctx, `UPDATE carts SET expires_at = $2, updated_at = NOW() WHERE id = $1`, cartID, expiresAt)
}

func (q *queries) FindCartItem(ctx context.Context, cartID uuid.UUID, productID, variantID string) (*models.CartLineItem, error) {
	return scanCartItem(q.db.QueryRow(ctx, `
		SELECT `+cartItemColumns+` FROM cart_line_items
		WHERE cart_id = $1 AND product_id = $2 AND variant_id = $3`,
		cartID, productID, variantID))
}

func (q *queries) GetCartItem(ctx context.Context, itemID uuid.UUID) (*models.CartLineItem, error) {
	return scanCartItem(q.db.QueryRow(ctx, `SELECT `+cartItemColumns+` FROM cart_line_items WHERE id = $1`, itemID))
}

func (q *queries) InsertCartItem(ctx context.Context, item *models.CartLineItem) error {
	_, err := q.exec(ctx, `
		INSERT INTO cart_line_items (`+cartItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.CartID, item.ProductID, item.VariantID, item.Quantity, item.Properties, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert cart item: %w", err)
	}
	return nil
}

func (q *queries) UpdateCartItem(ctx context.Context, item *models.CartLineItem) error {
	return q.execOne(ctx, `
		UPDATE cart_line_items SET quantity = $2, properties = $3, updated_at = $4 WHERE id = $1`,
		item.ID, item.Quantity, item.Properties, item.UpdatedAt)
}

func (q *queries) DeleteCartItem(ctx context.Context, itemID uuid.UUID) error {
	return q.execOne(ctx, `DELETE FROM cart_line_items WHERE id = $1`, itemID)
}

func (q *queries) DeleteCartItems(ctx context.Context, cartID uuid.UUID) error {
	_, err := q.exec(ctx, `DELETE FROM cart_line_items WHERE cart_id = $1`, cartID)
	return err
}
