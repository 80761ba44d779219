package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gitshopapp/commerce/internal/models"
)

const orderColumns = `id, order_number, user_id, email, status, financial_status, fulfillment_status,
	subtotal, tax, shipping, discount, total, currency, billing_address, shipping_address,
	tags, notes, tracking_number, tracking_carrier, tracking_url, cancel_reason,
	created_at, updated_at, processed_at, shipped_at, delivered_at, cancelled_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Email, &o.Status, &o.FinancialStatus, &o.FulfillmentStatus,
		&o.Subtotal, &o.Tax, &o.Shipping, &o.Discount, &o.Total, &o.Currency, &o.BillingAddress, &o.ShippingAddress,
		&o.Tags, &o.Notes, &o.TrackingNumber, &o.TrackingCarrier, &o.TrackingURL, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt, &o.ProcessedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	o.Currency = strings.TrimSpace(o.Currency)
	return &o, nil
}

func (q *queries) InsertOrder(ctx context.Context, o *models.Order) error {
	tags := o.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := q.exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`,
		o.ID, o.OrderNumber, o.UserID, o.Email, o.Status, o.FinancialStatus, o.FulfillmentStatus,
		o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total, o.Currency, o.BillingAddress, o.ShippingAddress,
		tags, o.Notes, o.TrackingNumber, o.TrackingCarrier, o.TrackingURL, o.CancelReason,
		o.CreatedAt, o.UpdatedAt, o.ProcessedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range o.LineItems {
		if _, err := q.exec(ctx, `
			INSERT INTO order_line_items
				(id, order_id, position, product_id, variant_id, sku, title, quantity, unit_price, line_total, properties)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			item.ID, o.ID, i, item.ProductID, item.VariantID, item.SKU, item.Title,
			item.Quantity, item.UnitPrice, item.LineTotal, item.Properties,
		); err != nil {
			return fmt.Errorf("insert line item %d: %w", i, err)
		}
	}

	for i, d := range o.Discounts {
		if _, err := q.exec(ctx, `
			INSERT INTO order_discounts (id, order_id, position, code, kind, value, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			d.ID, o.ID, i, d.Code, d.Kind, d.Value, d.Amount,
		); err != nil {
			return fmt.Errorf("insert discount %s: %w", d.Code, err)
		}
	}
	return nil
}

func (q *queries) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return q.getOrder(ctx, id, false)
}

func (q *queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return q.getOrder(ctx, id, true)
}

func (q *queries) getOrder(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	order, err := scanOrder(q.db.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, err
	}
	if err := q.loadOrderChildren(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (q *queries) loadOrderChildren(ctx context.Context, o *models.Order) error {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, sku, title, quantity, unit_price, line_total, properties
		FROM order_line_items WHERE order_id = $1 ORDER BY position`, o.ID)
	if err != nil {
		return fmt.Errorf("load line items: %w", err)
	}
	o.LineItems, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.LineItem, error) {
		var li models.LineItem
		err := row.Scan(&li.ID, &li.OrderID, &li.ProductID, &li.VariantID, &li.SKU, &li.Title,
			&li.Quantity, &li.UnitPrice, &li.LineTotal, &li.Properties)
		return li, err
	})
	if err != nil {
		return fmt.Errorf("scan line items: %w", err)
	}

	rows, err = q.db.Query(ctx, `
		SELECT id, order_id, code, kind, value, amount
		FROM order_discounts WHERE order_id = $1 ORDER BY position`, o.ID)
	if err != nil {
		return fmt.Errorf("load discounts: %w", err)
	}
	o.Discounts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Discount, error) {
		var d models.Discount
		err := row.Scan(&d.ID, &d.OrderID, &d.Code, &d.Kind, &d.Value, &d.Amount)
		return d, err
	})
	if err != nil {
		return fmt.Errorf("scan discounts: %w", err)
	}
	return nil
}

func (q *queries) UpdateOrder(ctx context.Context, o *models.Order) error {
	tags := o.Tags
	if tags == nil {
		tags = []string{}
	}
	return q.execOne(ctx, `
		UPDATE orders
		SET status = $2, financial_status = $3, fulfillment_status = $4,
		    tags = $5, notes = $6, tracking_number = $7, tracking_carrier = $8, tracking_url = $9,
		    cancel_reason = $10, updated_at = $11, processed_at = $12, shipped_at = $13,
		    delivered_at = $14, cancelled_at = $15, email = $16, shipping_address = $17
		WHERE id = $1`,
		o.ID, o.Status, o.FinancialStatus, o.FulfillmentStatus,
		tags, o.Notes, o.TrackingNumber, o.TrackingCarrier, o.TrackingURL,
		o.CancelReason, o.UpdatedAt, o.ProcessedAt, o.ShippedAt,
		o.DeliveredAt, o.CancelledAt, o.Email, o.ShippingAddress,
	)
}

func (q *queries) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, order_number DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	for _, order := range orders {
		if err := q.loadOrderChildren(ctx, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (q *queries) InsertOrderEvent(ctx context.Context, e *models.OrderEvent) error {
	_, err := q.exec(ctx, `
		INSERT INTO order_events (id, order_id, type, actor_type, actor_id, previous, current, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.OrderID, e.Type, e.ActorType, e.ActorID, e.Previous, e.Current, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func (q *queries) ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_id, type, actor_type, actor_id, previous, current, metadata, created_at
		FROM order_events WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OrderEvent, error) {
		var e models.OrderEvent
		err := row.Scan(&e.ID, &e.OrderID, &e.Type, &e.ActorType, &e.ActorID, &e.Previous, &e.Current, &e.Metadata, &e.CreatedAt)
		return e, err
	})
}
