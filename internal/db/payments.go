package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/models"
)

func (q *queries) GetCustomer(ctx context.Context, userID, provider string) (*models.PaymentCustomer, error) {
	var c models.PaymentCustomer
	err := q.db.QueryRow(ctx, `
		SELECT user_id, provider, provider_customer_id, email, created_at
		FROM payment_customers WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&c.UserID, &c.Provider, &c.ProviderCustomerID, &c.Email, &c.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (q *queries) InsertCustomer(ctx context.Context, c *models.PaymentCustomer) error {
	_, err := q.exec(ctx, `
		INSERT INTO payment_customers (user_id, provider, provider_customer_id, email, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.UserID, c.Provider, c.ProviderCustomerID, c.Email, c.CreatedAt,
	)
	return err
}

const paymentMethodColumns = `id, user_id, provider, provider_ref, brand, last4, exp_month, exp_year, is_default, created_at`

func scanPaymentMethod(row pgx.Row) (models.PaymentMethod, error) {
	var m models.PaymentMethod
	err := row.Scan(&m.ID, &m.UserID, &m.Provider, &m.ProviderRef, &m.Brand, &m.Last4,
		&m.ExpMonth, &m.ExpYear, &m.IsDefault, &m.CreatedAt)
	return m, err
}

func (q *queries) InsertPaymentMethod(ctx context.Context, m *models.PaymentMethod) error {
	_, err := q.exec(ctx, `
		INSERT INTO payment_methods (`+paymentMethodColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.UserID, m.Provider, m.ProviderRef, m.Brand, m.Last4, m.ExpMonth, m.ExpYear, m.IsDefault, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

func (q *queries) GetPaymentMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	m, err := scanPaymentMethod(q.db.QueryRow(ctx, `SELECT `+paymentMethodColumns+` FROM payment_methods WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &m, nil
}

func (q *queries) ListPaymentMethods(ctx context.Context, userID string) ([]models.PaymentMethod, error) {
	return q.listPaymentMethods(ctx, userID, false)
}

func (q *queries) LockPaymentMethods(ctx context.Context, userID string) ([]models.PaymentMethod, error) {
	return q.listPaymentMethods(ctx, userID, true)
}

func (q *queries) listPaymentMethods(ctx context.Context, userID string, forUpdate bool) ([]models.PaymentMethod, error) {
	sql := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE user_id = $1 ORDER BY created_at, id`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PaymentMethod, error) {
		return scanPaymentMethod(row)
	})
}

// SetDefaultPaymentMethod clears the previous default before setting the new
// one so the partial unique index never sees two defaults.
func (q *queries) SetDefaultPaymentMethod(ctx context.Context, userID string, id uuid.UUID) error {
	if _, err := q.exec(ctx, `
		UPDATE payment_methods SET is_default = FALSE
		WHERE user_id = $1 AND is_default AND id <> $2`, userID, id); err != nil {
		return fmt.Errorf("clear default payment method: %w", err)
	}
	return q.execOne(ctx, `UPDATE payment_methods SET is_default = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
}

func (q *queries) DeletePaymentMethod(ctx context.Context, id uuid.UUID) error {
	return q.execOne(ctx, `DELETE FROM payment_methods WHERE id = $1`, id)
}

const transactionColumns = `id, order_id, user_id, payment_method_id, type, status, amount, currency, provider,
	provider_customer_id, provider_intent_id, provider_transaction_id, client_secret, parent_transaction_id,
	description, reason, failure_code, failure_message, webhook_received, created_at, updated_at, completed_at`

func scanTransaction(row pgx.Row) (models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	err := row.Scan(&t.ID, &t.OrderID, &t.UserID, &t.PaymentMethodID, &t.Type, &t.Status, &t.Amount, &t.Currency, &t.Provider,
		&t.ProviderCustomerID, &t.ProviderIntentID, &t.ProviderTransactionID, &t.ClientSecret, &t.ParentTransactionID,
		&t.Description, &t.Reason, &t.FailureCode, &t.FailureMessage, &t.WebhookReceived, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	return t, err
}

func (q *queries) InsertTransaction(ctx context.Context, t *models.PaymentTransaction) error {
	_, err := q.exec(ctx, `
		INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		t.ID, t.OrderID, t.UserID, t.PaymentMethodID, t.Type, t.Status, t.Amount, t.Currency, t.Provider,
		t.ProviderCustomerID, t.ProviderIntentID, t.ProviderTransactionID, t.ClientSecret, t.ParentTransactionID,
		t.Description, t.Reason, t.FailureCode, t.FailureMessage, t.WebhookReceived, t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (q *queries) getTransaction(ctx context.Context, where string, args ...any) (*models.PaymentTransaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE `+where, args...))
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (q *queries) GetTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return q.getTransaction(ctx, `id = $1`, id)
}

func (q *queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return q.getTransaction(ctx, `id = $1 FOR UPDATE`, id)
}

func (q *queries) GetPaymentByIntent(ctx context.Context, provider, intentID string) (*models.PaymentTransaction, error) {
	return q.getTransaction(ctx, `provider = $1 AND provider_intent_id = $2 AND type = 'payment'`, provider, intentID)
}

func (q *queries) GetTransactionByProviderRef(ctx context.Context, provider, providerTransactionID string) (*models.PaymentTransaction, error) {
	return q.getTransaction(ctx, `provider = $1 AND provider_transaction_id = $2 ORDER BY created_at LIMIT 1`, provider, providerTransactionID)
}

// UpdateTransaction writes the mutable settlement fields. Identity, amount and
// lineage columns are never rewritten.
func (q *queries) UpdateTransaction(ctx context.Context, t *models.PaymentTransaction) error {
	return q.execOne(ctx, `
		UPDATE payment_transactions
		SET status = $2, provider_transaction_id = $3, failure_code = $4, failure_message = $5,
		    webhook_received = $6, updated_at = $7, completed_at = $8, payment_method_id = $9
		WHERE id = $1`,
		t.ID, t.Status, t.ProviderTransactionID, t.FailureCode, t.FailureMessage,
		t.WebhookReceived, t.UpdatedAt, t.CompletedAt, t.PaymentMethodID,
	)
}

func (q *queries) ListTransactionsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error) {
	rows, err := q.db.Query(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PaymentTransaction, error) {
		return scanTransaction(row)
	})
}

func (q *queries) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]models.PaymentTransaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+` FROM payment_transactions
		WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PaymentTransaction, error) {
		return scanTransaction(row)
	})
}

func (q *queries) SumRefunds(ctx context.Context, parentID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payment_transactions
		WHERE parent_transaction_id = $1
		  AND type IN ('refund', 'partial_refund')
		  AND status NOT IN ('failed', 'cancelled')`, parentID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum refunds: %w", err)
	}
	return sum, nil
}

func (q *queries) UpsertSubscription(ctx context.Context, s *models.Subscription) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO subscriptions (id, provider, provider_subscription_id, provider_customer_id, status,
			latest_invoice_id, last_payment_status, amount_paid, currency, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider, provider_subscription_id) DO UPDATE SET
			provider_customer_id = EXCLUDED.provider_customer_id,
			status = EXCLUDED.status,
			latest_invoice_id = EXCLUDED.latest_invoice_id,
			last_payment_status = EXCLUDED.last_payment_status,
			amount_paid = EXCLUDED.amount_paid,
			currency = EXCLUDED.currency,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		s.ID, s.Provider, s.ProviderSubscriptionID, s.ProviderCustomerID, s.Status,
		s.LatestInvoiceID, s.LastPaymentStatus, s.AmountPaid, s.Currency, s.CurrentPeriodEnd, s.UpdatedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", mapError(err))
	}
	return nil
}

func (q *queries) GetSubscription(ctx context.Context, provider, providerSubscriptionID string) (*models.Subscription, error) {
	var s models.Subscription
	err := q.db.QueryRow(ctx, `
		SELECT id, provider, provider_subscription_id, provider_customer_id, status, latest_invoice_id,
		       last_payment_status, amount_paid, currency, current_period_end, updated_at
		FROM subscriptions WHERE provider = $1 AND provider_subscription_id = $2`,
		provider, providerSubscriptionID,
	).Scan(&s.ID, &s.Provider, &s.ProviderSubscriptionID, &s.ProviderCustomerID, &s.Status, &s.LatestInvoiceID,
		&s.LastPaymentStatus, &s.AmountPaid, &s.Currency, &s.CurrentPeriodEnd, &s.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}
