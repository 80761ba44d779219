package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gitshopapp/commerce/internal/models"
)

const webhookColumns = `id, provider, provider_event_id, event_type, payload, data, status, attempts, last_error, created_at, processed_at`

func scanWebhookEvent(row pgx.Row) (models.WebhookEvent, error) {
	var (
		e    models.WebhookEvent
		data []byte
	)
	err := row.Scan(&e.ID, &e.Provider, &e.ProviderEventID, &e.EventType, &e.Payload, &data,
		&e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.ProcessedAt)
	if len(data) > 0 {
		e.Data = json.RawMessage(data)
	}
	return e, err
}

func (q *queries) InsertWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	// A nil data column marks an event whose signature never verified.
	var data any
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	_, err := q.exec(ctx, `
		INSERT INTO webhook_events (`+webhookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11)`,
		e.ID, e.Provider, e.ProviderEventID, e.EventType, e.Payload, data,
		e.Status, e.Attempts, e.LastError, e.CreatedAt, e.ProcessedAt,
	)
	return err
}

func (q *queries) GetWebhookEvent(ctx context.Context, provider, providerEventID string) (*models.WebhookEvent, error) {
	return q.getWebhookEvent(ctx, provider, providerEventID, false)
}

func (q *queries) GetWebhookEventForUpdate(ctx context.Context, provider, providerEventID string) (*models.WebhookEvent, error) {
	return q.getWebhookEvent(ctx, provider, providerEventID, true)
}

func (q *queries) getWebhookEvent(ctx context.Context, provider, providerEventID string, forUpdate bool) (*models.WebhookEvent, error) {
	sql := `SELECT ` + webhookColumns + ` FROM webhook_events WHERE provider = $1 AND provider_event_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	e, err := scanWebhookEvent(q.db.QueryRow(ctx, sql, provider, providerEventID))
	if err != nil {
		return nil, mapError(err)
	}
	return &e, nil
}

func (q *queries) UpdateWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	return q.execOne(ctx, `
		UPDATE webhook_events
		SET status = $2, attempts = $3, last_error = $4, processed_at = $5, event_type = $6
		WHERE id = $1`,
		e.ID, e.Status, e.Attempts, e.LastError, e.ProcessedAt, e.EventType,
	)
}

func (q *queries) ListRetryableWebhookEvents(ctx context.Context, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+webhookColumns+` FROM webhook_events
		WHERE status <> 'processed' AND attempts < $1 AND data IS NOT NULL
		ORDER BY created_at, id
		LIMIT $2`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable webhook events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.WebhookEvent, error) {
		return scanWebhookEvent(row)
	})
}
