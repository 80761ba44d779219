package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gitshopapp/commerce/internal/cache"
	"github.com/gitshopapp/commerce/internal/events"
	"github.com/gitshopapp/commerce/internal/gateway"
	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/models"
	"github.com/gitshopapp/commerce/internal/money"
)

const (
	webhookCacheTTL     = 24 * time.Hour
	webhookSystemActor  = "webhook"
	defaultRetryLimit   = 50
	maxWebhookErrLength = 1000
)

// WebhookResult tells the caller what happened to a delivery.
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
}

type WebhookService struct {
	Deps
}

func NewWebhookService(deps Deps) *WebhookService {
	return &WebhookService{Deps: deps.withDefaults()}
}

// HandleWebhook verifies, records and applies one provider delivery. An event
// already processed is acknowledged without being applied again.
func (s *WebhookService) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := startSpan(ctx, "service.webhook", "handle", "HandleWebhook")
	defer span.Finish()

	if provider != s.Gateway.Name() {
		return nil, fmt.Errorf("%w: unknown payment provider %q", ErrNotFound, provider)
	}
	logger := s.loggerFromContext(ctx).With("provider", provider)

	event, err := s.Gateway.VerifyWebhook(payload, signature)
	if err != nil {
		s.Metrics.WebhookEvent("", "invalid_signature")
		s.recordUnverified(ctx, provider, payload, err)
		logger.Warn("webhook signature verification failed", "error", err)
		return nil, validationError("invalid webhook signature")
	}

	result := &WebhookResult{EventID: event.ID, EventType: event.Type}
	logger = logger.With("event_id", event.ID, "event_type", event.Type)
	cacheKey := cache.WebhookKey(provider, event.ID)

	if s.Cache != nil {
		if _, err := s.Cache.Get(ctx, cacheKey); err == nil {
			s.Metrics.WebhookEvent(event.Type, "duplicate")
			result.Duplicate = true
			return result, nil
		}
	}

	var existing *models.WebhookEvent
	err = s.Store.View(ctx, func(q ledger.Queries) error {
		var err error
		existing, err = q.GetWebhookEvent(ctx, provider, event.ID)
		return err
	})
	switch {
	case err == nil && existing.Status == models.WebhookProcessed:
		s.markSeen(ctx, cacheKey)
		s.Metrics.WebhookEvent(event.Type, "duplicate")
		result.Duplicate = true
		return result, nil
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return nil, fmt.Errorf("failed to load webhook event: %w", err)
	case err != nil:
		err = s.Store.InTx(ctx, func(q ledger.Queries) error {
			return q.InsertWebhookEvent(ctx, &models.WebhookEvent{
				ID:              uuid.New(),
				Provider:        provider,
				ProviderEventID: event.ID,
				EventType:       event.Type,
				Payload:         payload,
				Data:            event.Data,
				Status:          models.WebhookPending,
				CreatedAt:       s.now(),
			})
		})
		if err != nil && !errors.Is(err, ledger.ErrConflict) {
			return nil, fmt.Errorf("failed to record webhook event: %w", err)
		}
	}

	duplicate, err := s.process(ctx, provider, event.ID)
	if err != nil {
		s.Metrics.WebhookEvent(event.Type, "error")
		logger.Error("failed to process webhook event", "error", err)
		return nil, err
	}
	s.markSeen(ctx, cacheKey)
	if duplicate {
		s.Metrics.WebhookEvent(event.Type, "duplicate")
		result.Duplicate = true
		return result, nil
	}
	s.Metrics.WebhookEvent(event.Type, "processed")
	logger.Info("webhook event processed")
	return result, nil
}

// RetryPending replays recorded events that are not yet processed and have
// attempts left. It returns how many were processed.
func (s *WebhookService) RetryPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultRetryLimit
	}

	var pending []models.WebhookEvent
	err := s.Store.View(ctx, func(q ledger.Queries) error {
		var err error
		pending, err = q.ListRetryableWebhookEvents(ctx, s.WebhookMaxAttempts, limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable webhook events: %w", err)
	}
	s.Metrics.WebhookRetryBacklog(len(pending))

	logger := s.loggerFromContext(ctx)
	processed := 0
	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, err := s.process(ctx, event.Provider, event.ProviderEventID); err != nil {
			s.Metrics.WebhookEvent(event.EventType, "retry_error")
			logger.Warn("webhook retry failed",
				"error", err,
				"event_id", event.ProviderEventID,
				"attempts", event.Attempts+1)
			continue
		}
		s.markSeen(ctx, cache.WebhookKey(event.Provider, event.ProviderEventID))
		s.Metrics.WebhookEvent(event.EventType, "retried")
		processed++
	}
	return processed, nil
}

// StartRetryLoop runs RetryPending every interval until ctx is done.
func (s *WebhookService) StartRetryLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("webhook retry interval must be positive")
	}
	logger := s.loggerFromContext(ctx).With("component", "webhook_retry")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.RetryPending(ctx, defaultRetryLimit)
			if err != nil && ctx.Err() == nil {
				logger.Error("webhook retry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("webhook retry sweep processed events", "count", n)
			}
		}
	}
}

// process applies one recorded event in a single transaction that also marks
// it processed. On failure the attempt is recorded separately and the event
// stays eligible for retry.
func (s *WebhookService) process(ctx context.Context, provider, eventID string) (bool, error) {
	var (
		duplicate bool
		after     func()
	)
	err := s.Store.InTx(ctx, func(q ledger.Queries) error {
		row, err := q.GetWebhookEventForUpdate(ctx, provider, eventID)
		if err != nil {
			return storeError(err, "webhook event")
		}
		if row.Status == models.WebhookProcessed {
			duplicate = true
			return nil
		}

		now := s.now()
		after, err = s.dispatch(ctx, q, row, now)
		if err != nil {
			return err
		}

		row.Status = models.WebhookProcessed
		row.Attempts++
		row.LastError = ""
		row.ProcessedAt = &now
		return q.UpdateWebhookEvent(ctx, row)
	})
	if err != nil {
		s.recordFailure(ctx, provider, eventID, err)
		return false, err
	}
	if after != nil {
		after()
	}
	return duplicate, nil
}

func (s *WebhookService) recordFailure(ctx context.Context, provider, eventID string, cause error) {
	err := s.Store.InTx(ctx, func(q ledger.Queries) error {
		row, err := q.GetWebhookEventForUpdate(ctx, provider, eventID)
		if err != nil {
			return err
		}
		if row.Status == models.WebhookProcessed {
			return nil
		}
		row.Status = models.WebhookFailed
		row.Attempts++
		row.LastError = truncate(cause.Error(), maxWebhookErrLength)
		return q.UpdateWebhookEvent(ctx, row)
	})
	if err != nil {
		s.loggerFromContext(ctx).Error("failed to record webhook failure", "error", err, "event_id", eventID)
	}
}

func (s *WebhookService) recordUnverified(ctx context.Context, provider string, payload []byte, cause error) {
	id := uuid.New()
	err := s.Store.InTx(ctx, func(q ledger.Queries) error {
		return q.InsertWebhookEvent(ctx, &models.WebhookEvent{
			ID:              id,
			Provider:        provider,
			ProviderEventID: "unverified:" + id.String(),
			Payload:         payload,
			Status:          models.WebhookFailed,
			Attempts:        1,
			LastError:       truncate(cause.Error(), maxWebhookErrLength),
			CreatedAt:       s.now(),
		})
	})
	if err != nil {
		s.loggerFromContext(ctx).Error("failed to record unverified webhook", "error", err)
	}
}

func (s *WebhookService) markSeen(ctx context.Context, key string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Set(ctx, key, "processed", webhookCacheTTL); err != nil {
		s.loggerFromContext(ctx).Warn("failed to cache processed webhook", "error", err, "key", key)
	}
}

// dispatch applies the event's effects and returns a hook to run after commit.
// Unknown event types are recorded and ignored.
func (s *WebhookService) dispatch(ctx context.Context, q ledger.Queries, row *models.WebhookEvent, now time.Time) (func(), error) {
	switch row.EventType {
	case gateway.EventIntentSucceeded,
		gateway.EventIntentPaymentFailed,
		gateway.EventIntentProcessing,
		gateway.EventIntentRequiresAction,
		gateway.EventIntentCanceled:
		return s.applyIntentEvent(ctx, q, row, now)
	case gateway.EventRefundUpdated, gateway.EventRefundFailed:
		return s.applyRefundEvent(ctx, q, row, now)
	case gateway.EventInvoicePaid, gateway.EventInvoicePaymentOK, gateway.EventInvoicePaymentFailed:
		return s.applyInvoiceEvent(ctx, q, row, now)
	default:
		s.loggerFromContext(ctx).Debug("ignoring webhook event type", "event_type", row.EventType)
		return nil, nil
	}
}

func (s *WebhookService) applyIntentEvent(ctx context.Context, q ledger.Queries, row *models.WebhookEvent, now time.Time) (func(), error) {
	obj, err := gateway.DecodeIntent(row.Data)
	if err != nil {
		return nil, err
	}

	tx, err := s.findPayment(ctx, q, row.Provider, obj)
	if errors.Is(err, ledger.ErrNotFound) {
		s.loggerFromContext(ctx).Warn("webhook for unknown payment intent", "intent_id", obj.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var status = models.TransactionPending
	code, message := "", ""
	if obj.LastPaymentError != nil {
		code, message = obj.LastPaymentError.Code, obj.LastPaymentError.Message
	}
	switch row.EventType {
	case gateway.EventIntentSucceeded:
		status = models.TransactionSucceeded
	case gateway.EventIntentPaymentFailed:
		status = models.TransactionFailed
		if code == "" {
			code = gateway.CodeCardDeclined
		}
	case gateway.EventIntentProcessing:
		status = models.TransactionProcessing
	case gateway.EventIntentRequiresAction:
		status = models.TransactionRequiresAction
	case gateway.EventIntentCanceled:
		status = models.TransactionCancelled
	}

	changed := applyIntentOutcome(tx, status, string(obj.LatestCharge), code, message, now)
	if changed || !tx.WebhookReceived {
		tx.WebhookReceived = true
		tx.UpdatedAt = now
		if err := q.UpdateTransaction(ctx, tx); err != nil {
			return nil, storeError(err, "payment")
		}
	}
	if tx.OrderID == nil {
		return nil, nil
	}

	var settled *settlement
	switch {
	case tx.Status == models.TransactionSucceeded:
		// Settlement recomputes from the ledger, so re-running it is a no-op.
		settled, err = settleOrder(ctx, q, *tx.OrderID, now, models.EventPaymentSucceeded, models.ActorSystem, webhookSystemActor,
			map[string]any{"transaction_id": tx.ID.String(), "amount": tx.Amount.String(), "webhook_event_id": row.ProviderEventID})
	case changed:
		settled, err = s.recordPaymentOutcome(ctx, q, tx, models.ActorSystem, webhookSystemActor, now)
	}
	if err != nil {
		return nil, err
	}
	if !changed && !settled.changed() {
		return nil, nil
	}
	return func() { s.afterPaymentOutcome(ctx, tx, settled) }, nil
}

// findPayment locates the payment by the transaction id carried in the intent
// metadata, falling back to the provider intent id.
func (s *WebhookService) findPayment(ctx context.Context, q ledger.Queries, provider string, obj *gateway.IntentObject) (*models.PaymentTransaction, error) {
	if raw := obj.Metadata[metadataTransactionID]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			tx, err := q.GetTransactionForUpdate(ctx, id)
			switch {
			case err == nil && tx.ProviderIntentID == obj.ID && tx.Type == models.TransactionPayment:
				return tx, nil
			case err != nil && !errors.Is(err, ledger.ErrNotFound):
				return nil, err
			}
		}
	}
	tx, err := q.GetPaymentByIntent(ctx, provider, obj.ID)
	if err != nil {
		return nil, err
	}
	return q.GetTransactionForUpdate(ctx, tx.ID)
}

func (s *WebhookService) applyRefundEvent(ctx context.Context, q ledger.Queries, row *models.WebhookEvent, now time.Time) (func(), error) {
	obj, err := gateway.DecodeRefund(row.Data)
	if err != nil {
		return nil, err
	}

	refund, err := s.findRefund(ctx, q, row.Provider, obj)
	if errors.Is(err, ledger.ErrNotFound) {
		s.loggerFromContext(ctx).Warn("webhook for unknown refund", "refund_id", obj.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if refund.Status.Final() {
		return nil, nil
	}

	status := obj.Status
	if row.EventType == gateway.EventRefundFailed && status != gateway.RefundCanceled {
		status = gateway.RefundFailed
	}
	updated, settled, err := applyRefundOutcome(ctx, q, refund.ID, refundOutcome{
		ProviderRef: obj.ID,
		Status:      status,
		Message:     obj.FailureReason,
	}, models.ActorSystem, webhookSystemActor, now)
	if err != nil {
		return nil, err
	}
	if !updated.Status.Final() {
		return nil, nil
	}
	return func() {
		s.Metrics.Refund(string(updated.Status))
		s.afterRefundOutcome(ctx, updated, settled)
	}, nil
}

func (s *WebhookService) findRefund(ctx context.Context, q ledger.Queries, provider string, obj *gateway.RefundObject) (*models.PaymentTransaction, error) {
	if raw := obj.Metadata[metadataRefundTransactionID]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			tx, err := q.GetTransactionForUpdate(ctx, id)
			switch {
			case err == nil && tx.Type.IsRefund():
				return tx, nil
			case err != nil && !errors.Is(err, ledger.ErrNotFound):
				return nil, err
			}
		}
	}
	tx, err := q.GetTransactionByProviderRef(ctx, provider, obj.ID)
	if err != nil {
		return nil, err
	}
	if !tx.Type.IsRefund() {
		return nil, ledger.ErrNotFound
	}
	return tx, nil
}

func (s *WebhookService) applyInvoiceEvent(ctx context.Context, q ledger.Queries, row *models.WebhookEvent, now time.Time) (func(), error) {
	obj, err := gateway.DecodeInvoice(row.Data)
	if err != nil {
		return nil, err
	}
	subID := obj.SubscriptionID()
	if subID == "" {
		s.loggerFromContext(ctx).Debug("invoice without subscription", "invoice_id", obj.ID)
		return nil, nil
	}

	currency, err := money.NormalizeCurrency(obj.Currency)
	if err != nil {
		currency = strings.ToUpper(obj.Currency)
	}
	sub := &models.Subscription{
		ID:                     uuid.New(),
		Provider:               row.Provider,
		ProviderSubscriptionID: subID,
		ProviderCustomerID:     string(obj.Customer),
		Status:                 "active",
		LatestInvoiceID:        obj.ID,
		LastPaymentStatus:      "paid",
		AmountPaid:             money.FromMinor(obj.AmountPaid, currency),
		Currency:               currency,
		CurrentPeriodEnd:       obj.PeriodEndTime(),
		UpdatedAt:              now,
	}
	if row.EventType == gateway.EventInvoicePaymentFailed {
		sub.Status = "past_due"
		sub.LastPaymentStatus = "failed"
	}
	if err := q.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return func() {
		s.publish(ctx, row.ProviderEventID, events.SubscriptionSet, now, sub)
	}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
