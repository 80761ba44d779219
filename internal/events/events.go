// Package events fans committed order and payment changes out to other
// services. Publishing happens after commit and is best effort; the ledger's
// order_events table stays the source of truth.
package events

import (
	"context"
	"time"
)

// Types published on the bus. Subjects are "<prefix>.<type>".
const (
	OrderCreated    = "order.created"
	OrderUpdated    = "order.updated"
	OrderCancelled  = "order.cancelled"
	OrderPaid       = "order.paid"
	OrderRefunded   = "order.refunded"
	PaymentFailed   = "payment.failed"
	RefundSettled   = "refund.settled"
	RefundRejected  = "refund.rejected"
	SubscriptionSet = "subscription.updated"
)

type Event struct {
	// ID is stable per logical change so consumers and the broker can dedupe.
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type noopPublisher struct{}

// Noop discards every event.
func Noop() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

func (noopPublisher) Close() error { return nil }
