package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionPayment       TransactionType = "payment"
	TransactionRefund        TransactionType = "refund"
	TransactionPartialRefund TransactionType = "partial_refund"
	TransactionVoid          TransactionType = "void"
	TransactionCapture       TransactionType = "capture"
)

// IsRefund reports whether t moves money back to the customer.
func (t TransactionType) IsRefund() bool {
	return t == TransactionRefund || t == TransactionPartialRefund
}

type TransactionStatus string

const (
	TransactionPending        TransactionStatus = "pending"
	TransactionProcessing     TransactionStatus = "processing"
	TransactionSucceeded      TransactionStatus = "succeeded"
	TransactionFailed         TransactionStatus = "failed"
	TransactionCancelled      TransactionStatus = "cancelled"
	TransactionRequiresAction TransactionStatus = "requires_action"
)

// Final reports whether the status can no longer change.
func (s TransactionStatus) Final() bool {
	return s == TransactionSucceeded || s == TransactionFailed || s == TransactionCancelled
}

// Reserves reports whether a refund in this status counts against the refundable balance.
func (s TransactionStatus) Reserves() bool {
	return !s.Final() || s == TransactionSucceeded
}

type PaymentTransaction struct {
	ID                    uuid.UUID         `json:"id"`
	OrderID               *uuid.UUID        `json:"order_id,omitempty"`
	UserID                string            `json:"user_id"`
	PaymentMethodID       *uuid.UUID        `json:"payment_method_id,omitempty"`
	Type                  TransactionType   `json:"type"`
	Status                TransactionStatus `json:"status"`
	Amount                decimal.Decimal   `json:"amount"`
	Currency              string            `json:"currency"`
	Provider              string            `json:"provider"`
	ProviderCustomerID    string            `json:"provider_customer_id,omitempty"`
	ProviderIntentID      string            `json:"provider_intent_id,omitempty"`
	ProviderTransactionID string            `json:"provider_transaction_id,omitempty"`
	ClientSecret          string            `json:"client_secret,omitempty"`
	ParentTransactionID   *uuid.UUID        `json:"parent_transaction_id,omitempty"`
	Description           string            `json:"description,omitempty"`
	Reason                string            `json:"reason,omitempty"`
	FailureCode           string            `json:"failure_code,omitempty"`
	FailureMessage        string            `json:"failure_message,omitempty"`
	WebhookReceived       bool              `json:"webhook_received"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}

type PaymentCustomer struct {
	UserID             string    `json:"user_id"`
	Provider           string    `json:"provider"`
	ProviderCustomerID string    `json:"provider_customer_id"`
	Email              string    `json:"email,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type PaymentMethod struct {
	ID       uuid.UUID `json:"id"`
	UserID   string    `json:"user_id"`
	Provider string    `json:"provider"`
	// ProviderRef is the sealed provider reference; never serialized.
	ProviderRef string    `json:"-"`
	Brand       string    `json:"brand"`
	Last4       string    `json:"last4"`
	ExpMonth    int       `json:"exp_month"`
	ExpYear     int       `json:"exp_year"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

type WebhookStatus string

const (
	WebhookPending   WebhookStatus = "pending"
	WebhookProcessed WebhookStatus = "processed"
	WebhookFailed    WebhookStatus = "failed"
)

type WebhookEvent struct {
	ID              uuid.UUID       `json:"id"`
	Provider        string          `json:"provider"`
	ProviderEventID string          `json:"provider_event_id"`
	EventType       string          `json:"event_type"`
	Payload         []byte          `json:"-"`
	Data            json.RawMessage `json:"-"`
	Status          WebhookStatus   `json:"status"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
}

type Subscription struct {
	ID                     uuid.UUID       `json:"id"`
	Provider               string          `json:"provider"`
	ProviderSubscriptionID string          `json:"provider_subscription_id"`
	ProviderCustomerID     string          `json:"provider_customer_id"`
	Status                 string          `json:"status"`
	LatestInvoiceID        string          `json:"latest_invoice_id"`
	LastPaymentStatus      string          `json:"last_payment_status"`
	AmountPaid             decimal.Decimal `json:"amount_paid"`
	Currency               string          `json:"currency"`
	CurrentPeriodEnd       *time.Time      `json:"current_period_end,omitempty"`
	UpdatedAt              time.Time       `json:"updated_at"`
}
