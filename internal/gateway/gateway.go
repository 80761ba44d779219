// Package gateway defines the boundary to an external payment provider.
//
// Amounts crossing the boundary are integer minor units of the currency.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Gateway interface {
	// Name is the provider key persisted on transactions and webhook events.
	Name() string

	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	// CreatePaymentMethod exchanges a client-side token for a reusable method.
	CreatePaymentMethod(ctx context.Context, params PaymentMethodParams) (*PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, customerID, methodRef string) error
	DetachPaymentMethod(ctx context.Context, methodRef string) error

	CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error)
	ConfirmPaymentIntent(ctx context.Context, intentID, methodRef string) (*Intent, error)
	CreateRefund(ctx context.Context, params RefundParams) (*Refund, error)

	// VerifyWebhook authenticates a raw delivery and decodes its envelope.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}

type CustomerParams struct {
	UserID string
	Email  string
}

type Customer struct {
	ID    string
	Email string
}

type PaymentMethodParams struct {
	Token      string
	CustomerID string
}

type PaymentMethod struct {
	Ref      string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

type IntentParams struct {
	Amount         int64
	Currency       string
	CustomerID     string
	MethodRef      string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

type Intent struct {
	ID             string
	ClientSecret   string
	Status         IntentStatus
	Amount         int64
	Currency       string
	ChargeID       string
	FailureCode    string
	FailureMessage string
}

type RefundParams struct {
	IntentID       string
	Amount         int64
	Currency       string
	Reason         string
	Metadata       map[string]string
	IdempotencyKey string
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
	RefundCanceled  RefundStatus = "canceled"
)

type Refund struct {
	ID            string
	IntentID      string
	Status        RefundStatus
	Amount        int64
	Currency      string
	FailureReason string
}

// Event is a verified webhook envelope. Data holds the raw event object.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Data    json.RawMessage
}

// Error is returned by gateway calls the provider rejected or could not answer.
// Temporary errors leave the outcome unknown; the call may have taken effect.
type Error struct {
	Op        string
	Code      string
	Message   string
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s: %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Common error codes.
const (
	CodeCardDeclined      = "card_declined"
	CodeProcessingError   = "processing_error"
	CodeTimeout           = "timeout"
	CodeInvalidRequest    = "invalid_request"
	CodeResourceMissing   = "resource_missing"
	CodeInvalidSignature  = "invalid_signature"
	CodeIntentUnexpected  = "payment_intent_unexpected_state"
	CodeAmountTooLarge    = "amount_too_large"
	CodeChargeNotRefunded = "charge_not_refundable"
)

// IsTemporary reports whether err carries a gateway error whose outcome is unknown.
func IsTemporary(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Temporary
}
