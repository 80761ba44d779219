package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// Webhook event types the reconciler understands.
const (
	EventIntentSucceeded      = "payment_intent.succeeded"
	EventIntentPaymentFailed  = "payment_intent.payment_failed"
	EventIntentProcessing     = "payment_intent.processing"
	EventIntentRequiresAction = "payment_intent.requires_action"
	EventIntentCanceled       = "payment_intent.canceled"
	EventRefundUpdated        = "refund.updated"
	EventRefundFailed         = "refund.failed"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentOK     = "invoice.payment_succeeded"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// IntentObject is the payment intent carried by payment_intent.* events.
type IntentObject struct {
	ID               string            `json:"id"`
	Status           IntentStatus      `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Customer         string            `json:"customer"`
	LatestCharge     expandableID      `json:"latest_charge"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// RefundObject is the refund carried by refund.* events.
type RefundObject struct {
	ID            string            `json:"id"`
	Status        RefundStatus      `json:"status"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentIntent expandableID      `json:"payment_intent"`
	FailureReason string            `json:"failure_reason"`
	Metadata      map[string]string `json:"metadata"`
}

// InvoiceObject is the invoice carried by invoice.* events.
type InvoiceObject struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	AmountPaid   int64        `json:"amount_paid"`
	AmountDue    int64        `json:"amount_due"`
	Currency     string       `json:"currency"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	PeriodEnd    int64        `json:"period_end"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubscriptionID resolves the subscription from either invoice layout.
func (i *InvoiceObject) SubscriptionID() string {
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && i.Parent.SubscriptionDetails.Subscription != "" {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return string(i.Subscription)
}

func (i *InvoiceObject) PeriodEndTime() *time.Time {
	if i.PeriodEnd == 0 {
		return nil
	}
	t := time.Unix(i.PeriodEnd, 0).UTC()
	return &t
}

func DecodeIntent(data json.RawMessage) (*IntentObject, error) {
	var obj IntentObject
	if err := decodeObject(data, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func DecodeRefund(data json.RawMessage) (*RefundObject, error) {
	var obj RefundObject
	if err := decodeObject(data, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func DecodeInvoice(data json.RawMessage) (*InvoiceObject, error) {
	var obj InvoiceObject
	if err := decodeObject(data, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func decodeObject(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("event object is empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode event object: %w", err)
	}
	return nil
}

// expandableID accepts either an id string or an expanded object with an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*e = ""
		return nil
	}
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}
