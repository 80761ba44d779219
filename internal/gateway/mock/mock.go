// Package mock is an in-process payment provider with scripted card
// behaviour and Stripe-compatible signed webhooks.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/gitshopapp/commerce/internal/gateway"
)

const ProviderName = "mock"

// Delivery is a signed webhook the mock would have sent to the service.
type Delivery struct {
	EventID   string
	Type      string
	Payload   []byte
	Signature string
}

type method struct {
	gateway.PaymentMethod
	token      string
	customerID string
}

type intent struct {
	gateway.Intent
	customerID  string
	methodToken string
	description string
	metadata    map[string]string
	refunded    int64
}

type Gateway struct {
	mu sync.Mutex

	secret    string
	scenarios Scenarios
	now       func() time.Time

	customers   map[string]gateway.Customer
	methods     map[string]*method
	intents     map[string]*intent
	refunds     map[string]*gateway.Refund
	idempotency map[string]any
	failNext    map[string]error
	outbox      []Delivery
}

var _ gateway.Gateway = (*Gateway)(nil)

type Option func(*Gateway)

func WithScenarios(scenarios Scenarios) Option {
	return func(g *Gateway) {
		g.scenarios = scenarios
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a mock gateway that signs webhooks with secret.
func New(secret string, opts ...Option) *Gateway {
	g := &Gateway{
		secret:      secret,
		scenarios:   DefaultScenarios(),
		now:         time.Now,
		customers:   make(map[string]gateway.Customer),
		methods:     make(map[string]*method),
		intents:     make(map[string]*intent),
		refunds:     make(map[string]*gateway.Refund),
		idempotency: make(map[string]any),
		failNext:    make(map[string]error),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Name() string {
	return ProviderName
}

// FailNext makes the next call of op return err without side effects.
func (g *Gateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext[op] = err
}

// Deliveries drains the webhooks queued since the last call.
func (g *Gateway) Deliveries() []Delivery {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.outbox
	g.outbox = nil
	return out
}

// Intent returns a copy of the provider-side intent.
func (g *Gateway) Intent(id string) (gateway.Intent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.intents[id]
	if !ok {
		return gateway.Intent{}, false
	}
	return pi.Intent, true
}

func (g *Gateway) CreateCustomer(ctx context.Context, params gateway.CustomerParams) (*gateway.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.precheck(ctx, "create_customer"); err != nil {
		return nil, err
	}

	customer := gateway.Customer{ID: newID("cus"), Email: params.Email}
	g.customers[customer.ID] = customer
	return &customer, nil
}

func (g *Gateway) CreatePaymentMethod(ctx context.Context, params gateway.PaymentMethodParams) (*gateway.PaymentMethod, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.precheck(ctx, "create_payment_method"); err != nil {
		return nil, err
	}

	card, ok := g.scenarios.Cards[params.Token]
	if !ok {
		return nil, &gateway.Error{
			Op:      "create_payment_method",
			Code:    gateway.CodeResourceMissing,
			Message: fmt.Sprintf("no such token: %s", params.Token),
		}
	}
	if params.CustomerID != "" {
		if _, ok := g.customers[params.CustomerID]; !ok {
			return nil, missing("create_payment_method", "customer", params.CustomerID)
		}
	}

	m := &method{
		PaymentMethod: gateway.PaymentMethod{
			Ref:      newID("pm"),
			Brand:    card.Brand,
			Last4:    card.Last4,
			ExpMonth: card.ExpMonth,
			ExpYear:  card.ExpYear,
		},
		token:      params.Token,
		customerID: params.CustomerID,
	}
	g.methods[m.Ref] = m
	pm := m.PaymentMethod
	return &pm, nil
}

func (g *Gateway) AttachPaymentMethod(ctx context.Context, customerID, methodRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.precheck(ctx, "attach_payment_method"); err != nil {
		return err
	}

	m, ok := g.methods[methodRef]
	if !ok {
		return missing("attach_payment_method", "payment method", methodRef)
	}
	if _, ok := g.customers[customerID]; !ok {
		return missing("attach_payment_method", "customer", customerID)
	}
	if m.customerID != "" && m.customerID != customerID {
		return &gateway.Error{
			Op:      "attach_payment_method",
			Code:    gateway.CodeInvalidRequest,
			Message: "payment method is attached to another customer",
		}
	}
	m.customerID = customerID
	return nil
}

func (g *Gateway) DetachPaymentMethod(ctx context.Context, methodRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.precheck(ctx, "detach_payment_method"); err != nil {
		return err
	}

	m, ok := g.methods[methodRef]
	if !ok {
		return missing("detach_payment_method", "payment method", methodRef)
	}
	m.customerID = ""
	return nil
}

func (g *Gateway) CreatePaymentIntent(ctx context.Context, params gateway.IntentParams) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.precheck(ctx, "create_payment_intent"); err != nil {
		return nil, err
	}
	if replay, ok := g.idempotency[params.IdempotencyKey].(*intent); ok && params.IdempotencyKey != "" {
		pi := replay.Intent
		return &pi, nil
	}

	if params.Amount <= 0 {
		return nil, invalid("create_payment_intent", "amount must be positive")
	}
	if strings.TrimSpace(params.Currency) == "" {
		return nil, invalid("create_payment_intent", "currency is required")
	}
	if params.CustomerID != "" {
		if _, ok := g.customers[params.CustomerID]; !ok {
			return nil, missing("create_payment_intent", "customer", params.CustomerID)
		}
	}

	id := newID("pi")
	pi := &intent{
		Intent: gateway.Intent{
			ID:           id,
			ClientSecret: id + "_secret_" + strings.ToLower(ulid.Make().String()),
			Status:       gateway.IntentRequiresPaymentMethod,
			Amount:       params.Amount,
			Currency:     strings.ToLower(params.Currency),
		},
		customerID:  params.CustomerID,
		description: params.Description,
		metadata:    params.Metadata,
	}
	if params.MethodRef != "" {
		token, err := g.resolveToken("create_payment_intent", params.MethodRef)
		if err != nil {
			return nil, err
		}
		pi.methodToken = token
		pi.Status = gateway.IntentRequiresConfirmation
	}

	g.intents[id] = pi
	if params.IdempotencyKey != "" {
		g.idempotency[params.IdempotencyKey] = pi
	}
	out := pi.Intent
	return &out, nil
}

func (g *Gateway) ConfirmPaymentIntent(ctx context.Context, intentID, methodRef string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.precheck(ctx, "confirm_payment_intent"); err != nil {
		return nil, err
	}

	pi, ok := g.intents[intentID]
	if !ok {
		return nil, missing("confirm_payment_intent", "payment intent", intentID)
	}
	switch pi.Status {
	case gateway.IntentSucceeded, gateway.IntentProcessing:
		out := pi.Intent
		return &out, nil
	case gateway.IntentCanceled:
		return nil, &gateway.Error{
			Op:      "confirm_payment_intent",
			Code:    gateway.CodeIntentUnexpected,
			Message: "payment intent has been canceled",
		}
	}

	token := pi.methodToken
	if methodRef != "" {
		resolved, err := g.resolveToken("confirm_payment_intent", methodRef)
		if err != nil {
			return nil, err
		}
		token = resolved
	}
	if token == "" {
		return nil, invalid("confirm_payment_intent", "a payment method is required")
	}
	card := g.scenarios.Cards[token]

	outcome := card.Confirm
	if outcome.Status == OutcomeError {
		return nil, &gateway.Error{
			Op:        "confirm_payment_intent",
			Code:      outcome.Code,
			Message:   outcome.Message,
			Temporary: outcome.Temporary,
		}
	}

	pi.methodToken = token
	pi.FailureCode = ""
	pi.FailureMessage = ""
	var eventType string
	switch outcome.Status {
	case OutcomeSucceeded:
		pi.Status = gateway.IntentSucceeded
		pi.ChargeID = newID("ch")
		eventType = gateway.EventIntentSucceeded
	case OutcomeDeclined:
		pi.Status = gateway.IntentRequiresPaymentMethod
		pi.FailureCode = outcome.Code
		pi.FailureMessage = outcome.Message
		eventType = gateway.EventIntentPaymentFailed
	case OutcomeRequiresAction:
		pi.Status = gateway.IntentRequiresAction
		eventType = gateway.EventIntentRequiresAction
	case OutcomeProcessing:
		pi.Status = gateway.IntentProcessing
		eventType = gateway.EventIntentProcessing
	}

	if err := g.enqueue(eventType, intentObject(pi)); err != nil {
		return nil, err
	}
	out := pi.Intent
	return &out, nil
}

// CompleteIntent finishes an intent left in requires_action or processing,
// as the customer's bank eventually would, and queues the webhook.
func (g *Gateway) CompleteIntent(intentID string, succeed bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pi, ok := g.intents[intentID]
	if !ok {
		return missing("complete_intent", "payment intent", intentID)
	}
	if succeed {
		pi.Status = gateway.IntentSucceeded
		pi.ChargeID = newID("ch")
		return g.enqueue(gateway.EventIntentSucceeded, intentObject(pi))
	}
	pi.Status = gateway.IntentRequiresPaymentMethod
	pi.FailureCode = gateway.CodeCardDeclined
	pi.FailureMessage = "The payment was not authorized."
	return g.enqueue(gateway.EventIntentPaymentFailed, intentObject(pi))
}

func (g *Gateway) CreateRefund(ctx context.Context, params gateway.RefundParams) (*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.precheck(ctx, "create_refund"); err != nil {
		return nil, err
	}
	if replay, ok := g.idempotency[params.IdempotencyKey].(*gateway.Refund); ok && params.IdempotencyKey != "" {
		out := *replay
		return &out, nil
	}

	pi, ok := g.intents[params.IntentID]
	if !ok {
		return nil, missing("create_refund", "payment intent", params.IntentID)
	}
	if pi.Status != gateway.IntentSucceeded {
		return nil, &gateway.Error{
			Op:      "create_refund",
			Code:    gateway.CodeChargeNotRefunded,
			Message: "payment intent has not succeeded",
		}
	}
	amount := params.Amount
	if amount == 0 {
		amount = pi.Amount - pi.refunded
	}
	if amount <= 0 || amount > pi.Amount-pi.refunded {
		return nil, &gateway.Error{
			Op:      "create_refund",
			Code:    gateway.CodeAmountTooLarge,
			Message: fmt.Sprintf("refund amount %d exceeds refundable %d", amount, pi.Amount-pi.refunded),
		}
	}

	outcome := g.scenarios.Cards[pi.methodToken].Refund
	if outcome.Status == OutcomeError {
		return nil, &gateway.Error{
			Op:        "create_refund",
			Code:      outcome.Code,
			Message:   outcome.Message,
			Temporary: outcome.Temporary,
		}
	}

	refund := &gateway.Refund{
		ID:       newID("re"),
		IntentID: pi.ID,
		Amount:   amount,
		Currency: pi.Currency,
	}
	switch outcome.Status {
	case OutcomePending:
		refund.Status = gateway.RefundPending
		pi.refunded += amount
	case OutcomeFailed:
		refund.Status = gateway.RefundFailed
		refund.FailureReason = outcome.Message
	default:
		refund.Status = gateway.RefundSucceeded
		pi.refunded += amount
	}
	g.refunds[refund.ID] = refund
	if params.IdempotencyKey != "" {
		g.idempotency[params.IdempotencyKey] = refund
	}

	eventType := gateway.EventRefundUpdated
	if refund.Status == gateway.RefundFailed {
		eventType = gateway.EventRefundFailed
	}
	if err := g.enqueue(eventType, refundObject(refund, params.Metadata)); err != nil {
		return nil, err
	}
	out := *refund
	return &out, nil
}

// SettleRefund moves a pending refund to its final status and queues the webhook.
func (g *Gateway) SettleRefund(refundID string, status gateway.RefundStatus, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	refund, ok := g.refunds[refundID]
	if !ok {
		return missing("settle_refund", "refund", refundID)
	}
	if refund.Status != gateway.RefundPending {
		return invalid("settle_refund", "refund is not pending")
	}
	refund.Status = status
	eventType := gateway.EventRefundUpdated
	if status == gateway.RefundFailed || status == gateway.RefundCanceled {
		refund.FailureReason = reason
		if pi, ok := g.intents[refund.IntentID]; ok {
			pi.refunded -= refund.Amount
		}
		eventType = gateway.EventRefundFailed
	}
	return g.enqueue(eventType, refundObject(refund, nil))
}

// VerifyWebhook checks the t=…,v1=… signature header against the shared secret.
func (g *Gateway) VerifyWebhook(payload []byte, signature string) (*gateway.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, &gateway.Error{Op: "verify_webhook", Code: gateway.CodeInvalidSignature, Message: "missing signature"}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &gateway.Error{
			Op:      "verify_webhook",
			Code:    gateway.CodeInvalidSignature,
			Message: "webhook signature validation failed",
			Err:     err,
		}
	}

	var data json.RawMessage
	if event.Data != nil {
		data = event.Data.Raw
	}
	return &gateway.Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
		Data:    data,
	}, nil
}

// SignEvent builds and signs an arbitrary event envelope around object.
func (g *Gateway) SignEvent(eventType string, object any) (Delivery, error) {
	envelope := map[string]any{
		"id":          newID("evt"),
		"object":      "event",
		"api_version": stripeapi.APIVersion,
		"created":     g.now().Unix(),
		"livemode":    false,
		"type":        eventType,
		"data":        map[string]any{"object": object},
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return Delivery{}, fmt.Errorf("failed to encode event: %w", err)
	}

	// Signature timestamps are checked against the wall clock, not g.now.
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    g.secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return Delivery{
		EventID:   envelope["id"].(string),
		Type:      eventType,
		Payload:   payload,
		Signature: signed.Header,
	}, nil
}

func (g *Gateway) enqueue(eventType string, object any) error {
	delivery, err := g.SignEvent(eventType, object)
	if err != nil {
		return err
	}
	g.outbox = append(g.outbox, delivery)
	return nil
}

// precheck must be called with g.mu held.
func (g *Gateway) precheck(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &gateway.Error{Op: op, Code: gateway.CodeTimeout, Message: "request canceled", Temporary: true, Err: err}
	}
	if err, ok := g.failNext[op]; ok {
		delete(g.failNext, op)
		return err
	}
	return nil
}

// resolveToken accepts a created method reference or a raw card token.
func (g *Gateway) resolveToken(op, ref string) (string, error) {
	if m, ok := g.methods[ref]; ok {
		return m.token, nil
	}
	if _, ok := g.scenarios.Cards[ref]; ok {
		return ref, nil
	}
	return "", missing(op, "payment method", ref)
}

func intentObject(pi *intent) map[string]any {
	obj := map[string]any{
		"id":            pi.ID,
		"object":        "payment_intent",
		"status":        string(pi.Status),
		"amount":        pi.Amount,
		"currency":      pi.Currency,
		"customer":      pi.customerID,
		"description":   pi.description,
		"latest_charge": pi.ChargeID,
		"metadata":      pi.metadata,
	}
	if pi.FailureCode != "" {
		obj["last_payment_error"] = map[string]any{
			"code":    pi.FailureCode,
			"message": pi.FailureMessage,
		}
	}
	return obj
}

func refundObject(refund *gateway.Refund, metadata map[string]string) map[string]any {
	return map[string]any{
		"id":             refund.ID,
		"object":         "refund",
		"status":         string(refund.Status),
		"amount":         refund.Amount,
		"currency":       refund.Currency,
		"payment_intent": refund.IntentID,
		"failure_reason": refund.FailureReason,
		"metadata":       metadata,
	}
}

func newID(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}

func missing(op, kind, id string) error {
	return &gateway.Error{
		Op:      op,
		Code:    gateway.CodeResourceMissing,
		Message: fmt.Sprintf("no such %s: %s", kind, id),
	}
}

func invalid(op, msg string) error {
	return &gateway.Error{Op: op, Code: gateway.CodeInvalidRequest, Message: msg}
}
