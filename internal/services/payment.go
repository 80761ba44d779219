package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/events"
	"github.com/gitshopapp/commerce/internal/gateway"
	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/models"
	"github.com/gitshopapp/commerce/internal/money"
)

const (
	metadataTransactionID       = "transaction_id"
	metadataRefundTransactionID = "refund_transaction_id"
	metadataOrderID             = "order_id"

	transactionListLimit = 100
)

type PaymentService struct {
	Deps
}

func NewPaymentService(deps Deps) *PaymentService {
	return &PaymentService{Deps: deps.withDefaults()}
}

type CreatePaymentIntentInput struct {
	OrderID         *uuid.UUID      `json:"order_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"omitempty,len=3"`
	PaymentMethodID *uuid.UUID      `json:"payment_method_id"`
	Description     string          `json:"description" validate:"max=500"`
}

type ConfirmPaymentInput struct {
	IntentID        string     `json:"payment_intent_id" validate:"required,max=255"`
	PaymentMethodID *uuid.UUID `json:"payment_method_id"`
}

type CreateRefundInput struct {
	TransactionID uuid.UUID        `json:"transaction_id" validate:"required"`
	Amount        *decimal.Decimal `json:"amount"`
	Reason        string           `json:"reason" validate:"max=500"`
}

type AddPaymentMethodInput struct {
	Token       string `json:"token" validate:"required,max=255"`
	MakeDefault bool   `json:"make_default"`
}

// CreatePaymentIntent opens a provider intent for the caller and records it as
// a pending payment. When an order is given it must belong to the caller, be
// open, use the same currency and still owe at least amount.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, p auth.Principal, input CreatePaymentIntentInput) (*models.PaymentTransaction, error) {
	ctx, span := startSpan(ctx, "service.payment", "create_intent", "CreatePaymentIntent")
	defer span.Finish()

	if err := requireUser(p); err != nil {
		return nil, err
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, validationError("amount must be positive")
	}

	var order *models.Order
	if input.OrderID != nil {
		err := s.Store.View(ctx, func(q ledger.Queries) error {
			var err error
			order, err = q.GetOrder(ctx, *input.OrderID)
			return err
		})
		if err != nil {
			return nil, storeError(err, "order")
		}
		if order.UserID != p.ID {
			return nil, fmt.Errorf("%w: order belongs to another user", ErrForbidden)
		}
	}

	requested := input.Currency
	if requested == "" && order != nil {
		requested = order.Currency
	}
	if requested == "" {
		requested = s.Currency
	}
	currency, err := money.NormalizeCurrency(requested)
	if err != nil {
		return nil, validationError("%v", err)
	}
	amount, minor, err := chargeAmount(input.Amount, currency, "amount")
	if err != nil {
		return nil, err
	}

	if order != nil {
		if err := s.checkPayable(ctx, order, amount, currency); err != nil {
			return nil, err
		}
	}

	customerID, err := s.ensureCustomer(ctx, p)
	if err != nil {
		return nil, err
	}
	methodID, methodRef, err := s.resolveMethod(ctx, p, input.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	txID := uuid.New()
	metadata := map[string]string{metadataTransactionID: txID.String()}
	if order != nil {
		metadata[metadataOrderID] = order.ID.String()
	}
	intent, err := s.Gateway.CreatePaymentIntent(ctx, gateway.IntentParams{
		Amount:         minor,
		Currency:       currency,
		CustomerID:     customerID,
		MethodRef:      methodRef,
		Description:    input.Description,
		Metadata:       metadata,
		IdempotencyKey: "intent:" + txID.String(),
	})
	if err != nil {
		s.Metrics.PaymentIntent("error")
		return nil, gatewayError("create payment intent", err)
	}

	now := s.now()
	tx := &models.PaymentTransaction{
		ID:                 txID,
		UserID:             p.ID,
		PaymentMethodID:    methodID,
		Type:               models.TransactionPayment,
		Status:             models.TransactionPending,
		Amount:             amount,
		Currency:           currency,
		Provider:           s.Gateway.Name(),
		ProviderCustomerID: customerID,
		ProviderIntentID:   intent.ID,
		ClientSecret:       intent.ClientSecret,
		Description:        input.Description,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if order != nil {
		tx.OrderID = &order.ID
	}

	err = s.Store.InTx(ctx, func(q ledger.Queries) error {
		if order != nil {
			locked, err := q.GetOrderForUpdate(ctx, order.ID)
			if err != nil {
				return storeError(err, "order")
			}
			if err := s.checkOutstanding(ctx, q, locked, amount, uuid.Nil); err != nil {
				return err
			}
		}
		if err := q.InsertTransaction(ctx, tx); err != nil {
			return storeError(err, "failed to record payment")
		}
		if order == nil {
			return nil
		}
		event := newOrderEvent(order.ID, models.EventPaymentIntent, models.ActorUser, p.ID, now)
		event.Metadata = map[string]any{
			"transaction_id": tx.ID.String(),
			"intent_id":      intent.ID,
			"amount":         amount.String(),
		}
		return q.InsertOrderEvent(ctx, event)
	})
	if err != nil {
		s.Metrics.PaymentIntent("error")
		s.loggerFromContext(ctx).Error("payment intent created at provider but not recorded",
			"error", err, "intent_id", intent.ID, "transaction_id", txID)
		return nil, err
	}

	s.Metrics.PaymentIntent("ok")
	s.loggerFromContext(ctx).Info("payment intent created",
		"transaction_id", tx.ID, "intent_id", intent.ID, "amount", amount.String(), "currency", currency)
	return tx, nil
}

func (s *PaymentService) checkPayable(ctx context.Context, order *models.Order, amount decimal.Decimal, currency string) error {
	if order.Status == models.StatusCancelled || order.Status == models.StatusRefunded {
		return fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.Status)
	}
	if order.Currency != currency {
		return validationError("currency %s does not match order currency %s", currency, order.Currency)
	}
	return s.Store.View(ctx, func(q ledger.Queries) error {
		return s.checkOutstanding(ctx, q, order, amount, uuid.Nil)
	})
}

// checkOutstanding rejects amounts above what the order still owes. Payments
// that succeeded or may still succeed hold their share of the total; the row
// named by skip is left out so a retried confirmation is not counted twice.
func (s *PaymentService) checkOutstanding(ctx context.Context, q ledger.Queries, order *models.Order, amount decimal.Decimal, skip uuid.UUID) error {
	txs, err := q.ListTransactionsByOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to list order transactions: %w", err)
	}
	held := decimal.Zero
	for _, tx := range txs {
		if tx.ID != skip && holdsBalance(&tx) {
			held = held.Add(tx.Amount)
		}
	}
	outstanding := order.Total.Sub(held)
	if amount.GreaterThan(outstanding) {
		return validationError("amount %s exceeds outstanding balance %s",
			money.Format(amount, order.Currency), money.Format(outstanding, order.Currency))
	}
	return nil
}

// holdsBalance reports whether a payment row counts against its order's total.
func holdsBalance(tx *models.PaymentTransaction) bool {
	if tx.Type != models.TransactionPayment {
		return false
	}
	switch tx.Status {
	case models.TransactionPending, models.TransactionProcessing, models.TransactionRequiresAction, models.TransactionSucceeded:
		return true
	}
	return false
}

// chargeAmount rounds amount to the currency and returns it with its minor
// units. Amounts that round to nothing or cannot be stored are rejected before
// any provider call.
func chargeAmount(amount decimal.Decimal, currency, field string) (decimal.Decimal, int64, error) {
	rounded := money.Round(amount, currency)
	if !rounded.IsPositive() {
		return decimal.Zero, 0, validationError("%s must be at least one minor unit of %s", field, currency)
	}
	if err := money.CheckRange(rounded); err != nil {
		return decimal.Zero, 0, validationError("%s: %v", field, err)
	}
	minor, err := money.ToMinor(rounded, currency)
	if err != nil {
		return decimal.Zero, 0, validationError("%s: %v", field, err)
	}
	if minor <= 0 {
		return decimal.Zero, 0, validationError("%s must be at least one minor unit of %s", field, currency)
	}
	return rounded, minor, nil
}

// ensureCustomer returns the caller's provider customer, creating it on first use.
func (s *PaymentService) ensureCustomer(ctx context.Context, p auth.Principal) (string, error) {
	provider := s.Gateway.Name()
	lookup := func() (*models.PaymentCustomer, error) {
		var customer *models.PaymentCustomer
		err := s.Store.View(ctx, func(q ledger.Queries) error {
			var err error
			customer, err = q.GetCustomer(ctx, p.ID, provider)
			return err
		})
		return customer, err
	}

	customer, err := lookup()
	if err == nil {
		return customer.ProviderCustomerID, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return "", fmt.Errorf("failed to load payment customer: %w", err)
	}

	created, err := s.Gateway.CreateCustomer(ctx, gateway.CustomerParams{UserID: p.ID, Email: p.Email})
	if err != nil {
		return "", gatewayError("create customer", err)
	}
	err = s.Store.InTx(ctx, func(q ledger.Queries) error {
		return q.InsertCustomer(ctx, &models.PaymentCustomer{
			UserID:             p.ID,
			Provider:           provider,
			ProviderCustomerID: created.ID,
			Email:              p.Email,
			CreatedAt:          s.now(),
		})
	})
	switch {
	case errors.Is(err, ledger.ErrConflict):
		// A concurrent request won; use its customer.
		customer, err := lookup()
		if err != nil {
			return "", fmt.Errorf("failed to load payment customer: %w", err)
		}
		return customer.ProviderCustomerID, nil
	case err != nil:
		return "", fmt.Errorf("failed to record payment customer: %w", err)
	}
	return created.ID, nil
}

// resolveMethod opens the caller's stored method. Methods owned by someone
// else read as missing.
func (s *PaymentService) resolveMethod(ctx context.Context, p auth.Principal, id *uuid.UUID) (*uuid.UUID, string, error) {
	if id == nil {
		return nil, "", nil
	}
	method, err := s.ownedMethod(ctx, p, *id)
	if err != nil {
		return nil, "", err
	}
	ref, err := s.openRef(method, p)
	if err != nil {
		return nil, "", err
	}
	return &method.ID, ref, nil
}

func (s *PaymentService) ownedMethod(ctx context.Context, p auth.Principal, id uuid.UUID) (*models.PaymentMethod, error) {
	var method *models.PaymentMethod
	err := s.Store.View(ctx, func(q ledger.Queries) error {
		var err error
		method, err = q.GetPaymentMethod(ctx, id)
		return err
	})
	if err != nil {
		return nil, storeError(err, "payment method")
	}
	if method.UserID != p.ID {
		return nil, fmt.Errorf("%w: payment method", ErrNotFound)
	}
	return method, nil
}

func (s *PaymentService) openRef(method *models.PaymentMethod, p auth.Principal) (string, error) {
	if s.Sealer == nil {
		return "", errors.New("payment method storage is not configured")
	}
	ref, err := s.Sealer.Open(method.ProviderRef, p.ID)
	if err != nil {
		return "", fmt.Errorf("failed to open payment method reference: %w", err)
	}
	return ref, nil
}

// ConfirmPayment confirms the caller's intent at the provider and records the
// outcome. A decline is recorded as a failed transaction, not returned as an
// error; a gateway error leaves the transaction unchanged.
func (s *PaymentService) ConfirmPayment(ctx context.Context, p auth.Principal, input ConfirmPaymentInput) (*models.PaymentTransaction, error) {
	ctx, span := startSpan(ctx, "service.payment", "confirm", "ConfirmPayment")
	defer span.Finish()

	if err := requireUser(p); err != nil {
		return nil, err
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var tx *models.PaymentTransaction
	err := s.Store.View(ctx, func(q ledger.Queries) error {
		var err error
		tx, err = q.GetPaymentByIntent(ctx, s.Gateway.Name(), input.IntentID)
		return err
	})
	if err != nil {
		return nil, storeError(err, "payment intent")
	}
	if tx.UserID != p.ID {
		return nil, fmt.Errorf("%w: payment intent", ErrNotFound)
	}
	if tx.Status == models.TransactionSucceeded {
		return tx, nil
	}
	if tx.Status == models.TransactionCancelled {
		return nil, fmt.Errorf("%w: payment has been cancelled", ErrInvalidTransition)
	}

	methodID, methodRef, err := s.resolveMethod(ctx, p, input.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	if tx.OrderID != nil {
		if err := s.holdForConfirm(ctx, tx.ID, *tx.OrderID); err != nil {
			return nil, err
		}
	}

	intent, err := s.Gateway.ConfirmPaymentIntent(ctx, tx.ProviderIntentID, methodRef)
	if err != nil {
		s.Metrics.PaymentConfirmation("error")
		return nil, gatewayError("confirm payment intent", err)
	}

	var settled *settlement
	err = s.Store.InTx(ctx, func(q ledger.Queries) error {
		current, err := q.GetTransactionForUpdate(ctx, tx.ID)
		if err != nil {
			return storeError(err, "payment")
		}
		tx = current
		now := s.now()

		if methodID != nil {
			tx.PaymentMethodID = methodID
		}
		status := transactionStatusForIntent(intent.Status, intent.FailureCode)
		if !applyIntentOutcome(tx, status, intent.ChargeID, intent.FailureCode, intent.FailureMessage, now) {
			return nil
		}
		if err := q.UpdateTransaction(ctx, tx); err != nil {
			return storeError(err, "payment")
		}
		if tx.OrderID == nil {
			return nil
		}
		settled, err = s.recordPaymentOutcome(ctx, q, tx, models.ActorUser, p.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.PaymentConfirmation(string(tx.Status))
	s.loggerFromContext(ctx).Info("payment confirmed",
		"transaction_id", tx.ID, "intent_id", tx.ProviderIntentID, "status", tx.Status, "failure_code", tx.FailureCode)
	s.afterPaymentOutcome(ctx, tx, settled)
	return tx, nil
}

// holdForConfirm checks under the order lock that confirming the payment
// cannot take the order past its total. A failed payment being retried goes
// back to pending so it holds its share again while the provider decides.
func (s *PaymentService) holdForConfirm(ctx context.Context, txID, orderID uuid.UUID) error {
	return s.Store.InTx(ctx, func(q ledger.Queries) error {
		tx, err := q.GetTransactionForUpdate(ctx, txID)
		if err != nil {
			return storeError(err, "payment")
		}
		order, err := q.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return storeError(err, "order")
		}
		if order.Status == models.StatusCancelled || order.Status == models.StatusRefunded {
			return fmt.Errorf("%w: order is %s", ErrInvalidTransition, order.Status)
		}
		if err := s.checkOutstanding(ctx, q, order, tx.Amount, tx.ID); err != nil {
			return err
		}
		if tx.Status != models.TransactionFailed {
			return nil
		}
		tx.Status = models.TransactionPending
		tx.FailureCode = ""
		tx.FailureMessage = ""
		tx.UpdatedAt = s.now()
		return storeError(q.UpdateTransaction(ctx, tx), "payment")
	})
}

// recordPaymentOutcome settles the order after a payment reached succeeded or
// failed. Other statuses leave the order untouched.
func (d Deps) recordPaymentOutcome(ctx context.Context, q ledger.Queries, tx *models.PaymentTransaction, actor models.ActorType, actorID string, now time.Time) (*settlement, error) {
	metadata := map[string]any{
		"transaction_id": tx.ID.String(),
		"amount":         tx.Amount.String(),
	}
	switch tx.Status {
	case models.TransactionSucceeded:
		return settleOrder(ctx, q, *tx.OrderID, now, models.EventPaymentSucceeded, actor, actorID, metadata)
	case models.TransactionFailed:
		if tx.FailureCode != "" {
			metadata["failure_code"] = tx.FailureCode
		}
		event := newOrderEvent(*tx.OrderID, models.EventPaymentFailed, actor, actorID, now)
		event.Metadata = metadata
		return nil, q.InsertOrderEvent(ctx, event)
	}
	return nil, nil
}

func (d Deps) afterPaymentOutcome(ctx context.Context, tx *models.PaymentTransaction, settled *settlement) {
	switch tx.Status {
	case models.TransactionFailed:
		d.publish(ctx, tx.ID.String()+":failed", events.PaymentFailed, tx.UpdatedAt, tx)
	case models.TransactionSucceeded:
		if settled.changed() && settled.PreviousStatus != settled.Order.Status {
			d.Metrics.OrderTransition(string(settled.PreviousStatus), string(settled.Order.Status))
		}
		if settled.becamePaid() {
			d.publish(ctx, settled.Order.ID.String()+":paid", events.OrderPaid, tx.UpdatedAt, settled.Order)
		}
	}
}

// CreateRefund refunds part or all of a succeeded payment. The refund row is
// recorded as pending under a lock on the parent before the provider is
// called, so concurrent refunds cannot together exceed the payment.
func (s *PaymentService) CreateRefund(ctx context.Context, p auth.Principal, input CreateRefundInput) (*models.PaymentTransaction, error) {
	ctx, span := startSpan(ctx, "service.payment", "refund", "CreateRefund")
	defer span.Finish()

	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if input.Amount != nil && !input.Amount.IsPositive() {
		return nil, validationError("refund amount must be positive")
	}

	var (
		refund      *models.PaymentTransaction
		parent      *models.PaymentTransaction
		refundMinor int64
	)
	err := s.Store.InTx(ctx, func(q ledger.Queries) error {
		var err error
		parent, err = q.GetTransactionForUpdate(ctx, input.TransactionID)
		if err != nil {
			return storeError(err, "transaction")
		}
		if parent.Type != models.TransactionPayment || parent.Status != models.TransactionSucceeded {
			return fmt.Errorf("%w: only succeeded payments can be refunded", ErrInvalidTransition)
		}

		requested := parent.Amount
		if input.Amount != nil {
			requested = *input.Amount
		}
		amount, minor, err := chargeAmount(requested, parent.Currency, "refund amount")
		if err != nil {
			return err
		}
		refundMinor = minor
		reserved, err := q.SumRefunds(ctx, parent.ID)
		if err != nil {
			return fmt.Errorf("failed to sum refunds: %w", err)
		}
		refundable := parent.Amount.Sub(reserved)
		if amount.GreaterThan(refundable) {
			return validationError("refund of %s exceeds refundable balance %s",
				money.Format(amount, parent.Currency), money.Format(refundable, parent.Currency))
		}

		now := s.now()
		refundType := models.TransactionPartialRefund
		if amount.Equal(parent.Amount) {
			refundType = models.TransactionRefund
		}
		refund = &models.PaymentTransaction{
			ID:                  uuid.New(),
			OrderID:             parent.OrderID,
			UserID:              parent.UserID,
			PaymentMethodID:     parent.PaymentMethodID,
			Type:                refundType,
			Status:              models.TransactionPending,
			Amount:              amount,
			Currency:            parent.Currency,
			Provider:            parent.Provider,
			ProviderCustomerID:  parent.ProviderCustomerID,
			ProviderIntentID:    parent.ProviderIntentID,
			ParentTransactionID: &parent.ID,
			Reason:              input.Reason,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := q.InsertTransaction(ctx, refund); err != nil {
			return storeError(err, "failed to record refund")
		}
		if refund.OrderID == nil {
			return nil
		}
		event := newOrderEvent(*refund.OrderID, models.EventOrderRefundCreated, models.ActorAdmin, p.ID, now)
		event.Metadata = map[string]any{
			"refund_transaction_id": refund.ID.String(),
			"amount":                amount.String(),
		}
		if input.Reason != "" {
			event.Metadata["reason"] = input.Reason
		}
		return q.InsertOrderEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	logger := s.loggerFromContext(ctx).With("refund_transaction_id", refund.ID, "parent_transaction_id", parent.ID)
	result, err := s.Gateway.CreateRefund(ctx, gateway.RefundParams{
		IntentID:       parent.ProviderIntentID,
		Amount:         refundMinor,
		Currency:       refund.Currency,
		Reason:         input.Reason,
		Metadata:       map[string]string{metadataRefundTransactionID: refund.ID.String()},
		IdempotencyKey: "refund:" + refund.ID.String(),
	})
	if err != nil {
		if gateway.IsTemporary(err) {
			// Outcome unknown; the row keeps its reservation until a webhook settles it.
			s.Metrics.Refund("unknown")
			logger.Warn("refund outcome unknown, left pending", "error", err)
			return nil, gatewayError("create refund", err)
		}
		s.Metrics.Refund("rejected")
		if _, _, markErr := s.settleRefund(ctx, refund.ID, refundOutcome{
			Status:  gateway.RefundFailed,
			Code:    gatewayCode(err),
			Message: err.Error(),
		}, models.ActorAdmin, p.ID); markErr != nil {
			logger.Error("failed to release rejected refund", "error", markErr)
		}
		return nil, gatewayError("create refund", err)
	}

	updated, settled, err := s.settleRefund(ctx, refund.ID, refundOutcome{
		ProviderRef: result.ID,
		Status:      result.Status,
		Message:     result.FailureReason,
	}, models.ActorAdmin, p.ID)
	if err != nil {
		return nil, err
	}

	s.Metrics.Refund(string(updated.Status))
	logger.Info("refund created", "status", updated.Status, "amount", updated.Amount.String())
	s.afterRefundOutcome(ctx, updated, settled)
	return updated, nil
}

type refundOutcome struct {
	ProviderRef string
	Status      gateway.RefundStatus
	Code        string
	Message     string
}

// settleRefund applies a provider outcome to a refund row in its own transaction.
func (d Deps) settleRefund(ctx context.Context, refundID uuid.UUID, outcome refundOutcome, actor models.ActorType, actorID string) (*models.PaymentTransaction, *settlement, error) {
	var (
		refund  *models.PaymentTransaction
		settled *settlement
	)
	err := d.Store.InTx(ctx, func(q ledger.Queries) error {
		var err error
		refund, settled, err = applyRefundOutcome(ctx, q, refundID, outcome, actor, actorID, d.now())
		return err
	})
	return refund, settled, err
}

// applyRefundOutcome moves a refund row to the provider's status. Rows already
// in a final status are left alone, so replays are no-ops.
func applyRefundOutcome(ctx context.Context, q ledger.Queries, refundID uuid.UUID, outcome refundOutcome, actor models.ActorType, actorID string, now time.Time) (*models.PaymentTransaction, *settlement, error) {
	refund, err := q.GetTransactionForUpdate(ctx, refundID)
	if err != nil {
		return nil, nil, storeError(err, "refund")
	}
	if refund.Status.Final() {
		return refund, nil, nil
	}

	if outcome.ProviderRef != "" {
		refund.ProviderTransactionID = outcome.ProviderRef
	}
	switch outcome.Status {
	case gateway.RefundSucceeded:
		refund.Status = models.TransactionSucceeded
		refund.CompletedAt = &now
	case gateway.RefundFailed:
		refund.Status = models.TransactionFailed
		refund.FailureCode = outcome.Code
		refund.FailureMessage = outcome.Message
	case gateway.RefundCanceled:
		refund.Status = models.TransactionCancelled
		refund.FailureMessage = outcome.Message
	default:
		refund.Status = models.TransactionPending
	}
	refund.UpdatedAt = now
	if err := q.UpdateTransaction(ctx, refund); err != nil {
		return nil, nil, storeError(err, "refund")
	}
	if refund.OrderID == nil || !refund.Status.Final() {
		return refund, nil, nil
	}

	metadata := map[string]any{
		"refund_transaction_id": refund.ID.String(),
		"amount":                refund.Amount.String(),
	}
	if refund.Status != models.TransactionSucceeded {
		if refund.FailureMessage != "" {
			metadata["failure_message"] = refund.FailureMessage
		}
		event := newOrderEvent(*refund.OrderID, models.EventOrderRefundRejected, actor, actorID, now)
		event.Metadata = metadata
		return refund, nil, q.InsertOrderEvent(ctx, event)
	}

	settled, err := settleOrder(ctx, q, *refund.OrderID, now, models.EventOrderRefundSettled, actor, actorID, metadata)
	if err != nil {
		return nil, nil, err
	}
	if !settled.changed() {
		event := newOrderEvent(*refund.OrderID, models.EventOrderRefundSettled, actor, actorID, now)
		event.Metadata = metadata
		if err := q.InsertOrderEvent(ctx, event); err != nil {
			return nil, nil, err
		}
	}
	return refund, settled, nil
}

func (d Deps) afterRefundOutcome(ctx context.Context, refund *models.PaymentTransaction, settled *settlement) {
	switch refund.Status {
	case models.TransactionSucceeded:
		d.publish(ctx, refund.ID.String()+":settled", events.RefundSettled, refund.UpdatedAt, refund)
		if settled == nil {
			return
		}
		if settled.becameRefunded() {
			d.Metrics.OrderTransition(string(settled.PreviousStatus), string(settled.Order.Status))
			d.publish(ctx, settled.Order.ID.String()+":refunded", events.OrderRefunded, refund.UpdatedAt, settled.Order)
		}
		d.notify(ctx, "refund_issued", func() error { return d.Notifier.RefundIssued(ctx, settled.Order, refund.Amount) })
	case models.TransactionFailed, models.TransactionCancelled:
		d.publish(ctx, refund.ID.String()+":rejected", events.RefundRejected, refund.UpdatedAt, refund)
	}
}

// AddPaymentMethod exchanges a client token for a reusable method attached to
// the caller's provider customer. The first method becomes the default.
func (s *PaymentService) AddPaymentMethod(ctx context.Context, p auth.Principal, input AddPaymentMethodInput) (*models.PaymentMethod, error) {
	ctx, span := startSpan(ctx, "service.payment", "add_method", "AddPaymentMethod")
	defer span.Finish()

	if err := requireUser(p); err != nil {
		return nil, err
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if s.Sealer == nil {
		return nil, errors.New("payment method storage is not configured")
	}

	customerID, err := s.ensureCustomer(ctx, p)
	if err != nil {
		return nil, err
	}
	created, err := s.Gateway.CreatePaymentMethod(ctx, gateway.PaymentMethodParams{Token: input.Token, CustomerID: customerID})
	if err != nil {
		return nil, gatewayError("create payment method", err)
	}
	if err := s.Gateway.AttachPaymentMethod(ctx, customerID, created.Ref); err != nil {
		return nil, gatewayError("attach payment method", err)
	}
	sealed, err := s.Sealer.Seal(created.Ref, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to seal payment method reference: %w", err)
	}

	method := &models.PaymentMethod{
		ID:          uuid.New(),
		UserID:      p.ID,
		Provider:    s.Gateway.Name(),
		ProviderRef: sealed,
		Brand:       created.Brand,
		Last4:       created.Last4,
		ExpMonth:    created.ExpMonth,
		ExpYear:     created.ExpYear,
		CreatedAt:   s.now(),
	}
	err = s.Store.InTx(ctx, func(q ledger.Queries) error {
		existing, err := q.LockPaymentMethods(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to lock payment methods: %w", err)
		}
		method.IsDefault = len(existing) == 0
		if err := q.InsertPaymentMethod(ctx, method); err != nil {
			return storeError(err, "failed to record payment method")
		}
		if input.MakeDefault && !method.IsDefault {
			method.IsDefault = true
			return q.SetDefaultPaymentMethod(ctx, p.ID, method.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return method, nil
}

func (s *PaymentService) ListPaymentMethods(ctx context.Context, p auth.Principal) ([]models.PaymentMethod, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}
	var methods []models.PaymentMethod
	err := s.Store.View(ctx, func(q ledger.Queries) error {
		var err error
		methods, err = q.ListPaymentMethods(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	if methods == nil {
		methods = []models.PaymentMethod{}
	}
	return methods, nil
}

// SetDefaultPaymentMethod makes id the caller's only default method.
func (s *PaymentService) SetDefaultPaymentMethod(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	if err := requireUser(p); err != nil {
		return err
	}
	return s.Store.InTx(ctx, func(q ledger.Queries) error {
		methods, err := q.LockPaymentMethods(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to lock payment methods: %w", err)
		}
		if !containsMethod(methods, id) {
			return fmt.Errorf("%w: payment method", ErrNotFound)
		}
		return storeError(q.SetDefaultPaymentMethod(ctx, p.ID, id), "payment method")
	})
}

// RemovePaymentMethod detaches the method at the provider and deletes it. When
// the default is removed the oldest remaining method takes its place.
func (s *PaymentService) RemovePaymentMethod(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	ctx, span := startSpan(ctx, "service.payment", "remove_method", "RemovePaymentMethod")
	defer span.Finish()

	if err := requireUser(p); err != nil {
		return err
	}
	method, err := s.ownedMethod(ctx, p, id)
	if err != nil {
		return err
	}
	ref, err := s.openRef(method, p)
	if err != nil {
		return err
	}
	if err := s.Gateway.DetachPaymentMethod(ctx, ref); err != nil && gatewayCode(err) != gateway.CodeResourceMissing {
		return gatewayError("detach payment method", err)
	}

	return s.Store.InTx(ctx, func(q ledger.Queries) error {
		methods, err := q.LockPaymentMethods(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to lock payment methods: %w", err)
		}
		if !containsMethod(methods, id) {
			return nil
		}
		if err := q.DeletePaymentMethod(ctx, id); err != nil {
			return storeError(err, "payment method")
		}
		if !method.IsDefault {
			return nil
		}
		for _, other := range methods {
			if other.ID != id {
				return q.SetDefaultPaymentMethod(ctx, p.ID, other.ID)
			}
		}
		return nil
	})
}

// ListTransactions returns the transactions of one order the caller may read,
// or the caller's most recent transactions when orderID is nil.
func (s *PaymentService) ListTransactions(ctx context.Context, p auth.Principal, orderID *uuid.UUID) ([]models.PaymentTransaction, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}

	var txs []models.PaymentTransaction
	err := s.Store.View(ctx, func(q ledger.Queries) error {
		if orderID == nil {
			var err error
			txs, err = q.ListTransactionsByUser(ctx, p.ID, transactionListLimit)
			return err
		}
		order, err := q.GetOrder(ctx, *orderID)
		if err != nil {
			return storeError(err, "order")
		}
		if err := authorizeOrder(p, order); err != nil {
			return err
		}
		txs, err = q.ListTransactionsByOrder(ctx, *orderID)
		return err
	})
	if err != nil {
		if isClientError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	if txs == nil {
		txs = []models.PaymentTransaction{}
	}
	return txs, nil
}

// transactionStatusForIntent maps a provider intent status. An intent back in
// requires_payment_method with a failure code was declined.
func transactionStatusForIntent(status gateway.IntentStatus, failureCode string) models.TransactionStatus {
	switch status {
	case gateway.IntentSucceeded:
		return models.TransactionSucceeded
	case gateway.IntentProcessing:
		return models.TransactionProcessing
	case gateway.IntentRequiresAction:
		return models.TransactionRequiresAction
	case gateway.IntentCanceled:
		return models.TransactionCancelled
	case gateway.IntentRequiresPaymentMethod:
		if failureCode != "" {
			return models.TransactionFailed
		}
	}
	return models.TransactionPending
}

// applyIntentOutcome updates tx in place and reports whether anything changed.
// A succeeded payment never regresses.
func applyIntentOutcome(tx *models.PaymentTransaction, status models.TransactionStatus, chargeID, code, message string, now time.Time) bool {
	if tx.Status == models.TransactionSucceeded {
		return false
	}
	if tx.Status == status && tx.FailureCode == code {
		return false
	}

	tx.Status = status
	tx.UpdatedAt = now
	switch status {
	case models.TransactionSucceeded:
		tx.CompletedAt = &now
		tx.FailureCode = ""
		tx.FailureMessage = ""
		if chargeID != "" {
			tx.ProviderTransactionID = chargeID
		}
	case models.TransactionFailed:
		tx.FailureCode = code
		tx.FailureMessage = message
	default:
		tx.FailureCode = ""
		tx.FailureMessage = ""
	}
	return true
}

func containsMethod(methods []models.PaymentMethod, id uuid.UUID) bool {
	for _, m := range methods {
		if m.ID == id {
			return true
		}
	}
	return false
}

func gatewayCode(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return ""
}
