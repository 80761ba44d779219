package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/ledger"
	"github.com/gitshopapp/commerce/internal/models"
)

// settlement describes what settleOrder changed, for post-commit hooks.
type settlement struct {
	Order          *models.Order
	PreviousStatus models.OrderStatus
	PreviousFin    models.FinancialStatus
	Event          *models.OrderEvent
}

func (s *settlement) changed() bool {
	return s != nil && s.Event != nil
}

func (s *settlement) becamePaid() bool {
	return s.changed() && s.PreviousFin != models.FinancialPaid && s.Order.FinancialStatus == models.FinancialPaid
}

func (s *settlement) becameRefunded() bool {
	return s.changed() && s.PreviousStatus != models.StatusRefunded && s.Order.Status == models.StatusRefunded
}

// settleOrder recomputes an order's financial status from its succeeded
// payments and refunds. A fully paid pending order is confirmed and a fully
// refunded order in a post-payment status becomes refunded. The order row is
// locked for the rest of the transaction. eventType names the audit event
// written when anything changes.
func settleOrder(ctx context.Context, q ledger.Queries, orderID uuid.UUID, now time.Time, eventType string, actor models.ActorType, actorID string, metadata map[string]any) (*settlement, error) {
	order, err := q.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, storeError(err, "order")
	}
	txs, err := q.ListTransactionsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order transactions: %w", err)
	}

	paid, refunded := decimal.Zero, decimal.Zero
	for _, tx := range txs {
		if tx.Status != models.TransactionSucceeded {
			continue
		}
		switch {
		case tx.Type == models.TransactionPayment || tx.Type == models.TransactionCapture:
			paid = paid.Add(tx.Amount)
		case tx.Type.IsRefund():
			refunded = refunded.Add(tx.Amount)
		}
	}

	result := &settlement{
		Order:          order,
		PreviousStatus: order.Status,
		PreviousFin:    order.FinancialStatus,
	}
	before := order.Clone()

	switch {
	case refunded.IsPositive() && refunded.GreaterThanOrEqual(paid):
		order.FinancialStatus = models.FinancialRefunded
	case refunded.IsPositive():
		order.FinancialStatus = models.FinancialPartiallyRefunded
	case paid.IsPositive() && paid.GreaterThanOrEqual(order.Total):
		order.FinancialStatus = models.FinancialPaid
	case paid.IsPositive():
		order.FinancialStatus = models.FinancialPartiallyPaid
	}

	switch {
	case order.FinancialStatus == models.FinancialPaid && order.Status == models.StatusPending:
		applyStatus(order, models.StatusConfirmed, now)
	case order.FinancialStatus == models.FinancialRefunded && models.CanTransition(order.Status, models.StatusRefunded):
		applyStatus(order, models.StatusRefunded, now)
	}

	prev, curr := diffOrders(before, order)
	if len(curr) == 0 {
		return result, nil
	}

	order.UpdatedAt = now
	if err := q.UpdateOrder(ctx, order); err != nil {
		return nil, storeError(err, "order")
	}

	event := newOrderEvent(order.ID, eventType, actor, actorID, now)
	event.Previous = prev
	event.Current = curr
	event.Metadata = metadata
	if err := q.InsertOrderEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record settlement: %w", err)
	}
	result.Event = event
	return result, nil
}
