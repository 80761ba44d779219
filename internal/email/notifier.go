package email

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/models"
	"github.com/gitshopapp/commerce/internal/money"
)

// Notifier renders order lifecycle messages and hands them to a Provider.
// Orders without an email address are skipped.
type Notifier struct {
	provider Provider
	renderer *Renderer
}

func NewNotifier(provider Provider) (*Notifier, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	return &Notifier{provider: provider, renderer: renderer}, nil
}

func (n *Notifier) OrderConfirmed(ctx context.Context, order *models.Order) error {
	return n.send(ctx, TemplateOrderConfirmation, order, nil)
}

func (n *Notifier) OrderCancelled(ctx context.Context, order *models.Order) error {
	return n.send(ctx, TemplateOrderCancelled, order, func(msg *Message) {
		msg.Reason = order.CancelReason
	})
}

func (n *Notifier) OrderShipped(ctx context.Context, order *models.Order) error {
	return n.send(ctx, TemplateOrderShipped, order, nil)
}

func (n *Notifier) RefundIssued(ctx context.Context, order *models.Order, amount decimal.Decimal) error {
	return n.send(ctx, TemplateRefundIssued, order, func(msg *Message) {
		msg.RefundAmount = money.Format(amount, order.Currency)
	})
}

func (n *Notifier) send(ctx context.Context, name string, order *models.Order, customize func(*Message)) error {
	if order == nil || order.Email == "" {
		return nil
	}

	msg := BuildMessage(order)
	if customize != nil {
		customize(msg)
	}

	email, err := n.renderer.Render(name, msg)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	return n.provider.SendEmail(ctx, email)
}

// BuildMessage maps an order onto the template view model.
func BuildMessage(order *models.Order) *Message {
	format := func(d decimal.Decimal) string {
		return money.Format(d, order.Currency)
	}

	msg := &Message{
		OrderNumber:     order.OrderNumber,
		CustomerEmail:   order.Email,
		OrderDate:       order.CreatedAt.Format("January 2, 2006"),
		Subtotal:        format(order.Subtotal),
		Shipping:        format(order.Shipping),
		Tax:             format(order.Tax),
		Total:           format(order.Total),
		TrackingNumber:  order.TrackingNumber,
		TrackingCarrier: order.TrackingCarrier,
		TrackingURL:     order.TrackingURL,
	}
	if order.Discount.IsPositive() {
		msg.Discount = format(order.Discount)
	}
	for _, item := range order.LineItems {
		msg.Items = append(msg.Items, MessageItem{
			Title:     item.Title,
			Quantity:  item.Quantity,
			LineTotal: format(item.LineTotal),
		})
	}
	return msg
}
