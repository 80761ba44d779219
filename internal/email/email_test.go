package email

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/models"
)

type captureProvider struct {
	sent []*Email
}

func (c *captureProvider) SendEmail(_ context.Context, email *Email) error {
	c.sent = append(c.sent, email)
	return nil
}

func testOrder() *models.Order {
	return &models.Order{
		OrderNumber: "ORD-20260115-7K3M9QXZ",
		Email:       "buyer@example.com",
		Currency:    "USD",
		Subtotal:    decimal.RequireFromString("50.00"),
		Discount:    decimal.RequireFromString("5.00"),
		Tax:         decimal.Zero,
		Shipping:    decimal.Zero,
		Total:       decimal.RequireFromString("45.00"),
		CreatedAt:   time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		LineItems: []models.LineItem{
			{Title: "Mug <Large>", Quantity: 2, LineTotal: decimal.RequireFromString("50.00")},
		},
	}
}

func TestNotifierOrderConfirmed(t *testing.T) {
	t.Parallel()

	provider := &captureProvider{}
	n, err := NewNotifier(provider)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	if err := n.OrderConfirmed(t.Context(), testOrder()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(provider.sent))
	}

	sent := provider.sent[0]
	if sent.To != "buyer@example.com" || sent.Subject != "Order ORD-20260115-7K3M9QXZ received" {
		t.Fatalf("unexpected envelope: %+v", sent)
	}
	if !strings.Contains(sent.Text, "Total: 45.00 USD") || !strings.Contains(sent.Text, "Discount: -5.00 USD") {
		t.Fatalf("unexpected text body: %q", sent.Text)
	}
	if strings.Contains(sent.HTML, "<Large>") || !strings.Contains(sent.HTML, "Mug &lt;Large&gt;") {
		t.Fatalf("expected escaped HTML, got %q", sent.HTML)
	}
}

func TestNotifierRefundAndSkip(t *testing.T) {
	t.Parallel()

	provider := &captureProvider{}
	n, err := NewNotifier(provider)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	if err := n.RefundIssued(t.Context(), testOrder(), decimal.RequireFromString("20")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(provider.sent[0].Text, "20.00 USD") {
		t.Fatalf("unexpected refund body: %q", provider.sent[0].Text)
	}

	anonymous := testOrder()
	anonymous.Email = ""
	if err := n.OrderCancelled(t.Context(), anonymous); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatal("expected orders without email to be skipped")
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider(Config{Provider: "postmark"}, nil, nil); err == nil {
		t.Fatal("expected unsupported provider error")
	}
	if _, err := NewProvider(Config{Provider: "resend"}, nil, nil); err == nil {
		t.Fatal("expected missing key error")
	}
	p, err := NewProvider(Config{Provider: "log"}, nil, nil)
	if err != nil || p == nil {
		t.Fatalf("expected log provider, got %v", err)
	}
}
