package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/models"
	"github.com/gitshopapp/commerce/internal/money"
)

type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

type Breakdown struct {
	LineTotals []decimal.Decimal
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	// Discounts carries each discount with its frozen, capped amount.
	Discounts []models.Discount
}

type Pricer struct{}

func NewPricer() *Pricer {
	return &Pricer{}
}

// Compute prices the lines and resolves every discount exactly once.
//
// Percentage and fixed-amount discounts draw from the subtotal; shipping
// discounts draw from shipping. Each resolved amount is capped at what is left
// of its pool, so Total = Subtotal + Tax + Shipping - Discount holds exactly and
// Total is never below Tax.
func (p *Pricer) Compute(lines []Line, discounts []Discount, tax, shipping decimal.Decimal, currency string) (*Breakdown, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("at least one line item is required")
	}
	if tax.IsNegative() {
		return nil, fmt.Errorf("tax must not be negative")
	}
	if shipping.IsNegative() {
		return nil, fmt.Errorf("shipping must not be negative")
	}

	b := &Breakdown{
		LineTotals: make([]decimal.Decimal, len(lines)),
		Subtotal:   decimal.Zero,
		Tax:        money.Round(tax, currency),
		Shipping:   money.Round(shipping, currency),
		Discount:   decimal.Zero,
	}

	for i, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("line %d: quantity must be positive", i)
		}
		if line.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("line %d: price must not be negative", i)
		}
		lineTotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		if err := money.CheckRange(lineTotal); err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		b.LineTotals[i] = lineTotal
		b.Subtotal = b.Subtotal.Add(lineTotal)
	}
	b.Subtotal = money.Round(b.Subtotal, currency)

	basis := Basis{Subtotal: b.Subtotal, Shipping: b.Shipping, Currency: currency}
	subtotalPool := b.Subtotal
	shippingPool := b.Shipping

	for _, d := range discounts {
		amount := d.Resolve(basis)
		if d.Kind() == models.DiscountShipping {
			amount = decimal.Min(amount, shippingPool)
			shippingPool = shippingPool.Sub(amount)
		} else {
			amount = decimal.Min(amount, subtotalPool)
			subtotalPool = subtotalPool.Sub(amount)
		}
		b.Discount = b.Discount.Add(amount)
		b.Discounts = append(b.Discounts, models.Discount{
			Code:   d.Code(),
			Kind:   d.Kind(),
			Value:  d.Value(),
			Amount: amount,
		})
	}

	b.Total = b.Subtotal.Add(b.Tax).Add(b.Shipping).Sub(b.Discount)
	for _, field := range []struct {
		name   string
		amount decimal.Decimal
	}{
		{"tax", b.Tax},
		{"shipping", b.Shipping},
		{"subtotal", b.Subtotal},
		{"total", b.Total},
	} {
		if err := money.CheckRange(field.amount); err != nil {
			return nil, fmt.Errorf("%s: %w", field.name, err)
		}
	}
	return b, nil
}
