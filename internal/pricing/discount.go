// Package pricing computes order totals and resolves discounts.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/models"
	"github.com/gitshopapp/commerce/internal/money"
)

var hundred = decimal.NewFromInt(100)

// Basis is the set of amounts a discount is resolved against.
type Basis struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Currency string
}

// Discount is a closed set of discount kinds. Resolve is pure and returns the
// uncapped amount the discount would take off its basis.
type Discount interface {
	Code() string
	Kind() models.DiscountKind
	Value() decimal.Decimal
	Resolve(b Basis) decimal.Decimal
	sealed()
}

type Percentage struct {
	code    string
	percent decimal.Decimal
}

func (d Percentage) Code() string              { return d.code }
func (d Percentage) Kind() models.DiscountKind { return models.DiscountPercentage }
func (d Percentage) Value() decimal.Decimal    { return d.percent }
func (Percentage) sealed()                     {}

func (d Percentage) Resolve(b Basis) decimal.Decimal {
	return money.Round(b.Subtotal.Mul(d.percent).Div(hundred), b.Currency)
}

type FixedAmount struct {
	code   string
	amount decimal.Decimal
}

func (d FixedAmount) Code() string              { return d.code }
func (d FixedAmount) Kind() models.DiscountKind { return models.DiscountFixedAmount }
func (d FixedAmount) Value() decimal.Decimal    { return d.amount }
func (FixedAmount) sealed()                     {}

func (d FixedAmount) Resolve(b Basis) decimal.Decimal {
	return money.Round(d.amount, b.Currency)
}

// Shipping takes a fixed amount off shipping; a zero value waives shipping entirely.
type Shipping struct {
	code   string
	amount decimal.Decimal
}

func (d Shipping) Code() string              { return d.code }
func (d Shipping) Kind() models.DiscountKind { return models.DiscountShipping }
func (d Shipping) Value() decimal.Decimal    { return d.amount }
func (Shipping) sealed()                     {}

func (d Shipping) Resolve(b Basis) decimal.Decimal {
	if d.amount.IsZero() {
		return b.Shipping
	}
	return money.Round(d.amount, b.Currency)
}

// NewDiscount validates the source value for a kind and returns the matching variant.
func NewDiscount(code string, kind models.DiscountKind, value decimal.Decimal) (Discount, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("discount code is required")
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("discount %s: value must not be negative", code)
	}

	switch kind {
	case models.DiscountPercentage:
		if value.IsZero() || value.GreaterThan(hundred) {
			return nil, fmt.Errorf("discount %s: percentage must be within (0, 100]", code)
		}
		return Percentage{code: code, percent: value}, nil
	case models.DiscountFixedAmount:
		if value.IsZero() {
			return nil, fmt.Errorf("discount %s: fixed amount must be positive", code)
		}
		return FixedAmount{code: code, amount: value}, nil
	case models.DiscountShipping:
		return Shipping{code: code, amount: value}, nil
	default:
		return nil, fmt.Errorf("discount %s: unknown kind %q", code, kind)
	}
}
