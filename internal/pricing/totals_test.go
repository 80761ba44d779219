package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/models"
	"github.com/gitshopapp/commerce/internal/money"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustDiscount(t *testing.T, code string, kind models.DiscountKind, value string) Discount {
	t.Helper()
	d, err := NewDiscount(code, kind, dec(value))
	if err != nil {
		t.Fatalf("NewDiscount() error = %v", err)
	}
	return d
}

func TestComputeTotals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		lines        []Line
		discounts    func(t *testing.T) []Discount
		tax          string
		shipping     string
		wantSubtotal string
		wantDiscount string
		wantTotal    string
	}{
		{
			name:         "percentage discount",
			lines:        []Line{{Quantity: 2, UnitPrice: dec("25.00")}},
			discounts:    func(t *testing.T) []Discount { return []Discount{mustDiscount(t, "TEN", models.DiscountPercentage, "10")} },
			tax:          "0",
			shipping:     "0",
			wantSubtotal: "50.00",
			wantDiscount: "5.00",
			wantTotal:    "45.00",
		},
		{
			name:         "fixed discount larger than subtotal is capped",
			lines:        []Line{{Quantity: 1, UnitPrice: dec("50.00")}},
			discounts:    func(t *testing.T) []Discount { return []Discount{mustDiscount(t, "BIG", models.DiscountFixedAmount, "80")} },
			tax:          "4.00",
			shipping:     "6.00",
			wantSubtotal: "50.00",
			wantDiscount: "50.00",
			wantTotal:    "10.00",
		},
		{
			name:  "free shipping plus percentage",
			lines: []Line{{Quantity: 3, UnitPrice: dec("10.00")}, {Quantity: 1, UnitPrice: dec("5.50")}},
			discounts: func(t *testing.T) []Discount {
				return []Discount{
					mustDiscount(t, "SHIPFREE", models.DiscountShipping, "0"),
					mustDiscount(t, "FIVE", models.DiscountPercentage, "5"),
				}
			},
			tax:          "2.84",
			shipping:     "7.00",
			wantSubtotal: "35.50",
			wantDiscount: "8.78",
			wantTotal:    "36.56",
		},
		{
			name:  "stacked discounts share the subtotal pool",
			lines: []Line{{Quantity: 1, UnitPrice: dec("20.00")}},
			discounts: func(t *testing.T) []Discount {
				return []Discount{
					mustDiscount(t, "HALF", models.DiscountPercentage, "50"),
					mustDiscount(t, "FIFTEEN", models.DiscountFixedAmount, "15"),
				}
			},
			tax:          "0",
			shipping:     "3.00",
			wantSubtotal: "20.00",
			wantDiscount: "20.00",
			wantTotal:    "3.00",
		},
		{
			name:         "no discounts",
			lines:        []Line{{Quantity: 1, UnitPrice: dec("0")}},
			discounts:    func(*testing.T) []Discount { return nil },
			tax:          "0",
			shipping:     "0",
			wantSubtotal: "0",
			wantDiscount: "0",
			wantTotal:    "0",
		},
	}

	pricer := NewPricer()
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := pricer.Compute(tc.lines, tc.discounts(t), dec(tc.tax), dec(tc.shipping), "USD")
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if !got.Subtotal.Equal(dec(tc.wantSubtotal)) {
				t.Fatalf("subtotal = %s, want %s", got.Subtotal, tc.wantSubtotal)
			}
			if !got.Discount.Equal(dec(tc.wantDiscount)) {
				t.Fatalf("discount = %s, want %s", got.Discount, tc.wantDiscount)
			}
			if !got.Total.Equal(dec(tc.wantTotal)) {
				t.Fatalf("total = %s, want %s", got.Total, tc.wantTotal)
			}

			sum := decimal.Zero
			for _, d := range got.Discounts {
				sum = sum.Add(d.Amount)
			}
			if !sum.Equal(got.Discount) {
				t.Fatalf("frozen discount amounts %s do not add up to %s", sum, got.Discount)
			}
			if !got.Subtotal.Add(got.Tax).Add(got.Shipping).Sub(got.Discount).Equal(got.Total) {
				t.Fatal("totals invariant violated")
			}
			if got.Total.IsNegative() {
				t.Fatalf("negative total %s", got.Total)
			}
		})
	}
}

func TestComputeRejectsInvalidLines(t *testing.T) {
	t.Parallel()

	pricer := NewPricer()
	cases := map[string][]Line{
		"empty":          nil,
		"zero quantity":  {{Quantity: 0, UnitPrice: dec("1")}},
		"negative price": {{Quantity: 1, UnitPrice: dec("-1")}},
	}
	for name, lines := range cases {
		if _, err := pricer.Compute(lines, nil, decimal.Zero, decimal.Zero, "USD"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := pricer.Compute([]Line{{Quantity: 1, UnitPrice: dec("1")}}, nil, dec("-1"), decimal.Zero, "USD"); err == nil {
		t.Fatal("expected error for negative tax")
	}
}

func TestComputeRejectsUnstorableAmounts(t *testing.T) {
	t.Parallel()

	pricer := NewPricer()
	one := []Line{{Quantity: 1, UnitPrice: dec("1")}}
	cases := []struct {
		name     string
		lines    []Line
		tax      decimal.Decimal
		shipping decimal.Decimal
	}{
		{name: "huge unit price", lines: []Line{{Quantity: 1, UnitPrice: dec("1e20")}}},
		{name: "price times quantity", lines: []Line{{Quantity: 999, UnitPrice: dec("2000000000")}}},
		{name: "subtotal across lines", lines: []Line{{Quantity: 1, UnitPrice: dec("600000000000")}, {Quantity: 1, UnitPrice: dec("600000000000")}}},
		{name: "huge tax", lines: one, tax: dec("1e12")},
		{name: "huge shipping", lines: one, shipping: dec("1e15")},
		{name: "total over limit", lines: []Line{{Quantity: 1, UnitPrice: dec("999999999999")}}, tax: dec("5")},
	}
	for _, tc := range cases {
		_, err := pricer.Compute(tc.lines, nil, tc.tax, tc.shipping, "USD")
		if !errors.Is(err, money.ErrOutOfRange) {
			t.Fatalf("%s: expected ErrOutOfRange, got %v", tc.name, err)
		}
	}

	if _, err := pricer.Compute([]Line{{Quantity: 1, UnitPrice: dec("999999999999.99")}}, nil, decimal.Zero, decimal.Zero, "USD"); err != nil {
		t.Fatalf("largest storable total rejected: %v", err)
	}
}

func TestNewDiscountValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		code  string
		kind  models.DiscountKind
		value string
	}{
		{name: "missing code", code: " ", kind: models.DiscountPercentage, value: "10"},
		{name: "percentage over 100", code: "X", kind: models.DiscountPercentage, value: "101"},
		{name: "zero percentage", code: "X", kind: models.DiscountPercentage, value: "0"},
		{name: "zero fixed", code: "X", kind: models.DiscountFixedAmount, value: "0"},
		{name: "negative", code: "X", kind: models.DiscountShipping, value: "-1"},
		{name: "unknown kind", code: "X", kind: "bogo", value: "1"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewDiscount(tc.code, tc.kind, dec(tc.value)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
