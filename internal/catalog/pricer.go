package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/money"
)

var (
	ErrUnknownProduct  = errors.New("unknown product")
	ErrInactiveProduct = errors.New("product is not available")
	ErrInvalidOption   = errors.New("invalid product option")
)

// PricedItem is a cart line resolved against the price book.
type PricedItem struct {
	ProductID string
	VariantID string
	SKU       string
	Title     string
	UnitPrice decimal.Decimal
}

// Pricer answers price lookups against a validated price book.
type Pricer struct {
	currency string
	flatRate decimal.Decimal
	freeOver decimal.Decimal
	products map[string]ProductConfig
}

func NewPricer(book *PriceBook) (*Pricer, error) {
	currency, err := money.NormalizeCurrency(book.Store.Currency)
	if err != nil {
		return nil, err
	}
	flatRate, err := parseAmount(book.Store.Shipping.FlatRate, true)
	if err != nil {
		return nil, err
	}
	freeOver, err := parseAmount(book.Store.Shipping.FreeOver, true)
	if err != nil {
		return nil, err
	}

	p := &Pricer{
		currency: currency,
		flatRate: money.Round(flatRate, currency),
		freeOver: freeOver,
		products: make(map[string]ProductConfig, len(book.Products)),
	}
	for _, product := range book.Products {
		p.products[product.ID] = product
	}
	return p, nil
}

func (p *Pricer) Currency() string {
	return p.currency
}

// Price resolves a product or variant and checks the line's properties against
// the product options. Unknown property keys are rejected.
func (p *Pricer) Price(productID, variantID string, properties map[string]any) (*PricedItem, error) {
	product, ok := p.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	if !product.Active {
		return nil, fmt.Errorf("%w: %s", ErrInactiveProduct, productID)
	}

	item := &PricedItem{
		ProductID: product.ID,
		SKU:       product.SKU,
		Title:     product.Title,
	}
	price := product.Price

	if variantID != "" {
		idx := slices.IndexFunc(product.Variants, func(v VariantConfig) bool { return v.ID == variantID })
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownProduct, productID, variantID)
		}
		variant := product.Variants[idx]
		item.VariantID = variant.ID
		if variant.SKU != "" {
			item.SKU = variant.SKU
		}
		if variant.Title != "" {
			item.Title = product.Title + " - " + variant.Title
		}
		if variant.Price != "" {
			price = variant.Price
		}
	} else if len(product.Variants) > 0 {
		return nil, fmt.Errorf("%w: %s requires a variant", ErrInvalidOption, productID)
	}

	if err := checkOptions(product.Options, properties); err != nil {
		return nil, err
	}

	unitPrice, err := parseAmount(price, false)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", productID, err)
	}
	item.UnitPrice = money.Round(unitPrice, p.currency)
	return item, nil
}

// Shipping returns the flat rate, waived once subtotal reaches the free-over threshold.
func (p *Pricer) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if p.freeOver.IsPositive() && subtotal.GreaterThanOrEqual(p.freeOver) {
		return decimal.Zero
	}
	return p.flatRate
}

func checkOptions(options []ProductOption, properties map[string]any) error {
	for key := range properties {
		if !slices.ContainsFunc(options, func(o ProductOption) bool { return o.Name == key }) {
			return fmt.Errorf("%w: unknown option %q", ErrInvalidOption, key)
		}
	}

	for _, option := range options {
		raw, present := properties[option.Name]
		if !present {
			if option.Required {
				return fmt.Errorf("%w: %s is required", ErrInvalidOption, option.Label)
			}
			continue
		}
		value, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be text", ErrInvalidOption, option.Label)
		}
		value = strings.TrimSpace(value)
		if option.Required && value == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidOption, option.Label)
		}
		if option.Type == "dropdown" && value != "" && !slices.Contains(option.Values, value) {
			return fmt.Errorf("%w: %q is not a valid %s", ErrInvalidOption, value, option.Label)
		}
	}
	return nil
}
