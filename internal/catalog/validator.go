package catalog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gitshopapp/commerce/internal/money"
)

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Validate(book *PriceBook) error {
	if err := v.validateStore(&book.Store); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}

	if len(book.Products) == 0 {
		return fmt.Errorf("at least one product is required")
	}

	ids := make(map[string]bool)
	skus := make(map[string]bool)
	for i, product := range book.Products {
		if err := v.validateProduct(&product); err != nil {
			return fmt.Errorf("product %d validation failed: %w", i, err)
		}

		if ids[product.ID] {
			return fmt.Errorf("duplicate product id: %s", product.ID)
		}
		ids[product.ID] = true

		for _, sku := range productSKUs(product) {
			if skus[sku] {
				return fmt.Errorf("duplicate SKU: %s", sku)
			}
			skus[sku] = true
		}
	}

	return nil
}

func (v *Validator) validateStore(store *StoreConfig) error {
	if strings.TrimSpace(store.Name) == "" {
		return fmt.Errorf("store name is required")
	}

	if _, err := money.NormalizeCurrency(store.Currency); err != nil {
		return err
	}

	if _, err := parseAmount(store.Shipping.FlatRate, true); err != nil {
		return fmt.Errorf("shipping flat rate: %w", err)
	}
	if _, err := parseAmount(store.Shipping.FreeOver, true); err != nil {
		return fmt.Errorf("shipping free-over threshold: %w", err)
	}

	return nil
}

func (v *Validator) validateProduct(product *ProductConfig) error {
	if strings.TrimSpace(product.ID) == "" {
		return fmt.Errorf("product id is required")
	}

	if strings.TrimSpace(product.SKU) == "" {
		return fmt.Errorf("product SKU is required")
	}

	if strings.TrimSpace(product.Title) == "" {
		return fmt.Errorf("product title is required")
	}

	price, err := parseAmount(product.Price, false)
	if err != nil || price.IsZero() {
		return fmt.Errorf("product price must be a positive amount")
	}

	variantIDs := make(map[string]bool)
	for i, variant := range product.Variants {
		if strings.TrimSpace(variant.ID) == "" {
			return fmt.Errorf("variant %d: id is required", i)
		}
		if variantIDs[variant.ID] {
			return fmt.Errorf("duplicate variant id: %s", variant.ID)
		}
		variantIDs[variant.ID] = true

		if variant.Price != "" {
			if price, err := parseAmount(variant.Price, false); err != nil || price.IsZero() {
				return fmt.Errorf("variant %s: price must be a positive amount", variant.ID)
			}
		}
	}

	optionNames := make(map[string]bool)
	for i, option := range product.Options {
		if err := v.validateOption(&option); err != nil {
			return fmt.Errorf("option %d validation failed: %w", i, err)
		}

		if optionNames[option.Name] {
			return fmt.Errorf("duplicate option name: %s", option.Name)
		}
		optionNames[option.Name] = true
	}

	return nil
}

func (v *Validator) validateOption(option *ProductOption) error {
	if strings.TrimSpace(option.Name) == "" {
		return fmt.Errorf("option name is required")
	}

	if strings.TrimSpace(option.Label) == "" {
		return fmt.Errorf("option label is required")
	}

	if option.Type != "dropdown" && option.Type != "text" {
		return fmt.Errorf("only dropdown or text option types are supported")
	}

	if option.Type == "dropdown" && len(option.Values) == 0 {
		return fmt.Errorf("option values are required for dropdown options")
	}

	return nil
}

// parseAmount parses a decimal string; empty is zero when allowEmpty is set.
func parseAmount(raw string, allowEmpty bool) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if allowEmpty {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q must not be negative", raw)
	}
	return amount, nil
}

func productSKUs(product ProductConfig) []string {
	skus := []string{product.SKU}
	for _, variant := range product.Variants {
		if variant.SKU != "" {
			skus = append(skus, variant.SKU)
		}
	}
	return skus
}
