package catalog

import "testing"

func validBook() *PriceBook {
	return &PriceBook{
		Store: StoreConfig{
			Name:     "Test Store",
			Currency: "usd",
			Shipping: ShippingConfig{FlatRate: "5.00", Carrier: "USPS"},
		},
		Products: []ProductConfig{
			{
				ID:     "coffee",
				SKU:    "COFFEE_V1",
				Title:  "Coffee",
				Price:  "15.00",
				Active: true,
				Options: []ProductOption{
					{Name: "grind", Label: "Grind", Type: "dropdown", Required: true, Values: []string{"Whole Bean", "Ground"}},
				},
			},
		},
	}
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(b *PriceBook)
		wantErr bool
	}{
		{name: "valid book", mutate: func(*PriceBook) {}},
		{
			name:    "dropdown option values required",
			mutate:  func(b *PriceBook) { b.Products[0].Options[0].Values = nil },
			wantErr: true,
		},
		{
			name:    "invalid currency",
			mutate:  func(b *PriceBook) { b.Store.Currency = "dollars" },
			wantErr: true,
		},
		{
			name:    "negative shipping",
			mutate:  func(b *PriceBook) { b.Store.Shipping.FlatRate = "-1" },
			wantErr: true,
		},
		{
			name:    "zero price",
			mutate:  func(b *PriceBook) { b.Products[0].Price = "0" },
			wantErr: true,
		},
		{
			name: "duplicate variant SKU",
			mutate: func(b *PriceBook) {
				b.Products[0].Variants = []VariantConfig{{ID: "a", SKU: "COFFEE_V1"}}
			},
			wantErr: true,
		},
		{
			name: "duplicate product id",
			mutate: func(b *PriceBook) {
				dup := b.Products[0]
				dup.SKU = "OTHER"
				b.Products = append(b.Products, dup)
			},
			wantErr: true,
		},
	}

	validator := NewValidator()
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			book := validBook()
			tc.mutate(book)
			err := validator.Validate(book)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}
