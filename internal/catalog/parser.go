// Package catalog loads the YAML price book that checkout prices carts against.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

type PriceBook struct {
	Store    StoreConfig     `yaml:"store"`
	Products []ProductConfig `yaml:"products"`
}

type StoreConfig struct {
	Name     string         `yaml:"name"`
	Currency string         `yaml:"currency"`
	Shipping ShippingConfig `yaml:"shipping"`
}

// ShippingConfig amounts are decimal strings in the store currency.
type ShippingConfig struct {
	FlatRate string `yaml:"flat_rate"`
	FreeOver string `yaml:"free_over"`
	Carrier  string `yaml:"carrier"`
}

type ProductConfig struct {
	ID       string          `yaml:"id"`
	SKU      string          `yaml:"sku"`
	Title    string          `yaml:"title"`
	Price    string          `yaml:"price"`
	Active   bool            `yaml:"active"`
	Variants []VariantConfig `yaml:"variants"`
	Options  []ProductOption `yaml:"options"`
}

// VariantConfig overrides the product SKU and price when set.
type VariantConfig struct {
	ID    string `yaml:"id"`
	SKU   string `yaml:"sku"`
	Title string `yaml:"title"`
	Price string `yaml:"price"`
}

type ProductOption struct {
	Name     string   `yaml:"name"`
	Label    string   `yaml:"label"`
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required"`
	Values   []string `yaml:"values"`
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(content []byte) (*PriceBook, error) {
	var book PriceBook
	if err := yaml.Unmarshal(content, &book); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &book, nil
}

func (p *Parser) ParseFromString(content string) (*PriceBook, error) {
	return p.Parse([]byte(content))
}

// Load reads, validates and indexes a price book. An empty path loads the
// built-in development catalog.
func Load(path string) (*Pricer, error) {
	content := defaultCatalog
	if path != "" {
		var err error
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file: %w", err)
		}
	}

	book, err := NewParser().Parse(content)
	if err != nil {
		return nil, err
	}
	if err := NewValidator().Validate(book); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return NewPricer(book)
}
