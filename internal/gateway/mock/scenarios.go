package mock

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var defaultScenarios []byte

// Outcome statuses understood by the mock.
const (
	OutcomeSucceeded      = "succeeded"
	OutcomeDeclined       = "declined"
	OutcomeRequiresAction = "requires_action"
	OutcomeProcessing     = "processing"
	OutcomePending        = "pending"
	OutcomeFailed         = "failed"
	OutcomeError          = "error"
)

type Scenarios struct {
	Cards map[string]Card `yaml:"cards"`
}

// Card describes how a tokenized card behaves when confirmed and refunded.
type Card struct {
	Brand    string  `yaml:"brand"`
	Last4    string  `yaml:"last4"`
	ExpMonth int     `yaml:"exp_month"`
	ExpYear  int     `yaml:"exp_year"`
	Confirm  Outcome `yaml:"confirm"`
	Refund   Outcome `yaml:"refund"`
}

type Outcome struct {
	Status    string `yaml:"status"`
	Code      string `yaml:"code"`
	Message   string `yaml:"message"`
	Temporary bool   `yaml:"temporary"`
}

// DefaultScenarios returns the built-in card table.
func DefaultScenarios() Scenarios {
	scenarios, err := ParseScenarios(defaultScenarios)
	if err != nil {
		panic(fmt.Sprintf("mock gateway: embedded scenarios are invalid: %v", err))
	}
	return scenarios
}

// LoadScenarios reads a scenario file and layers it over the built-in table.
func LoadScenarios(path string) (Scenarios, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Scenarios{}, fmt.Errorf("failed to read scenarios file: %w", err)
	}
	overrides, err := ParseScenarios(content)
	if err != nil {
		return Scenarios{}, err
	}

	scenarios := DefaultScenarios()
	for token, card := range overrides.Cards {
		scenarios.Cards[token] = card
	}
	return scenarios, nil
}

func ParseScenarios(content []byte) (Scenarios, error) {
	var scenarios Scenarios
	if err := yaml.Unmarshal(content, &scenarios); err != nil {
		return Scenarios{}, fmt.Errorf("failed to parse scenarios YAML: %w", err)
	}
	if scenarios.Cards == nil {
		scenarios.Cards = map[string]Card{}
	}

	for token, card := range scenarios.Cards {
		if card.Confirm.Status == "" {
			card.Confirm.Status = OutcomeSucceeded
		}
		if card.Refund.Status == "" {
			card.Refund.Status = OutcomeSucceeded
		}
		switch card.Confirm.Status {
		case OutcomeSucceeded, OutcomeDeclined, OutcomeRequiresAction, OutcomeProcessing, OutcomeError:
		default:
			return Scenarios{}, fmt.Errorf("card %s: unknown confirm status %q", token, card.Confirm.Status)
		}
		switch card.Refund.Status {
		case OutcomeSucceeded, OutcomePending, OutcomeFailed, OutcomeError:
		default:
			return Scenarios{}, fmt.Errorf("card %s: unknown refund status %q", token, card.Refund.Status)
		}
		scenarios.Cards[token] = card
	}
	return scenarios, nil
}
