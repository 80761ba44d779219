// Package email renders and delivers customer notifications for order
// lifecycle changes.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
	// Ref groups messages about the same order in the recipient's client.
	Ref string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
}

func NewProvider(cfg Config, httpClient *http.Client, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogProvider(logger), nil
	case "resend":
		if cfg.APIKey == "" || cfg.From == "" {
			return nil, fmt.Errorf("resend requires an API key and a from address")
		}
		return NewResendProvider(cfg.APIKey, cfg.From, httpClient), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be either 'log' or 'resend'")
	}
}

// LogProvider writes messages to the log instead of delivering them.
type LogProvider struct {
	logger *slog.Logger
}

func NewLogProvider(logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{logger: logger.With("component", "email")}
}

func (p *LogProvider) SendEmail(ctx context.Context, email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}
	p.logger.InfoContext(ctx, "email suppressed", "to", email.To, "subject", email.Subject, "ref", email.Ref)
	return nil
}
