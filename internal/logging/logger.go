package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/lmittmann/tint"
)

type Options struct {
	Level  slog.Level
	Format string // "text" or "json"
	Output io.Writer
	// Sentry forwards error records to the initialized Sentry client.
	Sentry bool
}

// New builds the process logger: tint for terminals, JSON for collectors,
// optionally teed into Sentry.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var console slog.Handler
	if opts.Format == "json" {
		console = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})
	} else {
		console = tint.NewHandler(out, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.Kitchen,
		})
	}

	var reporter slog.Handler
	if opts.Sentry {
		reporter = sentryslog.Option{
			EventLevel: []slog.Level{slog.LevelError},
			LogLevel:   []slog.Level{},
			AddSource:  true,
		}.NewSentryHandler(context.Background())
	}

	return slog.New(newTee(console, reporter))
}
