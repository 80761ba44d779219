package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// CaptureError reports err on the request hub when one is bound to ctx.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}
