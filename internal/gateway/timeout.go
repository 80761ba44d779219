package gateway

import (
	"context"
	"errors"
	"time"
)

// CallObserver receives the latency and outcome of every gateway call.
type CallObserver interface {
	GatewayCall(op string, elapsed time.Duration, err error)
}

type timeoutGateway struct {
	next     Gateway
	timeout  time.Duration
	observer CallObserver
}

// WithTimeout bounds every call to next by timeout. A call that exceeds the
// bound fails with a temporary *Error; the provider may still complete it.
func WithTimeout(next Gateway, timeout time.Duration, observer CallObserver) Gateway {
	return &timeoutGateway{next: next, timeout: timeout, observer: observer}
}

func (g *timeoutGateway) Name() string {
	return g.next.Name()
}

func (g *timeoutGateway) CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error) {
	return call(ctx, g, "create_customer", func(ctx context.Context) (*Customer, error) {
		return g.next.CreateCustomer(ctx, params)
	})
}

func (g *timeoutGateway) CreatePaymentMethod(ctx context.Context, params PaymentMethodParams) (*PaymentMethod, error) {
	return call(ctx, g, "create_payment_method", func(ctx context.Context) (*PaymentMethod, error) {
		return g.next.CreatePaymentMethod(ctx, params)
	})
}

func (g *timeoutGateway) AttachPaymentMethod(ctx context.Context, customerID, methodRef string) error {
	_, err := call(ctx, g, "attach_payment_method", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.AttachPaymentMethod(ctx, customerID, methodRef)
	})
	return err
}

func (g *timeoutGateway) DetachPaymentMethod(ctx context.Context, methodRef string) error {
	_, err := call(ctx, g, "detach_payment_method", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.DetachPaymentMethod(ctx, methodRef)
	})
	return err
}

func (g *timeoutGateway) CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	return call(ctx, g, "create_payment_intent", func(ctx context.Context) (*Intent, error) {
		return g.next.CreatePaymentIntent(ctx, params)
	})
}

func (g *timeoutGateway) ConfirmPaymentIntent(ctx context.Context, intentID, methodRef string) (*Intent, error) {
	return call(ctx, g, "confirm_payment_intent", func(ctx context.Context) (*Intent, error) {
		return g.next.ConfirmPaymentIntent(ctx, intentID, methodRef)
	})
}

func (g *timeoutGateway) CreateRefund(ctx context.Context, params RefundParams) (*Refund, error) {
	return call(ctx, g, "create_refund", func(ctx context.Context) (*Refund, error) {
		return g.next.CreateRefund(ctx, params)
	})
}

func (g *timeoutGateway) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	return g.next.VerifyWebhook(payload, signature)
}

func call[T any](ctx context.Context, g *timeoutGateway, op string, fn func(context.Context) (T, error)) (T, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var gwErr *Error
		if !errors.As(err, &gwErr) {
			err = &Error{Op: op, Code: CodeTimeout, Message: "gateway call timed out", Temporary: true, Err: err}
		}
	}
	if g.observer != nil {
		g.observer.GatewayCall(op, time.Since(start), err)
	}
	return result, err
}
