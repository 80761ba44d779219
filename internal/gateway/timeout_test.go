package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type slowGateway struct {
	Gateway
}

func (slowGateway) Name() string { return "slow" }

func (slowGateway) CreateCustomer(ctx context.Context, _ CustomerParams) (*Customer, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowGateway) CreateRefund(context.Context, RefundParams) (*Refund, error) {
	return nil, &Error{Op: "create_refund", Code: CodeCardDeclined}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string]error
}

func (r *recordingObserver) GatewayCall(op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op] = err
}

func TestWithTimeoutMapsDeadlineToTemporaryError(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{calls: map[string]error{}}
	g := WithTimeout(slowGateway{}, 10*time.Millisecond, observer)

	_, err := g.CreateCustomer(t.Context(), CustomerParams{UserID: "u1"})
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if gwErr.Code != CodeTimeout || !gwErr.Temporary {
		t.Fatalf("unexpected error: %+v", gwErr)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected deadline to remain reachable")
	}
	if _, ok := observer.calls["create_customer"]; !ok {
		t.Fatal("expected call to be observed")
	}
	if g.Name() != "slow" {
		t.Fatalf("Name() = %q", g.Name())
	}
}

func TestWithTimeoutPassesProviderErrorsThrough(t *testing.T) {
	t.Parallel()

	g := WithTimeout(slowGateway{}, time.Second, nil)
	_, err := g.CreateRefund(t.Context(), RefundParams{IntentID: "pi_1", Amount: 100})
	if IsTemporary(err) {
		t.Fatal("a decline must not be reported as temporary")
	}
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Code != CodeCardDeclined {
		t.Fatalf("unexpected error: %v", err)
	}
}
