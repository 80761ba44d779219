package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.OrderCreated("direct")
	m.Refund("succeeded")
	m.GatewayCall("create_refund", time.Millisecond, errors.New("boom"))
	m.HTTPRequest("orders.create", "POST", 201, time.Millisecond)
	m.DBQuery("SELECT", "orders", time.Millisecond, nil)
}

func TestMetricsRecordAndServe(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.OrderCreated("checkout")
	m.OrderCreated("checkout")
	m.WebhookEvent("", "ignored")
	m.DBQuery("INSERT", "orders", 2*time.Millisecond, nil)

	if got := testutil.ToFloat64(m.ordersCreated.WithLabelValues("checkout")); got != 2 {
		t.Fatalf("orders created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.webhookEvents.WithLabelValues("unknown", "ignored")); got != 1 {
		t.Fatalf("webhook events = %v, want 1", got)
	}

	if got := testutil.CollectAndCount(m.dbDuration); got != 1 {
		t.Fatalf("db histogram series = %d, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "commerce_orders_created_total") {
		t.Fatalf("expected exposition to contain orders counter, got %q", rec.Body.String())
	}
}
