package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/cache"
	"github.com/gitshopapp/commerce/internal/catalog"
	"github.com/gitshopapp/commerce/internal/config"
	"github.com/gitshopapp/commerce/internal/crypto"
	"github.com/gitshopapp/commerce/internal/gateway/mock"
	"github.com/gitshopapp/commerce/internal/handlers"
	"github.com/gitshopapp/commerce/internal/ledger/memory"
	"github.com/gitshopapp/commerce/internal/observability"
	"github.com/gitshopapp/commerce/internal/services"
	"github.com/gitshopapp/commerce/internal/session"
)

const (
	testTokenSecret   = "server-test-token-secret-32-byte"
	testWebhookSecret = "whsec_server_test"
	testOrigin        = "https://shop.example.com"
)

type apiClient struct {
	t       *testing.T
	server  *httptest.Server
	gateway *mock.Gateway
	tokens  map[string]string
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()

	sealer, err := crypto.NewSealer(strings.Repeat("k", 32))
	require.NoError(t, err)
	prices, err := catalog.Load("")
	require.NoError(t, err)
	memCache, err := cache.NewMemoryProvider(100)
	require.NoError(t, err)

	store := memory.New()
	gw := mock.New(testWebhookSecret)
	deps := services.Deps{Store: store, Gateway: gw, Sealer: sealer, Catalog: prices, Cache: memCache}
	verifier := auth.NewVerifier(testTokenSecret, "identity")

	h, err := handlers.New(handlers.Dependencies{
		Config:   &config.Config{BaseURL: testOrigin},
		Store:    store,
		Carts:    services.NewCartService(deps),
		Orders:   services.NewOrderService(deps),
		Payments: services.NewPaymentService(deps),
		Webhooks: services.NewWebhookService(deps),
		Verifier: verifier,
		Sessions: session.NewManager(memCache, false, time.Hour),
		Metrics:  observability.NewMetrics(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(BuildRouter(h))
	t.Cleanup(srv.Close)

	tokens := map[string]string{}
	for _, p := range []auth.Principal{
		{ID: "user-1", Role: auth.RoleCustomer, Email: "buyer@example.com"},
		{ID: "user-2", Role: auth.RoleCustomer},
		{ID: "admin-1", Role: auth.RoleAdmin},
	} {
		token, err := verifier.Issue(p, time.Hour)
		require.NoError(t, err)
		tokens[p.ID] = token
	}
	return &apiClient{t: t, server: srv, gateway: gw, tokens: tokens}
}

// do sends a JSON request as user (empty for anonymous) and decodes the
// response into out when it is non-nil.
func (c *apiClient) do(method, path, user string, body any, out any) *http.Response {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(c.t.Context(), method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+c.tokens[user])
	}

	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(c.t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp
}

type orderView struct {
	ID              uuid.UUID       `json:"id"`
	Status          string          `json:"status"`
	FinancialStatus string          `json:"financial_status"`
	Total           decimal.Decimal `json:"total"`
}

type transactionView struct {
	ID               uuid.UUID       `json:"id"`
	Status           string          `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	ProviderIntentID string          `json:"provider_intent_id"`
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	api := newAPI(t)

	var health map[string]string
	resp := api.do(http.MethodGet, "/health", "", nil, &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, api.server.URL+"/metrics", nil)
	require.NoError(t, err)
	metricsResp, err := api.server.Client().Do(req)
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `commerce_http_requests_total{method="GET",route="health",status="200"}`)
}

func TestUnknownRouteIsJSON(t *testing.T) {
	t.Parallel()
	api := newAPI(t)

	var body map[string]string
	resp := api.do(http.MethodGet, "/nope", "", nil, &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])
}

func TestAuthenticationBoundaries(t *testing.T) {
	t.Parallel()
	api := newAPI(t)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/orders/mine", "", nil, nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/payments/methods", "", nil, nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/admin/orders", "user-1", nil, nil).StatusCode)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/admin/orders", "admin-1", nil, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/orders/not-a-uuid", "user-1", nil, nil).StatusCode)
}

func TestOrderPaymentRefundFlow(t *testing.T) {
	t.Parallel()
	api := newAPI(t)

	var method struct {
		ID uuid.UUID `json:"id"`
	}
	resp := api.do(http.MethodPost, "/payments/methods", "user-1", map[string]any{"token": "tok_visa"}, &method)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var order orderView
	resp = api.do(http.MethodPost, "/orders", "user-1", map[string]any{
		"line_items": []map[string]any{{"product_id": "widget", "title": "Widget", "quantity": 2, "unit_price": "25.00"}},
		"discounts":  []map[string]any{{"code": "TENOFF", "kind": "percentage", "value": "10"}},
	}, &order)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("45.00")), "total %s", order.Total)
	assert.Equal(t, "pending", order.Status)

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/orders/"+order.ID.String(), "user-2", nil, nil).StatusCode)

	var intent transactionView
	resp = api.do(http.MethodPost, "/payments/intents", "user-1", map[string]any{
		"order_id":          order.ID,
		"amount":            "45.00",
		"payment_method_id": method.ID,
	}, &intent)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, intent.ProviderIntentID)

	assert.Equal(t, http.StatusNotFound,
		api.do(http.MethodPost, "/payments/confirm", "user-2", map[string]any{"payment_intent_id": intent.ProviderIntentID}, nil).StatusCode)

	var confirmed transactionView
	resp = api.do(http.MethodPost, "/payments/confirm", "user-1", map[string]any{"payment_intent_id": intent.ProviderIntentID}, &confirmed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "succeeded", confirmed.Status)

	resp = api.do(http.MethodGet, "/orders/"+order.ID.String(), "user-1", nil, &order)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", order.FinancialStatus)
	assert.Equal(t, "confirmed", order.Status)

	for _, d := range api.gateway.Deliveries() {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, api.server.URL+"/payments/webhook/mock", bytes.NewReader(d.Payload))
		require.NoError(t, err)
		req.Header.Set("Stripe-Signature", d.Signature)
		webhookResp, err := api.server.Client().Do(req)
		require.NoError(t, err)
		webhookResp.Body.Close()
		assert.Equal(t, http.StatusOK, webhookResp.StatusCode)
	}

	refund := map[string]any{"transaction_id": confirmed.ID, "amount": "50.00"}
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/payments/refunds", "user-1", refund, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/payments/refunds", "admin-1", refund, nil).StatusCode)

	var issued transactionView
	refund["amount"] = "20.00"
	resp = api.do(http.MethodPost, "/payments/refunds", "admin-1", refund, &issued)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "succeeded", issued.Status)

	api.do(http.MethodGet, "/orders/"+order.ID.String(), "user-1", nil, &order)
	assert.Equal(t, "partially_refunded", order.FinancialStatus)

	var txs struct {
		Transactions []transactionView `json:"transactions"`
	}
	resp = api.do(http.MethodGet, "/payments/transactions?order_id="+order.ID.String(), "user-1", nil, &txs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, txs.Transactions, 2)

	var events struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	resp = api.do(http.MethodGet, "/orders/"+order.ID.String()+"/events", "user-1", nil, &events)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, events.Events)

	assert.Equal(t, http.StatusForbidden,
		api.do(http.MethodPut, "/orders/"+order.ID.String()+"/cancel", "user-2", map[string]any{"reason": "not mine"}, nil).StatusCode)
}

func TestGuestCartThenCheckout(t *testing.T) {
	t.Parallel()
	api := newAPI(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, api.server.URL+"/cart/add", strings.NewReader(`{"product_id":"mug","quantity":2}`))
	require.NoError(t, err)
	resp, err := api.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "cookie requests need a same-origin header")

	req, err = http.NewRequestWithContext(t.Context(), http.MethodPost, api.server.URL+"/cart/add", strings.NewReader(`{"product_id":"mug","quantity":2}`))
	require.NoError(t, err)
	req.Header.Set("Origin", testOrigin)
	resp, err = api.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Cookies())

	resp = api.do(http.MethodPost, "/cart/add", "user-1", map[string]any{"product_id": "mug", "quantity": 3}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var order orderView
	resp = api.do(http.MethodPost, "/orders/checkout", "user-1", nil, &order)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var cart struct {
		Items []json.RawMessage `json:"items"`
	}
	resp = api.do(http.MethodGet, "/cart", "user-1", nil, &cart)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, cart.Items)
}
