package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/commerce/internal/config"
	"github.com/gitshopapp/commerce/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := BuildRouter(h)
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Handler exposes the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// BuildRouter wires every route to its handler and middleware chain.
func BuildRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.SecurityHeaders)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.HandleFunc("/metrics", h.Metrics).Methods("GET").Name("metrics")

	// Provider deliveries authenticate by signature, not by bearer token.
	r.HandleFunc("/payments/webhook/{provider}", h.PaymentWebhook).Methods("POST").Name("payments.webhook")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writePlainJSON(w, http.StatusNotFound, `{"error":"route not found","code":"not_found"}`)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writePlainJSON(w, http.StatusMethodNotAllowed, `{"error":"method not allowed","code":"method_not_allowed"}`)
	})

	// Cart routes accept guests through the session cookie.
	cartRouter := r.PathPrefix("/cart").Subrouter()
	cartRouter.Use(h.Authenticate)
	cartRouter.Use(h.GuestSession)
	cartRouter.Use(h.RequireSameOrigin)
	cartRouter.HandleFunc("", h.GetCart).Methods("GET").Name("cart.get")
	cartRouter.HandleFunc("/add", h.AddCartItem).Methods("POST").Name("cart.add")
	cartRouter.HandleFunc("/update/{itemId}", h.UpdateCartItem).Methods("PUT").Name("cart.update")
	cartRouter.HandleFunc("/remove/{itemId}", h.RemoveCartItem).Methods("DELETE").Name("cart.remove")
	cartRouter.HandleFunc("/clear", h.ClearCart).Methods("DELETE").Name("cart.clear")

	orderRouter := r.PathPrefix("/orders").Subrouter()
	orderRouter.Use(h.Authenticate)
	orderRouter.Use(h.RequireUser)
	orderRouter.HandleFunc("", h.CreateOrder).Methods("POST").Name("orders.create")
	orderRouter.HandleFunc("/checkout", h.CheckoutCart).Methods("POST").Name("orders.checkout")
	orderRouter.HandleFunc("/mine", h.ListMyOrders).Methods("GET").Name("orders.mine")
	orderRouter.HandleFunc("/{id}", h.GetOrder).Methods("GET").Name("orders.get")
	orderRouter.HandleFunc("/{id}/events", h.ListOrderEvents).Methods("GET").Name("orders.events")
	orderRouter.HandleFunc("/{id}/cancel", h.CancelOrder).Methods("PUT").Name("orders.cancel")

	paymentRouter := r.PathPrefix("/payments").Subrouter()
	paymentRouter.Use(h.Authenticate)
	paymentRouter.Use(h.RequireUser)
	paymentRouter.HandleFunc("/intents", h.CreatePaymentIntent).Methods("POST").Name("payments.intents.create")
	paymentRouter.HandleFunc("/confirm", h.ConfirmPayment).Methods("POST").Name("payments.confirm")
	paymentRouter.HandleFunc("/refunds", h.CreateRefund).Methods("POST").Name("payments.refunds.create")
	paymentRouter.HandleFunc("/transactions", h.ListTransactions).Methods("GET").Name("payments.transactions")
	paymentRouter.HandleFunc("/methods", h.AddPaymentMethod).Methods("POST").Name("payments.methods.add")
	paymentRouter.HandleFunc("/methods", h.ListPaymentMethods).Methods("GET").Name("payments.methods.list")
	paymentRouter.HandleFunc("/methods/{id}/default", h.SetDefaultPaymentMethod).Methods("PUT").Name("payments.methods.default")
	paymentRouter.HandleFunc("/methods/{id}", h.RemovePaymentMethod).Methods("DELETE").Name("payments.methods.remove")

	adminRouter := r.PathPrefix("/admin").Subrouter()
	adminRouter.Use(h.Authenticate)
	adminRouter.Use(h.RequireUser)
	adminRouter.Use(h.RequireAdmin)
	adminRouter.HandleFunc("/orders", h.AdminListOrders).Methods("GET").Name("admin.orders.list")
	adminRouter.HandleFunc("/orders/{id}", h.AdminUpdateOrder).Methods("PUT").Name("admin.orders.update")

	return r
}

func writePlainJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}
