// Package handler exposes the order and payment HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/secondhand-orders/internal/domain/auth"
	"github.com/xenking/secondhand-orders/internal/domain/order"
	"github.com/xenking/secondhand-orders/internal/domain/payment"
)

// OrderService is the order lifecycle used by the API.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*order.Order, error)
	GetOrderByID(ctx context.Context, id string) (*order.Order, error)
	GetOrders(ctx context.Context, buyerID string) ([]order.Order, error)
	GetAllOrders(ctx context.Context) ([]order.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, state order.State) (*order.Order, error)
	DeleteOrder(ctx context.Context, id string) error
}

// PaymentService starts checkouts and reconciles gateway callbacks.
type PaymentService interface {
	InitiatePayment(ctx context.Context, orderID string) (string, error)
	HandleWebhook(ctx context.Context, raw []byte) (payment.WebhookOutcome, error)
}

// Handler serves the order and payment endpoints.
type Handler struct {
	orders   OrderService
	payments PaymentService
}

// NewHandler constructs a Handler.
func NewHandler(orders OrderService, payments PaymentService) *Handler {
	return &Handler{orders: orders, payments: payments}
}

// Mount registers all routes on r. Order routes require a bearer token;
// payment routes are public and the webhook is authenticated by signature.
func (h *Handler) Mount(r chi.Router, verifier TokenVerifier) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(Authenticate(verifier))

		r.Post("/", h.CreateOrder)
		r.Get("/", h.GetOrders)
		r.With(RequireRole(auth.RoleAdmin)).Get("/all", h.GetAllOrders)
		r.Get("/{id}", h.GetOrderByID)
		r.With(RequireRole(auth.RoleAdmin)).Post("/{id}/state", h.UpdateOrderState)
		r.With(RequireRole(auth.RoleAdmin)).Delete("/{id}", h.DeleteOrder)
	})

	r.Route("/payment", func(r chi.Router) {
		r.Post("/webhook", h.PaymentWebhook)
		r.Post("/{orderId}", h.InitiatePayment)
	})
}

// Router returns a chi router serving the API.
func (h *Handler) Router(verifier TokenVerifier) chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.Mount(r, verifier)
	return r
}
