// Package handler exposes the order lifecycle over JSON/HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/order"
	"github.com/xenking/retail-orders/internal/domain/page"
)

// Orders is the write side of the order lifecycle.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	UpdateOrder(ctx context.Context, id string, patch order.Patch) (*order.Order, error)
	CancelOrder(ctx context.Context, id string) (*order.Transition, error)
	AdvanceOrder(ctx context.Context, id string) (*order.Transition, error)
}

// Queries is the read side of the order lifecycle.
type Queries interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	GetStatus(ctx context.Context, id string) (order.Status, error)
	ListItems(ctx context.Context, orderID string, req page.Request) (page.Page[order.ItemView], error)
	ListUserOrders(ctx context.Context, userID string, req page.Request) (page.Page[order.Order], error)
}

var (
	_ Orders  = (*order.Service)(nil)
	_ Queries = (*order.QueryService)(nil)
)

// Handler serves the order API.
type Handler struct {
	orders  Orders
	queries Queries
	auth    *SecurityHandler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders Orders, queries Queries, security *SecurityHandler) *Handler {
	return &Handler{
		orders:  orders,
		queries: queries,
		auth:    security,
	}
}

// Routes returns the API router. Every route requires an api_key header.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireAPIKey)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.PlaceOrder)
			r.Get("/", h.ListOrders)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Patch("/", h.UpdateOrder)
				r.Get("/status", h.GetStatus)
				r.Get("/items", h.ListItems)
				r.Post("/cancel", h.CancelOrder)
				r.With(RequireScope(auth.ScopeAdmin)).Post("/advance", h.AdvanceOrder)
			})
		})
	})
	return r
}
