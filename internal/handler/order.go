package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/order"
	"github.com/xenking/retail-orders/internal/domain/page"
)

const defaultPageSize = 20

// PlaceOrder checks out the caller's cart.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())

	rcp, delivery, err := decodePlaceOrder(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		UserID:    id.UserID,
		Recipient: rcp,
		Delivery:  delivery,
	})
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListOrders returns a page of the caller's orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())

	req, err := pageRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.queries.ListUserOrders(r.Context(), id.UserID, req)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodePage(e, p, func(e *jx.Encoder, o *order.Order) { encodeOrder(e, o) })
	})
}

// GetOrder returns the order header.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.visibleOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GetStatus returns only the order status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if _, err := h.visibleOrder(r.Context(), orderID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	st, err := h.queries.GetStatus(r.Context(), orderID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orderId")
		e.Str(orderID)
		e.FieldStart("status")
		e.Str(string(st))
		e.ObjEnd()
	})
}

// ListItems returns a page of the order's items with their catalog view.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	req, err := pageRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.visibleOrder(r.Context(), orderID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	p, err := h.queries.ListItems(r.Context(), orderID, req)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodePage(e, p, func(e *jx.Encoder, v *order.ItemView) { encodeItem(e, v.Item, v) })
	})
}

// UpdateOrder applies a partial recipient or delivery update.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	if _, err := h.visibleOrder(r.Context(), orderID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	patch, err := decodePatch(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.orders.UpdateOrder(r.Context(), orderID, patch)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// CancelOrder cancels an order that has not been paid yet.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.CancelOrder)
}

// AdvanceOrder moves an order to its next status. Requires the admin scope.
func (h *Handler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.AdvanceOrder)
}

func (h *Handler) transition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, id string) (*order.Transition, error),
) {
	orderID := chi.URLParam(r, "id")
	if _, err := h.visibleOrder(r.Context(), orderID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	t, err := apply(r.Context(), orderID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeTransition(e, t) })
}

// visibleOrder loads the order when the caller owns it or holds the admin
// scope. Other callers get the same error as for a missing order.
func (h *Handler) visibleOrder(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := h.queries.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	id, ok := IdentityFromContext(ctx)
	if !ok || (o.UserID != id.UserID && !id.HasScope(auth.ScopeAdmin)) {
		return nil, &order.NotFoundError{Kind: "order", ID: orderID}
	}
	return o, nil
}

// pageRequest reads page, size, sort and dir query parameters and checks the
// page bounds. Sort keys are validated by the query service.
func pageRequest(r *http.Request) (page.Request, error) {
	q := r.URL.Query()
	req := page.Request{Size: defaultPageSize, Sort: q.Get("sort")}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page.Request{}, &order.ValidationError{Field: "page", Message: "must be an integer"}
		}
		req.Index = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page.Request{}, &order.ValidationError{Field: "size", Message: "must be an integer"}
		}
		req.Size = n
	}
	switch strings.ToLower(q.Get("dir")) {
	case "", "asc":
	case "desc":
		req.Desc = true
	default:
		return page.Request{}, &order.ValidationError{Field: "dir", Message: "must be asc or desc"}
	}
	if err := req.CheckBounds(); err != nil {
		return page.Request{}, err
	}
	return req, nil
}
