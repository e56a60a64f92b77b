package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/retail-orders/internal/domain/order"
)

// statusOf maps a domain error to an HTTP status. Checkout problems with
// cart contents are 422; everything unrecognized is 500.
func statusOf(err error) int {
	var (
		pnf *order.ProductNotFoundError
		pu  *order.ProductUnavailableError
		iq  *order.InvalidQuantityError
	)
	switch {
	case errors.Is(err, order.ErrInvariantViolation):
		return http.StatusInternalServerError
	case errors.As(err, &pnf), errors.As(err, &pu), errors.As(err, &iq):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidState), errors.Is(err, order.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, order.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
