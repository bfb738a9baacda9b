package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-orders/internal/domain/order"
	"github.com/xenking/secondhand-orders/internal/domain/payment"
	"github.com/xenking/secondhand-orders/internal/payos"
)

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	var (
		pnf  *order.ProductNotFoundError
		terr *order.TransitionError
		gerr *payos.GatewayError
	)
	switch {
	case errors.Is(err, errBadRequest), order.IsValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &pnf):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrVerification), errors.Is(err, payment.ErrPaymentMethodMismatch):
		return http.StatusBadRequest
	case errors.As(err, &terr), errors.Is(err, order.ErrPaymentSettled):
		return http.StatusConflict
	case errors.As(err, &gerr), errors.Is(err, payos.ErrUnavailable),
		errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {code, message}. Internal failures are logged
// and their details withheld.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusBadGateway:
		zctx.From(r.Context()).Warn("Payment gateway failure", zap.Error(err))
		msg = "payment gateway unavailable"
	case status >= http.StatusInternalServerError:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = http.StatusText(status)
	case errors.Is(err, payment.ErrPaymentMethodMismatch):
		msg = "Invalid payment method."
	}
	writeError(w, status, msg)
}
