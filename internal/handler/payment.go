package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// InitiatePayment creates a hosted checkout for a bank-transfer order.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	url, err := h.payments.InitiatePayment(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("checkoutUrl")
		e.Str(url)
		e.ObjEnd()
	})
}

// PaymentWebhook receives gateway payment notifications.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, r, badField("", err))
		return
	}
	out, err := h.payments.HandleWebhook(r.Context(), raw)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, out.Message)
}
