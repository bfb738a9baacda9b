package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-orders/internal/domain/auth"
	"github.com/xenking/secondhand-orders/internal/domain/order"
	"github.com/xenking/secondhand-orders/internal/domain/stock"
)

// CreateOrder places an order for the authenticated buyer.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
	req, err := decodeCreateOrder(d)
	if err != nil {
		respondError(w, r, err)
		return
	}
	req.BuyerID = id.BuyerID

	o, err := h.orders.CreateOrder(r.Context(), req)
	var perr *stock.PartialFailureError
	if err != nil && !errors.As(err, &perr) {
		respondError(w, r, err)
		return
	}
	if perr != nil {
		zctx.From(r.Context()).Warn("Order created with stock reconciliation failures",
			zap.String("order_id", o.ID),
			zap.Int("failed_lines", len(perr.Failures)),
		)
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeCreated(e, o, perr)
	})
}

// GetOrders lists the authenticated buyer's orders.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	orders, err := h.orders.GetOrders(r.Context(), id.BuyerID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

// GetAllOrders lists every order.
func (h *Handler) GetAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.GetAllOrders(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

// GetOrderByID returns one order. Buyers only see their own orders.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	o, err := h.orders.GetOrderByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !id.IsAdmin() && o.BuyerID != id.BuyerID {
		respondError(w, r, order.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdateOrderState moves an order to the requested state.
func (h *Handler) UpdateOrderState(w http.ResponseWriter, r *http.Request) {
	state, err := decodeState(jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 512))
	if err != nil {
		respondError(w, r, err)
		return
	}
	o, err := h.orders.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), state)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// DeleteOrder soft-deletes an order.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
