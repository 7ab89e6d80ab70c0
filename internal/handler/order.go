package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/skybites/internal/domain/order"
)

type placeOrderRequest struct {
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
	Items        []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	Gate string `json:"gate"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// placeOrder creates a gate-delivery order from the submitted cart. The total
// is always computed server-side from catalog prices.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]order.CartItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
	}

	o, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		Items:        items,
		Gate:         req.Gate,
	})
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDoc(o))
}

// getOrder returns an order from the authoritative store.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDoc(o))
}

// deleteOrder removes an order. Staff only; deletions are not mirrored to the
// live feed.
func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}

	if err := h.orders.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateOrderStatus advances an order one step along the fulfillment
// pipeline. Staff only.
func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target := order.Status(req.Status)
	if !target.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "unknown status "+req.Status)
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), target)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDoc(o))
}

// writeOrderError maps domain errors to HTTP responses. Validation failures
// and illegal transitions surface verbatim; anything unexpected becomes a
// logged 500.
func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrEmptyItems), errors.Is(err, order.ErrMissingGate):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	var (
		iqErr *order.InvalidQuantityError
		pnErr *order.ProductNotFoundError
		itErr *order.InvalidTransitionError
	)
	switch {
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.As(err, &pnErr):
		writeError(w, http.StatusUnprocessableEntity, pnErr.Error())
	case errors.As(err, &itErr):
		writeError(w, http.StatusConflict, itErr.Error())
	default:
		internalError(w, r, err)
	}
}
