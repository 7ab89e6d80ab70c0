package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/skybites/internal/domain/order"
)

// streamOrders serves the live order feed over server-sent events. Without a
// customer query parameter it streams every order and requires the staff
// scope; with one it streams only that customer's orders. Each event carries
// the full result-set snapshot, newest first.
func (h *Handler) streamOrders(w http.ResponseWriter, r *http.Request) {
	customer := r.URL.Query().Get("customer")
	if customer == "" && !h.requireStaff(w, r) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	var (
		snapshots <-chan []order.Order
		cancel    func()
	)
	if customer == "" {
		snapshots, cancel = h.feed.Subscribe(ctx)
	} else {
		snapshots, cancel = h.feed.SubscribeCustomer(ctx, customer)
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Keepalive comments let proxies and clients detect a live but idle
	// stream. A nil channel when disabled blocks that select arm forever.
	var keepalive <-chan time.Time
	if h.cfg.FeedKeepalive > 0 {
		ticker := time.NewTicker(h.cfg.FeedKeepalive)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, open := <-snapshots:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", encodeSnapshot(snap)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// encodeSnapshot renders a result-set snapshot as a JSON array without
// reflection. Money fields keep their exact decimal representation.
func encodeSnapshot(orders []order.Order) []byte {
	e := &jx.Encoder{}
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
	return e.Bytes()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("customerId")
	e.Str(o.CustomerID)
	e.FieldStart("customerName")
	e.Str(o.CustomerName)
	e.FieldStart("items")
	e.ArrStart()
	for _, item := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(item.ProductID)
		e.FieldStart("name")
		e.Str(item.Name)
		e.FieldStart("quantity")
		e.Int(item.Quantity)
		e.FieldStart("unitPrice")
		e.Num(jx.Num(decimalString(item.UnitPrice)))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("total")
	e.Num(jx.Num(decimalString(o.Total)))
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("gate")
	e.Str(o.Gate)
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}
