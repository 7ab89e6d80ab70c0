// Package handler exposes the HTTP request surface: product catalog reads,
// order placement and lifecycle operations, and the live order feed streamed
// over server-sent events.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/skybites/internal/domain/order"
	"github.com/xenking/skybites/internal/domain/product"
	"github.com/xenking/skybites/internal/feed"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// FeedKeepalive is the interval between SSE keepalive comments on feed
	// streams. Zero disables keepalives.
	FeedKeepalive time.Duration
}

// Handler serves the API routes, delegating business logic to the order
// service and the repositories.
type Handler struct {
	cfg      Config
	products product.Repository
	orders   *order.Service
	feed     *feed.Feed
}

// New constructs a Handler with the required dependencies.
func New(cfg Config, products product.Repository, orders *order.Service, f *feed.Feed) *Handler {
	return &Handler{
		cfg:      cfg,
		products: products,
		orders:   orders,
		feed:     f,
	}
}

// Routes registers all API routes on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)
	mux.HandleFunc("POST /api/orders", h.placeOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", h.deleteOrder)
	mux.HandleFunc("POST /api/orders/{id}/status", h.updateOrderStatus)
	mux.HandleFunc("GET /api/feed/orders", h.streamOrders)
}

// --- Wire documents ---

type productDoc struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

type lineItemDoc struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type orderDoc struct {
	ID           string        `json:"id"`
	CustomerID   string        `json:"customerId"`
	CustomerName string        `json:"customerName"`
	Items        []lineItemDoc `json:"items"`
	Total        float64       `json:"total"`
	Status       string        `json:"status"`
	Gate         string        `json:"gate"`
	CreatedAt    time.Time     `json:"createdAt"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func toProductDoc(p product.Product) productDoc {
	return productDoc{
		ID:          p.ID,
		Name:        p.Name,
		Price:       p.Price.InexactFloat64(),
		Description: p.Description,
	}
}

func toOrderDoc(o *order.Order) orderDoc {
	items := make([]lineItemDoc, len(o.Items))
	for i, item := range o.Items {
		items[i] = lineItemDoc{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.InexactFloat64(),
		}
	}
	return orderDoc{
		ID:           o.ID,
		CustomerID:   o.CustomerID,
		CustomerName: o.CustomerName,
		Items:        items,
		Total:        o.Total.InexactFloat64(),
		Status:       string(o.Status),
		Gate:         o.Gate,
		CreatedAt:    o.CreatedAt,
	}
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decimalString formats a money value with two decimal places.
func decimalString(d decimal.Decimal) string {
	return d.StringFixed(2)
}
