package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for order validation and lookup.
var (
	ErrEmptyItems  = errors.New("items required")
	ErrMissingGate = errors.New("gate required")
	ErrNotFound    = errors.New("order not found")
)

// InvalidQuantityError indicates a cart entry has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// ProductNotFoundError indicates a requested product does not exist in the
// catalog at order time.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Order represents a gate-delivery order. Everything except Status is
// immutable after creation; line items are snapshots of product state at
// order time, so later catalog edits never alter past orders.
type Order struct {
	ID           string
	CustomerID   string
	CustomerName string
	Items        []LineItem
	Total        decimal.Decimal
	Status       Status
	Gate         string
	CreatedAt    time.Time
}

// LineItem is a single ordered product, snapshotted at order time.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Repository defines persistence operations against the authoritative order
// store. Create assigns the order ID; callers must treat it as opaque.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Order, error)
	Delete(ctx context.Context, id string) error
}

// Mirror receives a full copy of every authoritative order write so live
// viewers can be notified. Implementations must upsert by order ID.
type Mirror interface {
	Publish(ctx context.Context, order *Order) error
}
