package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for ordering.
type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	Description string
}

// Repository defines read operations for the product catalog. The order
// subsystem never mutates products; it only reads them to snapshot line items.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
