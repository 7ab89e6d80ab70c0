package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/skybites/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, customer_id, customer_name, items, total, status, gate, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getOrderSQL = `SELECT id, customer_id, customer_name, items, total, status, gate, created_at
	FROM orders WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1
	RETURNING id, customer_id, customer_name, items, total, status, gate, created_at`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items are stored in a JSONB column with the exact wire field set, keeping
// store and mirror documents interchangeable.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order, assigning its canonical identifier. The
// assigned ID is written back to o.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	id := uuid.New().String()
	_, err = r.pool.Exec(ctx, createOrderSQL,
		id, o.CustomerID, o.CustomerName, itemsJSON, o.Total, o.Status, o.Gate, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}

	o.ID = id
	return nil
}

// GetByID returns a single order. It returns order.ErrNotFound when no
// matching record exists.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, getOrderSQL, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

// UpdateStatus sets the status field and returns the full updated record.
// It returns order.ErrNotFound when no matching record exists.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, updateOrderStatusSQL, id, status)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("updating order %q: %w", id, err)
	}
	return o, nil
}

// Delete removes an order. It returns order.ErrNotFound when no matching
// record exists.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.CustomerName, &itemsJSON,
		&o.Total, &o.Status, &o.Gate, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	return &o, nil
}
