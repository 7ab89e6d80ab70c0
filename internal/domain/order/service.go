package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/skybites/internal/domain/product"
)

// CartItem is a single cart entry in a place-order request.
type CartItem struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order. Any total supplied
// by the client is ignored; the service always recomputes it from catalog
// prices.
type PlaceOrderRequest struct {
	CustomerID   string
	CustomerName string
	Items        []CartItem
	Gate         string
}

// Service orchestrates the order lifecycle: creation with server-side
// pricing, status advancement through the fulfillment pipeline, and the
// dual write to the authoritative store and the live-feed mirror.
//
// Writes follow a fixed precedence: the store first, the mirror second.
// There is no transaction across the two. A failed store write fails the
// whole operation; a failed mirror write after a successful store write is
// logged and swallowed, leaving the mirror stale until the next mirrored
// write republishes the full document.
type Service struct {
	products product.Repository
	orders   Repository
	mirror   Mirror

	now func() time.Time
}

// NewService creates an order Service with the required dependencies.
func NewService(products product.Repository, orders Repository, mirror Mirror) *Service {
	return &Service{
		products: products,
		orders:   orders,
		mirror:   mirror,
		now:      time.Now,
	}
}

// PlaceOrder validates the cart, snapshots products into line items, computes
// the total server-side, persists the order, and mirrors it to the live feed.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.Gate == "" {
		return nil, ErrMissingGate
	}

	// Validate quantities and collect product IDs.
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	// Snapshot each cart entry against current catalog state. Name and price
	// are frozen here; later catalog edits must not touch this order.
	items := make([]LineItem, len(req.Items))
	total := decimal.Zero
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		items[i] = LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	o := &Order{
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		Items:        items,
		Total:        total.Round(2),
		Status:       StatusPending,
		Gate:         req.Gate,
		CreatedAt:    s.now().UTC(),
	}

	// Phase 1: authoritative write. The store assigns the order ID; failure
	// here fails the whole operation and nothing reaches the mirror.
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	// Phase 2: mirror write. The order already exists authoritatively, so a
	// mirror failure is tolerated: live viewers miss this order until the
	// next mirrored write republishes it.
	s.publishMirror(ctx, o)

	return o, nil
}

// UpdateStatus advances an order one step along the fulfillment pipeline.
// Repeating the terminal state is a no-op that returns the order unchanged;
// any other non-successor target is rejected without mutating either store.
func (s *Service) UpdateStatus(ctx context.Context, id string, target Status) (*Order, error) {
	current, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status.Terminal() && target == current.Status {
		return current, nil
	}
	if !current.Status.CanTransition(target) {
		return nil, &InvalidTransitionError{From: current.Status, To: target}
	}

	updated, err := s.orders.UpdateStatus(ctx, id, target)
	if err != nil {
		return nil, errors.Wrapf(err, "update order %s", id)
	}

	// Mirror the full updated document, not just the changed field, so a
	// mirror that missed an earlier write converges here.
	s.publishMirror(ctx, updated)

	return updated, nil
}

// Get returns an order from the authoritative store.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// Delete removes an order from the authoritative store. Deletions are not
// mirrored: live viewers track status changes only.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.orders.Delete(ctx, id)
}

// publishMirror pushes the order to the live feed. Failures are logged and
// swallowed: the authoritative write already succeeded and the feed is
// allowed to lag.
func (s *Service) publishMirror(ctx context.Context, o *Order) {
	if err := s.mirror.Publish(ctx, o); err != nil {
		zctx.From(ctx).Warn("Mirror write failed, feed is stale",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}
