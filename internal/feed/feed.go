// Package feed implements the live order feed: an in-memory mirror of the
// authoritative order store that pushes full result-set snapshots to
// subscribers whenever a mirrored write changes the result of their query.
package feed

import (
	"context"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/skybites/internal/domain/order"
)

// ErrClosed is returned by Publish after the feed has been shut down.
var ErrClosed = errors.New("live feed closed")

// Feed holds the mirror documents and the active subscriptions.
//
// The mirror has no authority over field values: every Publish replaces the
// whole document with what the authoritative store returned, so a mirror that
// missed a write converges on the next one.
type Feed struct {
	mu     sync.Mutex
	orders map[string]order.Order
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	ch     chan []order.Order
	filter func(*order.Order) bool // nil matches every order
	done   chan struct{}
	stop   sync.Once
}

// New creates an empty Feed.
func New() *Feed {
	return &Feed{
		orders: make(map[string]order.Order),
		subs:   make(map[uint64]*subscriber),
	}
}

// Publish upserts the mirror copy of o and fans the change out to every
// subscriber whose filter matches. Delivery is latest-wins per subscriber: a
// slow receiver gets the freshest snapshot, never a backlog, and never blocks
// the writer or other subscribers.
func (f *Feed) Publish(_ context.Context, o *order.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	f.orders[o.ID] = cloneOrder(o)

	for _, sub := range f.subs {
		if sub.filter == nil || sub.filter(o) {
			deliver(sub.ch, f.snapshotLocked(sub.filter))
		}
	}
	return nil
}

// Subscribe registers an observation over all orders, newest first. It
// returns a channel of full result-set snapshots and a cancel function. The
// current snapshot is delivered immediately. The subscription is released by
// calling cancel or when ctx is done; the channel is closed either way.
func (f *Feed) Subscribe(ctx context.Context) (<-chan []order.Order, context.CancelFunc) {
	return f.subscribe(ctx, nil)
}

// SubscribeCustomer is like Subscribe but filtered server-side to orders
// belonging to the given customer. Documents of other customers are never
// delivered through the returned channel.
func (f *Feed) SubscribeCustomer(ctx context.Context, customerID string) (<-chan []order.Order, context.CancelFunc) {
	return f.subscribe(ctx, func(o *order.Order) bool {
		return o.CustomerID == customerID
	})
}

func (f *Feed) subscribe(ctx context.Context, filter func(*order.Order) bool) (<-chan []order.Order, context.CancelFunc) {
	sub := &subscriber{
		// Capacity one: holds exactly the latest undelivered snapshot.
		ch:     make(chan []order.Order, 1),
		filter: filter,
		done:   make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = sub
	sub.ch <- f.snapshotLocked(filter)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		sub.release()
	}

	// Guaranteed release on caller teardown: ctx cancellation frees the
	// subscription even if the caller never invokes cancel.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()

	return sub.ch, cancel
}

// Close shuts the feed down, releasing every active subscription. Subsequent
// Publish calls return ErrClosed.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		sub.release()
	}
}

// snapshotLocked builds a full result-set snapshot for the given filter,
// ordered by creation time descending. Callers must hold f.mu.
func (f *Feed) snapshotLocked(filter func(*order.Order) bool) []order.Order {
	snap := make([]order.Order, 0, len(f.orders))
	for _, o := range f.orders {
		if filter == nil || filter(&o) {
			snap = append(snap, cloneOrder(&o))
		}
	}
	sort.Slice(snap, func(i, j int) bool {
		if !snap[i].CreatedAt.Equal(snap[j].CreatedAt) {
			return snap[i].CreatedAt.After(snap[j].CreatedAt)
		}
		return snap[i].ID > snap[j].ID
	})
	return snap
}

// release closes the subscriber exactly once. Sends happen only while f.mu is
// held and only to registered subscribers, so by the time release runs after
// removal from the map no further send can race the close.
func (s *subscriber) release() {
	s.stop.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// deliver pushes snap into a capacity-one channel, replacing any undelivered
// older snapshot. Called with f.mu held, so there is a single sender.
func deliver(ch chan []order.Order, snap []order.Order) {
	for {
		select {
		case ch <- snap:
			return
		default:
			// Drop the stale snapshot and retry with the fresh one.
			select {
			case <-ch:
			default:
			}
		}
	}
}

// cloneOrder copies o deeply enough that subscribers can read snapshots
// without racing later mutations of the source.
func cloneOrder(o *order.Order) order.Order {
	c := *o
	c.Items = make([]order.LineItem, len(o.Items))
	copy(c.Items, o.Items)
	return c
}
