package feed

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/skybites/internal/domain/order"
)

func newTestOrder(id, customerID string, createdAt time.Time) *order.Order {
	return &order.Order{
		ID:           id,
		CustomerID:   customerID,
		CustomerName: "Test Customer",
		Items: []order.LineItem{
			{ProductID: "p1", Name: "Flat White", Quantity: 1, UnitPrice: decimal.RequireFromString("4.80")},
		},
		Total:     decimal.RequireFromString("4.80"),
		Status:    order.StatusPending,
		Gate:      "B12",
		CreatedAt: createdAt,
	}
}

// recv reads the next snapshot or fails the test after a timeout.
func recv(t *testing.T, ch <-chan []order.Order) []order.Order {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	f := New()
	defer f.Close()

	base := time.Now().UTC()
	require.NoError(t, f.Publish(context.Background(), newTestOrder("o1", "alice", base)))

	ch, cancel := f.Subscribe(context.Background())
	defer cancel()

	snap := recv(t, ch)
	require.Len(t, snap, 1)
	assert.Equal(t, "o1", snap[0].ID)
}

func TestPublishFansOutSnapshot(t *testing.T) {
	f := New()
	defer f.Close()

	ch, cancel := f.Subscribe(context.Background())
	defer cancel()

	assert.Empty(t, recv(t, ch), "initial snapshot of an empty feed")

	base := time.Now().UTC()
	require.NoError(t, f.Publish(context.Background(), newTestOrder("o1", "alice", base)))

	snap := recv(t, ch)
	require.Len(t, snap, 1)
	assert.Equal(t, "o1", snap[0].ID)
}

func TestSnapshotNewestFirst(t *testing.T) {
	f := New()
	defer f.Close()

	base := time.Now().UTC()
	ctx := context.Background()
	require.NoError(t, f.Publish(ctx, newTestOrder("o1", "alice", base)))
	require.NoError(t, f.Publish(ctx, newTestOrder("o2", "bob", base.Add(time.Second))))
	require.NoError(t, f.Publish(ctx, newTestOrder("o3", "alice", base.Add(2*time.Second))))

	ch, cancel := f.Subscribe(ctx)
	defer cancel()

	snap := recv(t, ch)
	require.Len(t, snap, 3)
	assert.Equal(t, "o3", snap[0].ID)
	assert.Equal(t, "o2", snap[1].ID)
	assert.Equal(t, "o1", snap[2].ID)
}

func TestPublishUpsertsExistingOrder(t *testing.T) {
	f := New()
	defer f.Close()

	base := time.Now().UTC()
	ctx := context.Background()
	require.NoError(t, f.Publish(ctx, newTestOrder("o1", "alice", base)))

	updated := newTestOrder("o1", "alice", base)
	updated.Status = order.StatusPreparing
	require.NoError(t, f.Publish(ctx, updated))

	ch, cancel := f.Subscribe(ctx)
	defer cancel()

	snap := recv(t, ch)
	require.Len(t, snap, 1, "republish must replace, not duplicate")
	assert.Equal(t, order.StatusPreparing, snap[0].Status)
}

func TestCustomerFilterIsolation(t *testing.T) {
	f := New()
	defer f.Close()

	base := time.Now().UTC()
	ctx := context.Background()
	require.NoError(t, f.Publish(ctx, newTestOrder("o1", "alice", base)))
	require.NoError(t, f.Publish(ctx, newTestOrder("o2", "bob", base.Add(time.Second))))

	ch, cancel := f.SubscribeCustomer(ctx, "alice")
	defer cancel()

	snap := recv(t, ch)
	require.Len(t, snap, 1)
	assert.Equal(t, "o1", snap[0].ID)

	// Another customer's order must not wake this subscriber.
	require.NoError(t, f.Publish(ctx, newTestOrder("o3", "bob", base.Add(2*time.Second))))
	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot delivered: %v", snap)
	case <-time.After(50 * time.Millisecond):
	}

	// The customer's own write does.
	require.NoError(t, f.Publish(ctx, newTestOrder("o4", "alice", base.Add(3*time.Second))))
	snap = recv(t, ch)
	require.Len(t, snap, 2)
	assert.Equal(t, "o4", snap[0].ID)
	assert.Equal(t, "o1", snap[1].ID)
}

func TestSlowSubscriberGetsLatestSnapshot(t *testing.T) {
	f := New()
	defer f.Close()

	ctx := context.Background()
	ch, cancel := f.Subscribe(ctx)
	defer cancel()

	// Do not read: the buffered slot fills, then every later publish
	// replaces the pending snapshot instead of blocking.
	base := time.Now().UTC()
	for i := 0; i < 10; i++ {
		require.NoError(t, f.Publish(ctx, newTestOrder("o1", "alice", base)))
	}
	require.NoError(t, f.Publish(ctx, newTestOrder("o2", "alice", base.Add(time.Second))))

	snap := recv(t, ch)
	require.Len(t, snap, 2, "slow subscriber must see the freshest state, not a backlog")
	assert.Equal(t, "o2", snap[0].ID)
}

func TestCancelClosesChannel(t *testing.T) {
	f := New()
	defer f.Close()

	ch, cancel := f.Subscribe(context.Background())
	recv(t, ch)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel must be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Publishes after cancel must not panic or deliver anything.
	require.NoError(t, f.Publish(context.Background(), newTestOrder("o1", "alice", time.Now().UTC())))
}

func TestContextCancellationReleasesSubscription(t *testing.T) {
	f := New()
	defer f.Close()

	ctx, stop := context.WithCancel(context.Background())
	ch, _ := f.Subscribe(ctx)
	recv(t, ch)

	stop()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "ctx cancellation must release the subscription")
}

func TestDoubleCancelIsSafe(t *testing.T) {
	f := New()
	defer f.Close()

	ch, cancel := f.Subscribe(context.Background())
	recv(t, ch)
	cancel()
	cancel()
}

func TestCloseReleasesSubscribersAndRejectsPublish(t *testing.T) {
	f := New()

	ch, cancel := f.Subscribe(context.Background())
	defer cancel()
	recv(t, ch)

	f.Close()
	f.Close()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel must be closed after feed shutdown")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after feed shutdown")
	}

	err := f.Publish(context.Background(), newTestOrder("o1", "alice", time.Now().UTC()))
	require.ErrorIs(t, err, ErrClosed)
}

func TestSubscribeAfterClose(t *testing.T) {
	f := New()
	f.Close()

	ch, cancel := f.Subscribe(context.Background())
	defer cancel()

	_, ok := <-ch
	assert.False(t, ok, "subscribing to a closed feed yields a closed channel")
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	f := New()
	defer f.Close()

	ctx := context.Background()
	base := time.Now().UTC()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				o := newTestOrder(
					"o"+strconv.Itoa(w)+"-"+strconv.Itoa(i),
					"alice",
					base.Add(time.Duration(i)*time.Millisecond),
				)
				assert.NoError(t, f.Publish(ctx, o))
			}
		}(w)
	}
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel := f.Subscribe(ctx)
			defer cancel()
			for {
				select {
				case _, ok := <-ch:
					if !ok {
						return
					}
				case <-time.After(100 * time.Millisecond):
					// Publishers are done and nothing new is coming.
					return
				}
			}
		}()
	}
	wg.Wait()

	ch, cancel := f.Subscribe(ctx)
	defer cancel()
	snap := recv(t, ch)
	assert.Len(t, snap, 200, "every published order ends up in the mirror")
}

func TestSnapshotIsolatedFromLaterMutation(t *testing.T) {
	f := New()
	defer f.Close()

	ctx := context.Background()
	o := newTestOrder("o1", "alice", time.Now().UTC())
	require.NoError(t, f.Publish(ctx, o))

	ch, cancel := f.Subscribe(ctx)
	defer cancel()
	snap := recv(t, ch)

	// Mutating the published document must not reach the delivered snapshot.
	o.Items[0].Name = "changed"
	o.Status = order.StatusDelivered

	require.Len(t, snap, 1)
	assert.Equal(t, "Flat White", snap[0].Items[0].Name)
	assert.Equal(t, order.StatusPending, snap[0].Status)
}
