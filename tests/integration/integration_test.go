//go:build integration

// Black-box API tests against a real PostgreSQL instance. The suite spins up
// a throwaway postgres container, runs the embedded migrations, seeds the
// catalog and two API keys, and serves the full handler stack over HTTP.
//
// Run with:
//
//	go test -tags=integration ./tests/integration/
package integration

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/xenking/skybites/internal/domain/order"
	"github.com/xenking/skybites/internal/feed"
	"github.com/xenking/skybites/internal/handler"
	"github.com/xenking/skybites/internal/storage/postgres"
)

const (
	pepper      = "integration-pepper"
	customerKey = "customer-integration-key"
	staffKey    = "staff-integration-key"
)

var (
	baseURL    string
	httpClient *http.Client
)

// Response types are defined locally so the assertions stay black-box.

type productResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

type lineItemResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type orderResponse struct {
	ID           string             `json:"id"`
	CustomerID   string             `json:"customerId"`
	CustomerName string             `json:"customerName"`
	Items        []lineItemResponse `json:"items"`
	Total        float64            `json:"total"`
	Status       string             `json:"status"`
	Gate         string             `json:"gate"`
	CreatedAt    time.Time          `json:"createdAt"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("skybites_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("postgres container: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate container: %v", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}

	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if err := seed(ctx, pool); err != nil {
		log.Fatalf("seed: %v", err)
	}

	liveFeed := feed.New()
	defer liveFeed.Close()

	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	svc := order.NewService(productRepo, orderRepo, liveFeed)
	h := handler.New(handler.Config{FeedKeepalive: time.Second}, productRepo, svc, liveFeed)

	mux := http.NewServeMux()
	h.Routes(mux)
	sec := handler.NewSecurityHandler(postgres.NewAPIKeyRepository(pool), []byte(pepper))

	srv := httptest.NewServer(sec.Middleware()(mux))
	defer srv.Close()

	baseURL = srv.URL
	httpClient = &http.Client{Timeout: 10 * time.Second}

	return m.Run()
}

func seed(ctx context.Context, pool *pgxpool.Pool) error {
	const insertProduct = `INSERT INTO products (id, name, price, description)
		VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`
	products := []struct {
		id, name, price, desc string
	}{
		{"sandwich-club", "Club Sandwich", "5.00", "Toasted triple-decker"},
		{"water-still", "Still Water", "3.00", "500ml bottle"},
		{"coffee-flat-white", "Flat White", "4.80", "Double shot"},
	}
	for _, p := range products {
		if _, err := pool.Exec(ctx, insertProduct, p.id, p.name, p.price, p.desc); err != nil {
			return fmt.Errorf("seed product %s: %w", p.id, err)
		}
	}

	const insertKey = `INSERT INTO api_keys (key_hash, name, scopes)
		VALUES ($1, $2, $3) ON CONFLICT (key_hash) DO NOTHING`
	if _, err := pool.Exec(ctx, insertKey, hashKey(customerKey), "customer", []string{}); err != nil {
		return fmt.Errorf("seed customer key: %w", err)
	}
	if _, err := pool.Exec(ctx, insertKey, hashKey(staffKey), "staff", []string{"staff"}); err != nil {
		return fmt.Errorf("seed staff key: %w", err)
	}
	return nil
}

func hashKey(key string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// --- HTTP helpers ---

func doJSON(t *testing.T, method, path, apiKey string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, baseURL+path, &buf)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("api_key", apiKey)
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func placeOrder(t *testing.T, items []map[string]any) orderResponse {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, "/api/orders", customerKey, map[string]any{
		"customerId":   "traveler@example.com",
		"customerName": "Alex Traveler",
		"items":        items,
		"gate":         "B12",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var o orderResponse
	require.NoError(t, json.Unmarshal(body, &o))
	return o
}

// --- Tests ---

func TestAuthRequired(t *testing.T) {
	resp, _ := doJSON(t, http.MethodGet, "/api/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProductCatalog(t *testing.T) {
	resp, body := doJSON(t, http.MethodGet, "/api/products", customerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var products []productResponse
	require.NoError(t, json.Unmarshal(body, &products))
	require.NotEmpty(t, products)

	first := products[0]
	resp, body = doJSON(t, http.MethodGet, "/api/products/"+first.ID, customerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got productResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, first, got)
}

func TestOrderLifecycle(t *testing.T) {
	placed := placeOrder(t, []map[string]any{
		{"productId": "sandwich-club", "quantity": 2},
		{"productId": "water-still", "quantity": 1},
	})

	assert.Equal(t, "pending", placed.Status)
	assert.InDelta(t, 13.00, placed.Total, 1e-9)
	require.Len(t, placed.Items, 2)

	// Round-trips through NUMERIC and JSONB intact.
	resp, body := doJSON(t, http.MethodGet, "/api/orders/"+placed.ID, customerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched orderResponse
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, placed.ID, fetched.ID)
	assert.InDelta(t, placed.Total, fetched.Total, 1e-9)
	assert.Equal(t, placed.Items, fetched.Items)

	// Advance through the whole pipeline.
	for _, status := range []string{"preparing", "ready", "delivered"} {
		resp, body = doJSON(t, http.MethodPost, "/api/orders/"+placed.ID+"/status", staffKey,
			map[string]string{"status": status})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		var updated orderResponse
		require.NoError(t, json.Unmarshal(body, &updated))
		assert.Equal(t, status, updated.Status)
	}

	// Terminal repeat is a no-op success.
	resp, _ = doJSON(t, http.MethodPost, "/api/orders/"+placed.ID+"/status", staffKey,
		map[string]string{"status": "delivered"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Leaving the terminal state is not.
	resp, body = doJSON(t, http.MethodPost, "/api/orders/"+placed.ID+"/status", staffKey,
		map[string]string{"status": "pending"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var er errorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	assert.Equal(t, http.StatusConflict, er.Code)
}

func TestStatusSkipRejected(t *testing.T) {
	placed := placeOrder(t, []map[string]any{{"productId": "water-still", "quantity": 1}})

	resp, _ := doJSON(t, http.MethodPost, "/api/orders/"+placed.ID+"/status", staffKey,
		map[string]string{"status": "ready"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, "/api/orders/"+placed.ID, customerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var o orderResponse
	require.NoError(t, json.Unmarshal(body, &o))
	assert.Equal(t, "pending", o.Status, "rejected transition must not be persisted")
}

func TestStaffScopeEnforced(t *testing.T) {
	placed := placeOrder(t, []map[string]any{{"productId": "water-still", "quantity": 1}})

	resp, _ := doJSON(t, http.MethodPost, "/api/orders/"+placed.ID+"/status", customerKey,
		map[string]string{"status": "preparing"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, "/api/orders/"+placed.ID, customerKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOrderValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		code int
	}{
		{
			name: "empty cart",
			body: map[string]any{"customerId": "c", "customerName": "n", "items": []any{}, "gate": "A1"},
			code: http.StatusBadRequest,
		},
		{
			name: "unknown product",
			body: map[string]any{"customerId": "c", "customerName": "n",
				"items": []map[string]any{{"productId": "no-such-item", "quantity": 1}}, "gate": "A1"},
			code: http.StatusUnprocessableEntity,
		},
		{
			name: "negative quantity",
			body: map[string]any{"customerId": "c", "customerName": "n",
				"items": []map[string]any{{"productId": "water-still", "quantity": -1}}, "gate": "A1"},
			code: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, "/api/orders", customerKey, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode, string(body))
		})
	}
}

func TestDeleteOrder(t *testing.T) {
	placed := placeOrder(t, []map[string]any{{"productId": "water-still", "quantity": 1}})

	resp, _ := doJSON(t, http.MethodDelete, "/api/orders/"+placed.ID, staffKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, "/api/orders/"+placed.ID, customerKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLiveFeedStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/feed/orders", nil)
	require.NoError(t, err)
	req.Header.Set("api_key", staffKey)

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan []orderResponse, 4)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var snap []orderResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap); err != nil {
				return
			}
			events <- snap
		}
	}()

	// Initial snapshot arrives on subscribe.
	select {
	case <-events:
	case <-ctx.Done():
		t.Fatal("no initial snapshot")
	}

	placed := placeOrder(t, []map[string]any{{"productId": "water-still", "quantity": 1}})

	// The placed order shows up in a subsequent snapshot, newest first.
	deadline := time.After(10 * time.Second)
	for {
		select {
		case snap, ok := <-events:
			require.True(t, ok, "stream ended early")
			if len(snap) > 0 && snap[0].ID == placed.ID {
				assert.Equal(t, "pending", snap[0].Status)
				return
			}
		case <-deadline:
			t.Fatal("placed order never appeared on the feed")
		}
	}
}

func TestCustomerFeedScoped(t *testing.T) {
	mine := placeOrder(t, []map[string]any{{"productId": "water-still", "quantity": 1}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/feed/orders?customer=%s", baseURL, "traveler@example.com")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("api_key", customerKey)

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap []orderResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))

		ids := make([]string, 0, len(snap))
		for _, o := range snap {
			require.Equal(t, "traveler@example.com", o.CustomerID,
				"customer stream must only carry that customer's orders")
			ids = append(ids, o.ID)
		}
		assert.Contains(t, ids, mine.ID)
		return
	}
	t.Fatal("no snapshot received")
}
