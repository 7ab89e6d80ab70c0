// Command seed-db loads the product catalog from a JSON file and provisions
// API keys for local development and deployments.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/skybites/internal/storage/postgres"
)

type productJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
}

const (
	upsertProductSQL = `INSERT INTO products (id, name, price, description)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET name = $2, price = $3, description = $4`

	upsertAPIKeySQL = `INSERT INTO api_keys (key_hash, name, scopes)
	VALUES ($1, $2, $3)
	ON CONFLICT (key_hash) DO UPDATE SET name = $2, scopes = $3, active = TRUE`
)

func main() {
	var (
		databaseURL  string
		productsFile string
		customerKey  string
		staffKey     string
		pepper       string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&customerKey, "customer-key", "", "customer API key to seed (or SKY_SEED_CUSTOMER_KEY env)")
	flag.StringVar(&staffKey, "staff-key", "", "staff API key to seed (or SKY_SEED_STAFF_KEY env)")
	flag.StringVar(&pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SKY_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if customerKey == "" {
		customerKey = os.Getenv("SKY_SEED_CUSTOMER_KEY")
	}
	if staffKey == "" {
		staffKey = os.Getenv("SKY_SEED_STAFF_KEY")
	}
	if pepper == "" {
		pepper = os.Getenv("SKY_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, customerKey, staffKey, pepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, customerKey, staffKey, pepper string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if customerKey != "" {
		if err := seedAPIKey(ctx, pool, customerKey, pepper, "customer", nil); err != nil {
			return errors.Wrap(err, "seed customer key")
		}
	}
	if staffKey != "" {
		if err := seedAPIKey(ctx, pool, staffKey, pepper, "staff", []string{"staff"}); err != nil {
			return errors.Wrap(err, "seed staff key")
		}
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products")
	}

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Description); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}

	slog.Info("products seeded", slog.Int("count", len(products)))
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, key, pepper, name string, scopes []string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	hash := hex.EncodeToString(mac.Sum(nil))

	if scopes == nil {
		scopes = []string{}
	}
	if _, err := pool.Exec(ctx, upsertAPIKeySQL, hash, name, scopes); err != nil {
		return errors.Wrapf(err, "upsert api key %s", name)
	}

	slog.Info("api key seeded", slog.String("name", name))
	return nil
}
