// Command seed-db loads a demo catalog into PostgreSQL: products from a JSON
// file plus a fixed set of promotions and coupons for local development.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/repository"
)

type productJSON struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	OnClearance     bool            `json:"onClearance"`
}

const upsertProductSQL = `
INSERT INTO products (id, name, category, base_price, discount_percent, on_clearance, discounted_price)
VALUES ($1, $2, $3, $4, $5, $6, $4)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    category = EXCLUDED.category,
    base_price = EXCLUDED.base_price,
    discount_percent = EXCLUDED.discount_percent,
    on_clearance = EXCLUDED.on_clearance,
    deleted_at = NULL`

const upsertPromotionSQL = `
INSERT INTO promotions (id, name, discount_kind, discount_value, start_at, end_at, active, scope_kind, scope_categories, priority)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    discount_kind = EXCLUDED.discount_kind,
    discount_value = EXCLUDED.discount_value,
    start_at = EXCLUDED.start_at,
    end_at = EXCLUDED.end_at,
    active = TRUE`

const upsertCouponSQL = `
INSERT INTO coupons (id, code, discount_kind, discount_value, start_at, end_at, active, minimum_purchase, usage_limit, is_public, banner_text)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    discount_value = EXCLUDED.discount_value,
    start_at = EXCLUDED.start_at,
    end_at = EXCLUDED.end_at,
    active = TRUE,
    minimum_purchase = EXCLUDED.minimum_purchase,
    usage_limit = EXCLUDED.usage_limit`

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedPromotions(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promotions")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Category, p.Price, p.DiscountPercent, p.OnClearance,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedPromotions(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo promotions")

	now := time.Now().UTC().Truncate(time.Hour)

	type promo struct {
		id, name, kind string
		value          decimal.Decimal
		days           int
		scopeKind      string
		categories     []string
		priority       int
	}
	promos := []promo{
		{
			id: "seed-summer-sale", name: "Summer sale", kind: "percentage",
			value: decimal.NewFromInt(10), days: 30, scopeKind: "store_wide",
		},
		{
			id: "seed-accessories", name: "Accessories week", kind: "percentage",
			value: decimal.NewFromInt(20), days: 7, scopeKind: "category",
			categories: []string{"accessories"}, priority: 5,
		},
	}

	for _, p := range promos {
		if _, err := pool.Exec(ctx, upsertPromotionSQL,
			p.id, p.name, p.kind, p.value, now, now.AddDate(0, 0, p.days),
			p.scopeKind, p.categories, p.priority,
		); err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.id)
		}

		slog.Info("upserted promotion", slog.String("id", p.id), slog.String("name", p.name))
	}

	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo coupons")

	now := time.Now().UTC().Truncate(time.Hour)

	type cpn struct {
		id, code, kind string
		value, minimum decimal.Decimal
		usageLimit     int
		isPublic       bool
		banner         string
	}
	coupons := []cpn{
		{
			id: "seed-welcome10", code: "WELCOME10", kind: "percentage",
			value: decimal.NewFromInt(10), isPublic: true,
			banner: "10% off your first order",
		},
		{
			id: "seed-save25", code: "SAVE25", kind: "fixed_amount",
			value: decimal.NewFromInt(25), minimum: decimal.NewFromInt(100),
			usageLimit: 500,
			banner:     "$25 off orders over $100",
		},
	}

	for _, c := range coupons {
		if _, err := pool.Exec(ctx, upsertCouponSQL,
			c.id, c.code, c.kind, c.value, now, now.AddDate(0, 0, 90),
			c.minimum, c.usageLimit, c.isPublic, c.banner,
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code))
	}

	return nil
}
