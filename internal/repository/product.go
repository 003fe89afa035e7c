package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/product"
)

const (
	productColumns = `id, name, category, base_price, discount_percent, on_clearance,
		COALESCE(promotion_id, ''), discounted_price`

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = $1 AND deleted_at IS NULL`

	getProductsByIDsSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = ANY($1) AND deleted_at IS NULL`

	allProductIDsSQL = `SELECT id FROM products WHERE deleted_at IS NULL ORDER BY id`

	productIDsByCategoriesSQL = `SELECT id FROM products
		WHERE category = ANY($1) AND deleted_at IS NULL ORDER BY id`

	existingProductIDsSQL = `SELECT id FROM products
		WHERE id = ANY($1) AND deleted_at IS NULL ORDER BY id`

	clearanceProductIDsSQL = `SELECT id FROM products
		WHERE on_clearance AND deleted_at IS NULL ORDER BY id`

	productIDsByPromotionSQL = `SELECT id FROM products
		WHERE promotion_id = $1 ORDER BY id`

	// A product already linked to a higher-priority promotion keeps its link.
	linkPromotionSQL = `UPDATE products p SET promotion_id = $1
		WHERE p.id = ANY($3) AND p.deleted_at IS NULL
		  AND (p.promotion_id IS NULL
		       OR p.promotion_id = $1
		       OR EXISTS (SELECT 1 FROM promotions cur
		                  WHERE cur.id = p.promotion_id AND cur.priority <= $2))`

	unlinkPromotionSQL = `UPDATE products SET promotion_id = NULL
		WHERE promotion_id = $1 AND id = ANY($2)`

	unlinkPromotionAllSQL = `UPDATE products SET promotion_id = NULL
		WHERE promotion_id = $1`

	markClearanceSQL = `UPDATE products SET on_clearance = TRUE, discount_percent = $2
		WHERE id = ANY($1) AND deleted_at IS NULL`

	updateDiscountCacheSQL = `UPDATE products SET discounted_price = $2 WHERE id = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single non-deleted product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns non-deleted products matching any of the given ids.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// AllIDs returns the ids of every non-deleted product.
func (r *ProductRepository) AllIDs(ctx context.Context) ([]string, error) {
	return r.queryIDs(ctx, allProductIDsSQL)
}

// IDsByCategories returns ids of non-deleted products in any of the categories.
func (r *ProductRepository) IDsByCategories(ctx context.Context, categories []string) ([]string, error) {
	return r.queryIDs(ctx, productIDsByCategoriesSQL, categories)
}

// ExistingIDs filters the given ids down to those of non-deleted products.
func (r *ProductRepository) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	return r.queryIDs(ctx, existingProductIDsSQL, ids)
}

// ClearanceIDs returns ids of non-deleted products flagged as clearance.
func (r *ProductRepository) ClearanceIDs(ctx context.Context) ([]string, error) {
	return r.queryIDs(ctx, clearanceProductIDsSQL)
}

// IDsByPromotion returns ids of products currently linked to the promotion.
func (r *ProductRepository) IDsByPromotion(ctx context.Context, promotionID string) ([]string, error) {
	return r.queryIDs(ctx, productIDsByPromotionSQL, promotionID)
}

// LinkPromotion links the given products to the promotion, respecting
// priority on contested rows.
func (r *ProductRepository) LinkPromotion(ctx context.Context, promotionID string, priority int, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, linkPromotionSQL, promotionID, priority, ids)
	if err != nil {
		return fmt.Errorf("linking products to promotion %q: %w", promotionID, err)
	}
	return nil
}

// UnlinkPromotion clears the promotion link on the given products, or on
// every product referencing the promotion when ids is empty.
func (r *ProductRepository) UnlinkPromotion(ctx context.Context, promotionID string, ids []string) error {
	var err error
	if len(ids) == 0 {
		_, err = r.pool.Exec(ctx, unlinkPromotionAllSQL, promotionID)
	} else {
		_, err = r.pool.Exec(ctx, unlinkPromotionSQL, promotionID, ids)
	}
	if err != nil {
		return fmt.Errorf("unlinking products from promotion %q: %w", promotionID, err)
	}
	return nil
}

// MarkClearance flags the products as clearance with the given static
// discount percent.
func (r *ProductRepository) MarkClearance(ctx context.Context, ids []string, percent decimal.Decimal) (int64, error) {
	tag, err := r.pool.Exec(ctx, markClearanceSQL, ids, percent)
	if err != nil {
		return 0, fmt.Errorf("marking products clearance: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateDiscountCache persists the computed effective unit price.
func (r *ProductRepository) UpdateDiscountCache(ctx context.Context, id string, price decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, updateDiscountCacheSQL, id, price)
	if err != nil {
		return fmt.Errorf("updating price cache for product %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (r *ProductRepository) queryIDs(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying product ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Category,
		&p.BasePrice, &p.DiscountPercent, &p.OnClearance,
		&p.PromotionID, &p.DiscountedPrice,
	)
	return p, err
}
