package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/promo-engine/internal/domain/promotion"
)

const (
	promotionColumns = `id, name, discount_kind, discount_value, start_at, end_at, active,
		scope_kind, scope_categories, scope_product_ids,
		minimum_purchase, usage_limit, usage_count, priority, banner_image, created_at`

	createPromotionSQL = `INSERT INTO promotions
		(id, name, discount_kind, discount_value, start_at, end_at, active,
		 scope_kind, scope_categories, scope_product_ids,
		 minimum_purchase, usage_limit, priority, banner_image)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	updatePromotionSQL = `UPDATE promotions SET
		name = $2, discount_kind = $3, discount_value = $4, start_at = $5, end_at = $6,
		active = $7, scope_kind = $8, scope_categories = $9, scope_product_ids = $10,
		minimum_purchase = $11, usage_limit = $12, priority = $13, banner_image = $14
		WHERE id = $1`

	deletePromotionSQL = `DELETE FROM promotions WHERE id = $1`

	getPromotionByIDSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`

	getPromotionsByIDsSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = ANY($1)`

	listPromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions ORDER BY created_at DESC`

	listActivePromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE active AND start_at <= $1 AND end_at >= $1
		ORDER BY priority DESC, created_at DESC`

	findStoreWideSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE scope_kind = 'store_wide' ORDER BY created_at DESC LIMIT 1`

	deactivateExpiredPromotionsSQL = `UPDATE promotions SET active = FALSE
		WHERE active AND end_at < $1`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// Create persists a new promotion.
func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	_, err := r.pool.Exec(ctx, createPromotionSQL,
		p.ID, p.Name, string(p.Kind), p.Value, p.StartAt, p.EndAt, p.Active,
		string(p.Scope.Kind), p.Scope.Categories, p.Scope.ProductIDs,
		p.MinimumPurchase, p.UsageLimit, p.Priority, p.BannerImage,
	)
	if err != nil {
		return fmt.Errorf("creating promotion %q: %w", p.ID, err)
	}
	return nil
}

// Update rewrites a promotion's rule fields. The usage counter is mutated
// only through redemption, never here.
func (r *PromotionRepository) Update(ctx context.Context, p *promotion.Promotion) error {
	tag, err := r.pool.Exec(ctx, updatePromotionSQL,
		p.ID, p.Name, string(p.Kind), p.Value, p.StartAt, p.EndAt, p.Active,
		string(p.Scope.Kind), p.Scope.Categories, p.Scope.ProductIDs,
		p.MinimumPurchase, p.UsageLimit, p.Priority, p.BannerImage,
	)
	if err != nil {
		return fmt.Errorf("updating promotion %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

// Delete removes a promotion row. Callers unlink referencing products first.
func (r *PromotionRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deletePromotionSQL, id)
	if err != nil {
		return fmt.Errorf("deleting promotion %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

// GetByID returns a single promotion by its identifier.
func (r *PromotionRepository) GetByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting promotion %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("getting promotion %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns promotions matching any of the given ids.
func (r *PromotionRepository) GetByIDs(ctx context.Context, ids []string) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting promotions by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// List returns all promotions, newest first.
func (r *PromotionRepository) List(ctx context.Context) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listPromotionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// ListActive returns promotions live at the given instant, highest priority first.
func (r *PromotionRepository) ListActive(ctx context.Context, now time.Time) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listActivePromotionsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing active promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// FindStoreWide returns the most recently created store-wide promotion.
func (r *PromotionRepository) FindStoreWide(ctx context.Context) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, findStoreWideSQL)
	if err != nil {
		return nil, fmt.Errorf("finding store-wide promotion: %w", err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("finding store-wide promotion: %w", err)
	}
	return &p, nil
}

// DeactivateExpired bulk-deactivates promotions whose window has closed.
func (r *PromotionRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, deactivateExpiredPromotionsSQL, now)
	if err != nil {
		return 0, fmt.Errorf("deactivating expired promotions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p         promotion.Promotion
		kind      string
		scopeKind string
	)
	err := row.Scan(
		&p.ID, &p.Name, &kind, &p.Value, &p.StartAt, &p.EndAt, &p.Active,
		&scopeKind, &p.Scope.Categories, &p.Scope.ProductIDs,
		&p.MinimumPurchase, &p.UsageLimit, &p.UsageCount, &p.Priority,
		&p.BannerImage, &p.CreatedAt,
	)
	p.Kind = promotion.DiscountKind(kind)
	p.Scope.Kind = promotion.ScopeKind(scopeKind)
	return p, err
}
