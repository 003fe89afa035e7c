package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/promotion"
)

const (
	couponColumns = `id, code, discount_kind, discount_value, start_at, end_at, active,
		minimum_purchase, usage_limit, usage_count, is_public, banner_text, banner_color, created_at`

	createCouponSQL = `INSERT INTO coupons
		(id, code, discount_kind, discount_value, start_at, end_at, active,
		 minimum_purchase, usage_limit, is_public, banner_text, banner_color)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	updateCouponSQL = `UPDATE coupons SET
		code = $2, discount_kind = $3, discount_value = $4, start_at = $5, end_at = $6,
		active = $7, minimum_purchase = $8, usage_limit = $9, is_public = $10,
		banner_text = $11, banner_color = $12
		WHERE id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE UPPER(code) = UPPER($1)`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC`

	listPublicCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE is_public AND active AND start_at <= $1 AND end_at >= $1
		ORDER BY created_at DESC`

	// The guard makes the increment atomic: two checkouts racing for the last
	// remaining redemption cannot both pass it.
	tryIncrementUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	releaseUsageSQL = `UPDATE coupons SET usage_count = GREATEST(usage_count - 1, 0)
		WHERE id = $1`

	// Validation and reservation in one statement; see Ledger.Reserve.
	reserveByCodeSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE UPPER(code) = UPPER($1)
		  AND active AND start_at <= $2 AND end_at >= $2
		  AND (usage_limit = 0 OR usage_count < usage_limit)
		  AND minimum_purchase <= $3
		RETURNING ` + couponColumns

	deactivateExpiredCouponsSQL = `UPDATE coupons SET active = FALSE
		WHERE active AND end_at < $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create persists a new coupon. The unique index on UPPER(code) rejects
// duplicate codes regardless of case.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL,
		c.ID, c.Code, string(c.Kind), c.Value, c.StartAt, c.EndAt, c.Active,
		c.MinimumPurchase, c.UsageLimit, c.IsPublic, c.BannerText, c.BannerColor,
	)
	if err != nil {
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update rewrites a coupon's rule fields; the usage counter is only mutated
// through the redemption primitives.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, c.Code, string(c.Kind), c.Value, c.StartAt, c.EndAt, c.Active,
		c.MinimumPurchase, c.UsageLimit, c.IsPublic, c.BannerText, c.BannerColor,
	)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes a coupon row.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// GetByID returns a single coupon by its identifier.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.queryOne(ctx, getCouponByIDSQL, id)
}

// FindByCode looks up a coupon by its code, case-insensitively.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.queryOne(ctx, getCouponByCodeSQL, code)
}

// List returns all coupons, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// ListPublic returns publicly displayable coupons live at the given instant.
func (r *CouponRepository) ListPublic(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listPublicCouponsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing public coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// TryIncrementUsage is the atomic increment-with-guard primitive: the counter
// only moves while below the limit, in one conditional update.
func (r *CouponRepository) TryIncrementUsage(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, tryIncrementUsageSQL, id)
	if err != nil {
		return false, fmt.Errorf("incrementing usage for coupon %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseUsage undoes one increment, flooring the counter at zero.
func (r *CouponRepository) ReleaseUsage(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, releaseUsageSQL, id)
	if err != nil {
		return fmt.Errorf("releasing usage for coupon %q: %w", id, err)
	}
	return nil
}

// ReserveByCode validates window, limit, and minimum purchase and increments
// the usage counter in a single conditional statement. A guard miss comes
// back as coupon.ErrNotFound for the caller to classify.
func (r *CouponRepository) ReserveByCode(ctx context.Context, code string, cartTotal decimal.Decimal, now time.Time) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, reserveByCodeSQL, code, now, cartTotal)
	if err != nil {
		return nil, fmt.Errorf("reserving coupon %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("reserving coupon %q: %w", code, err)
	}
	return &c, nil
}

// DeactivateExpired bulk-deactivates coupons whose window has closed.
func (r *CouponRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, deactivateExpiredCouponsSQL, now)
	if err != nil {
		return 0, fmt.Errorf("deactivating expired coupons: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *CouponRepository) queryOne(ctx context.Context, sql string, arg any) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("querying coupon: %w", err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("querying coupon: %w", err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c    coupon.Coupon
		kind string
	)
	err := row.Scan(
		&c.ID, &c.Code, &kind, &c.Value, &c.StartAt, &c.EndAt, &c.Active,
		&c.MinimumPurchase, &c.UsageLimit, &c.UsageCount, &c.IsPublic,
		&c.BannerText, &c.BannerColor, &c.CreatedAt,
	)
	c.Kind = promotion.DiscountKind(kind)
	return c, err
}
