package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/promo-engine/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, items, total, discount, coupon_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))`

	getOrderByIDSQL = `SELECT id, items, total, discount, COALESCE(coupon_id, ''), created_at
		FROM orders WHERE id = $1`

	// The claim only lands on orders that carry no coupon yet, which is what
	// makes ApplyUsage idempotent per order.
	claimCouponSQL = `UPDATE orders SET coupon_id = $2
		WHERE id = $1 AND coupon_id IS NULL`

	releaseCouponSQL = `UPDATE orders SET coupon_id = NULL
		WHERE id = $1 AND coupon_id = $2`

	couponOfSQL = `SELECT COALESCE(coupon_id, '') FROM orders WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Items are serialized to JSON for the JSONB
// column; the discount amount is captured here once and never rewritten.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, itemsJSON, o.Total, o.Discount, o.CouponID,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns a single order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
	)
	err := r.pool.QueryRow(ctx, getOrderByIDSQL, id).Scan(
		&o.ID, &itemsJSON, &o.Total, &o.Discount, &o.CouponID, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling items for order %q: %w", id, err)
	}
	return &o, nil
}

// ClaimCoupon sets the order's coupon only when none is set yet.
func (r *OrderRepository) ClaimCoupon(ctx context.Context, orderID, couponID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, claimCouponSQL, orderID, couponID)
	if err != nil {
		return false, fmt.Errorf("claiming coupon for order %q: %w", orderID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseCoupon clears the order's coupon if it matches the given id.
func (r *OrderRepository) ReleaseCoupon(ctx context.Context, orderID, couponID string) error {
	_, err := r.pool.Exec(ctx, releaseCouponSQL, orderID, couponID)
	if err != nil {
		return fmt.Errorf("releasing coupon for order %q: %w", orderID, err)
	}
	return nil
}

// CouponOf returns the coupon id the order carries, or empty.
func (r *OrderRepository) CouponOf(ctx context.Context, orderID string) (string, error) {
	var couponID string
	err := r.pool.QueryRow(ctx, couponOfSQL, orderID).Scan(&couponID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", order.ErrNotFound
		}
		return "", fmt.Errorf("reading coupon of order %q: %w", orderID, err)
	}
	return couponID, nil
}
