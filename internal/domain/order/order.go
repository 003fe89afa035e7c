package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is a finalized customer order. Discount is captured at creation and
// never recomputed afterward; later promotion or coupon edits must not change
// what the customer was charged.
type Order struct {
	ID        string
	Items     []Item
	Total     decimal.Decimal
	Discount  decimal.Decimal
	CouponID  string
	CreatedAt time.Time
}

// Item is a single order line.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Repository defines persistence operations for orders. The coupon claim
// operations exist so a redemption can be tied to exactly one order.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)

	// ClaimCoupon sets the order's coupon reference only when none is set,
	// reporting whether the update happened.
	ClaimCoupon(ctx context.Context, orderID, couponID string) (bool, error)
	// ReleaseCoupon clears the order's coupon reference if it matches.
	ReleaseCoupon(ctx context.Context, orderID, couponID string) error
	// CouponOf returns the coupon id the order carries, or empty.
	CouponOf(ctx context.Context, orderID string) (string, error)
}
