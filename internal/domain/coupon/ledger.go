package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/merchkit/promo-engine/internal/domain/promotion"
)

// Validation is the structured outcome of checking a coupon code against a
// cart total. Business failures (unknown code, expired, limit reached, unmet
// minimum) are reported here, never as errors.
type Validation struct {
	Valid   bool
	Coupon  *Coupon
	Message string
}

// OrderStore is the slice of the order store the ledger needs to tie a
// redemption to exactly one order.
type OrderStore interface {
	// ClaimCoupon sets the order's coupon only when none is set yet,
	// reporting whether the claim happened.
	ClaimCoupon(ctx context.Context, orderID, couponID string) (bool, error)
	// ReleaseCoupon clears the order's coupon if it matches the given id.
	ReleaseCoupon(ctx context.Context, orderID, couponID string) error
	// CouponOf returns the coupon id the order carries, or empty.
	CouponOf(ctx context.Context, orderID string) (string, error)
}

// Ledger validates coupon codes and tracks redemptions. Correctness under
// concurrent checkouts rests on the store's conditional-increment primitive,
// not on locks held here.
type Ledger struct {
	coupons Repository
	orders  OrderStore
	lg      *zap.Logger
}

// NewLedger creates a Ledger over the given stores.
func NewLedger(coupons Repository, orders OrderStore, lg *zap.Logger) *Ledger {
	return &Ledger{coupons: coupons, orders: orders, lg: lg}
}

// Validate checks a coupon code against a cart total at the given instant.
// The code is matched case-insensitively. All expected rejections come back
// as an invalid Validation with a message; only store failures are errors.
func (l *Ledger) Validate(ctx context.Context, code string, cartTotal decimal.Decimal, now time.Time) (Validation, error) {
	c, err := l.coupons.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Validation{Message: "invalid coupon code"}, nil
		}
		return Validation{}, errors.Wrap(err, "find coupon")
	}

	switch promotion.StateAt(c.Schedule, now) {
	case promotion.StateLive:
	case promotion.StateExpired:
		return Validation{Message: "coupon has expired"}, nil
	default:
		return Validation{Message: "coupon is not active"}, nil
	}

	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return Validation{Message: "coupon usage limit reached"}, nil
	}
	if c.MinimumPurchase.Sign() > 0 && cartTotal.LessThan(c.MinimumPurchase) {
		return Validation{Message: minimumPurchaseMessage(c.MinimumPurchase)}, nil
	}

	return Validation{Valid: true, Coupon: c}, nil
}

// ApplyUsage records a redemption against a finalized order: it claims the
// order (the coupon reference is set only where none exists) and increments
// the usage counter under the limit guard. The call is idempotent per order:
// repeating it for an order that already carries this coupon is a no-op.
func (l *Ledger) ApplyUsage(ctx context.Context, couponID, orderID string) error {
	claimed, err := l.orders.ClaimCoupon(ctx, orderID, couponID)
	if err != nil {
		return errors.Wrap(err, "claim order")
	}
	if !claimed {
		current, err := l.orders.CouponOf(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "read order coupon")
		}
		if current == couponID {
			// Duplicate call for the same order; the counter was already
			// incremented once.
			return nil
		}
		return ErrOrderHasCoupon
	}

	ok, err := l.coupons.TryIncrementUsage(ctx, couponID)
	if err != nil {
		l.rollbackClaim(ctx, orderID, couponID)
		return errors.Wrap(err, "increment usage")
	}
	if !ok {
		l.rollbackClaim(ctx, orderID, couponID)
		return ErrUsageLimitReached
	}
	return nil
}

// Reserve validates and redeems in a single conditional store update,
// closing the race window between a separate validate and apply. On a guard
// miss it falls back to Validate to name the reason.
func (l *Ledger) Reserve(ctx context.Context, code string, cartTotal decimal.Decimal, orderID string, now time.Time) (Validation, error) {
	c, err := l.coupons.ReserveByCode(ctx, NormalizeCode(code), cartTotal, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The guard rejected the reservation; classify why.
			return l.Validate(ctx, code, cartTotal, now)
		}
		return Validation{}, errors.Wrap(err, "reserve coupon")
	}

	claimed, err := l.orders.ClaimCoupon(ctx, orderID, c.ID)
	if err != nil {
		l.releaseUsage(ctx, c.ID)
		return Validation{}, errors.Wrap(err, "claim order")
	}
	if !claimed {
		// The reservation incremented the counter, but the order was already
		// claimed. Give the slot back either way; if the order carries this
		// very coupon the earlier application already counted it.
		l.releaseUsage(ctx, c.ID)
		current, err := l.orders.CouponOf(ctx, orderID)
		if err != nil {
			return Validation{}, errors.Wrap(err, "read order coupon")
		}
		if current != c.ID {
			return Validation{}, ErrOrderHasCoupon
		}
	}

	return Validation{Valid: true, Coupon: c}, nil
}

func (l *Ledger) rollbackClaim(ctx context.Context, orderID, couponID string) {
	if err := l.orders.ReleaseCoupon(ctx, orderID, couponID); err != nil {
		l.lg.Error("Failed to release order claim",
			zap.String("order_id", orderID),
			zap.String("coupon_id", couponID),
			zap.Error(err),
		)
	}
}

func (l *Ledger) releaseUsage(ctx context.Context, couponID string) {
	if err := l.coupons.ReleaseUsage(ctx, couponID); err != nil {
		l.lg.Error("Failed to release coupon usage",
			zap.String("coupon_id", couponID),
			zap.Error(err),
		)
	}
}
