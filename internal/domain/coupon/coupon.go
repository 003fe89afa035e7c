package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/promotion"
)

// Sentinel errors for coupon lookups and redemption.
var (
	ErrNotFound = errors.New("coupon not found")
	// ErrUsageLimitReached is returned by ApplyUsage when the conditional
	// increment loses to the usage limit.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrOrderHasCoupon is returned when an order already carries a different
	// coupon than the one being applied.
	ErrOrderHasCoupon = errors.New("order already has a coupon")
)

// Coupon is a code-activated discount applied at the cart level by code
// entry; it is never auto-linked to products.
type Coupon struct {
	ID string
	// Code is matched case-insensitively; a unique index on UPPER(code)
	// backs that up in storage.
	Code  string
	Kind  promotion.DiscountKind
	Value decimal.Decimal
	promotion.Schedule
	// MinimumPurchase of zero means no minimum.
	MinimumPurchase decimal.Decimal
	// UsageLimit of zero means unlimited.
	UsageLimit int
	UsageCount int
	IsPublic   bool
	// Display banner, opaque to the engine.
	BannerText  string
	BannerColor string
	CreatedAt   time.Time
}

// Validate checks the coupon's fields before persistence.
func (c *Coupon) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return &promotion.ValidationError{Field: "code", Reason: "must not be empty"}
	}
	check := promotion.Promotion{
		Kind:            c.Kind,
		Value:           c.Value,
		Schedule:        c.Schedule,
		MinimumPurchase: c.MinimumPurchase,
		UsageLimit:      c.UsageLimit,
		Scope:           promotion.Scope{Kind: promotion.ScopeStoreWide},
	}
	return check.Validate()
}

// NormalizeCode canonicalizes a user-entered coupon code for comparison.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository defines persistence operations for coupons, including the
// atomic increment-with-guard primitive redemption depends on.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*Coupon, error)
	// FindByCode looks up a coupon by code, case-insensitively.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	// ListPublic returns publicly displayable coupons live at the given instant.
	ListPublic(ctx context.Context, now time.Time) ([]Coupon, error)

	// TryIncrementUsage increments the usage counter only while it is below
	// the limit, in a single conditional update. It reports whether the
	// increment happened.
	TryIncrementUsage(ctx context.Context, id string) (bool, error)
	// ReleaseUsage undoes one increment, flooring the counter at zero.
	ReleaseUsage(ctx context.Context, id string) error
	// ReserveByCode validates the window, usage limit, and minimum purchase
	// and increments the usage counter in one conditional statement,
	// returning the reserved coupon. ErrNotFound means no row passed the
	// guard; the caller classifies the reason separately.
	ReserveByCode(ctx context.Context, code string, cartTotal decimal.Decimal, now time.Time) (*Coupon, error)

	// DeactivateExpired flips the active flag off for coupons whose window
	// has closed, returning the number of rows changed.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}
