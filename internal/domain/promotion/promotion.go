package promotion

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/product"
)

// DiscountKind enumerates the supported discount strategies.
type DiscountKind string

const (
	// Percentage discounts the price by a percent of its value.
	Percentage DiscountKind = "percentage"
	// FixedAmount subtracts a fixed monetary amount, floored at zero.
	FixedAmount DiscountKind = "fixed_amount"
)

// ScopeKind enumerates the product sets a promotion can target.
type ScopeKind string

const (
	// ScopeStoreWide targets every non-deleted product.
	ScopeStoreWide ScopeKind = "store_wide"
	// ScopeCategory targets products whose category is in the scope's set.
	ScopeCategory ScopeKind = "category"
	// ScopeProductSet targets an explicit list of product ids.
	ScopeProductSet ScopeKind = "product_set"
	// ScopeClearance targets products currently flagged as clearance.
	ScopeClearance ScopeKind = "clearance"
)

// Sentinel errors for promotion lookups and lifecycle.
var (
	ErrNotFound = errors.New("promotion not found")
)

// ValidationError reports malformed input rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Scope determines which products a promotion affects.
type Scope struct {
	Kind       ScopeKind
	Categories []string
	ProductIDs []string
}

// Validate checks the scope's internal consistency.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeStoreWide, ScopeClearance:
		return nil
	case ScopeCategory:
		if len(s.Categories) == 0 {
			return &ValidationError{Field: "scope.categories", Reason: "at least one category required"}
		}
		return nil
	case ScopeProductSet:
		if len(s.ProductIDs) == 0 {
			return &ValidationError{Field: "scope.productIds", Reason: "at least one product id required"}
		}
		return nil
	default:
		return &ValidationError{Field: "scope.kind", Reason: fmt.Sprintf("unknown scope kind %q", s.Kind)}
	}
}

// Schedule holds the activation flag and date window shared by promotions
// and coupons. The window bounds are inclusive on both ends.
type Schedule struct {
	Active  bool
	StartAt time.Time
	EndAt   time.Time
}

// Promotion is a store-defined discount rule scoped to a product set and
// active over a date window. UsageCount is mutated only through redemption.
type Promotion struct {
	ID    string
	Name  string
	Kind  DiscountKind
	Value decimal.Decimal
	Schedule
	Scope Scope
	// MinimumPurchase of zero means no minimum.
	MinimumPurchase decimal.Decimal
	// UsageLimit of zero means unlimited.
	UsageLimit int
	UsageCount int
	// Priority breaks conflicts when several promotions target one product;
	// higher wins.
	Priority int
	// BannerImage is an opaque URL the engine never interprets.
	BannerImage string
	CreatedAt   time.Time
}

// Validate checks the promotion's fields before persistence.
func (p *Promotion) Validate() error {
	if err := validateDiscount(p.Kind, p.Value); err != nil {
		return err
	}
	if !p.EndAt.After(p.StartAt) {
		return &ValidationError{Field: "endAt", Reason: "must be after startAt"}
	}
	if p.MinimumPurchase.IsNegative() {
		return &ValidationError{Field: "minimumPurchase", Reason: "must not be negative"}
	}
	if p.UsageLimit < 0 {
		return &ValidationError{Field: "usageLimit", Reason: "must not be negative"}
	}
	return p.Scope.Validate()
}

// Covers reports whether the promotion's scope includes the given product.
func (p *Promotion) Covers(prod product.Product) bool {
	switch p.Scope.Kind {
	case ScopeStoreWide:
		return true
	case ScopeCategory:
		for _, c := range p.Scope.Categories {
			if c == prod.Category {
				return true
			}
		}
		return false
	case ScopeProductSet:
		for _, id := range p.Scope.ProductIDs {
			if id == prod.ID {
				return true
			}
		}
		return false
	case ScopeClearance:
		return prod.OnClearance
	default:
		return false
	}
}

func validateDiscount(kind DiscountKind, value decimal.Decimal) error {
	switch kind {
	case Percentage:
		if value.Sign() <= 0 || value.GreaterThan(decimal.NewFromInt(100)) {
			return &ValidationError{Field: "discountValue", Reason: "percentage must be in (0, 100]"}
		}
	case FixedAmount:
		if value.Sign() <= 0 {
			return &ValidationError{Field: "discountValue", Reason: "must be greater than zero"}
		}
	default:
		return &ValidationError{Field: "discountKind", Reason: fmt.Sprintf("unknown discount kind %q", kind)}
	}
	return nil
}

// Repository defines persistence operations for promotions.
type Repository interface {
	Create(ctx context.Context, p *Promotion) error
	Update(ctx context.Context, p *Promotion) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*Promotion, error)
	GetByIDs(ctx context.Context, ids []string) ([]Promotion, error)
	List(ctx context.Context) ([]Promotion, error)
	// ListActive returns promotions live at the given instant.
	ListActive(ctx context.Context, now time.Time) ([]Promotion, error)
	// FindStoreWide returns the most recently created store-wide promotion,
	// or ErrNotFound when none exists.
	FindStoreWide(ctx context.Context) (*Promotion, error)
	// DeactivateExpired flips the active flag off for promotions whose window
	// has closed, returning the number of rows changed.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}
