package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item. BasePrice is the list price;
// DiscountedPrice is a denormalized cache of the effective unit price,
// maintained exclusively by the pricing resolver.
type Product struct {
	ID       string
	Name     string
	Category string

	BasePrice decimal.Decimal
	// DiscountPercent is the product's own static discount in [0, 100].
	// A live linked promotion takes precedence over it.
	DiscountPercent decimal.Decimal
	OnClearance     bool
	// PromotionID is a weak reference to a promotion; empty when unlinked.
	PromotionID     string
	DiscountedPrice decimal.Decimal
}

// Repository defines persistence operations for the product catalog.
// Link/unlink and clearance updates are set operations over id lists so the
// applicator can run them in bounded chunks.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)

	// AllIDs returns the ids of every non-deleted product.
	AllIDs(ctx context.Context) ([]string, error)
	// IDsByCategories returns ids of non-deleted products in any of the categories.
	IDsByCategories(ctx context.Context, categories []string) ([]string, error)
	// ExistingIDs filters the given ids down to those of non-deleted products.
	ExistingIDs(ctx context.Context, ids []string) ([]string, error)
	// ClearanceIDs returns ids of non-deleted products flagged as clearance.
	ClearanceIDs(ctx context.Context) ([]string, error)
	// IDsByPromotion returns ids of products currently linked to the promotion.
	IDsByPromotion(ctx context.Context, promotionID string) ([]string, error)

	// LinkPromotion links the given products to the promotion. Products already
	// linked to a promotion with a higher priority keep their existing link.
	LinkPromotion(ctx context.Context, promotionID string, priority int, ids []string) error
	// UnlinkPromotion clears the promotion link on the given products. A nil or
	// empty id list unlinks every product referencing the promotion.
	UnlinkPromotion(ctx context.Context, promotionID string, ids []string) error

	// MarkClearance flags the products as clearance and sets their static
	// discount percent, returning the number of rows updated.
	MarkClearance(ctx context.Context, ids []string, percent decimal.Decimal) (int64, error)

	// UpdateDiscountCache persists the computed effective unit price.
	UpdateDiscountCache(ctx context.Context, id string, price decimal.Decimal) error
}
