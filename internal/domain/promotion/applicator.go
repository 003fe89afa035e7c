package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/merchkit/promo-engine/internal/domain/product"
)

// linkChunkSize bounds how many product rows a single link/unlink statement
// touches, keeping lock durations short during store-wide assignments.
const linkChunkSize = 1000

// PriceRefresher recomputes and persists cached prices for a set of products.
// It must tolerate per-product failures: the return value is the number of
// products successfully refreshed.
type PriceRefresher interface {
	RefreshMany(ctx context.Context, ids []string, now time.Time) (int, error)
}

// Applicator links promotions to the product set implied by their scope and
// keeps the denormalized price caches in sync.
type Applicator struct {
	products   product.Repository
	promotions Repository
	prices     PriceRefresher
	lg         *zap.Logger
}

// NewApplicator creates an Applicator over the given stores.
func NewApplicator(products product.Repository, promotions Repository, prices PriceRefresher, lg *zap.Logger) *Applicator {
	return &Applicator{products: products, promotions: promotions, prices: prices, lg: lg}
}

// Assign links the promotion to every product its scope currently matches and
// unlinks products linked from a previous assignment that no longer match.
// Assignment is a set operation: repeating it with identical arguments yields
// the identical mapping and count. The returned count is the number of
// currently-matching products. Affected prices are recomputed afterward.
func (a *Applicator) Assign(ctx context.Context, promotionID string, scope Scope, now time.Time) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	promo, err := a.promotions.GetByID(ctx, promotionID)
	if err != nil {
		return 0, errors.Wrap(err, "get promotion")
	}

	ids, err := a.resolveScope(ctx, scope)
	if err != nil {
		return 0, err
	}

	prev, err := a.products.IDsByPromotion(ctx, promotionID)
	if err != nil {
		return 0, errors.Wrap(err, "list linked products")
	}
	stale := difference(prev, ids)

	for _, chunk := range chunks(stale, linkChunkSize) {
		if err := a.products.UnlinkPromotion(ctx, promotionID, chunk); err != nil {
			return 0, errors.Wrap(err, "unlink out-of-scope products")
		}
	}
	for _, chunk := range chunks(ids, linkChunkSize) {
		if err := a.products.LinkPromotion(ctx, promotionID, promo.Priority, chunk); err != nil {
			return 0, errors.Wrap(err, "link products")
		}
	}

	a.refresh(ctx, append(ids, stale...), now)

	a.lg.Info("Assigned promotion",
		zap.String("promotion_id", promotionID),
		zap.String("scope", string(scope.Kind)),
		zap.Int("matched", len(ids)),
		zap.Int("unlinked", len(stale)),
	)
	return len(ids), nil
}

// ApplyClearance flags the given products as clearance, sets their static
// discount percent, and recomputes their prices. Unlike scoped assignment,
// the caller supplies the exact id list.
func (a *Applicator) ApplyClearance(ctx context.Context, ids []string, percent decimal.Decimal, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, &ValidationError{Field: "productIds", Reason: "at least one product id required"}
	}
	if percent.Sign() <= 0 || percent.GreaterThan(decimal.NewFromInt(100)) {
		return 0, &ValidationError{Field: "discountPercent", Reason: "must be in (0, 100]"}
	}

	var updated int64
	for _, chunk := range chunks(ids, linkChunkSize) {
		n, err := a.products.MarkClearance(ctx, chunk, percent)
		if err != nil {
			return updated, errors.Wrap(err, "mark clearance")
		}
		updated += n
	}

	a.refresh(ctx, ids, now)

	a.lg.Info("Applied clearance discount",
		zap.Int64("updated", updated),
		zap.String("percent", percent.String()),
	)
	return updated, nil
}

// Delete removes a promotion after unlinking every product referencing it and
// recomputing their prices. No product may reference the id afterward.
func (a *Applicator) Delete(ctx context.Context, promotionID string, now time.Time) error {
	if _, err := a.promotions.GetByID(ctx, promotionID); err != nil {
		return errors.Wrap(err, "get promotion")
	}

	linked, err := a.products.IDsByPromotion(ctx, promotionID)
	if err != nil {
		return errors.Wrap(err, "list linked products")
	}
	if err := a.products.UnlinkPromotion(ctx, promotionID, nil); err != nil {
		return errors.Wrap(err, "unlink products")
	}

	a.refresh(ctx, linked, now)

	if err := a.promotions.Delete(ctx, promotionID); err != nil {
		return errors.Wrap(err, "delete promotion")
	}
	a.lg.Info("Deleted promotion",
		zap.String("promotion_id", promotionID),
		zap.Int("unlinked", len(linked)),
	)
	return nil
}

func (a *Applicator) resolveScope(ctx context.Context, scope Scope) ([]string, error) {
	switch scope.Kind {
	case ScopeStoreWide:
		ids, err := a.products.AllIDs(ctx)
		return ids, errors.Wrap(err, "list all products")
	case ScopeCategory:
		ids, err := a.products.IDsByCategories(ctx, scope.Categories)
		return ids, errors.Wrap(err, "list products by category")
	case ScopeProductSet:
		ids, err := a.products.ExistingIDs(ctx, scope.ProductIDs)
		return ids, errors.Wrap(err, "filter product ids")
	case ScopeClearance:
		ids, err := a.products.ClearanceIDs(ctx)
		return ids, errors.Wrap(err, "list clearance products")
	default:
		return nil, &ValidationError{Field: "scope.kind", Reason: "unknown scope kind"}
	}
}

// refresh recomputes prices for the affected products. Failures are logged,
// never propagated: a stale cache entry must not fail the assignment.
func (a *Applicator) refresh(ctx context.Context, ids []string, now time.Time) {
	if len(ids) == 0 {
		return
	}
	refreshed, err := a.prices.RefreshMany(ctx, ids, now)
	if err != nil {
		a.lg.Error("Price recompute failed", zap.Error(err))
		return
	}
	if refreshed < len(ids) {
		a.lg.Warn("Price recompute skipped rows",
			zap.Int("requested", len(ids)),
			zap.Int("refreshed", refreshed),
		)
	}
}

// difference returns the elements of a not present in b.
func difference(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	in := make(map[string]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := in[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// chunks splits ids into slices of at most size elements.
func chunks(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
