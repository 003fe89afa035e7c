// Package pricing computes effective unit prices from a product's own
// discount fields and its linked promotion, and maintains the denormalized
// price cache on product rows.
package pricing

import (
	"context"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/merchkit/promo-engine/internal/domain/product"
	"github.com/merchkit/promo-engine/internal/domain/promotion"
)

var hundred = decimal.NewFromInt(100)

const (
	// refreshBatchSize bounds how many products one bulk iteration loads.
	refreshBatchSize = 200
	// refreshParallelism bounds concurrent cache writes within a batch.
	refreshParallelism = 8
	persistAttempts    = 3
	persistRetryDelay  = 50 * time.Millisecond
)

// Quote is the effective price of one product unit.
type Quote struct {
	OriginalPrice decimal.Decimal
	FinalPrice    decimal.Decimal
	HasDiscount   bool
}

// ComputeUnitPrice computes a product's effective unit price at the given
// instant. A promotion, when non-nil, must be checked for liveness and scope
// here; a live covering promotion overrides the product's own static
// discount percent.
//
// The function never fails: surprising-but-typed inputs (non-positive base
// price, out-of-range percent) degrade to "no discount" because a pricing
// failure must never block checkout. FinalPrice is rounded half-up to two
// decimals and always satisfies 0 <= FinalPrice <= OriginalPrice.
func ComputeUnitPrice(p product.Product, promo *promotion.Promotion, now time.Time) Quote {
	q, _ := computeUnitPrice(p, promo, now)
	return q
}

// computeUnitPrice additionally reports the anomaly that forced a
// no-discount degradation, empty when the input was clean.
func computeUnitPrice(p product.Product, promo *promotion.Promotion, now time.Time) (Quote, string) {
	base := p.BasePrice
	if base.Sign() <= 0 {
		return Quote{OriginalPrice: base, FinalPrice: base}, "base price is not positive"
	}

	noDiscount := Quote{OriginalPrice: base, FinalPrice: base.Round(2)}

	var final decimal.Decimal
	switch {
	case promo != nil && promotion.IsActive(promo.Schedule, now) && promo.Covers(p):
		switch promo.Kind {
		case promotion.Percentage:
			if promo.Value.Sign() <= 0 || promo.Value.GreaterThan(hundred) {
				return noDiscount, "promotion percentage out of range"
			}
			final = base.Mul(hundred.Sub(promo.Value)).Div(hundred)
		case promotion.FixedAmount:
			if promo.Value.Sign() <= 0 {
				return noDiscount, "promotion amount is not positive"
			}
			final = base.Sub(promo.Value)
		default:
			return noDiscount, "unknown promotion discount kind"
		}

	case p.DiscountPercent.Sign() > 0:
		if p.DiscountPercent.GreaterThan(hundred) {
			return noDiscount, "discount percent above 100"
		}
		final = base.Mul(hundred.Sub(p.DiscountPercent)).Div(hundred)

	case p.DiscountPercent.Sign() < 0:
		return noDiscount, "discount percent is negative"

	default:
		final = base
	}

	final = final.Round(2)
	if final.IsNegative() {
		final = decimal.Zero
	}
	if final.GreaterThan(base) {
		final = base
	}

	return Quote{
		OriginalPrice: base,
		FinalPrice:    final,
		HasDiscount:   final.LessThan(base),
	}, ""
}

var _ promotion.PriceRefresher = (*Resolver)(nil)

// Resolver loads products with their linked promotions, computes quotes, and
// persists the results into the products' price cache.
type Resolver struct {
	products   product.Repository
	promotions promotion.Repository
	lg         *zap.Logger
}

// NewResolver creates a Resolver over the given stores.
func NewResolver(products product.Repository, promotions promotion.Repository, lg *zap.Logger) *Resolver {
	return &Resolver{products: products, promotions: promotions, lg: lg}
}

// QuoteProduct computes and persists the effective price of one product.
func (r *Resolver) QuoteProduct(ctx context.Context, productID string, now time.Time) (Quote, error) {
	p, err := r.products.GetByID(ctx, productID)
	if err != nil {
		return Quote{}, errors.Wrap(err, "get product")
	}

	promo, err := r.linkedPromotion(ctx, *p)
	if err != nil {
		return Quote{}, err
	}
	return r.refresh(ctx, *p, promo, now)
}

// RefreshMany recomputes the cached price for every given product in bounded
// batches. A single product's failure is logged and skipped so one bad row
// cannot abort the rest; the return value is the number of products
// successfully refreshed.
func (r *Resolver) RefreshMany(ctx context.Context, ids []string, now time.Time) (int, error) {
	var refreshed atomic.Int64

	for start := 0; start < len(ids); start += refreshBatchSize {
		end := min(start+refreshBatchSize, len(ids))
		batch := ids[start:end]

		products, err := r.products.GetByIDs(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return int(refreshed.Load()), ctx.Err()
			}
			r.lg.Error("Failed to load price recompute batch",
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			continue
		}

		promos, err := r.promotionsFor(ctx, products)
		if err != nil {
			r.lg.Error("Failed to load promotions for batch", zap.Error(err))
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(refreshParallelism)
		for _, p := range products {
			g.Go(func() error {
				var promo *promotion.Promotion
				if found, ok := promos[p.PromotionID]; ok {
					promo = &found
				}
				if _, err := r.refresh(gctx, p, promo, now); err != nil {
					r.lg.Warn("Skipping product in price recompute",
						zap.String("product_id", p.ID),
						zap.Error(err),
					)
					return nil
				}
				refreshed.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return int(refreshed.Load()), err
		}
	}

	return int(refreshed.Load()), nil
}

// refresh computes the quote and persists it into the product's cache.
// Anomalous inputs are logged and still produce a valid no-discount quote.
func (r *Resolver) refresh(ctx context.Context, p product.Product, promo *promotion.Promotion, now time.Time) (Quote, error) {
	q, anomaly := computeUnitPrice(p, promo, now)
	if anomaly != "" {
		r.lg.Warn("Pricing anomaly, degrading to no discount",
			zap.String("product_id", p.ID),
			zap.String("anomaly", anomaly),
			zap.String("base_price", p.BasePrice.String()),
		)
	}

	err := retry.Do(
		func() error { return r.products.UpdateDiscountCache(ctx, p.ID, q.FinalPrice) },
		retry.Context(ctx),
		retry.Attempts(persistAttempts),
		retry.Delay(persistRetryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return q, errors.Wrap(err, "persist price cache")
	}
	return q, nil
}

func (r *Resolver) linkedPromotion(ctx context.Context, p product.Product) (*promotion.Promotion, error) {
	if p.PromotionID == "" {
		return nil, nil
	}
	promo, err := r.promotions.GetByID(ctx, p.PromotionID)
	if err != nil {
		if errors.Is(err, promotion.ErrNotFound) {
			// Weak reference left dangling; treat as unlinked.
			r.lg.Warn("Product references missing promotion",
				zap.String("product_id", p.ID),
				zap.String("promotion_id", p.PromotionID),
			)
			return nil, nil
		}
		return nil, errors.Wrap(err, "get linked promotion")
	}
	return promo, nil
}

// promotionsFor batch-loads the promotions referenced by the given products.
func (r *Resolver) promotionsFor(ctx context.Context, products []product.Product) (map[string]promotion.Promotion, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, p := range products {
		if p.PromotionID == "" {
			continue
		}
		if _, ok := seen[p.PromotionID]; ok {
			continue
		}
		seen[p.PromotionID] = struct{}{}
		ids = append(ids, p.PromotionID)
	}
	if len(ids) == 0 {
		return map[string]promotion.Promotion{}, nil
	}

	promos, err := r.promotions.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get promotions")
	}
	out := make(map[string]promotion.Promotion, len(promos))
	for _, p := range promos {
		out[p.ID] = p
	}
	return out, nil
}
