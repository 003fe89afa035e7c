// Package handler exposes the pricing engine over a thin JSON REST surface.
// Handlers parse and serialize only; all business rules live in the domain
// packages. Authorization is enforced upstream, not here.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/product"
	"github.com/merchkit/promo-engine/internal/domain/promotion"
	"github.com/merchkit/promo-engine/internal/pricing"
)

// Handler wires the engine services to REST routes.
type Handler struct {
	products   product.Repository
	promotions promotion.Repository
	coupons    coupon.Repository
	applicator *promotion.Applicator
	scheduler  *promotion.Scheduler
	ledger     *coupon.Ledger
	resolver   *pricing.Resolver

	// now is injectable for deterministic handler tests.
	now func() time.Time
}

// NewHandler constructs a Handler over the engine services.
func NewHandler(
	products product.Repository,
	promotions promotion.Repository,
	coupons coupon.Repository,
	applicator *promotion.Applicator,
	scheduler *promotion.Scheduler,
	ledger *coupon.Ledger,
	resolver *pricing.Resolver,
) *Handler {
	return &Handler{
		products:   products,
		promotions: promotions,
		coupons:    coupons,
		applicator: applicator,
		scheduler:  scheduler,
		ledger:     ledger,
		resolver:   resolver,
		now:        time.Now,
	}
}

// Routes returns the chi router for all engine endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/promotions", func(r chi.Router) {
		r.Get("/", h.listPromotions)
		r.Post("/", h.createPromotion)
		r.Get("/active", h.listActivePromotions)
		r.Post("/batch-get", h.batchGetPromotions)
		r.Post("/reconcile", h.reconcile)
		r.Post("/ensure-storewide", h.ensureStoreWide)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getPromotion)
			r.Put("/", h.updatePromotion)
			r.Delete("/", h.deletePromotion)
			r.Post("/assign", h.assignPromotion)
		})
	})

	r.Route("/products", func(r chi.Router) {
		r.Post("/clearance", h.applyClearance)
		r.Get("/{id}/price", h.calculatePrice)
	})

	r.Route("/coupons", func(r chi.Router) {
		r.Get("/", h.listCoupons)
		r.Post("/", h.createCoupon)
		r.Get("/public", h.listPublicCoupons)
		r.Post("/validate", h.validateCoupon)
		r.Post("/reserve", h.reserveCoupon)
		r.Get("/{code}/status", h.couponStatus)
	})

	return r
}
