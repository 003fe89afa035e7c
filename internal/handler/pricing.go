package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type quoteResponse struct {
	ProductID     string  `json:"productId"`
	OriginalPrice float64 `json:"originalPrice"`
	FinalPrice    float64 `json:"finalPrice"`
	HasDiscount   bool    `json:"hasDiscount"`
}

// calculatePrice recomputes a product's effective price, refreshing the
// cached value as a side effect.
func (h *Handler) calculatePrice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q, err := h.resolver.QuoteProduct(r.Context(), id, h.now())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, quoteResponse{
		ProductID:     id,
		OriginalPrice: q.OriginalPrice.InexactFloat64(),
		FinalPrice:    q.FinalPrice.InexactFloat64(),
		HasDiscount:   q.HasDiscount,
	})
}

// applyClearance flags an explicit product list as clearance with a static
// discount percent and recomputes their prices.
func (h *Handler) applyClearance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductIDs      []string        `json:"productIds"`
		DiscountPercent decimal.Decimal `json:"discountPercent"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.applicator.ApplyClearance(r.Context(), req.ProductIDs, req.DiscountPercent, h.now())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}
