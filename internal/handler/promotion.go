package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/promotion"
)

type scopePayload struct {
	Kind       string   `json:"kind"`
	Categories []string `json:"categories,omitempty"`
	ProductIDs []string `json:"productIds,omitempty"`
}

type promotionPayload struct {
	Name            string          `json:"name"`
	DiscountKind    string          `json:"discountKind"`
	DiscountValue   decimal.Decimal `json:"discountValue"`
	StartAt         time.Time       `json:"startAt"`
	EndAt           time.Time       `json:"endAt"`
	Active          bool            `json:"active"`
	Scope           scopePayload    `json:"scope"`
	MinimumPurchase decimal.Decimal `json:"minimumPurchase"`
	UsageLimit      int             `json:"usageLimit"`
	Priority        int             `json:"priority"`
	BannerImage     string          `json:"bannerImage"`
}

type promotionResponse struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	DiscountKind    string       `json:"discountKind"`
	DiscountValue   float64      `json:"discountValue"`
	StartAt         time.Time    `json:"startAt"`
	EndAt           time.Time    `json:"endAt"`
	Active          bool         `json:"active"`
	State           string       `json:"state"`
	Scope           scopePayload `json:"scope"`
	MinimumPurchase float64      `json:"minimumPurchase"`
	UsageLimit      int          `json:"usageLimit"`
	UsageCount      int          `json:"usageCount"`
	Priority        int          `json:"priority"`
	BannerImage     string       `json:"bannerImage,omitempty"`
}

func (h *Handler) listPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.promotions.List(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.promotionResponses(promos))
}

func (h *Handler) listActivePromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.promotions.ListActive(r.Context(), h.now())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.promotionResponses(promos))
}

func (h *Handler) getPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.promotions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.promotionResponse(*p))
}

func (h *Handler) createPromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionPayload
	if !decodeJSON(w, r, &req) {
		return
	}

	p := req.toPromotion(uuid.New().String())
	if err := p.Validate(); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if err := h.promotions.Create(r.Context(), p); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.promotionResponse(*p))
}

func (h *Handler) updatePromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionPayload
	if !decodeJSON(w, r, &req) {
		return
	}

	p := req.toPromotion(chi.URLParam(r, "id"))
	if err := p.Validate(); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if err := h.promotions.Update(r.Context(), p); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.promotionResponse(*p))
}

func (h *Handler) deletePromotion(w http.ResponseWriter, r *http.Request) {
	if err := h.applicator.Delete(r.Context(), chi.URLParam(r, "id"), h.now()); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignPromotion(w http.ResponseWriter, r *http.Request) {
	var req scopePayload
	if !decodeJSON(w, r, &req) {
		return
	}

	count, err := h.applicator.Assign(r.Context(), chi.URLParam(r, "id"), req.toScope(), h.now())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"productCount": count})
}

// batchGetPromotions resolves the linked promotion for each given product id.
func (h *Handler) batchGetPromotions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductIDs []string `json:"productIds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	products, err := h.products.GetByIDs(r.Context(), req.ProductIDs)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	promoIDs := make([]string, 0, len(products))
	seen := make(map[string]struct{}, len(products))
	for _, p := range products {
		if p.PromotionID == "" {
			continue
		}
		if _, ok := seen[p.PromotionID]; ok {
			continue
		}
		seen[p.PromotionID] = struct{}{}
		promoIDs = append(promoIDs, p.PromotionID)
	}

	byID := make(map[string]promotion.Promotion, len(promoIDs))
	if len(promoIDs) > 0 {
		promos, err := h.promotions.GetByIDs(r.Context(), promoIDs)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		for _, p := range promos {
			byID[p.ID] = p
		}
	}

	out := make(map[string]*promotionResponse, len(products))
	for _, p := range products {
		if promo, ok := byID[p.PromotionID]; ok {
			resp := h.promotionResponse(promo)
			out[p.ID] = &resp
		} else {
			out[p.ID] = nil
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	promos, coupons, err := h.scheduler.ReconcileExpired(r.Context(), h.now())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{
		"promotionsDeactivated": promos,
		"couponsDeactivated":    coupons,
	})
}

func (h *Handler) ensureStoreWide(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.EnsureStoreWide(r.Context(), h.now())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	resp := h.promotionResponse(*result.Promotion)
	respondJSON(w, http.StatusOK, map[string]any{
		"outcome":   string(result.Outcome),
		"promotion": resp,
	})
}

func (p promotionPayload) toPromotion(id string) *promotion.Promotion {
	return &promotion.Promotion{
		ID:    id,
		Name:  p.Name,
		Kind:  promotion.DiscountKind(p.DiscountKind),
		Value: p.DiscountValue,
		Schedule: promotion.Schedule{
			Active:  p.Active,
			StartAt: p.StartAt,
			EndAt:   p.EndAt,
		},
		Scope:           p.Scope.toScope(),
		MinimumPurchase: p.MinimumPurchase,
		UsageLimit:      p.UsageLimit,
		Priority:        p.Priority,
		BannerImage:     p.BannerImage,
	}
}

func (s scopePayload) toScope() promotion.Scope {
	return promotion.Scope{
		Kind:       promotion.ScopeKind(s.Kind),
		Categories: s.Categories,
		ProductIDs: s.ProductIDs,
	}
}

func (h *Handler) promotionResponse(p promotion.Promotion) promotionResponse {
	return promotionResponse{
		ID:            p.ID,
		Name:          p.Name,
		DiscountKind:  string(p.Kind),
		DiscountValue: p.Value.InexactFloat64(),
		StartAt:       p.StartAt,
		EndAt:         p.EndAt,
		Active:        p.Active,
		State:         string(promotion.StateAt(p.Schedule, h.now())),
		Scope: scopePayload{
			Kind:       string(p.Scope.Kind),
			Categories: p.Scope.Categories,
			ProductIDs: p.Scope.ProductIDs,
		},
		MinimumPurchase: p.MinimumPurchase.InexactFloat64(),
		UsageLimit:      p.UsageLimit,
		UsageCount:      p.UsageCount,
		Priority:        p.Priority,
		BannerImage:     p.BannerImage,
	}
}

func (h *Handler) promotionResponses(promos []promotion.Promotion) []promotionResponse {
	out := make([]promotionResponse, len(promos))
	for i, p := range promos {
		out[i] = h.promotionResponse(p)
	}
	return out
}
