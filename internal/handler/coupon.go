package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/coupon"
	"github.com/merchkit/promo-engine/internal/domain/promotion"
)

type couponPayload struct {
	Code            string          `json:"code"`
	DiscountKind    string          `json:"discountKind"`
	DiscountValue   decimal.Decimal `json:"discountValue"`
	StartAt         time.Time       `json:"startAt"`
	EndAt           time.Time       `json:"endAt"`
	Active          bool            `json:"active"`
	MinimumPurchase decimal.Decimal `json:"minimumPurchase"`
	UsageLimit      int             `json:"usageLimit"`
	IsPublic        bool            `json:"isPublic"`
	BannerText      string          `json:"bannerText"`
	BannerColor     string          `json:"bannerColor"`
}

type couponResponse struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	DiscountKind    string    `json:"discountKind"`
	DiscountValue   float64   `json:"discountValue"`
	StartAt         time.Time `json:"startAt"`
	EndAt           time.Time `json:"endAt"`
	Active          bool      `json:"active"`
	State           string    `json:"state"`
	MinimumPurchase float64   `json:"minimumPurchase"`
	UsageLimit      int       `json:"usageLimit"`
	UsageCount      int       `json:"usageCount"`
	IsPublic        bool      `json:"isPublic"`
	BannerText      string    `json:"bannerText,omitempty"`
	BannerColor     string    `json:"bannerColor,omitempty"`
}

type validationResponse struct {
	Valid          bool            `json:"valid"`
	Message        string          `json:"message,omitempty"`
	Coupon         *couponResponse `json:"coupon,omitempty"`
	DiscountAmount float64         `json:"discountAmount"`
	NewTotal       float64         `json:"newTotal"`
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.couponResponses(coupons))
}

func (h *Handler) listPublicCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.ListPublic(r.Context(), h.now())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.couponResponses(coupons))
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponPayload
	if !decodeJSON(w, r, &req) {
		return
	}

	c := req.toCoupon(uuid.New().String())
	if err := c.Validate(); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if err := h.coupons.Create(r.Context(), c); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.couponResponse(*c))
}

// validateCoupon checks a code against a cart total without consuming a
// redemption. Business rejections come back as valid=false with a message,
// not as HTTP errors.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string          `json:"code"`
		CartTotal decimal.Decimal `json:"cartTotal"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.ledger.Validate(r.Context(), req.Code, req.CartTotal, h.now())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.validationResponse(v, req.CartTotal))
}

// reserveCoupon validates and consumes a redemption for an order in one
// atomic step.
func (h *Handler) reserveCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string          `json:"code"`
		CartTotal decimal.Decimal `json:"cartTotal"`
		OrderID   string          `json:"orderId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	v, err := h.ledger.Reserve(r.Context(), req.Code, req.CartTotal, req.OrderID, h.now())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.validationResponse(v, req.CartTotal))
}

func (h *Handler) couponStatus(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.FindByCode(r.Context(), coupon.NormalizeCode(chi.URLParam(r, "code")))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.couponResponse(*c))
}

func (c couponPayload) toCoupon(id string) *coupon.Coupon {
	return &coupon.Coupon{
		ID:    id,
		Code:  coupon.NormalizeCode(c.Code),
		Kind:  promotion.DiscountKind(c.DiscountKind),
		Value: c.DiscountValue,
		Schedule: promotion.Schedule{
			Active:  c.Active,
			StartAt: c.StartAt,
			EndAt:   c.EndAt,
		},
		MinimumPurchase: c.MinimumPurchase,
		UsageLimit:      c.UsageLimit,
		IsPublic:        c.IsPublic,
		BannerText:      c.BannerText,
		BannerColor:     c.BannerColor,
	}
}

func (h *Handler) validationResponse(v coupon.Validation, cartTotal decimal.Decimal) validationResponse {
	resp := validationResponse{
		Valid:    v.Valid,
		Message:  v.Message,
		NewTotal: cartTotal.InexactFloat64(),
	}
	if v.Coupon != nil {
		cr := h.couponResponse(*v.Coupon)
		resp.Coupon = &cr
	}
	if v.Valid {
		d := coupon.CalculateCartDiscount(cartTotal, v.Coupon)
		resp.DiscountAmount = d.DiscountAmount.InexactFloat64()
		resp.NewTotal = d.NewTotal.InexactFloat64()
	}
	return resp
}

func (h *Handler) couponResponse(c coupon.Coupon) couponResponse {
	return couponResponse{
		ID:              c.ID,
		Code:            c.Code,
		DiscountKind:    string(c.Kind),
		DiscountValue:   c.Value.InexactFloat64(),
		StartAt:         c.StartAt,
		EndAt:           c.EndAt,
		Active:          c.Active,
		State:           string(promotion.StateAt(c.Schedule, h.now())),
		MinimumPurchase: c.MinimumPurchase.InexactFloat64(),
		UsageLimit:      c.UsageLimit,
		UsageCount:      c.UsageCount,
		IsPublic:        c.IsPublic,
		BannerText:      c.BannerText,
		BannerColor:     c.BannerColor,
	}
}

func (h *Handler) couponResponses(coupons []coupon.Coupon) []couponResponse {
	out := make([]couponResponse, len(coupons))
	for i, c := range coupons {
		out[i] = h.couponResponse(c)
	}
	return out
}
