package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/merchkit/promo-engine/internal/domain/promotion"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateCartDiscount_Percentage(t *testing.T) {
	c := &Coupon{Kind: promotion.Percentage, Value: d("15")}

	res := CalculateCartDiscount(d("100.00"), c)
	assert.True(t, res.HasDiscount)
	assert.Equal(t, "15.00", res.DiscountAmount.StringFixed(2))
	assert.Equal(t, "85.00", res.NewTotal.StringFixed(2))
}

func TestCalculateCartDiscount_FixedExceedsSubtotal(t *testing.T) {
	c := &Coupon{Kind: promotion.FixedAmount, Value: d("25")}

	res := CalculateCartDiscount(d("10.00"), c)
	assert.True(t, res.HasDiscount)
	assert.Equal(t, "10.00", res.DiscountAmount.StringFixed(2), "discount capped at subtotal")
	assert.Equal(t, "0.00", res.NewTotal.StringFixed(2), "total never goes negative")
}

func TestCalculateCartDiscount_MinimumPurchaseNotMet(t *testing.T) {
	c := &Coupon{Kind: promotion.Percentage, Value: d("20"), MinimumPurchase: d("50")}

	res := CalculateCartDiscount(d("49.99"), c)
	assert.False(t, res.HasDiscount)
	assert.True(t, res.DiscountAmount.IsZero())
	assert.Equal(t, "49.99", res.NewTotal.StringFixed(2))
	assert.Contains(t, res.Message, "$50.00")
}

func TestCalculateCartDiscount_MinimumPurchaseExactlyMet(t *testing.T) {
	c := &Coupon{Kind: promotion.Percentage, Value: d("20"), MinimumPurchase: d("50")}

	res := CalculateCartDiscount(d("50.00"), c)
	assert.True(t, res.HasDiscount)
	assert.Equal(t, "10.00", res.DiscountAmount.StringFixed(2))
	assert.Equal(t, "40.00", res.NewTotal.StringFixed(2))
}

func TestCalculateCartDiscount_NilCoupon(t *testing.T) {
	res := CalculateCartDiscount(d("42.50"), nil)
	assert.False(t, res.HasDiscount)
	assert.True(t, res.DiscountAmount.IsZero())
	assert.Equal(t, "42.50", res.NewTotal.StringFixed(2))
}

func TestCalculateCartDiscount_Rounding(t *testing.T) {
	// 10.555 rounds half-up to 10.56.
	c := &Coupon{Kind: promotion.Percentage, Value: d("10")}

	res := CalculateCartDiscount(d("105.55"), c)
	assert.Equal(t, "10.56", res.DiscountAmount.StringFixed(2))
	assert.Equal(t, "94.99", res.NewTotal.StringFixed(2))
}

func TestCalculateCartDiscount_Pure(t *testing.T) {
	c := &Coupon{Kind: promotion.Percentage, Value: d("15"), MinimumPurchase: d("10")}
	subtotal := d("100.00")

	first := CalculateCartDiscount(subtotal, c)
	second := CalculateCartDiscount(subtotal, c)

	assert.Equal(t, first, second)
	assert.Equal(t, "15", c.Value.String(), "input coupon must not be mutated")
	assert.Equal(t, "100.00", subtotal.StringFixed(2))
}

func TestSubtotal(t *testing.T) {
	items := []Item{
		{ProductID: "p1", Quantity: 2, UnitPrice: d("9.99")},
		{ProductID: "p2", Quantity: 1, UnitPrice: d("25.00")},
	}
	assert.Equal(t, "44.98", Subtotal(items).StringFixed(2))
	assert.True(t, Subtotal(nil).IsZero())
}
