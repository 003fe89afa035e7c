package coupon

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/merchkit/promo-engine/internal/domain/promotion"
)

var hundred = decimal.NewFromInt(100)

// CartDiscount is the result of applying a coupon to a cart subtotal.
type CartDiscount struct {
	HasDiscount    bool
	DiscountAmount decimal.Decimal
	NewTotal       decimal.Decimal
	// Message explains why no discount applied, when it did not.
	Message string
}

// CalculateCartDiscount computes the discount a coupon yields on a cart
// subtotal. It is a pure function: identical inputs produce identical
// results and nothing is mutated.
//
// A nil coupon or an unmet minimum purchase yields no discount and leaves
// the subtotal unchanged. The discount amount is capped at the subtotal and
// rounded half-up to two decimal places.
func CalculateCartDiscount(subtotal decimal.Decimal, c *Coupon) CartDiscount {
	if c == nil {
		return CartDiscount{DiscountAmount: decimal.Zero, NewTotal: subtotal}
	}
	if c.MinimumPurchase.Sign() > 0 && subtotal.LessThan(c.MinimumPurchase) {
		return CartDiscount{
			DiscountAmount: decimal.Zero,
			NewTotal:       subtotal,
			Message:        minimumPurchaseMessage(c.MinimumPurchase),
		}
	}

	var amount decimal.Decimal
	switch c.Kind {
	case promotion.Percentage:
		amount = subtotal.Mul(c.Value).Div(hundred)
	case promotion.FixedAmount:
		amount = c.Value
	default:
		return CartDiscount{DiscountAmount: decimal.Zero, NewTotal: subtotal}
	}

	amount = decimal.Min(amount, subtotal)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	amount = amount.Round(2)

	newTotal := subtotal.Sub(amount)
	if newTotal.IsNegative() {
		newTotal = decimal.Zero
	}

	return CartDiscount{
		HasDiscount:    amount.Sign() > 0,
		DiscountAmount: amount,
		NewTotal:       newTotal,
	}
}

func minimumPurchaseMessage(minimum decimal.Decimal) string {
	return fmt.Sprintf("minimum purchase of $%s required", minimum.StringFixed(2))
}
