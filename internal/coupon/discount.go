package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/kanvei/coupon-service/internal/cart"
)

var hundred = decimal.NewFromInt(100)

// Quote is the result of a discount calculation. Amounts are rounded to two
// decimal places (half away from zero), and FinalAmount + DiscountAmount
// always equals Base.
type Quote struct {
	// Base is the amount the discount was computed against: the full order
	// amount, or the eligible portion when the coupon's scope narrows it.
	Base decimal.Decimal
	// DiscountAmount is the money taken off, never negative, never above Base.
	DiscountAmount decimal.Decimal
	// FinalAmount is Base minus DiscountAmount.
	FinalAmount decimal.Decimal
}

// ComputeQuote calculates the discount for an order amount and optional
// itemized lines. The coupon is taken as given; redemption eligibility is the
// caller's responsibility (Service re-derives it and fails closed).
//
// When the coupon's scope restricts categories or products, the calculation
// base narrows to the sum of eligible lines, not just the cap. A restricted
// coupon with no lines supplied fails with ErrNotApplicable: eligibility
// cannot be proven from a total alone.
func ComputeQuote(c *Coupon, orderAmount decimal.Decimal, lines []cart.Line) (Quote, error) {
	if orderAmount.LessThan(c.MinOrderAmount) {
		return Quote{}, &BelowMinimumError{Minimum: c.MinOrderAmount}
	}

	base := orderAmount
	if c.Scope.Restricted() {
		if len(lines) == 0 {
			return Quote{}, ErrNotApplicable
		}
		base = eligibleAmount(c.Scope, lines)
		if base.IsZero() {
			return Quote{}, ErrNotApplicable
		}
	}

	var discount decimal.Decimal
	switch c.Kind {
	case DiscountPercentage:
		discount = base.Mul(c.Value).Div(hundred)
	case DiscountFixed:
		discount = c.Value
	default:
		return Quote{}, errors.Errorf("unsupported discount kind: %q", c.Kind)
	}

	if c.MaxDiscountAmount != nil && discount.GreaterThan(*c.MaxDiscountAmount) {
		discount = *c.MaxDiscountAmount
	}
	if discount.GreaterThan(base) {
		discount = base
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	discount = discount.Round(2)
	base = base.Round(2)

	return Quote{
		Base:           base,
		DiscountAmount: discount,
		FinalAmount:    base.Sub(discount),
	}, nil
}

// eligibleAmount sums price * quantity over lines the scope admits.
func eligibleAmount(s Scope, lines []cart.Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		if s.Applies(l) {
			sum = sum.Add(lineAmount(l))
		}
	}
	return sum
}
