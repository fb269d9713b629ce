// Package cart holds the checkout-supplied cart snapshot the coupon engine
// quotes against. The engine trusts the snapshot's category and product
// references as given; it never re-resolves them against the catalog.
package cart

import "github.com/shopspring/decimal"

// Line is a single cart line item.
type Line struct {
	ProductID string
	Category  string
	Price     decimal.Decimal
	Quantity  int
}

// Subtotal returns the sum of price times quantity across all lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}
