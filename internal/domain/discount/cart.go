package discount

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CartLine is a line of the cart being evaluated. The caller owns the cart;
// the engine works on a copy.
type CartLine struct {
	ItemID     string
	Name       string
	Quantity   int
	Price      decimal.Decimal
	FinalPrice decimal.Decimal
	CategoryID *string

	// FreeQuantity counts units made free by an earlier rule in the same
	// evaluation pass.
	FreeQuantity int
}

// EffectivePrice returns FinalPrice when set, otherwise Price.
func (l CartLine) EffectivePrice() decimal.Decimal {
	if l.FinalPrice.IsPositive() {
		return l.FinalPrice
	}
	return l.Price
}

// PaidQuantity returns the units not already made free.
func (l CartLine) PaidQuantity() int {
	return max(l.Quantity-l.FreeQuantity, 0)
}

// TotalQuantity sums the quantities of all lines.
func TotalQuantity(cart []CartLine) int {
	return lo.SumBy(cart, func(l CartLine) int { return l.Quantity })
}

// Subtotal sums price times quantity over all lines.
func Subtotal(cart []CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range cart {
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

func cloneCart(cart []CartLine) []CartLine {
	if cart == nil {
		return nil
	}
	out := make([]CartLine, len(cart))
	copy(out, cart)
	return out
}

func inCategories(l CartLine, categories []string) bool {
	return l.CategoryID != nil && lo.Contains(categories, *l.CategoryID)
}
