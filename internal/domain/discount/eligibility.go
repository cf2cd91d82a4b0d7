package discount

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Eligible reports whether the rule's conditions hold for the cart. Only the
// condition keys present on the rule are checked, so a rule without
// conditions is always eligible. The customer email is accepted for parity
// with per-customer rules; limit checks happen in the engine.
func Eligible(r *Rule, cart []CartLine, total decimal.Decimal, _ string) bool {
	c := r.Conditions

	if c.MinQuantity != nil && TotalQuantity(cart) < *c.MinQuantity {
		return false
	}
	if c.MinAmount != nil && total.LessThan(*c.MinAmount) {
		return false
	}
	if c.Products != nil && !lo.SomeBy(cart, func(l CartLine) bool {
		return lo.Contains(c.Products, l.ItemID)
	}) {
		return false
	}
	if c.Categories != nil && !lo.SomeBy(cart, func(l CartLine) bool {
		return inCategories(l, c.Categories)
	}) {
		return false
	}

	if s, ok := r.Spec.(BuyXGetY); ok {
		if targetedQuantity(s, cart) < s.BuyQuantity {
			return false
		}
	}
	return true
}

func targets(s BuyXGetY, l CartLine) bool {
	return len(s.ProductIDs) == 0 || lo.Contains(s.ProductIDs, l.ItemID)
}

func targetedQuantity(s BuyXGetY, cart []CartLine) int {
	return lo.SumBy(cart, func(l CartLine) int {
		if !targets(s, l) {
			return 0
		}
		return l.Quantity
	})
}
