package discount

import (
	"cmp"
	"slices"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Calculate computes the discount a rule grants on the cart. It dispatches on
// the rule's Spec variant; unknown and bundle rules yield an empty Outcome.
// Calculate does not check eligibility.
func Calculate(r *Rule, cart []CartLine, total decimal.Decimal) Outcome {
	switch s := r.Spec.(type) {
	case QuantityDiscount:
		return calcQuantity(s, r.Conditions, cart)
	case CartDiscount:
		return calcCart(s, total)
	case BuyXGetY:
		return calcBuyXGetY(s, cart)
	case CategoryDiscount:
		return calcCategory(s, r.Conditions, cart)
	case TieredDiscount:
		return calcTiered(s, cart, total)
	case BundleDiscount, UnknownRule, nil:
		return Outcome{Amount: decimal.Zero}
	default:
		return Outcome{Amount: decimal.Zero}
	}
}

// amountOf applies a percentage or fixed action to base. Fixed values are
// taken once per unit. The result never exceeds base or the action's
// MaxDiscount and is never negative.
func amountOf(kind Kind, value decimal.Decimal, maxDiscount *decimal.Decimal, base decimal.Decimal, units int) decimal.Decimal {
	var amount decimal.Decimal
	switch kind {
	case KindPercentage:
		amount = base.Mul(value).Div(hundred)
	case KindFixed:
		amount = value.Mul(decimal.NewFromInt(int64(units)))
	default:
		return decimal.Zero
	}
	amount = decimal.Min(amount, base)
	if maxDiscount != nil {
		amount = decimal.Min(amount, *maxDiscount)
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// discountLines applies the action to each selected line's paid units.
func discountLines(a Action, cart []CartLine, selected func(CartLine) bool) Outcome {
	out := Outcome{Amount: decimal.Zero}
	for _, l := range cart {
		if !selected(l) {
			continue
		}
		qty := l.PaidQuantity()
		if qty == 0 {
			continue
		}
		base := l.Price.Mul(decimal.NewFromInt(int64(qty)))
		amount := amountOf(a.Kind, a.Value, a.MaxDiscount, base, qty)
		if !amount.IsPositive() {
			continue
		}
		out.Amount = out.Amount.Add(amount)
		out.AppliedItems = append(out.AppliedItems, AppliedItem{
			ItemID:   l.ItemID,
			Name:     l.Name,
			Quantity: qty,
			Discount: amount,
		})
	}
	return out
}

func calcQuantity(s QuantityDiscount, c Conditions, cart []CartLine) Outcome {
	minQty := 0
	if c.MinQuantity != nil {
		minQty = *c.MinQuantity
	}
	return discountLines(s.Action, cart, func(l CartLine) bool {
		if c.Products != nil && !lo.Contains(c.Products, l.ItemID) {
			return false
		}
		return l.Quantity >= minQty
	})
}

func calcCategory(s CategoryDiscount, c Conditions, cart []CartLine) Outcome {
	return discountLines(s.Action, cart, func(l CartLine) bool {
		return inCategories(l, c.Categories)
	})
}

func calcCart(s CartDiscount, total decimal.Decimal) Outcome {
	a := s.Action
	return Outcome{Amount: amountOf(a.Kind, a.Value, a.MaxDiscount, total, 1)}
}

// selectTier returns the tier with the highest MinQuantity not above qty.
// Tiers are sorted first, so input order does not matter; among equal
// thresholds the last declared wins.
func selectTier(tiers []Tier, qty int) (Tier, bool) {
	sorted := slices.Clone(tiers)
	slices.SortStableFunc(sorted, func(a, b Tier) int {
		return cmp.Compare(a.MinQuantity, b.MinQuantity)
	})
	var (
		best  Tier
		found bool
	)
	for _, t := range sorted {
		if t.MinQuantity <= qty {
			best, found = t, true
		}
	}
	return best, found
}

func calcTiered(s TieredDiscount, cart []CartLine, total decimal.Decimal) Outcome {
	t, ok := selectTier(s.Tiers, TotalQuantity(cart))
	if !ok {
		return Outcome{Amount: decimal.Zero}
	}
	return Outcome{Amount: amountOf(t.Kind, t.Value, s.MaxDiscount, total, 1)}
}

type productGroup struct {
	itemID   string
	name     string
	price    decimal.Decimal
	quantity int
	lines    []int
}

// groupTargeted aggregates the paid units of targeted lines per product in
// first-seen order.
func groupTargeted(s BuyXGetY, cart []CartLine) []*productGroup {
	var (
		groups []*productGroup
		byID   = map[string]*productGroup{}
	)
	for i, l := range cart {
		if !targets(s, l) {
			continue
		}
		g, ok := byID[l.ItemID]
		if !ok {
			g = &productGroup{itemID: l.ItemID, name: l.Name, price: l.EffectivePrice()}
			byID[l.ItemID] = g
			groups = append(groups, g)
		}
		g.quantity += l.PaidQuantity()
		g.lines = append(g.lines, i)
	}
	return groups
}

func calcBuyXGetY(s BuyXGetY, cart []CartLine) Outcome {
	out := Outcome{Amount: decimal.Zero}
	required := s.BuyQuantity + s.GetQuantity
	if s.BuyQuantity < 1 || s.GetQuantity < 1 {
		return out
	}

	var modified []CartLine
	for _, g := range groupTargeted(s, cart) {
		switch {
		case g.quantity >= required:
			free := g.quantity / required * s.GetQuantity
			amount := g.price.Mul(decimal.NewFromInt(int64(free)))
			out.Amount = out.Amount.Add(amount)
			out.FreeItems = append(out.FreeItems, FreeItem{
				ItemID:   g.itemID,
				Name:     g.name,
				Quantity: free,
				Discount: amount,
				Status:   StatusApplied,
			})
			if modified == nil {
				modified = cloneCart(cart)
			}
			markFree(modified, g.lines, free)
		case g.quantity >= s.BuyQuantity:
			out.Suggestions = append(out.Suggestions, Suggestion{
				ItemID:            g.itemID,
				Name:              g.name,
				CurrentQuantity:   g.quantity,
				SuggestedQuantity: required - g.quantity,
				Savings:           g.price.Mul(decimal.NewFromInt(int64(s.GetQuantity))),
				Status:            StatusSuggestion,
			})
		}
	}
	out.Cart = modified
	return out
}

// markFree spreads free units over the given lines, never exceeding a line's
// paid units.
func markFree(cart []CartLine, lines []int, free int) {
	for _, i := range lines {
		if free == 0 {
			return
		}
		n := min(cart[i].PaidQuantity(), free)
		cart[i].FreeQuantity += n
		free -= n
	}
}
