package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "expected %s, got %s", want, got)
}

func TestCalculate_QuantityDiscount(t *testing.T) {
	cart := []CartLine{
		line("p1", 5, "10.00"),
		line("p2", 1, "30.00"),
		line("p3", 4, "2.50"),
	}

	t.Run("percentage on lines meeting min quantity", func(t *testing.T) {
		rule := Rule{
			Conditions: Conditions{MinQuantity: ptr(4)},
			Spec:       QuantityDiscount{Action: percent("10")},
		}
		out := Calculate(&rule, cart, dec("90.00"))

		assertDecimal(t, "6.00", out.Amount)
		require.Len(t, out.AppliedItems, 2)
		assert.Equal(t, "p1", out.AppliedItems[0].ItemID)
		assertDecimal(t, "5.00", out.AppliedItems[0].Discount)
		assert.Equal(t, "p3", out.AppliedItems[1].ItemID)
		assertDecimal(t, "1.00", out.AppliedItems[1].Discount)
	})

	t.Run("fixed per unit restricted to products", func(t *testing.T) {
		rule := Rule{
			Conditions: Conditions{MinQuantity: ptr(1), Products: []string{"p1"}},
			Spec:       QuantityDiscount{Action: fixed("1.50")},
		}
		out := Calculate(&rule, cart, dec("90.00"))

		assertDecimal(t, "7.50", out.Amount)
		require.Len(t, out.AppliedItems, 1)
		assert.Equal(t, 5, out.AppliedItems[0].Quantity)
	})

	t.Run("max discount clamps each line", func(t *testing.T) {
		a := percent("50")
		a.MaxDiscount = ptr(dec("4.00"))
		rule := Rule{Spec: QuantityDiscount{Action: a}}
		out := Calculate(&rule, cart, dec("90.00"))

		// p1: 25 -> 4, p2: 15 -> 4, p3: 5 -> 4
		assertDecimal(t, "12.00", out.Amount)
	})

	t.Run("fixed amount never exceeds line value", func(t *testing.T) {
		rule := Rule{Spec: QuantityDiscount{Action: fixed("5.00")}}
		out := Calculate(&rule, []CartLine{line("p3", 2, "2.50")}, dec("5.00"))

		assertDecimal(t, "5.00", out.Amount)
	})

	t.Run("units made free earlier are not discounted", func(t *testing.T) {
		l := line("p1", 3, "10.00")
		l.FreeQuantity = 1
		rule := Rule{Spec: QuantityDiscount{Action: percent("10")}}
		out := Calculate(&rule, []CartLine{l}, dec("30.00"))

		assertDecimal(t, "2.00", out.Amount)
		assert.Equal(t, 2, out.AppliedItems[0].Quantity)
	})
}

func TestCalculate_CartDiscount(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		total  string
		want   string
	}{
		{name: "percentage", action: percent("15"), total: "200.00", want: "30.00"},
		{name: "fixed", action: fixed("20"), total: "200.00", want: "20.00"},
		{name: "fixed capped at total", action: fixed("20"), total: "12.00", want: "12.00"},
		{
			name:   "percentage clamped to max discount",
			action: Action{Kind: KindPercentage, Value: dec("50"), MaxDiscount: ptr(dec("25"))},
			total:  "200.00",
			want:   "25.00",
		},
		{name: "unsupported kind yields zero", action: Action{Kind: "bogus", Value: dec("10")}, total: "100", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := Rule{Spec: CartDiscount{Action: tt.action}}
			out := Calculate(&rule, []CartLine{line("p1", 1, tt.total)}, dec(tt.total))
			assertDecimal(t, tt.want, out.Amount)
			assert.Empty(t, out.AppliedItems)
		})
	}
}

func TestCalculate_BuyXGetY(t *testing.T) {
	rule := Rule{Spec: BuyXGetY{BuyQuantity: 2, GetQuantity: 1, ProductIDs: []string{"P"}}}

	t.Run("applied when quantity reaches buy plus get", func(t *testing.T) {
		cart := []CartLine{line("P", 3, "10.00")}
		out := Calculate(&rule, cart, dec("30.00"))

		assertDecimal(t, "10.00", out.Amount)
		require.Len(t, out.FreeItems, 1)
		assert.Equal(t, 1, out.FreeItems[0].Quantity)
		assertDecimal(t, "10.00", out.FreeItems[0].Discount)
		assert.Equal(t, StatusApplied, out.FreeItems[0].Status)
		assert.Empty(t, out.Suggestions)

		require.NotNil(t, out.Cart)
		assert.Equal(t, 1, out.Cart[0].FreeQuantity)
		assert.Equal(t, 0, cart[0].FreeQuantity, "input cart must not be mutated")
	})

	t.Run("suggestion when only buy quantity is reached", func(t *testing.T) {
		out := Calculate(&rule, []CartLine{line("P", 2, "10.00")}, dec("20.00"))

		assert.True(t, out.Amount.IsZero())
		assert.Empty(t, out.FreeItems)
		require.Len(t, out.Suggestions, 1)
		s := out.Suggestions[0]
		assert.Equal(t, 1, s.SuggestedQuantity)
		assert.Equal(t, 2, s.CurrentQuantity)
		assertDecimal(t, "10.00", s.Savings)
		assert.Equal(t, StatusSuggestion, s.Status)
		assert.Nil(t, out.Cart)
	})

	t.Run("multiple groups", func(t *testing.T) {
		out := Calculate(&rule, []CartLine{line("P", 7, "10.00")}, dec("70.00"))

		assertDecimal(t, "20.00", out.Amount)
		assert.Equal(t, 2, out.FreeItems[0].Quantity)
	})

	t.Run("uses final price and aggregates split lines", func(t *testing.T) {
		a := line("P", 2, "10.00")
		a.FinalPrice = dec("8.00")
		b := line("P", 1, "10.00")
		out := Calculate(&rule, []CartLine{a, b, line("Q", 9, "1.00")}, dec("39.00"))

		assertDecimal(t, "8.00", out.Amount)
		require.Len(t, out.Cart, 3)
		assert.Equal(t, 1, out.Cart[0].FreeQuantity)
		assert.Equal(t, 0, out.Cart[1].FreeQuantity)
		assert.Equal(t, 0, out.Cart[2].FreeQuantity)
	})

	t.Run("below buy quantity yields nothing", func(t *testing.T) {
		out := Calculate(&rule, []CartLine{line("P", 1, "10.00")}, dec("10.00"))

		assert.True(t, out.Amount.IsZero())
		assert.Empty(t, out.Suggestions)
	})
}

func TestCalculate_CategoryDiscount(t *testing.T) {
	cart := []CartLine{
		categoryLine("c1", "canvas", 1, "40.00"),
		categoryLine("b1", "photobooks", 2, "25.00"),
		line("x1", 1, "5.00"),
	}
	rule := Rule{
		Conditions: Conditions{Categories: []string{"canvas", "photobooks"}},
		Spec:       CategoryDiscount{Action: percent("20")},
	}

	out := Calculate(&rule, cart, dec("95.00"))

	assertDecimal(t, "18.00", out.Amount)
	require.Len(t, out.AppliedItems, 2)
	assert.Equal(t, "c1", out.AppliedItems[0].ItemID)
	assert.Equal(t, "b1", out.AppliedItems[1].ItemID)
}

func TestCalculate_TieredDiscount(t *testing.T) {
	tiers := []Tier{
		{MinQuantity: 11, Kind: KindPercentage, Value: dec("15")},
		{MinQuantity: 3, Kind: KindPercentage, Value: dec("5")},
		{MinQuantity: 6, Kind: KindPercentage, Value: dec("10")},
	}

	tests := []struct {
		name string
		qty  int
		want string
	}{
		{name: "below first tier", qty: 2, want: "0"},
		{name: "first tier", qty: 3, want: "5.00"},
		{name: "middle tier selected for seven units", qty: 7, want: "10.00"},
		{name: "top tier", qty: 11, want: "15.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := Rule{Spec: TieredDiscount{Tiers: tiers}}
			out := Calculate(&rule, []CartLine{line("p", tt.qty, "1.00")}, dec("100.00"))
			assertDecimal(t, tt.want, out.Amount)
		})
	}

	t.Run("fixed tier clamped by max discount", func(t *testing.T) {
		rule := Rule{Spec: TieredDiscount{
			Tiers:       []Tier{{MinQuantity: 1, Kind: KindFixed, Value: dec("30")}},
			MaxDiscount: ptr(dec("12.50")),
		}}
		out := Calculate(&rule, []CartLine{line("p", 1, "100.00")}, dec("100.00"))
		assertDecimal(t, "12.50", out.Amount)
	})
}

func TestCalculate_NoOpVariants(t *testing.T) {
	cart := []CartLine{line("p", 3, "10.00")}

	for _, spec := range []Spec{BundleDiscount{}, UnknownRule{Literal: "loyalty_points"}, nil} {
		rule := Rule{Spec: spec}
		out := Calculate(&rule, cart, dec("30.00"))
		assert.True(t, out.Amount.IsZero())
		assert.Empty(t, out.AppliedItems)
		assert.False(t, out.applies())
	}
}
