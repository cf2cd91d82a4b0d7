package discount

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Item statuses reported in results.
const (
	StatusApplied    = "applied"
	StatusSuggestion = "suggestion"
)

// AppliedItem is a cart line discounted by a rule.
type AppliedItem struct {
	ItemID   string          `json:"item_id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Discount decimal.Decimal `json:"discount"`
}

// FreeItem describes units given away by a buy_x_get_y rule.
type FreeItem struct {
	ItemID   string          `json:"item_id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Discount decimal.Decimal `json:"discount"`
	Status   string          `json:"status"`
}

// Suggestion nudges the customer towards qualifying for a buy_x_get_y rule.
type Suggestion struct {
	ItemID            string          `json:"item_id"`
	Name              string          `json:"name"`
	CurrentQuantity   int             `json:"current_quantity"`
	SuggestedQuantity int             `json:"suggested_quantity"`
	Savings           decimal.Decimal `json:"savings"`
	Status            string          `json:"status"`
}

// Outcome is what a calculator produces for a single rule.
type Outcome struct {
	Amount       decimal.Decimal
	AppliedItems []AppliedItem
	FreeItems    []FreeItem
	Suggestions  []Suggestion
	// Cart replaces the working cart when non-nil.
	Cart []CartLine
}

func (o Outcome) applies() bool {
	return o.Amount.IsPositive() || len(o.Suggestions) > 0
}

// AppliedDiscount is one rule's contribution to an evaluation.
type AppliedDiscount struct {
	RuleID         int64
	RuleName       string
	RuleType       Type
	Amount         decimal.Decimal
	Combinable     bool
	AppliedItems   []AppliedItem
	FreeItems      []FreeItem
	SuggestedItems []Suggestion
	Description    string
}

// Result is the outcome of evaluating a cart.
type Result struct {
	Applied       []AppliedDiscount
	TotalDiscount decimal.Decimal
	OriginalTotal decimal.Decimal
	FinalTotal    decimal.Decimal
	FreeItems     []FreeItem
	Cart          []CartLine
}

// RuleIDs returns the IDs of the applied rules in evaluation order.
func (r *Result) RuleIDs() []int64 {
	ids := make([]int64, len(r.Applied))
	for i, d := range r.Applied {
		ids[i] = d.RuleID
	}
	return ids
}

// finalize rounds every amount to cents and derives the totals from the
// rounded per-rule amounts so that persisted usage rows add up.
func (r Result) finalize() *Result {
	total := decimal.Zero
	for i := range r.Applied {
		d := &r.Applied[i]
		d.Amount = d.Amount.Round(2)
		for j := range d.AppliedItems {
			d.AppliedItems[j].Discount = d.AppliedItems[j].Discount.Round(2)
		}
		for j := range d.FreeItems {
			d.FreeItems[j].Discount = d.FreeItems[j].Discount.Round(2)
		}
		for j := range d.SuggestedItems {
			d.SuggestedItems[j].Savings = d.SuggestedItems[j].Savings.Round(2)
		}
		total = total.Add(d.Amount)
	}
	for j := range r.FreeItems {
		r.FreeItems[j].Discount = r.FreeItems[j].Discount.Round(2)
	}

	r.OriginalTotal = r.OriginalTotal.Round(2)
	r.TotalDiscount = total
	r.FinalTotal = r.OriginalTotal.Sub(total)
	if r.FinalTotal.IsNegative() {
		r.FinalTotal = decimal.Zero
	}
	return &r
}

type appliedItemsDoc struct {
	AppliedItems   []AppliedItem `json:"applied_items,omitempty"`
	FreeItems      []FreeItem    `json:"free_items,omitempty"`
	SuggestedItems []Suggestion  `json:"suggested_items,omitempty"`
}

// EncodeAppliedItems serializes what a discount touched for the usage log.
func EncodeAppliedItems(d AppliedDiscount) ([]byte, error) {
	data, err := json.Marshal(appliedItemsDoc{
		AppliedItems:   d.AppliedItems,
		FreeItems:      d.FreeItems,
		SuggestedItems: d.SuggestedItems,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "encode applied items of rule %d", d.RuleID)
	}
	return data, nil
}
