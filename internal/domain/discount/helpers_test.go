package discount

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

type mockRuleSource struct {
	rules []Rule
	err   error
	calls int
}

func (m *mockRuleSource) ListValid(_ context.Context, _ time.Time) ([]Rule, error) {
	m.calls++
	return m.rules, m.err
}

type mockUsageCounter struct {
	counts map[int64]int
	err    error
	calls  int
	gotIDs []int64
}

func (m *mockUsageCounter) CountByCustomer(_ context.Context, _ string, ids []int64) (map[int64]int, error) {
	m.calls++
	m.gotIDs = ids
	return m.counts, m.err
}

// --- Helpers ---

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(id string, qty int, price string) CartLine {
	return CartLine{ItemID: id, Name: "Item " + id, Quantity: qty, Price: dec(price)}
}

func categoryLine(id, category string, qty int, price string) CartLine {
	l := line(id, qty, price)
	l.CategoryID = ptr(category)
	return l
}

func percent(v string) Action { return Action{Kind: KindPercentage, Value: dec(v)} }

func fixed(v string) Action { return Action{Kind: KindFixed, Value: dec(v)} }

func activeRule(id int64, priority int, spec Spec) Rule {
	return Rule{
		ID:       id,
		Name:     "rule",
		Active:   true,
		Priority: priority,
		Spec:     spec,
	}
}
