package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
)

// Cart is the checkout input: the lines, the optional customer and the total
// the caller wants discounted.
type Cart struct {
	Lines         []discount.CartLine
	CustomerEmail string
	TotalAmount   decimal.Decimal
}

// Sale is a finalized checkout with its discount breakdown.
type Sale struct {
	ID            string
	CustomerEmail string
	Lines         []discount.CartLine
	Discounts     []discount.AppliedDiscount
	OriginalTotal decimal.Decimal
	TotalDiscount decimal.Decimal
	FinalTotal    decimal.Decimal
	CreatedAt     time.Time
}

// Repository persists finalized sales.
type Repository interface {
	// Commit stores the sale and records every usage in one transaction. When
	// a rule's global or per-customer limit has been exhausted by a concurrent
	// sale, nothing is written and a *LimitExceededError is returned.
	Commit(ctx context.Context, s *Sale, usages []discount.Usage) error
}

// LimitExceededError lists the rules whose usage limits were exhausted
// between evaluation and commit.
type LimitExceededError struct {
	RuleIDs []int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("usage limit exhausted for rules %v", e.RuleIDs)
}
