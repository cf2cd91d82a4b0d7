package discount

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RuleSource supplies the rules that may apply at a point in time, ordered by
// descending priority with ties in creation order.
type RuleSource interface {
	ListValid(ctx context.Context, now time.Time) ([]Rule, error)
}

// UsageCounter reports how many times a customer has used each of the given
// rules. Rules the customer never used may be absent from the result.
type UsageCounter interface {
	CountByCustomer(ctx context.Context, email string, ruleIDs []int64) (map[int64]int, error)
}

// Usage is the record of one rule applied to one finalized sale.
type Usage struct {
	ID             uuid.UUID
	RuleID         int64
	SaleID         string
	CustomerEmail  string
	DiscountAmount decimal.Decimal
	AppliedItems   []byte
	CreatedAt      time.Time
}

// UsageRecorder persists rule usage. RecordUsage creates exactly one usage
// record and increments the rule's used_count by one. It returns
// ErrUsageLimitReached or ErrCustomerLimitReached when the limit was
// exhausted by a concurrent sale. Calls are not idempotent.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u Usage) error
}

// NewUsage builds the usage record for an applied discount. The applied
// items are serialized for auditing.
func NewUsage(saleID, customerEmail string, d AppliedDiscount, now time.Time) (Usage, error) {
	items, err := EncodeAppliedItems(d)
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		ID:             uuid.New(),
		RuleID:         d.RuleID,
		SaleID:         saleID,
		CustomerEmail:  customerEmail,
		DiscountAmount: d.Amount,
		AppliedItems:   items,
		CreatedAt:      now,
	}, nil
}
