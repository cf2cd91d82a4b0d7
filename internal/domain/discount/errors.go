package discount

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNegativeTotal is returned when the supplied cart total is below zero.
	ErrNegativeTotal = errors.New("total amount must not be negative")
	// ErrRuleNotFound is returned when a referenced rule does not exist.
	ErrRuleNotFound = errors.New("discount rule not found")
	// ErrUsageLimitReached is returned when recording usage would exceed the
	// rule's global usage limit.
	ErrUsageLimitReached = errors.New("discount rule usage limit reached")
	// ErrCustomerLimitReached is returned when recording usage would exceed
	// the rule's per-customer usage limit.
	ErrCustomerLimitReached = errors.New("discount rule per-customer limit reached")
)

// InvalidRuleError describes a rule definition that cannot be evaluated.
type InvalidRuleError struct {
	RuleID int64
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid discount rule %d: %s", e.RuleID, e.Reason)
}
