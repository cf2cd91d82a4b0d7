// Package discount evaluates prioritized promotional rules against a cart.
//
// Rules are fetched once per evaluation, ordered by descending priority and
// folded over the cart. Each rule carries a sealed Spec variant selected by
// its rule type; the dispatcher in Calculate switches over the variants.
// Evaluation never writes to storage: usage is recorded separately through a
// UsageRecorder once a sale is finalized.
package discount

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type is the rule_type discriminator stored with every rule.
type Type string

const (
	TypeQuantity Type = "quantity_discount"
	TypeTiered   Type = "tiered_discount"
	TypeCategory Type = "category_discount"
	TypeCart     Type = "cart_discount"
	TypeBuyXGetY Type = "buy_x_get_y"
	TypeBundle   Type = "bundle_discount"
)

// Types lists every known rule type.
func Types() []Type {
	return []Type{TypeQuantity, TypeTiered, TypeCategory, TypeCart, TypeBuyXGetY, TypeBundle}
}

// Kind selects how an action value is interpreted.
type Kind string

const (
	// KindPercentage takes Value percent of the discounted base.
	KindPercentage Kind = "percentage"
	// KindFixed takes Value per discounted unit (or once for cart-level rules).
	KindFixed Kind = "fixed"
)

var hundred = decimal.NewFromInt(100)

// Action is the percentage/fixed discount shared by most rule types.
type Action struct {
	Kind        Kind
	Value       decimal.Decimal
	MaxDiscount *decimal.Decimal
}

func (a Action) validate() error {
	switch a.Kind {
	case KindPercentage:
		if a.Value.GreaterThan(hundred) {
			return errors.Errorf("percentage %s exceeds 100", a.Value)
		}
	case KindFixed:
	default:
		return errors.Errorf("unsupported discount type %q", a.Kind)
	}
	if a.Value.IsNegative() {
		return errors.Errorf("negative discount value %s", a.Value)
	}
	if a.MaxDiscount != nil && a.MaxDiscount.IsNegative() {
		return errors.Errorf("negative max discount %s", a.MaxDiscount)
	}
	return nil
}

// Conditions holds the condition keys every rule type may declare. A nil
// field means the key is absent and imposes no constraint. A present but
// empty list matches nothing.
type Conditions struct {
	MinQuantity *int
	MinAmount   *decimal.Decimal
	Products    []string
	Categories  []string
}

// Spec is the type-specific part of a rule. The set of implementations is
// closed; Calculate switches over all of them.
type Spec interface {
	Type() Type
	validate() error
}

// QuantityDiscount discounts every matching line whose quantity reaches
// Conditions.MinQuantity.
type QuantityDiscount struct {
	Action Action
}

// CartDiscount discounts the cart total.
type CartDiscount struct {
	Action Action
}

// CategoryDiscount discounts lines whose category is in Conditions.Categories.
type CategoryDiscount struct {
	Action Action
}

// Tier is one threshold of a TieredDiscount.
type Tier struct {
	MinQuantity int
	Kind        Kind
	Value       decimal.Decimal
}

// TieredDiscount applies the highest tier reached by the total cart quantity.
type TieredDiscount struct {
	Tiers       []Tier
	MaxDiscount *decimal.Decimal
}

// BuyXGetY gives GetQuantity free units for every BuyQuantity+GetQuantity
// units of a targeted product. An empty ProductIDs targets every product.
type BuyXGetY struct {
	BuyQuantity int
	GetQuantity int
	ProductIDs  []string
}

// BundleDiscount is accepted in rule definitions but yields no discount.
type BundleDiscount struct{}

// UnknownRule carries a rule_type literal this build does not know about.
// It always yields a zero discount.
type UnknownRule struct {
	Literal string
}

func (QuantityDiscount) Type() Type { return TypeQuantity }
func (CartDiscount) Type() Type     { return TypeCart }
func (CategoryDiscount) Type() Type { return TypeCategory }
func (TieredDiscount) Type() Type   { return TypeTiered }
func (BuyXGetY) Type() Type         { return TypeBuyXGetY }
func (BundleDiscount) Type() Type   { return TypeBundle }
func (u UnknownRule) Type() Type    { return Type(u.Literal) }

func (s QuantityDiscount) validate() error { return s.Action.validate() }
func (s CartDiscount) validate() error     { return s.Action.validate() }
func (s CategoryDiscount) validate() error { return s.Action.validate() }
func (BundleDiscount) validate() error     { return nil }
func (UnknownRule) validate() error        { return nil }

func (s TieredDiscount) validate() error {
	for i, t := range s.Tiers {
		if t.MinQuantity < 0 {
			return errors.Errorf("tier %d: negative min_quantity", i)
		}
		if err := (Action{Kind: t.Kind, Value: t.Value}).validate(); err != nil {
			return errors.Wrapf(err, "tier %d", i)
		}
	}
	if s.MaxDiscount != nil && s.MaxDiscount.IsNegative() {
		return errors.Errorf("negative max discount %s", s.MaxDiscount)
	}
	return nil
}

func (s BuyXGetY) validate() error {
	if s.BuyQuantity < 1 {
		return errors.Errorf("buy_quantity must be at least 1, got %d", s.BuyQuantity)
	}
	if s.GetQuantity < 1 {
		return errors.Errorf("get_quantity must be at least 1, got %d", s.GetQuantity)
	}
	return nil
}

// Rule is a stored promotional policy.
type Rule struct {
	ID          int64
	Name        string
	Description string
	Active      bool
	Priority    int
	Conditions  Conditions
	Spec        Spec

	// Combinable is surfaced in results but not enforced by the engine.
	Combinable       bool
	StopFurtherRules bool

	StartsAt *time.Time
	EndsAt   *time.Time

	UsageLimit            *int
	UsageLimitPerCustomer *int
	UsedCount             int

	CreatedAt time.Time
}

// Type returns the rule's discriminator.
func (r *Rule) Type() Type {
	if r.Spec == nil {
		return ""
	}
	return r.Spec.Type()
}

// Validate reports whether the rule definition is internally consistent.
func (r *Rule) Validate() error {
	if r.Spec == nil {
		return &InvalidRuleError{RuleID: r.ID, Reason: "missing rule type"}
	}
	if r.StartsAt != nil && r.EndsAt != nil && r.EndsAt.Before(*r.StartsAt) {
		return &InvalidRuleError{RuleID: r.ID, Reason: "ends_at is before starts_at"}
	}
	if r.UsageLimit != nil && *r.UsageLimit < 0 {
		return &InvalidRuleError{RuleID: r.ID, Reason: "negative usage_limit"}
	}
	if r.UsageLimitPerCustomer != nil && *r.UsageLimitPerCustomer < 0 {
		return &InvalidRuleError{RuleID: r.ID, Reason: "negative usage_limit_per_customer"}
	}
	if c := r.Conditions; c.MinQuantity != nil && *c.MinQuantity < 0 {
		return &InvalidRuleError{RuleID: r.ID, Reason: "negative min_quantity"}
	}
	if err := r.Spec.validate(); err != nil {
		return &InvalidRuleError{RuleID: r.ID, Reason: err.Error()}
	}
	return nil
}

// IsValid reports whether the rule is active, inside its validity window at
// now, and below its global usage limit.
func (r *Rule) IsValid(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return false
	}
	if r.UsageLimit != nil && r.UsedCount >= *r.UsageLimit {
		return false
	}
	return true
}
