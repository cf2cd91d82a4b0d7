package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
)

const (
	ruleColumns = `id, name, description, rule_type, conditions, actions, priority, is_active,
		combinable_with_other_discounts, stop_further_rules, starts_at, ends_at,
		usage_limit, usage_limit_per_customer, used_count, created_at`

	listValidRulesSQL = `SELECT ` + ruleColumns + ` FROM discount_rules
		WHERE is_active
			AND (starts_at IS NULL OR starts_at <= $1)
			AND (ends_at IS NULL OR ends_at >= $1)
			AND (usage_limit IS NULL OR used_count < usage_limit)
		ORDER BY priority DESC, created_at ASC, id ASC`

	upsertRuleSQL = `INSERT INTO discount_rules (name, description, rule_type, conditions, actions,
			priority, is_active, combinable_with_other_discounts, stop_further_rules,
			starts_at, ends_at, usage_limit, usage_limit_per_customer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			rule_type = EXCLUDED.rule_type,
			conditions = EXCLUDED.conditions,
			actions = EXCLUDED.actions,
			priority = EXCLUDED.priority,
			is_active = EXCLUDED.is_active,
			combinable_with_other_discounts = EXCLUDED.combinable_with_other_discounts,
			stop_further_rules = EXCLUDED.stop_further_rules,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			usage_limit = EXCLUDED.usage_limit,
			usage_limit_per_customer = EXCLUDED.usage_limit_per_customer,
			updated_at = now()
		RETURNING id`
)

var _ discount.RuleSource = (*RuleRepository)(nil)

// RuleRepository stores discount rules in PostgreSQL.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository returns a RuleRepository that uses the given pool.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// storedRule is a discount_rules row before its definition is decoded.
type storedRule struct {
	rule       discount.Rule
	ruleType   string
	conditions []byte
	actions    []byte
}

// ListValid returns the active rules whose window contains now and whose
// global limit is not exhausted, by descending priority and then creation
// order. Rows whose definition cannot be decoded are logged and skipped.
func (r *RuleRepository) ListValid(ctx context.Context, now time.Time) ([]discount.Rule, error) {
	rows, err := r.pool.Query(ctx, listValidRulesSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing valid rules: %w", err)
	}
	stored, err := pgx.CollectRows(rows, scanStoredRule)
	if err != nil {
		return nil, fmt.Errorf("listing valid rules: %w", err)
	}

	lg := zctx.From(ctx)
	rules := make([]discount.Rule, 0, len(stored))
	for _, s := range stored {
		c, spec, err := discount.DecodeDefinition(s.ruleType, s.conditions, s.actions)
		if err != nil {
			lg.Warn("Skipping undecodable discount rule",
				zap.Int64("rule_id", s.rule.ID),
				zap.String("rule_type", s.ruleType),
				zap.Error(err),
			)
			continue
		}
		s.rule.Conditions = c
		s.rule.Spec = spec
		rules = append(rules, s.rule)
	}
	return rules, nil
}

// Upsert inserts the rule or updates the existing rule with the same name.
// The usage counter of an existing rule is preserved. It returns the rule ID.
func (r *RuleRepository) Upsert(ctx context.Context, rule *discount.Rule) (int64, error) {
	ruleType, conditions, actions, err := discount.EncodeDefinition(rule.Conditions, rule.Spec)
	if err != nil {
		return 0, fmt.Errorf("encoding rule %q: %w", rule.Name, err)
	}

	var id int64
	err = r.pool.QueryRow(ctx, upsertRuleSQL,
		rule.Name, rule.Description, ruleType, conditions, actions,
		rule.Priority, rule.Active, rule.Combinable, rule.StopFurtherRules,
		rule.StartsAt, rule.EndsAt, int32Ptr(rule.UsageLimit), int32Ptr(rule.UsageLimitPerCustomer),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting rule %q: %w", rule.Name, err)
	}
	return id, nil
}

func scanStoredRule(row pgx.CollectableRow) (storedRule, error) {
	var (
		s           storedRule
		priority    int32
		usageLimit  *int32
		perCustomer *int32
		usedCount   int32
	)
	err := row.Scan(
		&s.rule.ID, &s.rule.Name, &s.rule.Description, &s.ruleType, &s.conditions, &s.actions,
		&priority, &s.rule.Active, &s.rule.Combinable, &s.rule.StopFurtherRules,
		&s.rule.StartsAt, &s.rule.EndsAt, &usageLimit, &perCustomer, &usedCount, &s.rule.CreatedAt,
	)
	s.rule.Priority = int(priority)
	s.rule.UsageLimit = intPtr(usageLimit)
	s.rule.UsageLimitPerCustomer = intPtr(perCustomer)
	s.rule.UsedCount = int(usedCount)
	return s, err
}
