package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
)

const (
	// The conditional increment is the only write to used_count; it takes the
	// rule's row lock, which serializes concurrent usages of the same rule.
	incrementUsedCountSQL = `UPDATE discount_rules
		SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)
		RETURNING usage_limit_per_customer`

	ruleExistsSQL = `SELECT EXISTS (SELECT 1 FROM discount_rules WHERE id = $1)`

	countCustomerUsageSQL = `SELECT count(*) FROM discount_rule_usages
		WHERE rule_id = $1 AND customer_email = $2`

	insertUsageSQL = `INSERT INTO discount_rule_usages
		(id, rule_id, sale_id, customer_email, discount_amount, applied_items, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	countByCustomerSQL = `SELECT rule_id, count(*) FROM discount_rule_usages
		WHERE customer_email = $1 AND rule_id = ANY($2)
		GROUP BY rule_id`
)

var (
	_ discount.UsageRecorder = (*UsageRepository)(nil)
	_ discount.UsageCounter  = (*UsageRepository)(nil)
)

// UsageRepository records and counts discount rule usage in PostgreSQL.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository returns a UsageRepository that uses the given pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// RecordUsage stores one usage and increments the rule's counter in a single
// transaction.
func (r *UsageRepository) RecordUsage(ctx context.Context, u discount.Usage) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return recordUsage(ctx, tx, u)
	})
}

// CountByCustomer returns how many times the customer used each rule. Rules
// without usage are absent from the map.
func (r *UsageRepository) CountByCustomer(ctx context.Context, email string, ruleIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(ruleIDs))
	if email == "" || len(ruleIDs) == 0 {
		return counts, nil
	}

	rows, err := r.pool.Query(ctx, countByCustomerSQL, email, ruleIDs)
	if err != nil {
		return nil, fmt.Errorf("counting usage for customer: %w", err)
	}
	var (
		ruleID int64
		n      int64
	)
	_, err = pgx.ForEachRow(rows, []any{&ruleID, &n}, func() error {
		counts[ruleID] = int(n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("counting usage for customer: %w", err)
	}
	return counts, nil
}

// recordUsage increments the rule's counter, re-checks the per-customer
// limit and inserts the usage row within tx.
func recordUsage(ctx context.Context, tx pgx.Tx, u discount.Usage) error {
	var perCustomer *int32
	err := tx.QueryRow(ctx, incrementUsedCountSQL, u.RuleID).Scan(&perCustomer)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("incrementing usage of rule %d: %w", u.RuleID, err)
		}
		var exists bool
		if err := tx.QueryRow(ctx, ruleExistsSQL, u.RuleID).Scan(&exists); err != nil {
			return fmt.Errorf("checking rule %d: %w", u.RuleID, err)
		}
		if !exists {
			return discount.ErrRuleNotFound
		}
		return discount.ErrUsageLimitReached
	}

	if perCustomer != nil && u.CustomerEmail != "" {
		var used int64
		if err := tx.QueryRow(ctx, countCustomerUsageSQL, u.RuleID, u.CustomerEmail).Scan(&used); err != nil {
			return fmt.Errorf("counting customer usage of rule %d: %w", u.RuleID, err)
		}
		if used >= int64(*perCustomer) {
			return discount.ErrCustomerLimitReached
		}
	}

	items := u.AppliedItems
	if len(items) == 0 {
		items = []byte("{}")
	}
	_, err = tx.Exec(ctx, insertUsageSQL,
		u.ID, u.RuleID, nullString(u.SaleID), nullString(u.CustomerEmail),
		u.DiscountAmount, items, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting usage of rule %d: %w", u.RuleID, err)
	}
	return nil
}
