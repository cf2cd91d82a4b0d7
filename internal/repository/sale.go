package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
	"github.com/xenking/printshop-discounts/internal/domain/sale"
)

const createSaleSQL = `INSERT INTO sales
	(id, customer_email, items, discounts, original_total, total_discount, final_total, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

var _ sale.Repository = (*SaleRepository)(nil)

// SaleRepository implements sale.Repository backed by PostgreSQL.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

type saleItemDoc struct {
	ItemID       string          `json:"item_id"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	FinalPrice   decimal.Decimal `json:"final_price"`
	CategoryID   *string         `json:"category_id,omitempty"`
	FreeQuantity int             `json:"free_quantity,omitempty"`
}

type saleDiscountDoc struct {
	RuleID   int64           `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	RuleType string          `json:"rule_type"`
	Amount   decimal.Decimal `json:"amount"`
}

// Commit stores the sale and its usages in one transaction. Every usage is
// attempted so that all rules exhausted by concurrent sales are reported
// together; if any were, the transaction is rolled back.
func (r *SaleRepository) Commit(ctx context.Context, s *sale.Sale, usages []discount.Usage) error {
	items := make([]saleItemDoc, len(s.Lines))
	for i, l := range s.Lines {
		items[i] = saleItemDoc{
			ItemID:       l.ItemID,
			Name:         l.Name,
			Quantity:     l.Quantity,
			Price:        l.Price,
			FinalPrice:   l.EffectivePrice(),
			CategoryID:   l.CategoryID,
			FreeQuantity: l.FreeQuantity,
		}
	}
	discounts := make([]saleDiscountDoc, len(s.Discounts))
	for i, d := range s.Discounts {
		discounts[i] = saleDiscountDoc{
			RuleID:   d.RuleID,
			RuleName: d.RuleName,
			RuleType: string(d.RuleType),
			Amount:   d.Amount,
		}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling sale items: %w", err)
	}
	discountsJSON, err := json.Marshal(discounts)
	if err != nil {
		return fmt.Errorf("marshaling sale discounts: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning sale %q: %w", s.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, createSaleSQL,
		s.ID, nullString(s.CustomerEmail), itemsJSON, discountsJSON,
		s.OriginalTotal, s.TotalDiscount, s.FinalTotal, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating sale %q: %w", s.ID, err)
	}

	var exhausted []int64
	for _, u := range usages {
		err := recordUsage(ctx, tx, u)
		switch {
		case err == nil:
		case errors.Is(err, discount.ErrUsageLimitReached),
			errors.Is(err, discount.ErrCustomerLimitReached),
			errors.Is(err, discount.ErrRuleNotFound):
			exhausted = append(exhausted, u.RuleID)
		default:
			return err
		}
	}
	if len(exhausted) > 0 {
		return &sale.LimitExceededError{RuleIDs: exhausted}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing sale %q: %w", s.ID, err)
	}
	return nil
}
