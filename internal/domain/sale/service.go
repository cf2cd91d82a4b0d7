package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyLines = errors.New("cart lines required")
)

// InvalidQuantityError indicates a cart line has a non-positive quantity.
type InvalidQuantityError struct {
	ItemID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for item %s", e.ItemID)
}

// InvalidPriceError indicates a cart line has a negative price.
type InvalidPriceError struct {
	ItemID string
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("price must not be negative for item %s", e.ItemID)
}

// Evaluator prices a cart.
type Evaluator interface {
	Evaluate(ctx context.Context, req discount.Request) (*discount.Result, error)
}

// Receipt is the output of a successful Finalize.
type Receipt struct {
	Sale   *Sale
	Result *discount.Result
	// Attempts is the number of pricing rounds the commit needed.
	Attempts int
}

// Option configures a Service.
type Option func(*Service)

// WithMaxAttempts bounds how many times Finalize re-prices after a rule's
// limit is exhausted concurrently.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// Invalidator drops cached rule state.
type Invalidator interface {
	Invalidate()
}

// WithInvalidator registers a cache to invalidate whenever a commit finds a
// rule's limit exhausted, so later quotes stop offering it.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// WithClock overrides the time source used for sale timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service encapsulates checkout pricing and sale finalization.
type Service struct {
	engine      Evaluator
	sales       Repository
	maxAttempts int
	invalidator Invalidator
	now         func() time.Time
}

// NewService creates a sale Service.
func NewService(engine Evaluator, sales Repository, opts ...Option) *Service {
	s := &Service{
		engine:      engine,
		sales:       sales,
		maxAttempts: 3,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func validateLines(lines []discount.CartLine) error {
	for _, l := range lines {
		if l.Quantity <= 0 {
			return &InvalidQuantityError{ItemID: l.ItemID}
		}
		if l.Price.IsNegative() || l.FinalPrice.IsNegative() {
			return &InvalidPriceError{ItemID: l.ItemID}
		}
	}
	return nil
}

// Quote prices the cart without recording anything.
func (s *Service) Quote(ctx context.Context, c Cart) (*discount.Result, error) {
	if err := validateLines(c.Lines); err != nil {
		return nil, err
	}
	res, err := s.engine.Evaluate(ctx, discount.Request{
		Lines:         c.Lines,
		CustomerEmail: c.CustomerEmail,
		TotalAmount:   c.TotalAmount,
	})
	if err != nil {
		return nil, errors.Wrap(err, "evaluate cart")
	}
	return res, nil
}

// Finalize prices the cart, stores the sale and records one usage per
// rule that reduced the total. When a rule runs out of uses between pricing and commit, that
// rule is dropped and the cart is priced again, so the sale goes through with
// the remaining discounts.
func (s *Service) Finalize(ctx context.Context, c Cart) (*Receipt, error) {
	if len(c.Lines) == 0 {
		return nil, ErrEmptyLines
	}
	if err := validateLines(c.Lines); err != nil {
		return nil, err
	}

	saleID := uuid.New().String()
	lg := zctx.From(ctx).With(zap.String("sale_id", saleID))

	var exclude []int64
	for attempt := 1; ; attempt++ {
		res, err := s.engine.Evaluate(ctx, discount.Request{
			Lines:         c.Lines,
			CustomerEmail: c.CustomerEmail,
			TotalAmount:   c.TotalAmount,
			Exclude:       exclude,
		})
		if err != nil {
			return nil, errors.Wrap(err, "evaluate cart")
		}

		now := s.now()
		sl := &Sale{
			ID:            saleID,
			CustomerEmail: c.CustomerEmail,
			Lines:         res.Cart,
			Discounts:     res.Applied,
			OriginalTotal: res.OriginalTotal,
			TotalDiscount: res.TotalDiscount,
			FinalTotal:    res.FinalTotal,
			CreatedAt:     now,
		}
		usages := make([]discount.Usage, 0, len(res.Applied))
		for _, d := range res.Applied {
			// Suggestions are shown to the customer but use up nothing.
			if !d.Amount.IsPositive() {
				continue
			}
			u, err := discount.NewUsage(saleID, c.CustomerEmail, d, now)
			if err != nil {
				return nil, err
			}
			usages = append(usages, u)
		}

		err = s.sales.Commit(ctx, sl, usages)
		var limitErr *LimitExceededError
		if errors.As(err, &limitErr) && s.invalidator != nil {
			s.invalidator.Invalidate()
		}
		if errors.As(err, &limitErr) && attempt < s.maxAttempts && len(limitErr.RuleIDs) > 0 {
			lg.Info("Discount limit exhausted, re-pricing sale",
				zap.Int64s("rule_ids", limitErr.RuleIDs),
				zap.Int("attempt", attempt),
			)
			exclude = append(exclude, limitErr.RuleIDs...)
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "commit sale")
		}

		lg.Debug("Sale finalized",
			zap.Int("discounts", len(res.Applied)),
			zap.String("final_total", res.FinalTotal.String()),
		)
		return &Receipt{Sale: sl, Result: res, Attempts: attempt}, nil
	}
}
