package discount

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Request is the input of a cart evaluation.
type Request struct {
	Lines []CartLine
	// CustomerEmail is empty for anonymous carts.
	CustomerEmail string
	// TotalAmount is the pre-discount total supplied by the caller; it may
	// include shipping or tax and is not recomputed from Lines.
	TotalAmount decimal.Decimal
	// Exclude lists rule IDs to ignore.
	Exclude []int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for rule validity.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMeterProvider sets the meter provider for engine counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for evaluation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// Engine evaluates carts against the current rule set. It is safe for
// concurrent use.
type Engine struct {
	rules     RuleSource
	usages    UsageCounter
	now       func() time.Time
	calculate func(r *Rule, cart []CartLine, total decimal.Decimal) Outcome

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	evaluations    metric.Int64Counter
	applied        metric.Int64Counter
	skipped        metric.Int64Counter
}

// NewEngine creates an Engine reading rules from rules and per-customer
// usage from usages.
func NewEngine(rules RuleSource, usages UsageCounter, opts ...Option) *Engine {
	e := &Engine{
		rules:          rules,
		usages:         usages,
		now:            time.Now,
		calculate:      Calculate,
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, o := range opts {
		o(e)
	}

	const scope = "github.com/xenking/printshop-discounts/internal/domain/discount"
	e.tracer = e.tracerProvider.Tracer(scope)
	meter := e.meterProvider.Meter(scope)
	e.evaluations = counter(meter, "discount.evaluations", "Cart evaluations performed")
	e.applied = counter(meter, "discount.rules.applied", "Rules applied during evaluation")
	e.skipped = counter(meter, "discount.rules.skipped", "Rules skipped because of invalid definitions or calculator failures")
	return e
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

// foldState is threaded through the ordered rules.
type foldState struct {
	cart   []CartLine
	result Result
}

// Evaluate computes the discounts applicable to the cart. It reads rules
// and usage counts but never writes; calling it twice with the same inputs
// and unchanged rules yields the same result.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if req.TotalAmount.IsNegative() {
		return nil, ErrNegativeTotal
	}

	ctx, span := e.tracer.Start(ctx, "discount.Evaluate", trace.WithAttributes(
		attribute.Int("cart.lines", len(req.Lines)),
		attribute.Bool("cart.anonymous", req.CustomerEmail == ""),
	))
	defer span.End()
	e.evaluations.Add(ctx, 1)

	st := foldState{
		cart: cloneCart(req.Lines),
		result: Result{
			TotalDiscount: decimal.Zero,
			OriginalTotal: req.TotalAmount,
		},
	}
	if len(req.Lines) == 0 {
		st.result.Cart = st.cart
		return st.result.finalize(), nil
	}

	now := e.now()
	rules, err := e.rules.ListValid(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	rules = orderRules(rules, now)

	used, err := e.customerUsage(ctx, req.CustomerEmail, rules)
	if err != nil {
		return nil, errors.Wrap(err, "count customer usage")
	}

	lg := zctx.From(ctx)
	for i := range rules {
		var stop bool
		st, stop = e.step(ctx, lg, st, &rules[i], req, used)
		if stop {
			break
		}
	}

	st.result.Cart = st.cart
	res := st.result.finalize()
	span.SetAttributes(
		attribute.Int("discount.applied", len(res.Applied)),
		attribute.String("discount.total", res.TotalDiscount.String()),
	)
	return res, nil
}

// step evaluates a single rule against the fold state. The returned flag
// reports whether evaluation must stop.
func (e *Engine) step(
	ctx context.Context,
	lg *zap.Logger,
	st foldState,
	r *Rule,
	req Request,
	used map[int64]int,
) (foldState, bool) {
	if slices.Contains(req.Exclude, r.ID) {
		return st, false
	}
	if req.CustomerEmail != "" && r.UsageLimitPerCustomer != nil && used[r.ID] >= *r.UsageLimitPerCustomer {
		return st, false
	}
	if err := r.Validate(); err != nil {
		lg.Warn("Skipping invalid discount rule", zap.Int64("rule_id", r.ID), zap.Error(err))
		e.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid")))
		return st, false
	}
	if !Eligible(r, st.cart, req.TotalAmount, req.CustomerEmail) {
		return st, false
	}

	out, err := safeCalculate(e.calculate, r, st.cart, req.TotalAmount)
	if err != nil {
		lg.Error("Discount calculation failed", zap.Int64("rule_id", r.ID), zap.Error(err))
		e.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "calculator")))
		return st, false
	}
	if !out.applies() {
		return st, false
	}

	st.result.Applied = append(st.result.Applied, AppliedDiscount{
		RuleID:         r.ID,
		RuleName:       r.Name,
		RuleType:       r.Type(),
		Amount:         out.Amount,
		Combinable:     r.Combinable,
		AppliedItems:   out.AppliedItems,
		FreeItems:      out.FreeItems,
		SuggestedItems: out.Suggestions,
		Description:    r.Description,
	})
	st.result.TotalDiscount = st.result.TotalDiscount.Add(out.Amount)
	st.result.FreeItems = append(st.result.FreeItems, out.FreeItems...)
	if out.Cart != nil {
		st.cart = out.Cart
	}
	e.applied.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_type", string(r.Type()))))

	return st, r.StopFurtherRules
}

func safeCalculate(
	calc func(*Rule, []CartLine, decimal.Decimal) Outcome,
	r *Rule,
	cart []CartLine,
	total decimal.Decimal,
) (out Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("calculator panic: %v", rec)
		}
	}()
	return calc(r, cart, total), nil
}

// orderRules drops rules that are not valid at now and sorts the rest by
// descending priority, keeping source order on ties.
func orderRules(rules []Rule, now time.Time) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsValid(now) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Rule) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return out
}

// customerUsage fetches per-customer usage counts in one batch for the rules
// that declare a per-customer limit.
func (e *Engine) customerUsage(ctx context.Context, email string, rules []Rule) (map[int64]int, error) {
	if email == "" || e.usages == nil {
		return nil, nil
	}
	var ids []int64
	for _, r := range rules {
		if r.UsageLimitPerCustomer != nil {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return e.usages.CountByCustomer(ctx, email, ids)
}
