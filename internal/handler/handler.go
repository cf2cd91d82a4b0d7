// Package handler serves the discount HTTP API.
package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
	"github.com/xenking/printshop-discounts/internal/domain/sale"
)

const maxBodyBytes = 1 << 20

// SaleService prices carts and finalizes sales.
type SaleService interface {
	Quote(ctx context.Context, c sale.Cart) (*discount.Result, error)
	Finalize(ctx context.Context, c sale.Cart) (*sale.Receipt, error)
}

// Handler serves cart evaluation, sale finalization and rule listing.
type Handler struct {
	sales     SaleService
	rules     discount.RuleSource
	validator *validator.Validate
	now       func() time.Time
}

// New constructs a Handler. Rules are listed from rules, which is usually the
// same cached source the engine reads.
func New(sales SaleService, rules discount.RuleSource) *Handler {
	return &Handler{
		sales:     sales,
		rules:     rules,
		validator: newValidator(),
		now:       time.Now,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/cart/evaluate", h.EvaluateCart)
	mux.HandleFunc("POST /api/sales", h.CreateSale)
	mux.HandleFunc("GET /api/discount-rules", h.ListRules)
}

// EvaluateCart previews the discounts for a cart.
func (h *Handler) EvaluateCart(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readCart(w, r)
	if !ok {
		return
	}
	res, err := h.sales.Quote(r.Context(), req.Cart())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	encodeEvaluation(&e, res)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// CreateSale finalizes a sale and records usage of every applied rule.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readCart(w, r)
	if !ok {
		return
	}
	receipt, err := h.sales.Finalize(r.Context(), req.Cart())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("sale_id")
	e.Str(receipt.Sale.ID)
	e.FieldStart("created_at")
	e.Str(receipt.Sale.CreatedAt.UTC().Format(time.RFC3339))
	encodeEvaluation(&e, receipt.Result)
	e.ObjEnd()
	writeJSON(w, http.StatusCreated, &e)
}

// ListRules returns the currently valid rules in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListValid(r.Context(), h.now())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list rules"))
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("rules")
	e.ArrStart()
	for _, rule := range rules {
		encodeRule(&e, rule)
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) readCart(w http.ResponseWriter, r *http.Request) (*cartRequest, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "read request body")
		return nil, false
	}
	req, err := decodeCartRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return nil, false
	}
	if err := h.validate(req); err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return req, true
}

// fail maps domain errors to status codes. Anything unrecognized is logged
// and reported as a 500 without details.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *ValidationError
		quantityErr   *sale.InvalidQuantityError
		priceErr      *sale.InvalidPriceError
		limitErr      *sale.LimitExceededError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusUnprocessableEntity, validationErr.Error())
	case errors.As(err, &quantityErr):
		writeError(w, http.StatusUnprocessableEntity, quantityErr.Error())
	case errors.As(err, &priceErr):
		writeError(w, http.StatusUnprocessableEntity, priceErr.Error())
	case errors.Is(err, sale.ErrEmptyLines):
		writeError(w, http.StatusUnprocessableEntity, sale.ErrEmptyLines.Error())
	case errors.Is(err, discount.ErrNegativeTotal):
		writeError(w, http.StatusUnprocessableEntity, discount.ErrNegativeTotal.Error())
	case errors.As(err, &limitErr):
		writeError(w, http.StatusConflict, limitErr.Error())
	default:
		zctx.From(r.Context()).Error("Unhandled API error", zap.Error(err), zap.String("path", r.URL.Path))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
