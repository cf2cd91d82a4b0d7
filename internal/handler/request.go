package handler

import (
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
	"github.com/xenking/printshop-discounts/internal/domain/sale"
)

type cartItemRequest struct {
	ItemID     string          `json:"item_id" validate:"required,max=64"`
	Name       string          `json:"name" validate:"max=255"`
	Quantity   int             `json:"quantity" validate:"gt=0"`
	Price      decimal.Decimal `json:"price" validate:"gte=0"`
	FinalPrice decimal.Decimal `json:"final_price" validate:"gte=0"`
	CategoryID *string         `json:"category_id" validate:"omitempty,max=64"`
}

type cartRequest struct {
	Items         []cartItemRequest `json:"items" validate:"max=500,dive"`
	CustomerEmail string            `json:"customer_email" validate:"omitempty,email"`
	TotalAmount   *decimal.Decimal  `json:"total_amount"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// ValidationError is a request that decoded but failed field validation.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return e.Field + ": failed " + e.Rule + " validation"
}

func (h *Handler) validate(req *cartRequest) error {
	err := h.validator.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.Wrap(err, "validate")
	}
	fe := fieldErrs[0]
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	return &ValidationError{Field: field, Rule: fe.Tag()}
}

// Cart converts the request to the domain cart. A missing total_amount
// defaults to the line subtotal.
func (r *cartRequest) Cart() sale.Cart {
	lines := make([]discount.CartLine, len(r.Items))
	for i, it := range r.Items {
		lines[i] = discount.CartLine{
			ItemID:     it.ItemID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			Price:      it.Price,
			FinalPrice: it.FinalPrice,
			CategoryID: it.CategoryID,
		}
	}
	total := discount.Subtotal(lines)
	if r.TotalAmount != nil {
		total = *r.TotalAmount
	}
	return sale.Cart{
		Lines:         lines,
		CustomerEmail: r.CustomerEmail,
		TotalAmount:   total,
	}
}

func decodeCartRequest(data []byte) (*cartRequest, error) {
	var req cartRequest
	if err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var it cartItemRequest
				if err := it.decode(d); err != nil {
					return errors.Wrapf(err, "items[%d]", len(req.Items))
				}
				req.Items = append(req.Items, it)
				return nil
			})
		case "customer_email":
			s, err := decodeOptStr(d)
			if err != nil {
				return errors.Wrap(err, key)
			}
			req.CustomerEmail = strings.TrimSpace(s)
		case "total_amount":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, key)
			}
			req.TotalAmount = &v
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &req, nil
}

func (it *cartItemRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "item_id":
			it.ItemID, err = decodeID(d)
		case "name":
			it.Name, err = decodeOptStr(d)
		case "quantity":
			it.Quantity, err = d.Int()
		case "price":
			it.Price, err = decodeDecimal(d)
		case "final_price":
			if d.Next() == jx.Null {
				return d.Null()
			}
			it.FinalPrice, err = decodeDecimal(d)
		case "category_id":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var id string
			if id, err = decodeID(d); err == nil {
				it.CategoryID = &id
			}
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		return decimal.Zero, errors.Errorf("expected number, got %s", d.Next())
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse decimal")
	}
	return v, nil
}

// decodeID accepts identifiers sent as strings or integers.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", errors.Errorf("expected string or number, got %s", d.Next())
	}
}

func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
