package discount

import (
	"bytes"
	"strconv"

	"github.com/go-faster/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// idList decodes a JSON array of string or numeric identifiers. Absent and
// null stay nil; an empty array decodes to an empty, non-nil slice.
type idList []string

func (l *idList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = nil
		return nil
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch v := v.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			return errors.Errorf("unsupported identifier %v", v)
		}
	}
	*l = out
	return nil
}

// flexInt accepts both 3 and "3".
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Wrapf(err, "parse integer %q", s)
	}
	*n = flexInt(v)
	return nil
}

type tierDoc struct {
	MinQuantity   flexInt         `json:"min_quantity"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

type conditionsDoc struct {
	MinQuantity *flexInt         `json:"min_quantity"`
	MinAmount   *decimal.Decimal `json:"min_amount"`
	Products    idList           `json:"products"`
	Categories  idList           `json:"categories"`
	BuyQuantity *flexInt         `json:"buy_quantity"`
	ProductIDs  idList           `json:"product_ids"`
	Tiers       []tierDoc        `json:"tiers"`
}

type actionsDoc struct {
	DiscountType  string           `json:"discount_type"`
	DiscountValue *decimal.Decimal `json:"discount_value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount"`
	GetQuantity   *flexInt         `json:"get_quantity"`
	Tiers         []tierDoc        `json:"tiers"`
	TierDiscounts []tierDoc        `json:"tier_discounts"`
}

func decodeDoc(data []byte, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, v)
}

// DecodeDefinition turns a stored rule_type with its conditions and actions
// JSON objects into typed Conditions and a Spec variant. Unknown rule types
// decode to UnknownRule.
func DecodeDefinition(ruleType string, conditions, actions []byte) (Conditions, Spec, error) {
	var (
		cd conditionsDoc
		ad actionsDoc
	)
	if err := decodeDoc(conditions, &cd); err != nil {
		return Conditions{}, nil, errors.Wrap(err, "decode conditions")
	}
	if err := decodeDoc(actions, &ad); err != nil {
		return Conditions{}, nil, errors.Wrap(err, "decode actions")
	}

	c := Conditions{
		MinAmount:  cd.MinAmount,
		Products:   cd.Products,
		Categories: cd.Categories,
	}
	if cd.MinQuantity != nil {
		v := int(*cd.MinQuantity)
		c.MinQuantity = &v
	}

	action := Action{
		Kind:        Kind(ad.DiscountType),
		MaxDiscount: ad.MaxDiscount,
	}
	if ad.DiscountValue != nil {
		action.Value = *ad.DiscountValue
	}

	switch t := Type(ruleType); t {
	case TypeQuantity:
		return c, QuantityDiscount{Action: action}, nil
	case TypeCart:
		return c, CartDiscount{Action: action}, nil
	case TypeCategory:
		return c, CategoryDiscount{Action: action}, nil
	case TypeTiered:
		docs := ad.Tiers
		if docs == nil {
			docs = ad.TierDiscounts
		}
		if docs == nil {
			docs = cd.Tiers
		}
		tiers := make([]Tier, len(docs))
		for i, d := range docs {
			tiers[i] = Tier{
				MinQuantity: int(d.MinQuantity),
				Kind:        Kind(d.DiscountType),
				Value:       d.DiscountValue,
			}
		}
		return c, TieredDiscount{Tiers: tiers, MaxDiscount: ad.MaxDiscount}, nil
	case TypeBuyXGetY:
		s := BuyXGetY{ProductIDs: cd.ProductIDs}
		if s.ProductIDs == nil {
			s.ProductIDs = cd.Products
		}
		if cd.BuyQuantity != nil {
			s.BuyQuantity = int(*cd.BuyQuantity)
		}
		if ad.GetQuantity != nil {
			s.GetQuantity = int(*ad.GetQuantity)
		}
		return c, s, nil
	case TypeBundle:
		return c, BundleDiscount{}, nil
	default:
		return c, UnknownRule{Literal: ruleType}, nil
	}
}

// EncodeDefinition is the inverse of DecodeDefinition. It returns the rule
// type literal and the conditions and actions JSON objects.
func EncodeDefinition(c Conditions, spec Spec) (ruleType string, conditions, actions []byte, err error) {
	if spec == nil {
		return "", nil, nil, errors.New("missing rule spec")
	}
	cond := map[string]any{}
	if c.MinQuantity != nil {
		cond["min_quantity"] = *c.MinQuantity
	}
	if c.MinAmount != nil {
		cond["min_amount"] = *c.MinAmount
	}
	if c.Products != nil {
		cond["products"] = c.Products
	}
	if c.Categories != nil {
		cond["categories"] = c.Categories
	}

	act := map[string]any{}
	putAction := func(a Action) {
		act["discount_type"] = a.Kind
		act["discount_value"] = a.Value
		if a.MaxDiscount != nil {
			act["max_discount"] = *a.MaxDiscount
		}
	}

	switch s := spec.(type) {
	case QuantityDiscount:
		putAction(s.Action)
	case CartDiscount:
		putAction(s.Action)
	case CategoryDiscount:
		putAction(s.Action)
	case TieredDiscount:
		tiers := make([]map[string]any, len(s.Tiers))
		for i, t := range s.Tiers {
			tiers[i] = map[string]any{
				"min_quantity":   t.MinQuantity,
				"discount_type":  t.Kind,
				"discount_value": t.Value,
			}
		}
		act["tiers"] = tiers
		if s.MaxDiscount != nil {
			act["max_discount"] = *s.MaxDiscount
		}
	case BuyXGetY:
		cond["buy_quantity"] = s.BuyQuantity
		if s.ProductIDs != nil {
			cond["product_ids"] = s.ProductIDs
		}
		act["get_quantity"] = s.GetQuantity
	case BundleDiscount, UnknownRule:
	}

	if conditions, err = json.Marshal(cond); err != nil {
		return "", nil, nil, errors.Wrap(err, "encode conditions")
	}
	if actions, err = json.Marshal(act); err != nil {
		return "", nil, nil, errors.Wrap(err, "encode actions")
	}
	return string(spec.Type()), conditions, actions, nil
}
