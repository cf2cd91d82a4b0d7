package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
)

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.StringFixed(2)))
}

func encodeEvaluation(e *jx.Encoder, res *discount.Result) {
	e.FieldStart("applied_discounts")
	e.ArrStart()
	for _, d := range res.Applied {
		encodeAppliedDiscount(e, d)
	}
	e.ArrEnd()

	e.FieldStart("total_discount")
	encodeMoney(e, res.TotalDiscount)
	e.FieldStart("original_total")
	encodeMoney(e, res.OriginalTotal)
	e.FieldStart("final_total")
	encodeMoney(e, res.FinalTotal)

	e.FieldStart("free_items")
	encodeFreeItems(e, res.FreeItems)

	e.FieldStart("cart_items")
	e.ArrStart()
	for _, l := range res.Cart {
		e.ObjStart()
		e.FieldStart("item_id")
		e.Str(l.ItemID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("free_quantity")
		e.Int(l.FreeQuantity)
		e.FieldStart("price")
		encodeMoney(e, l.Price)
		e.FieldStart("final_price")
		encodeMoney(e, l.EffectivePrice())
		e.FieldStart("category_id")
		if l.CategoryID != nil {
			e.Str(*l.CategoryID)
		} else {
			e.Null()
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeAppliedDiscount(e *jx.Encoder, d discount.AppliedDiscount) {
	e.ObjStart()
	e.FieldStart("rule_id")
	e.Int64(d.RuleID)
	e.FieldStart("rule_name")
	e.Str(d.RuleName)
	e.FieldStart("rule_type")
	e.Str(string(d.RuleType))
	e.FieldStart("discount_amount")
	encodeMoney(e, d.Amount)
	e.FieldStart("combinable")
	e.Bool(d.Combinable)
	e.FieldStart("description")
	e.Str(d.Description)

	e.FieldStart("applied_items")
	e.ArrStart()
	for _, it := range d.AppliedItems {
		e.ObjStart()
		e.FieldStart("item_id")
		e.Str(it.ItemID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("discount")
		encodeMoney(e, it.Discount)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("free_items")
	encodeFreeItems(e, d.FreeItems)

	e.FieldStart("suggested_items")
	e.ArrStart()
	for _, s := range d.SuggestedItems {
		e.ObjStart()
		e.FieldStart("item_id")
		e.Str(s.ItemID)
		e.FieldStart("name")
		e.Str(s.Name)
		e.FieldStart("current_quantity")
		e.Int(s.CurrentQuantity)
		e.FieldStart("suggested_quantity")
		e.Int(s.SuggestedQuantity)
		e.FieldStart("savings")
		encodeMoney(e, s.Savings)
		e.FieldStart("status")
		e.Str(s.Status)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeFreeItems(e *jx.Encoder, items []discount.FreeItem) {
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("item_id")
		e.Str(it.ItemID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("discount")
		encodeMoney(e, it.Discount)
		e.FieldStart("status")
		e.Str(it.Status)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeRule(e *jx.Encoder, r discount.Rule) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(r.ID)
	e.FieldStart("name")
	e.Str(r.Name)
	e.FieldStart("description")
	e.Str(r.Description)
	e.FieldStart("rule_type")
	e.Str(string(r.Type()))
	e.FieldStart("priority")
	e.Int(r.Priority)
	e.FieldStart("combinable_with_other_discounts")
	e.Bool(r.Combinable)
	e.FieldStart("stop_further_rules")
	e.Bool(r.StopFurtherRules)
	e.FieldStart("usage_limit")
	encodeOptInt(e, r.UsageLimit)
	e.FieldStart("usage_limit_per_customer")
	encodeOptInt(e, r.UsageLimitPerCustomer)
	e.FieldStart("used_count")
	e.Int(r.UsedCount)
	e.FieldStart("starts_at")
	encodeOptTime(e, r.StartsAt)
	e.FieldStart("ends_at")
	encodeOptTime(e, r.EndsAt)
	e.ObjEnd()
}

func encodeOptInt(e *jx.Encoder, v *int) {
	if v == nil {
		e.Null()
		return
	}
	e.Int(*v)
}

func encodeOptTime(e *jx.Encoder, v *time.Time) {
	if v == nil {
		e.Null()
		return
	}
	e.Str(v.UTC().Format(time.RFC3339))
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, &e)
}
