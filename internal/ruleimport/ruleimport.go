// Package ruleimport converts portable rule documents, such as the seed YAML
// file or NDJSON exports, into validated discount rules.
package ruleimport

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/go-faster/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxLineBytes bounds a single NDJSON record.
const maxLineBytes = 1 << 20

// Document is one rule as written by humans (YAML) or exported by other
// systems (NDJSON, using the database column names).
type Document struct {
	Name                  string         `yaml:"name" json:"name"`
	Description           string         `yaml:"description" json:"description"`
	RuleType              string         `yaml:"rule_type" json:"rule_type"`
	Priority              int            `yaml:"priority" json:"priority"`
	Active                *bool          `yaml:"active" json:"is_active"`
	Combinable            *bool          `yaml:"combinable" json:"combinable_with_other_discounts"`
	StopFurtherRules      bool           `yaml:"stop_further_rules" json:"stop_further_rules"`
	UsageLimit            *int           `yaml:"usage_limit" json:"usage_limit"`
	UsageLimitPerCustomer *int           `yaml:"usage_limit_per_customer" json:"usage_limit_per_customer"`
	StartsAt              *time.Time     `yaml:"starts_at" json:"starts_at"`
	EndsAt                *time.Time     `yaml:"ends_at" json:"ends_at"`
	Conditions            map[string]any `yaml:"conditions" json:"conditions"`
	Actions               map[string]any `yaml:"actions" json:"actions"`
}

// ErrMissingName is returned for documents without a rule name.
var ErrMissingName = errors.New("rule name is required")

// UnsupportedTypeError is returned for rule types the engine does not know.
type UnsupportedTypeError struct {
	RuleType string
}

func (e *UnsupportedTypeError) Error() string {
	return "unsupported rule type " + `"` + e.RuleType + `"`
}

// Rule decodes and validates the document. Documents without an explicit
// active or combinable flag are active and combinable.
func (d Document) Rule() (*discount.Rule, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil, ErrMissingName
	}
	if !lo.Contains(discount.Types(), discount.Type(d.RuleType)) {
		return nil, &UnsupportedTypeError{RuleType: d.RuleType}
	}

	conditions, err := json.Marshal(d.Conditions)
	if err != nil {
		return nil, errors.Wrapf(err, "encode conditions of %q", name)
	}
	actions, err := json.Marshal(d.Actions)
	if err != nil {
		return nil, errors.Wrapf(err, "encode actions of %q", name)
	}
	c, spec, err := discount.DecodeDefinition(d.RuleType, conditions, actions)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %q", name)
	}

	r := &discount.Rule{
		Name:                  name,
		Description:           d.Description,
		Active:                d.Active == nil || *d.Active,
		Priority:              d.Priority,
		Conditions:            c,
		Spec:                  spec,
		Combinable:            d.Combinable == nil || *d.Combinable,
		StopFurtherRules:      d.StopFurtherRules,
		StartsAt:              d.StartsAt,
		EndsAt:                d.EndsAt,
		UsageLimit:            d.UsageLimit,
		UsageLimitPerCustomer: d.UsageLimitPerCustomer,
	}
	if err := r.Validate(); err != nil {
		return nil, errors.Wrapf(err, "validate %q", name)
	}
	return r, nil
}

type yamlFile struct {
	Rules []Document `yaml:"rules"`
}

// ParseYAML reads a document list of the form `rules: [...]`.
func ParseYAML(data []byte) ([]Document, error) {
	var f yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "decode yaml")
	}
	return f.Rules, nil
}

// ScanNDJSON calls fn for every non-blank line of r, numbered from 1. A line
// that is not valid JSON stops the scan.
func ScanNDJSON(r io.Reader, fn func(line int, d Document) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var d Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if err := fn(line, d); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}
	return nil
}
