package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/collect/modules/debtors/domain/identity"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
)

// FieldError is one (field, message) pair for a row.
type FieldError struct {
	Field   string
	Message string
}

// Result is the per-row outcome. Validation never writes primary data.
type Result struct {
	RowIndex int
	Valid    bool
	Errors   []FieldError
}

var dateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006"}

// ParseDate accepts the date formats the rule set allows. Shared with the
// bulk loader so validated values always parse downstream.
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %q", v)
}

// ParseAmount strips currency formatting and parses a decimal.
func ParseAmount(v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, ",", "")
	return decimal.NewFromString(v)
}

// ParseBool accepts the truthy spellings the rule set allows.
func ParseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "y", "1":
		return true, nil
	case "false", "no", "n", "0":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized boolean: %q", v)
}

// ValidateRow applies the rule set to one projected row.
func ValidateRow(rowIndex int, fields map[string]string, rules []Rule) Result {
	var errs []FieldError

	for _, rule := range rules {
		value, present := fields[string(rule.Field)]
		switch rule.Kind {
		case RuleRequired:
			if !present || strings.TrimSpace(value) == "" {
				errs = append(errs, FieldError{Field: string(rule.Field), Message: "is required"})
			}
		case RuleNumeric:
			if present {
				if _, err := ParseAmount(value); err != nil {
					errs = append(errs, FieldError{Field: string(rule.Field), Message: fmt.Sprintf("must be numeric, got %q", value)})
				}
			}
		case RuleDate:
			if present {
				if _, err := ParseDate(value); err != nil {
					errs = append(errs, FieldError{Field: string(rule.Field), Message: fmt.Sprintf("must be a date, got %q", value)})
				}
			}
		case RuleEmail:
			if present {
				if _, err := mail.ParseAddress(value); err != nil {
					errs = append(errs, FieldError{Field: string(rule.Field), Message: fmt.Sprintf("must be an email address, got %q", value)})
				}
			}
		case RuleEnum:
			if present && !enumContains(rule.Enum, value) {
				errs = append(errs, FieldError{
					Field:   string(rule.Field),
					Message: fmt.Sprintf("must be one of %s, got %q", strings.Join(rule.Enum, "|"), value),
				})
			}
		case RuleNationalID:
			if present {
				if _, err := identity.Normalize(value); err != nil {
					errs = append(errs, FieldError{Field: string(rule.Field), Message: err.Error()})
				}
			}
		case RuleBool:
			if present {
				if _, err := ParseBool(value); err != nil {
					errs = append(errs, FieldError{Field: string(rule.Field), Message: fmt.Sprintf("must be a boolean, got %q", value)})
				}
			}
		case RuleNotBefore:
			other, otherPresent := fields[string(rule.Other)]
			if present && otherPresent {
				a, errA := ParseDate(value)
				b, errB := ParseDate(other)
				if errA == nil && errB == nil && a.Before(b) {
					errs = append(errs, FieldError{
						Field:   string(rule.Field),
						Message: fmt.Sprintf("must not precede %s", rule.Other),
					})
				}
			}
		}
	}

	return Result{RowIndex: rowIndex, Valid: len(errs) == 0, Errors: errs}
}

// ValidateAll runs the import type's rules over the whole projected row set.
func ValidateAll(typ importtype.ImportType, rows []map[string]string) (results []Result, validCount, invalidCount int) {
	rules := RulesFor(typ)
	results = make([]Result, 0, len(rows))
	for i, fields := range rows {
		res := ValidateRow(i, fields, rules)
		if res.Valid {
			validCount++
		} else {
			invalidCount++
		}
		results = append(results, res)
	}
	return results, validCount, invalidCount
}

func enumContains(enum []string, v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, e := range enum {
		if v == e {
			return true
		}
	}
	return false
}
