package persistence

import (
	"time"

	"github.com/shopspring/decimal"
)

// pgTime maps a zero time.Time onto SQL NULL.
func pgTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Amounts travel as text: numeric columns are cast on the way in and out so
// scanning stays independent of driver codecs.
func pgDecimal(d decimal.Decimal) string {
	return d.String()
}

func decimalOrZero(s *string) decimal.Decimal {
	if s == nil || *s == "" {
		return decimal.Decimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.Decimal{}
	}
	return d
}
