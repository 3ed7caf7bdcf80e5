package validation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/modules/imports/validation"
)

func validAccountRow() map[string]string {
	return map[string]string{
		"account_number":  "A-100",
		"national_id":     "123-45-6789",
		"full_name":       "Jane Roe",
		"current_balance": "$1,250.50",
	}
}

func TestValidateRowAccounts(t *testing.T) {
	rules := validation.RulesFor(importtype.Accounts)

	t.Run("ValidRow", func(t *testing.T) {
		res := validation.ValidateRow(0, validAccountRow(), rules)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
	})

	t.Run("MissingRequired", func(t *testing.T) {
		row := validAccountRow()
		delete(row, "full_name")
		res := validation.ValidateRow(3, row, rules)
		assert.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "full_name", res.Errors[0].Field)
		assert.Equal(t, "is required", res.Errors[0].Message)
		assert.Equal(t, 3, res.RowIndex)
	})

	t.Run("BadNationalID", func(t *testing.T) {
		row := validAccountRow()
		row["national_id"] = "12345"
		res := validation.ValidateRow(0, row, rules)
		assert.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "national_id", res.Errors[0].Field)
	})

	t.Run("BadAmount", func(t *testing.T) {
		row := validAccountRow()
		row["current_balance"] = "twelve"
		res := validation.ValidateRow(0, row, rules)
		assert.False(t, res.Valid)
	})

	t.Run("EnumCaseInsensitive", func(t *testing.T) {
		row := validAccountRow()
		row["status"] = "Disputed"
		res := validation.ValidateRow(0, row, rules)
		assert.True(t, res.Valid)

		row["status"] = "pending"
		res = validation.ValidateRow(0, row, rules)
		assert.False(t, res.Valid)
	})

	t.Run("ChargeOffBeforeOpenDate", func(t *testing.T) {
		row := validAccountRow()
		row["open_date"] = "2024-06-01"
		row["charge_off_date"] = "2024-01-01"
		res := validation.ValidateRow(0, row, rules)
		assert.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "charge_off_date", res.Errors[0].Field)
	})

	t.Run("CrossFieldSkippedWhenEitherAbsent", func(t *testing.T) {
		row := validAccountRow()
		row["charge_off_date"] = "2024-01-01"
		res := validation.ValidateRow(0, row, rules)
		assert.True(t, res.Valid)
	})

	t.Run("MultipleErrorsAccumulate", func(t *testing.T) {
		row := map[string]string{
			"account_number":  "A-1",
			"national_id":     "bad",
			"current_balance": "NaNcy",
		}
		res := validation.ValidateRow(0, row, rules)
		assert.False(t, res.Valid)
		assert.GreaterOrEqual(t, len(res.Errors), 3)
	})
}

func TestValidateAll(t *testing.T) {
	rows := []map[string]string{
		validAccountRow(),
		{"account_number": "A-2"},
		validAccountRow(),
	}
	results, valid, invalid := validation.ValidateAll(importtype.Accounts, rows)
	assert.Len(t, results, 3)
	assert.Equal(t, 2, valid)
	assert.Equal(t, 1, invalid)
	assert.Equal(t, 1, results[1].RowIndex)
	assert.False(t, results[1].Valid)
}

func TestParseDate(t *testing.T) {
	for _, raw := range []string{"2024-03-05", "03/05/2024", "3/5/2024"} {
		got, err := validation.ParseDate(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), got)
	}
	_, err := validation.ParseDate("05.03.2024")
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	got, err := validation.ParseAmount(" $12,345.67 ")
	require.NoError(t, err)
	assert.Equal(t, "12345.67", got.String())

	got, err = validation.ParseAmount("-250")
	require.NoError(t, err)
	assert.Equal(t, "-250", got.String())

	_, err = validation.ParseAmount("12..3")
	assert.Error(t, err)
}

func TestParseBool(t *testing.T) {
	for _, raw := range []string{"true", "Yes", "Y", "1"} {
		got, err := validation.ParseBool(raw)
		require.NoError(t, err, raw)
		assert.True(t, got)
	}
	for _, raw := range []string{"false", "No", "n", "0"} {
		got, err := validation.ParseBool(raw)
		require.NoError(t, err, raw)
		assert.False(t, got)
	}
	_, err := validation.ParseBool("maybe")
	assert.Error(t, err)
}
