package mapping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/modules/imports/mapping"
)

var accountsHeader = []string{"Acct No", "SSN", "Debtor Name", "Balance", "Opened"}

func accountsColumns() map[string]string {
	return map[string]string{
		"Acct No":     "account_number",
		"SSN":         "national_id",
		"Debtor Name": "full_name",
		"Balance":     "current_balance",
		"Opened":      "open_date",
	}
}

func TestResolve(t *testing.T) {
	t.Run("ResolvesCaseInsensitively", func(t *testing.T) {
		columns := map[string]string{
			"acct no":     "account_number",
			"ssn":         "National_ID",
			"DEBTOR NAME": "full_name",
			"balance":     "current_balance",
		}
		m, err := mapping.Resolve(accountsHeader, importtype.Accounts, columns)
		require.NoError(t, err)
		assert.Equal(t, importtype.Accounts, m.ImportType())
	})

	t.Run("MissingRequiredFieldsListedSorted", func(t *testing.T) {
		columns := map[string]string{"Acct No": "account_number"}
		_, err := mapping.Resolve(accountsHeader, importtype.Accounts, columns)
		require.Error(t, err)

		var missing *mapping.MissingFieldsError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []importtype.Field{
			importtype.FieldCurrentBalance,
			importtype.FieldFullName,
			importtype.FieldNationalID,
		}, missing.Fields)
	})

	t.Run("UnknownFieldRejected", func(t *testing.T) {
		columns := accountsColumns()
		columns["Opened"] = "favorite_color"
		_, err := mapping.Resolve(accountsHeader, importtype.Accounts, columns)
		assert.ErrorContains(t, err, "unknown canonical field")
	})

	t.Run("UnknownSourceColumnRejected", func(t *testing.T) {
		columns := accountsColumns()
		columns["No Such Column"] = "last_name"
		_, err := mapping.Resolve(accountsHeader, importtype.Accounts, columns)
		assert.ErrorContains(t, err, "not found in file header")
	})

	t.Run("DuplicateFieldFromDistinctColumnsRejected", func(t *testing.T) {
		columns := accountsColumns()
		columns["Opened"] = "current_balance"
		_, err := mapping.Resolve(accountsHeader, importtype.Accounts, columns)
		assert.ErrorContains(t, err, "mapped from multiple columns")
	})

	t.Run("UnmappedOptionalReported", func(t *testing.T) {
		m, err := mapping.Resolve(accountsHeader, importtype.Accounts, accountsColumns())
		require.NoError(t, err)
		assert.Contains(t, m.Unmapped(), importtype.FieldPortfolioName)
		assert.NotContains(t, m.Unmapped(), importtype.FieldOpenDate)
	})
}

func TestProject(t *testing.T) {
	m, err := mapping.Resolve(accountsHeader, importtype.Accounts, accountsColumns())
	require.NoError(t, err)

	t.Run("TrimsAndDropsEmptyCells", func(t *testing.T) {
		got := m.Project([]string{" A-1 ", "123456789", "Jane Roe", "", "2024-01-02"})
		assert.Equal(t, map[string]string{
			"account_number": "A-1",
			"national_id":    "123456789",
			"full_name":      "Jane Roe",
			"open_date":      "2024-01-02",
		}, got)
	})

	t.Run("ShortRecordTolerated", func(t *testing.T) {
		got := m.Project([]string{"A-2", "987654321"})
		assert.Equal(t, map[string]string{
			"account_number": "A-2",
			"national_id":    "987654321",
		}, got)
	})
}

func TestMerge(t *testing.T) {
	base := map[string]string{"SSN": "national_id", "Name": "full_name"}
	overrides := map[string]string{"Name": "first_name", "Phone": "phone"}

	got := mapping.Merge(base, overrides)
	assert.Equal(t, map[string]string{
		"SSN":   "national_id",
		"Name":  "first_name",
		"Phone": "phone",
	}, got)
	// Inputs untouched.
	assert.Equal(t, "full_name", base["Name"])
}
