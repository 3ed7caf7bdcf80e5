package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/collect/modules/debtors/domain/identity"
)

func TestNormalize(t *testing.T) {
	t.Run("StripsFormatting", func(t *testing.T) {
		got, err := identity.Normalize("123-45-6789")
		require.NoError(t, err)
		assert.Equal(t, "123456789", got)
	})

	t.Run("MasksZAsZero", func(t *testing.T) {
		got, err := identity.Normalize("12345678z")
		require.NoError(t, err)
		assert.Equal(t, "123456780", got)

		got, err = identity.Normalize("Z2345678Z")
		require.NoError(t, err)
		assert.Equal(t, "023456780", got)
	})

	t.Run("Idempotent", func(t *testing.T) {
		once, err := identity.Normalize(" 987-65-432z ")
		require.NoError(t, err)
		twice, err := identity.Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})

	t.Run("RejectsWrongLength", func(t *testing.T) {
		for _, raw := range []string{"", "12345678", "1234567890", "abc", "12-34"} {
			_, err := identity.Normalize(raw)
			assert.ErrorIs(t, err, identity.ErrInvalidNationalID, "input %q", raw)
		}
	})

	t.Run("IgnoresOtherLetters", func(t *testing.T) {
		got, err := identity.Normalize("SSN: 123456789")
		require.NoError(t, err)
		assert.Equal(t, "123456789", got)
	})
}
