package identity

import (
	"errors"
	"strings"
)

// ErrInvalidNationalID is returned when the input does not reduce to exactly
// nine digits.
var ErrInvalidNationalID = errors.New("national id must contain exactly 9 digits")

// Normalize canonicalizes raw national-ID text into a 9-digit key. Some
// upstream vendors mask redacted digits with the letter z, so z/Z map to 0
// before non-digits are stripped. Deterministic and idempotent.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'z' || r == 'Z':
			b.WriteByte('0')
		}
	}
	key := b.String()
	if len(key) != 9 {
		return "", ErrInvalidNationalID
	}
	return key, nil
}
