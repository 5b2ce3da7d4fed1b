package phone

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid kenyan mobile number")

const (
	countryCode = "254"
	keyLen      = 9
)

// Normalize returns the canonical +2547XXXXXXXX form of a Kenyan mobile number.
func Normalize(raw string) (string, error) {
	key, err := Key(raw)
	if err != nil {
		return "", err
	}
	return "+" + countryCode + key, nil
}

// Key returns the last nine digits (7XXXXXXXX) used to match guests and whitelist entries.
func Key(raw string) (string, error) {
	digits := strip(raw)
	if digits == "" {
		return "", ErrInvalidPhone
	}

	switch {
	case strings.HasPrefix(digits, "+"+countryCode):
		digits = dropTrunkZero(digits[len(countryCode)+1:])
	case strings.HasPrefix(digits, countryCode) && len(digits) >= len(countryCode)+keyLen:
		digits = dropTrunkZero(digits[len(countryCode):])
	default:
		digits = dropTrunkZero(digits)
	}

	if len(digits) != keyLen || digits[0] != '7' {
		return "", ErrInvalidPhone
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}
	return digits, nil
}

// Valid reports whether raw can be normalised.
func Valid(raw string) bool {
	_, err := Key(raw)
	return err == nil
}

// dropTrunkZero removes the national 0 prefix, which people often keep after
// the country code as in +254 0712 345 678.
func dropTrunkZero(digits string) string {
	if len(digits) == keyLen+1 && digits[0] == '0' {
		return digits[1:]
	}
	return digits
}

func strip(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return ""
		}
	}
	return b.String()
}
