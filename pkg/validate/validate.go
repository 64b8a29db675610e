package validate

import (
	"errors"
	"math"

	"github.com/ShiraazMoollatjie/goluhn"
)

const (
	accountNumberLen = 8
	bankCardLen      = 16
	pinLen           = 4
)

var (
	ErrAmountNotPositive = errors.New("amount must be positive")
	ErrAmountNotFinite   = errors.New("amount must be finite")
	ErrAmountPrecision   = errors.New("amount must have at most two decimal places")
)

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsAccountNumber reports whether s looks like an internal account number:
// exactly 8 digits.
func IsAccountNumber(s string) bool {
	return len(s) == accountNumberLen && isDigits(s)
}

// IsBankCardNumber reports whether s looks like an external bank card or
// account number: exactly 16 digits with a valid Luhn check digit.
func IsBankCardNumber(s string) bool {
	if len(s) != bankCardLen || !isDigits(s) {
		return false
	}
	return goluhn.Validate(s) == nil
}

// IsPIN reports whether s is a 4-digit withdrawal PIN.
func IsPIN(s string) bool {
	return len(s) == pinLen && isDigits(s)
}

// ParseAmount converts a currency amount to minor units. It rejects
// non-positive, non-finite and more-than-two-decimal values.
func ParseAmount(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrAmountNotFinite
	}
	if v <= 0 {
		return 0, ErrAmountNotPositive
	}
	cents := math.Round(v * 100)
	if math.Abs(v*100-cents) > 1e-6 {
		return 0, ErrAmountPrecision
	}
	if cents > math.MaxInt64 {
		return 0, ErrAmountNotFinite
	}
	return int64(cents), nil
}

// FormatAmount converts minor units back to a currency amount for display.
func FormatAmount(cents int64) float64 {
	return float64(cents) / 100
}
