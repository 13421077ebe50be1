// Package core provides money parsing and validation for the ledger.
//
// Amounts are decimal values with at most two fractional digits. Parsing
// accepts both dot (12.34) and comma (12,34) separators.
package core

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Scale is the maximum number of fractional digits on an amount.
const Scale = 2

const (
	maxTitleLength = 200

	// Bounds on the decimal representation. Arithmetic on a decimal rescales
	// by its exponent, so values far outside this window are refused before
	// any rounding or comparison touches them.
	maxAmountLength   = 64
	maxAmountExponent = 30
	maxAmountDigits   = 30
)

// ParseAmount converts user text into a decimal with at most Scale
// fractional digits.
//
// The sign is preserved; range checks belong to ValidateBudget and
// ValidateAmount. Empty, non-numeric, non-finite, out-of-range and
// over-precise input fails with ErrInvalidData.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> error (more than two decimal places)
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, InvalidData("amount is empty")
	}
	if len(s) > maxAmountLength {
		return decimal.Zero, InvalidData("amount is out of range")
	}
	s = strings.ReplaceAll(s, ",", ".")
	lower := strings.ToLower(s)
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") {
		return decimal.Zero, InvalidData("amount %q is not finite", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, InvalidData("amount %q is not a number", s)
	}
	return Normalize(d)
}

// Normalize returns d as given, trimmed to Scale fractional digits when the
// extra digits are zeros. It never rounds: a value that needs rounding, or
// whose exponent or digit count is out of range, fails with ErrInvalidData.
func Normalize(d decimal.Decimal) (decimal.Decimal, error) {
	exp := d.Exponent()
	if exp > maxAmountExponent || exp < -maxAmountExponent || d.NumDigits() > maxAmountDigits {
		return decimal.Zero, InvalidData("amount is out of range")
	}
	if exp >= -Scale {
		return d, nil
	}
	trimmed := d.Truncate(Scale)
	if !trimmed.Equal(d) {
		return decimal.Zero, InvalidData("amount %s has more than %d decimal places", d, Scale)
	}
	return trimmed, nil
}

func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return InvalidData("title cannot be empty")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return InvalidData("title too long (max %d characters)", maxTitleLength)
	}
	return nil
}

func ValidateBudget(budget decimal.Decimal) error {
	if budget.IsNegative() {
		return InvalidData("budget %s cannot be negative", budget)
	}
	return nil
}

// ValidateAmount checks a withdraw or transfer amount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return InvalidData("amount %s must be greater than zero", amount)
	}
	return nil
}

// ValidateReference bounds the free-text description of a transaction.
// An empty reference is allowed.
func ValidateReference(ref string) error {
	if utf8.RuneCountInString(ref) > maxTitleLength {
		return InvalidData("reference too long (max %d characters)", maxTitleLength)
	}
	return nil
}

// ValidateTransfer rejects self-transfers and non-positive amounts.
func ValidateTransfer(sourceID, destinationID int64, amount decimal.Decimal) error {
	if sourceID == destinationID {
		return InvalidData("cannot transfer envelope %d to itself", sourceID)
	}
	return ValidateAmount(amount)
}

// ValidateEnvelope runs the checks shared by create and update.
func ValidateEnvelope(title string, budget decimal.Decimal) error {
	if err := ValidateTitle(title); err != nil {
		return err
	}
	return ValidateBudget(budget)
}
