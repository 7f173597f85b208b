package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest amount a NUMERIC(10,2) column holds.
var MaxAmount = decimal.RequireFromString("99999999.99")

// ParseAmount parses a positive decimal amount.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Values are
// rounded half-up to cents:
//
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> 12.35
//	ParseAmount("12.344") -> 12.34
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = RoundMoney(d)
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount accepts positive amounts that fit in two-decimal storage.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() || d.GreaterThan(MaxAmount) {
		return ErrInvalidAmount
	}
	return nil
}

// RoundMoney rounds to cents, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToCents converts an amount to integer cents for storage.
func ToCents(d decimal.Decimal) int64 {
	return RoundMoney(d).Shift(2).IntPart()
}

// FromCents converts stored cents back to an amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
