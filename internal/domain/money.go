package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MinorPerUnit is the number of minor units (cents) in one currency unit.
const MinorPerUnit = 100

// ToMinor converts a decimal amount in currency units to minor units, rounding half away
// from zero.
func ToMinor(amount float64) int64 {
	return int64(math.Round(amount * MinorPerUnit))
}

// ParseDecimalMinor parses a decimal string such as "300.00" or "12.5" into minor units
// without going through float arithmetic.
func ParseDecimalMinor(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	negative := false
	if s[0] == '-' {
		negative = true
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than 2 decimals", raw)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	total := units*MinorPerUnit + cents
	if negative {
		total = -total
	}
	return total, nil
}

// FormatMinor renders minor units as a 2-decimal string ("1000.00").
func FormatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/MinorPerUnit, amount%MinorPerUnit)
}

// MinorToFloat converts minor units to a float for JSON responses.
func MinorToFloat(amount int64) float64 {
	return float64(amount) / MinorPerUnit
}
