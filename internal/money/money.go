// Package money renders and validates monetary values. All ledger arithmetic
// happens on int64 minor units so the debit/credit equality invariant holds
// exactly; this package is the only place amounts meet currency formatting.
package money

import (
	"fmt"

	"github.com/govalues/money"
	"golang.org/x/text/currency"
)

// Valid reports whether code is a well-formed ISO 4217 currency code.
func Valid(code string) bool {
	_, err := currency.ParseISO(code)
	return err == nil
}

// Format renders minor units with the currency code, e.g. "USD 1234.50".
func Format(code string, minor int64) string {
	a, err := money.NewAmountFromMinorUnits(code, minor)
	if err != nil {
		return fmt.Sprintf("%s %d", code, minor)
	}
	return a.String()
}

// Abs returns the absolute value of a minor-unit amount.
func Abs(minor int64) int64 {
	if minor < 0 {
		return -minor
	}
	return minor
}
