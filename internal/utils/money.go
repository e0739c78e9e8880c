package utils

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept for currency amounts
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Money parses a decimal literal such as "250.00". It panics on malformed
// input and is meant for constants and tests.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// RoundMoney rounds half away from zero to cents, so 0.125 becomes 0.13
// and -0.125 becomes -0.13.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ToMinorUnits converts a currency amount to integer cents
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts integer cents to a currency amount
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -MoneyPlaces)
}

// Times multiplies an amount by a whole quantity such as days
func Times(amount decimal.Decimal, qty int) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(qty)))
}

// ApproxEqual reports whether two amounts differ by at most one cent
func ApproxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(decimal.New(1, -MoneyPlaces))
}
