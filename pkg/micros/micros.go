// Package micros converts Amazon Ads micro-currency amounts for display.
package micros

import "github.com/shopspring/decimal"

const exp = 6

// Format renders micros as a currency amount with two decimals, e.g. 880000 -> "0.88".
func Format(m int64) string {
	return decimal.New(m, -exp).StringFixed(2)
}

// FromAmount parses a currency string into micros, rounding half away from zero.
func FromAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Shift(exp).Round(0).IntPart(), nil
}

// ToFloat is the amount in currency units.
func ToFloat(m int64) float64 {
	f, _ := decimal.New(m, -exp).Float64()
	return f
}
