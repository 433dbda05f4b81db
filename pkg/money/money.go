// Package money provides cent-exact arithmetic for dollar amounts.
// Ledger amounts travel as float64 dollars; every value that lands in
// a line item or a gateway call goes through these helpers so binary
// float noise never reaches the books.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RoundToCent rounds a dollar amount to the nearest cent
func RoundToCent(amount float64) float64 {
	f, _ := decimal.NewFromFloat(amount).Round(2).Float64()
	return f
}

// ToCents converts a dollar amount to integer cents
func ToCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(hundred).Round(0).IntPart()
}

// FromCents converts integer cents to a dollar amount
func FromCents(cents int64) float64 {
	f, _ := decimal.New(cents, -2).Float64()
	return f
}

// Allocate splits total across weights in proportion to each weight,
// rounding every share to the cent. The last share absorbs the
// rounding remainder, so the shares always sum to exactly the
// cent-rounded total. A zero weight sum puts everything on the last
// share.
func Allocate(total float64, weights []float64) []float64 {
	if len(weights) == 0 {
		return nil
	}

	totalDec := decimal.NewFromFloat(total).Round(2)
	weightSum := decimal.Zero
	for _, w := range weights {
		weightSum = weightSum.Add(decimal.NewFromFloat(w))
	}

	shares := make([]float64, len(weights))
	if weightSum.IsZero() {
		shares[len(shares)-1], _ = totalDec.Float64()
		return shares
	}

	remaining := totalDec
	for i, w := range weights {
		if i == len(weights)-1 {
			shares[i], _ = remaining.Float64()
			break
		}
		share := totalDec.Mul(decimal.NewFromFloat(w)).Div(weightSum).Round(2)
		shares[i], _ = share.Float64()
		remaining = remaining.Sub(share)
	}
	return shares
}
