// Package money provides a fixed-point currency amount used throughout the
// order domain. Amounts are always normalized to two decimal places with
// half-up rounding; arithmetic across different currencies is rejected.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch is returned when two amounts of different currencies
// are combined.
type ErrCurrencyMismatch struct {
	Left, Right string
}

func (e *ErrCurrencyMismatch) Error() string {
	return fmt.Sprintf("currency mismatch: %s vs %s", e.Left, e.Right)
}

// Money is an immutable amount in a single currency. The zero value is
// 0.00 with an empty currency code; use Of to build values from external
// input so they are normalized consistently.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// Of is the sole constructor from raw input. It normalizes the amount to
// two decimal places, rounding half up.
func Of(amount decimal.Decimal, currency string) Money {
	return Money{Amount: round2(amount), Currency: currency}
}

// Parse builds a Money from a decimal string such as "1200.00".
func Parse(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return Of(d, currency), nil
}

// Zero returns 0.00 in the given currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero.Round(2), Currency: currency}
}

// Add returns m + other. The currencies must match.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &ErrCurrencyMismatch{Left: m.Currency, Right: other.Currency}
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// MulInt returns m multiplied by an integer quantity, re-normalized to two
// decimal places.
func (m Money) MulInt(n int) Money {
	return Money{
		Amount:   round2(m.Amount.Mul(decimal.NewFromInt(int64(n)))),
		Currency: m.Currency,
	}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// GreaterThan reports m > other, ignoring currency. Callers compare within
// a single currency.
func (m Money) GreaterThan(other Money) bool {
	return m.Amount.GreaterThan(other.Amount)
}

// Equal reports value equality: same currency and numerically equal amount.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// AmountString renders the amount as its canonical two-decimal string,
// e.g. "2400.00". This rendering is part of the request fingerprint and
// must stay stable.
func (m Money) AmountString() string {
	return m.Amount.StringFixed(2)
}

func (m Money) String() string {
	return m.AmountString() + " " + m.Currency
}

// round2 rounds to two decimal places, half up. decimal.Round rounds half
// away from zero, which coincides with half-up for the non-negative
// amounts the domain works with.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
