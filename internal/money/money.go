// Package money provides exact fixed-point arithmetic for prices and cash
// amounts. No binary floating point is used anywhere in the core.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrPriceOutOfRange = errors.New("price out of range")
	ErrPriceNotOnGrid  = errors.New("price not aligned to the 0.01 step")
)

// priceStep is the minimum price increment: one cent of probability.
var priceStep = decimal.New(1, -2)

// MinPrice and MaxPrice bound the tradeable probability range [0.01, 0.99].
var (
	MinPrice = decimal.New(1, -2)
	MaxPrice = decimal.New(99, -2)
)

// Price is an exact decimal in [0.01, 0.99] with scale 2.
type Price struct {
	d decimal.Decimal
}

// NewPrice validates and constructs a Price from a decimal value.
func NewPrice(d decimal.Decimal) (Price, error) {
	if d.LessThan(MinPrice) || d.GreaterThan(MaxPrice) {
		return Price{}, fmt.Errorf("%w: %s", ErrPriceOutOfRange, d.String())
	}
	// Aligned to the cent grid: (d / step) must be an integer.
	steps := d.DivRound(priceStep, 8)
	if !steps.Equal(steps.Truncate(0)) {
		return Price{}, fmt.Errorf("%w: %s", ErrPriceNotOnGrid, d.String())
	}
	return Price{d: d.Truncate(2)}, nil
}

// MustPrice panics on an invalid price; intended for tests and constants.
func MustPrice(s string) Price {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	p, err := NewPrice(d)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Price) Decimal() decimal.Decimal { return p.d }
func (p Price) String() string           { return p.d.StringFixed(2) }

func (p Price) Equal(o Price) bool        { return p.d.Equal(o.d) }
func (p Price) GreaterThan(o Price) bool  { return p.d.GreaterThan(o.d) }
func (p Price) LessThan(o Price) bool     { return p.d.LessThan(o.d) }
func (p Price) GreaterOrEqual(o Price) bool {
	return p.d.GreaterThanOrEqual(o.d)
}
func (p Price) LessOrEqual(o Price) bool { return p.d.LessThanOrEqual(o.d) }

// Mid returns the arithmetic mean of two prices, rounded to 8 decimal
// places; the result is not rounded to the cent grid.
func Mid(a, b Price) Price {
	sum := a.d.Add(b.d)
	mid := sum.DivRound(decimal.New(2, 0), 8)
	// Mid prices may legitimately fall off the cent grid (e.g. 0.605);
	// callers that need a tradeable price should round explicitly.
	return Price{d: mid}
}

// Amount is an exact decimal cash value with scale >= 4, used for balances,
// reservations, and ledger entries. Amounts are never negative in the core;
// callers are expected to check sign before subtracting.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// NewAmount constructs an Amount from a decimal.Decimal.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{d: d.Round(4)}
}

// AmountFromInt constructs an Amount representing a whole-unit quantity,
// e.g. the payout owed for q winning shares.
func AmountFromInt(q int64) Amount {
	return Amount{d: decimal.NewFromInt(q)}
}

// MustAmount panics on a malformed decimal string; intended for tests.
func MustAmount(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return NewAmount(d)
}

func (a Amount) Decimal() decimal.Decimal { return a.d }
func (a Amount) String() string           { return a.d.StringFixed(4) }

func (a Amount) IsZero() bool     { return a.d.IsZero() }
func (a Amount) IsPositive() bool { return a.d.IsPositive() }
func (a Amount) IsNegative() bool { return a.d.IsNegative() }

func (a Amount) Add(b Amount) Amount { return NewAmount(a.d.Add(b.d)) }
func (a Amount) Sub(b Amount) Amount { return NewAmount(a.d.Sub(b.d)) }

func (a Amount) Equal(b Amount) bool        { return a.d.Equal(b.d) }
func (a Amount) GreaterThan(b Amount) bool  { return a.d.GreaterThan(b.d) }
func (a Amount) GreaterOrEqual(b Amount) bool {
	return a.d.GreaterThanOrEqual(b.d)
}
func (a Amount) LessThan(b Amount) bool { return a.d.LessThan(b.d) }

// PriceTimesQty computes an exact cash amount for a price * integer quantity
// product, e.g. a buy order's reservation amount.
func PriceTimesQty(p Price, qty int64) Amount {
	return NewAmount(p.d.Mul(decimal.NewFromInt(qty)))
}
