package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrice_ValidGrid(t *testing.T) {
	p, err := NewPrice(decimal.New(60, -2))
	require.NoError(t, err)
	assert.Equal(t, "0.60", p.String())
}

func TestNewPrice_RejectsOutOfRange(t *testing.T) {
	_, err := NewPrice(decimal.New(0, 0))
	assert.ErrorIs(t, err, ErrPriceOutOfRange)

	_, err = NewPrice(decimal.New(100, -2))
	assert.ErrorIs(t, err, ErrPriceOutOfRange)
}

func TestNewPrice_RejectsOffGrid(t *testing.T) {
	_, err := NewPrice(decimal.New(605, -3))
	assert.ErrorIs(t, err, ErrPriceNotOnGrid)
}

func TestNewPrice_BoundsInclusive(t *testing.T) {
	_, err := NewPrice(MinPrice)
	require.NoError(t, err)
	_, err = NewPrice(MaxPrice)
	require.NoError(t, err)
}

func TestMid(t *testing.T) {
	a := MustPrice("0.40")
	b := MustPrice("0.60")
	mid := Mid(a, b)
	assert.True(t, mid.Equal(MustPrice("0.50")))
}

func TestPriceTimesQty(t *testing.T) {
	p := MustPrice("0.60")
	amt := PriceTimesQty(p, 10)
	assert.True(t, amt.Equal(MustAmount("6.0000")))
}

func TestAmountArithmetic(t *testing.T) {
	a := MustAmount("10.5")
	b := MustAmount("4.25")
	assert.True(t, a.Sub(b).Equal(MustAmount("6.25")))
	assert.True(t, a.Add(b).Equal(MustAmount("14.75")))
	assert.True(t, Zero.IsZero())
	assert.True(t, MustAmount("-1").IsNegative())
	assert.True(t, MustAmount("1").IsPositive())
}
