package book

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/domain"
	"sibyl/internal/money"
)

func newResting(side domain.Side, outcome domain.Outcome, price string, qty int64) *domain.Order {
	return domain.NewOrder(uuid.New(), "m1", side, outcome, money.MustPrice(price), qty)
}

func TestBook_AddAndBestPrices(t *testing.T) {
	b := NewBook("m1")

	b.Add(newResting(domain.Buy, domain.Yes, "0.40", 5))
	b.Add(newResting(domain.Buy, domain.Yes, "0.55", 5))
	b.Add(newResting(domain.Sell, domain.Yes, "0.70", 5))
	b.Add(newResting(domain.Sell, domain.Yes, "0.60", 5))

	bid, ok := b.BestYesBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(money.MustPrice("0.55")))

	ask, ok := b.BestYesAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(money.MustPrice("0.60")))
}

func TestBook_MidYes(t *testing.T) {
	b := NewBook("m1")
	_, ok := b.MidYes()
	assert.False(t, ok)

	b.Add(newResting(domain.Buy, domain.Yes, "0.40", 5))
	b.Add(newResting(domain.Sell, domain.Yes, "0.60", 5))

	mid, ok := b.MidYes()
	require.True(t, ok)
	assert.True(t, mid.Equal(money.MustPrice("0.50")))
}

func TestBook_MidYes_FallsBackToWhicheverSideExists(t *testing.T) {
	b := NewBook("m1")
	b.Add(newResting(domain.Buy, domain.Yes, "0.35", 5))

	mid, ok := b.MidYes()
	require.True(t, ok)
	assert.True(t, mid.Equal(money.MustPrice("0.35")), "no ask side, mid falls back to the bid")

	b2 := NewBook("m1")
	b2.Add(newResting(domain.Sell, domain.Yes, "0.65", 5))

	mid2, ok := b2.MidYes()
	require.True(t, ok)
	assert.True(t, mid2.Equal(money.MustPrice("0.65")), "no bid side, mid falls back to the ask")
}

func TestBook_RemoveAndFIFOWithinLevel(t *testing.T) {
	b := NewBook("m1")
	o1 := newResting(domain.Buy, domain.Yes, "0.50", 5)
	o2 := newResting(domain.Buy, domain.Yes, "0.50", 3)
	b.Add(o1)
	b.Add(o2)

	level, ok := b.Levels(domain.Yes, domain.Buy).Get(&PriceLevel{Price: money.MustPrice("0.50")})
	require.True(t, ok)
	require.Len(t, level.Orders, 2)
	assert.Equal(t, o1.ID, level.Orders[0].ID)
	assert.Equal(t, o2.ID, level.Orders[1].ID)

	removed := b.Remove(o1)
	assert.True(t, removed)

	level, ok = b.Levels(domain.Yes, domain.Buy).Get(&PriceLevel{Price: money.MustPrice("0.50")})
	require.True(t, ok)
	require.Len(t, level.Orders, 1)
	assert.Equal(t, o2.ID, level.Orders[0].ID)

	removed = b.Remove(o1)
	assert.False(t, removed)
}

func TestBook_RemoveLastOrderDeletesLevel(t *testing.T) {
	b := NewBook("m1")
	o := newResting(domain.Sell, domain.No, "0.30", 5)
	b.Add(o)
	b.Remove(o)

	_, ok := b.Levels(domain.No, domain.Sell).Get(&PriceLevel{Price: money.MustPrice("0.30")})
	assert.False(t, ok)
	assert.Empty(t, b.ActiveOrders())
}

func TestBook_ActiveOrdersIndependentAcrossOutcomes(t *testing.T) {
	b := NewBook("m1")
	b.Add(newResting(domain.Buy, domain.Yes, "0.40", 1))
	b.Add(newResting(domain.Buy, domain.No, "0.40", 1))
	assert.Len(t, b.ActiveOrders(), 2)
}
