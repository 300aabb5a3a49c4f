package orderservice

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/domain"
	"sibyl/internal/events"
	"sibyl/internal/ledger"
	"sibyl/internal/money"
	"sibyl/internal/repository"
)

func newTestService(t *testing.T) (*Service, *ledger.Ledger, repository.Repository) {
	t.Helper()
	repo := repository.NewMemory()
	l := ledger.New(repo)
	sink := events.NewSink(16)
	svc := New(repo, l, sink)

	m := domain.NewMarket("m1", "Will it rain?", "desc", nil)
	require.NoError(t, repo.SaveMarket(m))
	return svc, l, repo
}

func fundUser(t *testing.T, l *ledger.Ledger, amt string) uuid.UUID {
	t.Helper()
	user := uuid.New()
	require.NoError(t, l.Deposit(user, money.MustAmount(amt)))
	return user
}

// Scenario 1 — cross at rest: A's buy rests first, B's sell crosses it as
// the taker, executing at the resting (A's) price.
func TestSubmitOrder_CrossAtRest(t *testing.T) {
	svc, l, repo := newTestService(t)
	userA := fundUser(t, l, "100")
	userB := fundUser(t, l, "10")

	buyOrder, _, err := svc.SubmitOrder(userA, "m1", domain.Buy, domain.Yes, money.MustPrice("0.60"), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderOpen, buyOrder.Status)

	sellOrder, trades, err := svc.SubmitOrder(userB, "m1", domain.Sell, domain.Yes, money.MustPrice("0.55"), 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(money.MustPrice("0.60")))
	assert.Equal(t, int64(10), trades[0].Quantity)
	assert.Equal(t, domain.OrderFilled, sellOrder.Status)

	balA, _ := repo.GetUserBalance(userA)
	assert.True(t, balA.Reserved.IsZero(), "buyer's reservation fully consumed at the execution price")
	assert.True(t, balA.Available.Equal(money.MustAmount("94")), "buyer paid exactly what it reserved")

	balB, _ := repo.GetUserBalance(userB)
	assert.True(t, balB.Available.Equal(money.MustAmount("6")))
	assert.True(t, balB.Reserved.Equal(money.MustAmount("10")), "seller's share collateral stays escrowed")

	b, err := svc.getBook("m1")
	require.NoError(t, err)
	_, ok := b.BestYesBid()
	assert.False(t, ok)
	_, ok = b.BestYesAsk()
	assert.False(t, ok)
}

// Scenario 2 — price improvement: A's sell rests first at 0.40, B's buy at
// 0.70 crosses it but executes at A's (maker) price, with the overpaid
// reservation released back to B immediately.
func TestSubmitOrder_PriceImprovement(t *testing.T) {
	svc, l, repo := newTestService(t)
	userA := fundUser(t, l, "10")
	userB := fundUser(t, l, "10")

	_, _, err := svc.SubmitOrder(userA, "m1", domain.Sell, domain.Yes, money.MustPrice("0.40"), 5)
	require.NoError(t, err)

	_, trades, err := svc.SubmitOrder(userB, "m1", domain.Buy, domain.Yes, money.MustPrice("0.70"), 5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(money.MustPrice("0.40")))

	balB, _ := repo.GetUserBalance(userB)
	// deposit 10, reserve 0.70*5=3.50 (available 6.50), pay 0.40*5=2.00 from
	// reserved, then (0.70-0.40)*5=1.50 released back to available: 6.50+1.50=8.00
	assert.True(t, balB.Available.Equal(money.MustAmount("8.00")))
	assert.True(t, balB.Reserved.IsZero())

	balA, _ := repo.GetUserBalance(userA)
	// deposit 10, reserve 5 shares (available 5.00), credited 0.40*5=2.00 proceeds
	assert.True(t, balA.Available.Equal(money.MustAmount("7.00")))
	assert.True(t, balA.Reserved.Equal(money.MustAmount("5")), "seller's share collateral stays escrowed")
}

// Scenario 3 — self-match skip.
func TestSubmitOrder_SelfMatchSkipped(t *testing.T) {
	svc, l, repo := newTestService(t)
	userA := fundUser(t, l, "100")

	_, _, err := svc.SubmitOrder(userA, "m1", domain.Sell, domain.Yes, money.MustPrice("0.30"), 5)
	require.NoError(t, err)

	_, trades, err := svc.SubmitOrder(userA, "m1", domain.Buy, domain.Yes, money.MustPrice("0.90"), 5)
	require.NoError(t, err)
	assert.Empty(t, trades)

	balA, _ := repo.GetUserBalance(userA)
	// 5 (sell share collateral) + 0.90*5=4.50 (buy cash reserve) = 9.50
	assert.True(t, balA.Reserved.Equal(money.MustAmount("9.50")))

	b, err := svc.getBook("m1")
	require.NoError(t, err)
	assert.Len(t, b.ActiveOrders(), 2)
}

// Scenario 4 — partial fill.
func TestSubmitOrder_PartialFill(t *testing.T) {
	svc, l, _ := newTestService(t)
	userB := fundUser(t, l, "3")
	userA := fundUser(t, l, "100")

	_, _, err := svc.SubmitOrder(userB, "m1", domain.Sell, domain.Yes, money.MustPrice("0.50"), 3)
	require.NoError(t, err)

	order, trades, err := svc.SubmitOrder(userA, "m1", domain.Buy, domain.Yes, money.MustPrice("0.50"), 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(3), trades[0].Quantity)
	assert.Equal(t, domain.OrderPartiallyFilled, order.Status)
	assert.Equal(t, int64(7), order.Remaining)

	b, err := svc.getBook("m1")
	require.NoError(t, err)
	bid, ok := b.BestYesBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(money.MustPrice("0.50")))
}

// Round-trip: submit followed by cancel of an unmatched order returns the
// user's balance to exactly its pre-submit values.
func TestSubmitThenCancel_RestoresBalance(t *testing.T) {
	svc, l, repo := newTestService(t)
	user := fundUser(t, l, "100")

	order, _, err := svc.SubmitOrder(user, "m1", domain.Buy, domain.Yes, money.MustPrice("0.40"), 20)
	require.NoError(t, err)

	balAfterSubmit, _ := repo.GetUserBalance(user)
	assert.True(t, balAfterSubmit.Available.Equal(money.MustAmount("92")))
	assert.True(t, balAfterSubmit.Reserved.Equal(money.MustAmount("8")))

	cancelled, err := svc.CancelOrder(user, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Status)

	balAfterCancel, _ := repo.GetUserBalance(user)
	assert.True(t, balAfterCancel.Available.Equal(money.MustAmount("100")))
	assert.True(t, balAfterCancel.Reserved.IsZero())

	txs, err := l.History(user)
	require.NoError(t, err)
	var reserveCount, releaseCount int
	for _, tx := range txs {
		switch tx.Type {
		case domain.OrderReserve:
			reserveCount++
		case domain.OrderRelease:
			releaseCount++
		}
	}
	assert.Equal(t, 1, reserveCount)
	assert.Equal(t, 1, releaseCount)
}

func TestSubmitOrder_RejectsOnInsufficientFunds(t *testing.T) {
	svc, l, _ := newTestService(t)
	user := fundUser(t, l, "1")

	order, trades, err := svc.SubmitOrder(user, "m1", domain.Buy, domain.Yes, money.MustPrice("0.50"), 10)
	assert.Error(t, err)
	assert.Nil(t, trades)
	require.NotNil(t, order)
	assert.Equal(t, domain.OrderRejected, order.Status)
}

func TestSubmitOrder_RejectsWhenMarketNotOpen(t *testing.T) {
	svc, l, repo := newTestService(t)
	user := fundUser(t, l, "100")

	m, err := repo.GetMarket("m1")
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, repo.SaveMarket(m))

	_, _, err = svc.SubmitOrder(user, "m1", domain.Buy, domain.Yes, money.MustPrice("0.50"), 1)
	assert.ErrorIs(t, err, ErrMarketNotOpen)
}

func TestCancelOrder_NotCancellableWhenTerminal(t *testing.T) {
	svc, l, _ := newTestService(t)
	userA := fundUser(t, l, "100")
	userB := fundUser(t, l, "5")

	_, _, err := svc.SubmitOrder(userB, "m1", domain.Sell, domain.Yes, money.MustPrice("0.50"), 5)
	require.NoError(t, err)
	order, trades, err := svc.SubmitOrder(userA, "m1", domain.Buy, domain.Yes, money.MustPrice("0.50"), 5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, domain.OrderFilled, order.Status)

	_, err = svc.CancelOrder(userA, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotActive)
}

func TestCancelOrder_RejectsNonOwner(t *testing.T) {
	svc, l, _ := newTestService(t)
	owner := fundUser(t, l, "100")
	other := fundUser(t, l, "100")

	order, _, err := svc.SubmitOrder(owner, "m1", domain.Buy, domain.Yes, money.MustPrice("0.40"), 5)
	require.NoError(t, err)

	_, err = svc.CancelOrder(other, order.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestSubmitOrder_NoSelfBuyerSeller(t *testing.T) {
	svc, l, repo := newTestService(t)
	userA := fundUser(t, l, "100")
	userB := fundUser(t, l, "5")

	_, _, err := svc.SubmitOrder(userB, "m1", domain.Sell, domain.Yes, money.MustPrice("0.50"), 5)
	require.NoError(t, err)
	_, trades, err := svc.SubmitOrder(userA, "m1", domain.Buy, domain.Yes, money.MustPrice("0.50"), 5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.NotEqual(t, trades[0].BuyerID, trades[0].SellerID)

	all, err := repo.GetTradesForMarket("m1")
	require.NoError(t, err)
	for _, tr := range all {
		assert.NotEqual(t, tr.BuyerID, tr.SellerID)
	}
}

func TestCreateMarket_RejectsDuplicateId(t *testing.T) {
	repo := repository.NewMemory()
	l := ledger.New(repo)
	svc := New(repo, l, events.NewSink(16))

	m, err := svc.CreateMarket("m2", "Will it snow?", "desc", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketOpen, m.Status)

	_, err = svc.CreateMarket("m2", "Will it snow again?", "desc", nil)
	assert.ErrorIs(t, err, ErrMarketAlreadyExists)
}

func TestGetMarket_ReturnsCreatedMarket(t *testing.T) {
	repo := repository.NewMemory()
	l := ledger.New(repo)
	svc := New(repo, l, events.NewSink(16))

	_, err := svc.CreateMarket("m2", "Will it snow?", "desc", nil)
	require.NoError(t, err)

	got, err := svc.GetMarket("m2")
	require.NoError(t, err)
	assert.Equal(t, "Will it snow?", got.Question)

	_, err = svc.GetMarket("missing")
	assert.Error(t, err)
}
