package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/domain"
	"sibyl/internal/money"
)

func TestMemory_MarketRoundTrip(t *testing.T) {
	repo := NewMemory()
	m := domain.NewMarket("m1", "q", "d", nil)
	require.NoError(t, repo.SaveMarket(m))

	got, err := repo.GetMarket("m1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = repo.GetMarket("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_OrderUpsertAndActiveFilter(t *testing.T) {
	repo := NewMemory()
	o := domain.NewOrder(uuid.New(), "m1", domain.Buy, domain.Yes, money.MustPrice("0.5"), 5)
	require.NoError(t, repo.SaveOrder(o))

	active, err := repo.GetActiveOrdersForMarket("m1")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	o.Cancel()
	require.NoError(t, repo.SaveOrder(o))
	active, err = repo.GetActiveOrdersForMarket("m1")
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := repo.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, got.Status)
}

func TestMemory_CommitAppliesBatchAtomically(t *testing.T) {
	repo := NewMemory()
	user := uuid.New()
	bal := domain.NewUserBalance(user)
	bal.Credit(money.MustAmount("10"))
	order := domain.NewOrder(user, "m1", domain.Buy, domain.Yes, money.MustPrice("0.5"), 5)
	trade := domain.NewTrade("m1", order.ID, user, uuid.New(), uuid.New(), domain.Yes, money.MustPrice("0.5"), 5)

	batch := &Batch{}
	batch.AddBalance(bal)
	batch.AddOrder(order)
	batch.AddTrade(trade)

	require.NoError(t, repo.Commit(batch))

	gotBal, err := repo.GetUserBalance(user)
	require.NoError(t, err)
	assert.True(t, gotBal.Available.Equal(money.MustAmount("10")))

	gotOrder, err := repo.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, gotOrder.ID)

	gotTrade, err := repo.GetTrade(trade.ID)
	require.NoError(t, err)
	assert.Equal(t, trade.ID, gotTrade.ID)
}

func TestMemory_BalanceTransactionHistory(t *testing.T) {
	repo := NewMemory()
	user := uuid.New()
	tx := domain.NewBalanceTransaction(user, money.MustAmount("5"), domain.Deposit, "", "deposit")
	require.NoError(t, repo.SaveBalanceTransaction(tx))

	txs, err := repo.GetBalanceTransactionsForUser(user)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.Deposit, txs[0].Type)
}
