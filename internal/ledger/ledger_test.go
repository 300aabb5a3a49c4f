package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/domain"
	"sibyl/internal/money"
	"sibyl/internal/repository"
)

func newLedger() (*Ledger, repository.Repository) {
	repo := repository.NewMemory()
	return New(repo), repo
}

func TestLedger_DepositWithdraw(t *testing.T) {
	l, repo := newLedger()
	user := uuid.New()

	require.NoError(t, l.Deposit(user, money.MustAmount("100")))
	bal, err := repo.GetUserBalance(user)
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(money.MustAmount("100")))

	require.NoError(t, l.Withdraw(user, money.MustAmount("40")))
	bal, _ = repo.GetUserBalance(user)
	assert.True(t, bal.Available.Equal(money.MustAmount("60")))

	err = l.Withdraw(user, money.MustAmount("1000"))
	assert.Error(t, err)
}

func TestLedger_ReserveRelease_RoundTrip(t *testing.T) {
	l, repo := newLedger()
	user := uuid.New()
	require.NoError(t, l.Deposit(user, money.MustAmount("100")))

	orderID := uuid.New().String()
	require.NoError(t, l.Reserve(user, money.MustAmount("30"), domain.ReservationCash, orderID))
	assert.True(t, l.HasOpenReservation(user, domain.ReservationCash, orderID))

	bal, _ := repo.GetUserBalance(user)
	assert.True(t, bal.Available.Equal(money.MustAmount("70")))
	assert.True(t, bal.Reserved.Equal(money.MustAmount("30")))

	require.NoError(t, l.Release(user, money.MustAmount("30"), domain.ReservationCash, orderID))
	assert.False(t, l.HasOpenReservation(user, domain.ReservationCash, orderID))

	bal, _ = repo.GetUserBalance(user)
	assert.True(t, bal.Available.Equal(money.MustAmount("100")))
	assert.True(t, bal.Reserved.IsZero())

	txs, err := l.History(user)
	require.NoError(t, err)
	assert.Len(t, txs, 3) // deposit, reserve, release
}

func TestLedger_Reserve_InsufficientFunds(t *testing.T) {
	l, _ := newLedger()
	user := uuid.New()
	err := l.Reserve(user, money.MustAmount("1"), domain.ReservationCash, "order-1")
	assert.Error(t, err)
}

func TestLedger_SettleTrade_MovesCashFromBuyerToSeller(t *testing.T) {
	l, repo := newLedger()
	buyer, seller := uuid.New(), uuid.New()
	require.NoError(t, l.Deposit(buyer, money.MustAmount("100")))

	orderID := uuid.New().String()
	tradeID := uuid.New().String()
	require.NoError(t, l.Reserve(buyer, money.MustAmount("6"), domain.ReservationCash, orderID))
	l.RetagReservation(buyer, domain.ReservationCash, orderID, tradeID, money.MustAmount("6"))

	require.NoError(t, l.SettleTrade(buyer, seller, money.MustAmount("6"), tradeID))

	buyerBal, _ := repo.GetUserBalance(buyer)
	assert.True(t, buyerBal.Available.Equal(money.MustAmount("94")))
	assert.True(t, buyerBal.Reserved.IsZero())

	sellerBal, _ := repo.GetUserBalance(seller)
	assert.True(t, sellerBal.Available.Equal(money.MustAmount("6")))

	buyerTxs, err := l.History(buyer)
	require.NoError(t, err)
	var buyerSettleCount, sellerSettleCount int
	for _, tx := range buyerTxs {
		if tx.Type == domain.TradeSettle {
			buyerSettleCount++
		}
	}
	assert.Equal(t, 1, buyerSettleCount, "buyer's reservation consumption must itself be logged, not just the seller's credit")

	sellerTxs, err := l.History(seller)
	require.NoError(t, err)
	for _, tx := range sellerTxs {
		if tx.Type == domain.TradeProceeds {
			sellerSettleCount++
		}
	}
	assert.Equal(t, 1, sellerSettleCount)
}

func TestLedger_QueueTradeSettlement_MatchesSettleTradeAndBatchesWrites(t *testing.T) {
	l, repo := newLedger()
	buyer, seller := uuid.New(), uuid.New()
	require.NoError(t, l.Deposit(buyer, money.MustAmount("100")))

	orderID := uuid.New().String()
	tradeID := uuid.New().String()
	require.NoError(t, l.Reserve(buyer, money.MustAmount("6"), domain.ReservationCash, orderID))
	l.RetagReservation(buyer, domain.ReservationCash, orderID, tradeID, money.MustAmount("6"))

	unlock := l.LockUsers(buyer, seller)
	buyerBal, err := l.LoadBalance(buyer)
	require.NoError(t, err)
	sellerBal, err := l.LoadBalance(seller)
	require.NoError(t, err)

	batch := &repository.Batch{}
	require.NoError(t, l.QueueTradeSettlement(batch, buyerBal, sellerBal, money.MustAmount("6"), tradeID))
	unlock()

	// The seller has never been saved before, so until the batch commits,
	// the repository has no record of them at all.
	_, err = repo.GetUserBalance(seller)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.Commit(batch))

	buyerBalAfter, _ := repo.GetUserBalance(buyer)
	assert.True(t, buyerBalAfter.Available.Equal(money.MustAmount("94")))
	assert.True(t, buyerBalAfter.Reserved.IsZero())

	sellerBalAfter, _ := repo.GetUserBalance(seller)
	assert.True(t, sellerBalAfter.Available.Equal(money.MustAmount("6")))

	assert.False(t, l.HasOpenReservation(buyer, domain.ReservationCash, tradeID))
}

func TestLedger_ConsumeReservation(t *testing.T) {
	l, repo := newLedger()
	user := uuid.New()
	require.NoError(t, l.Deposit(user, money.MustAmount("10")))
	require.NoError(t, l.Reserve(user, money.MustAmount("10"), domain.ReservationShares, "order-1"))

	require.NoError(t, l.ConsumeReservation(user, money.MustAmount("10"), domain.ReservationShares, "order-1"))
	bal, _ := repo.GetUserBalance(user)
	assert.True(t, bal.Reserved.IsZero())
	assert.True(t, bal.Available.IsZero())
}

func TestLedger_ReverseTrade_ClawsBackFromSellerCreditsBuyer(t *testing.T) {
	l, repo := newLedger()
	buyer, seller := uuid.New(), uuid.New()
	require.NoError(t, l.Deposit(seller, money.MustAmount("6")))

	tradeID := uuid.New().String()
	require.NoError(t, l.ReverseTrade(buyer, seller, money.MustAmount("6"), tradeID))

	buyerBal, _ := repo.GetUserBalance(buyer)
	assert.True(t, buyerBal.Available.Equal(money.MustAmount("6")))

	sellerBal, _ := repo.GetUserBalance(seller)
	assert.True(t, sellerBal.Available.IsZero())
}

func TestLedger_ReverseTrade_FailsWhenSellerCannotCoverClawback(t *testing.T) {
	l, _ := newLedger()
	buyer, seller := uuid.New(), uuid.New()
	err := l.ReverseTrade(buyer, seller, money.MustAmount("6"), uuid.New().String())
	assert.Error(t, err)
}
