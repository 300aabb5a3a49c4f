// Package ledger implements the per-user balance ledger: reserve/release
// of funds against open orders, deposits and withdrawals, settlement
// payouts, and the append-only BalanceTransaction history backing them.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sibyl/internal/domain"
	"sibyl/internal/money"
	"sibyl/internal/repository"
)

// reservationKey identifies one open reservation so it can be looked up
// and re-tagged when a trade consumes it, per the cash/shares tagging
// model: a reservation is created against an order id and later re-tagged
// to the trade id that consumed it, rather than released and re-reserved.
type reservationKey struct {
	referenceID string
	kind        domain.ReservationKind
}

// Ledger owns every user's balance and transaction history, and the
// reservation ledger used to verify reserved-funds invariants directly.
type Ledger struct {
	repo repository.Repository

	// userLocks holds one mutex per user seen so far, created lazily.
	// Two-party operations (settling a trade) always lock the lower user
	// id first to avoid deadlock.
	locksMu   sync.Mutex
	userLocks map[uuid.UUID]*sync.Mutex

	reservationsMu sync.Mutex
	reservations   map[uuid.UUID]map[reservationKey]money.Amount
}

// New constructs a Ledger backed by the given repository.
func New(repo repository.Repository) *Ledger {
	return &Ledger{
		repo:         repo,
		userLocks:    make(map[uuid.UUID]*sync.Mutex),
		reservations: make(map[uuid.UUID]map[reservationKey]money.Amount),
	}
}

func (l *Ledger) lockFor(userID uuid.UUID) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.userLocks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.userLocks[userID] = m
	}
	return m
}

// withUser runs fn while holding userID's lock, loading and saving its
// balance around the call.
func (l *Ledger) withUser(userID uuid.UUID, fn func(bal *domain.UserBalance) (*domain.BalanceTransaction, error)) error {
	lock := l.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	bal, err := l.loadOrCreate(userID)
	if err != nil {
		return err
	}
	tx, err := fn(bal)
	if err != nil {
		return err
	}
	if err := l.repo.SaveUserBalance(bal); err != nil {
		return fmt.Errorf("ledger: save balance for user %s: %w", userID, err)
	}
	if tx != nil {
		if err := l.repo.SaveBalanceTransaction(tx); err != nil {
			return fmt.Errorf("ledger: save transaction for user %s: %w", userID, err)
		}
	}
	return nil
}

func (l *Ledger) loadOrCreate(userID uuid.UUID) (*domain.UserBalance, error) {
	bal, err := l.repo.GetUserBalance(userID)
	if err == nil {
		return bal, nil
	}
	if err != repository.ErrNotFound {
		return nil, fmt.Errorf("ledger: load balance for user %s: %w", userID, err)
	}
	return domain.NewUserBalance(userID), nil
}

// Deposit credits amt to userID's available balance.
func (l *Ledger) Deposit(userID uuid.UUID, amt money.Amount) error {
	return l.withUser(userID, func(bal *domain.UserBalance) (*domain.BalanceTransaction, error) {
		bal.Credit(amt)
		return domain.NewBalanceTransaction(userID, amt, domain.Deposit, "", "deposit"), nil
	})
}

// Withdraw debits amt from userID's available balance. Fails if available
// funds are insufficient.
func (l *Ledger) Withdraw(userID uuid.UUID, amt money.Amount) error {
	return l.withUser(userID, func(bal *domain.UserBalance) (*domain.BalanceTransaction, error) {
		if err := bal.Debit(amt); err != nil {
			return nil, err
		}
		return domain.NewBalanceTransaction(userID, amt, domain.Withdraw, "", "withdrawal"), nil
	})
}

// Reserve moves amt from userID's available to reserved balance against
// referenceID (typically an order id), tagged by kind (cash or shares).
func (l *Ledger) Reserve(userID uuid.UUID, amt money.Amount, kind domain.ReservationKind, referenceID string) error {
	err := l.withUser(userID, func(bal *domain.UserBalance) (*domain.BalanceTransaction, error) {
		if err := bal.Reserve(amt); err != nil {
			return nil, err
		}
		return domain.NewBalanceTransaction(userID, amt, domain.OrderReserve, referenceID, fmt.Sprintf("reserve %s for %s", kind, referenceID)), nil
	})
	if err != nil {
		return err
	}
	l.trackReservation(userID, referenceID, kind, amt)
	return nil
}

// Release returns a previously reserved amount to userID's available
// balance, e.g. on order cancellation.
func (l *Ledger) Release(userID uuid.UUID, amt money.Amount, kind domain.ReservationKind, referenceID string) error {
	err := l.withUser(userID, func(bal *domain.UserBalance) (*domain.BalanceTransaction, error) {
		if err := bal.Release(amt); err != nil {
			return nil, err
		}
		return domain.NewBalanceTransaction(userID, amt, domain.OrderRelease, referenceID, fmt.Sprintf("release %s for %s", kind, referenceID)), nil
	})
	if err != nil {
		return err
	}
	l.untrackReservation(userID, referenceID, kind)
	return nil
}

// RetagReservation moves amt of an open reservation from one reference id
// to another without touching the balance itself — used when a trade
// consumes part of an order's reservation, so the ledger gains the trade
// id as that slice's reference instead of emitting a spurious
// release-then-reserve pair. Only amt moves; an order filled across
// several trades keeps the rest of its reservation under its own id until
// later fills retag it too.
func (l *Ledger) RetagReservation(userID uuid.UUID, kind domain.ReservationKind, fromRef, toRef string, amt money.Amount) {
	l.reservationsMu.Lock()
	defer l.reservationsMu.Unlock()
	byUser, ok := l.reservations[userID]
	if !ok {
		return
	}
	fromKey := reservationKey{referenceID: fromRef, kind: kind}
	have, ok := byUser[fromKey]
	if !ok {
		return
	}
	remaining := have.Sub(amt)
	if remaining.IsZero() || remaining.IsNegative() {
		delete(byUser, fromKey)
	} else {
		byUser[fromKey] = remaining
	}
	toKey := reservationKey{referenceID: toRef, kind: kind}
	byUser[toKey] = byUser[toKey].Add(amt)
}

// CreditPayout pays amt directly into userID's available balance on
// market settlement.
func (l *Ledger) CreditPayout(userID uuid.UUID, amt money.Amount, marketID string) error {
	return l.withUser(userID, func(bal *domain.UserBalance) (*domain.BalanceTransaction, error) {
		bal.Credit(amt)
		return domain.NewBalanceTransaction(userID, amt, domain.SettlementPayout, marketID, fmt.Sprintf("payout for market %s", marketID)), nil
	})
}

// History returns userID's full transaction history.
func (l *Ledger) History(userID uuid.UUID) ([]*domain.BalanceTransaction, error) {
	return l.repo.GetBalanceTransactionsForUser(userID)
}

// HasOpenReservation reports whether userID has an open reservation of
// the given kind against referenceID, letting callers verify the
// reservation-tagging invariant directly instead of replaying the
// transaction log.
func (l *Ledger) HasOpenReservation(userID uuid.UUID, kind domain.ReservationKind, referenceID string) bool {
	l.reservationsMu.Lock()
	defer l.reservationsMu.Unlock()
	byUser, ok := l.reservations[userID]
	if !ok {
		return false
	}
	_, ok = byUser[reservationKey{referenceID: referenceID, kind: kind}]
	return ok
}

func (l *Ledger) trackReservation(userID uuid.UUID, referenceID string, kind domain.ReservationKind, amt money.Amount) {
	l.reservationsMu.Lock()
	defer l.reservationsMu.Unlock()
	byUser, ok := l.reservations[userID]
	if !ok {
		byUser = make(map[reservationKey]money.Amount)
		l.reservations[userID] = byUser
	}
	key := reservationKey{referenceID: referenceID, kind: kind}
	byUser[key] = byUser[key].Add(amt)
}

func (l *Ledger) untrackReservation(userID uuid.UUID, referenceID string, kind domain.ReservationKind) {
	l.reservationsMu.Lock()
	defer l.reservationsMu.Unlock()
	byUser, ok := l.reservations[userID]
	if !ok {
		return
	}
	delete(byUser, reservationKey{referenceID: referenceID, kind: kind})
}

func (l *Ledger) reduceReservation(userID uuid.UUID, referenceID string, kind domain.ReservationKind, amt money.Amount) {
	l.reservationsMu.Lock()
	defer l.reservationsMu.Unlock()
	byUser, ok := l.reservations[userID]
	if !ok {
		return
	}
	key := reservationKey{referenceID: referenceID, kind: kind}
	remaining, ok := byUser[key]
	if !ok {
		return
	}
	remaining = remaining.Sub(amt)
	if remaining.IsZero() || remaining.IsNegative() {
		delete(byUser, key)
		return
	}
	byUser[key] = remaining
}

// SettleTrade moves the trade's cash leg: the buyer's reserved cash is
// extinguished and the same amount is credited to the seller's available
// balance, the sale proceeds. The seller's share reservation is left
// untouched here — it stays locked as collateral against the position
// until the market resolves, when settlement.Service releases it back to
// the seller (if they predicted correctly) or forfeits it to fund the
// buyer's payout (if they didn't). Callers must have already retagged the
// buyer's cash reservation onto tradeID via RetagReservation. Locks are
// acquired in ascending user-id order to avoid deadlock against a
// concurrent trade touching the same two users in the opposite role.
func (l *Ledger) SettleTrade(buyerID, sellerID uuid.UUID, cashAmt money.Amount, tradeID string) error {
	first, second := buyerID, sellerID
	if uuidLess(sellerID, buyerID) {
		first, second = sellerID, buyerID
	}

	lockFirst := l.lockFor(first)
	lockFirst.Lock()
	defer lockFirst.Unlock()
	if first != second {
		lockSecond := l.lockFor(second)
		lockSecond.Lock()
		defer lockSecond.Unlock()
	}

	// Both user locks are held for the remainder of this call: mutate
	// balances directly rather than through withUser, whose internal
	// Lock() call would deadlock against the locks already held here.
	buyerBal, err := l.loadOrCreate(buyerID)
	if err != nil {
		return err
	}
	if err := buyerBal.ConsumeReserved(cashAmt); err != nil {
		return err
	}
	if err := l.repo.SaveUserBalance(buyerBal); err != nil {
		return fmt.Errorf("ledger: save buyer balance for user %s: %w", buyerID, err)
	}
	buyerTx := domain.NewBalanceTransaction(buyerID, cashAmt, domain.TradeSettle, tradeID, fmt.Sprintf("cash leg debited for trade %s", tradeID))
	if err := l.repo.SaveBalanceTransaction(buyerTx); err != nil {
		return fmt.Errorf("ledger: save buyer transaction for user %s: %w", buyerID, err)
	}
	l.reduceReservation(buyerID, tradeID, domain.ReservationCash, cashAmt)

	sellerBal, err := l.loadOrCreate(sellerID)
	if err != nil {
		return err
	}
	sellerBal.Credit(cashAmt)
	if err := l.repo.SaveUserBalance(sellerBal); err != nil {
		return fmt.Errorf("ledger: save seller balance for user %s: %w", sellerID, err)
	}
	tx := domain.NewBalanceTransaction(sellerID, cashAmt, domain.TradeProceeds, tradeID, fmt.Sprintf("proceeds from trade %s", tradeID))
	if err := l.repo.SaveBalanceTransaction(tx); err != nil {
		return fmt.Errorf("ledger: save seller transaction for user %s: %w", sellerID, err)
	}

	log.Debug().
		Str("trade_id", tradeID).
		Str("buyer", buyerID.String()).
		Str("seller", sellerID.String()).
		Msg("ledger: trade settled")
	return nil
}

// LockUsers acquires the per-user locks for every distinct id in userIDs,
// in ascending id order (matching SettleTrade/ReverseTrade's
// deadlock-avoidance discipline), and returns a function that releases
// them in reverse. Used by callers that mutate several users' balances
// across more than one step and need the whole sequence to observe a
// stable view of those balances until they commit it — e.g.
// orderservice's per-submission fill loop, which settles every trade a
// taker order produces against a single repository.Batch.
func (l *Ledger) LockUsers(userIDs ...uuid.UUID) func() {
	seen := make(map[uuid.UUID]bool, len(userIDs))
	ids := make([]uuid.UUID, 0, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return uuidLess(ids[i], ids[j]) })

	locks := make([]*sync.Mutex, len(ids))
	for i, id := range ids {
		locks[i] = l.lockFor(id)
	}
	for _, lk := range locks {
		lk.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// LoadBalance returns userID's current balance, creating a zero balance if
// none exists yet. Callers holding userID's lock via LockUsers use this
// instead of Reserve/Release/SettleTrade/etc., which load, mutate, and
// persist in one step; LoadBalance only loads, leaving the caller free to
// queue its own mutations into a shared batch via QueueTradeSettlement or
// QueueRelease.
func (l *Ledger) LoadBalance(userID uuid.UUID) (*domain.UserBalance, error) {
	return l.loadOrCreate(userID)
}

// QueueTradeSettlement is SettleTrade's batched counterpart: it applies the
// identical cash-leg mutation to the given in-memory balances — the
// buyer's reserved cash extinguished and debited by a TradeSettle entry,
// the seller credited the same amount via a TradeProceeds entry — but
// queues the writes into batch instead of persisting them immediately, so
// a submission settling several trades commits them as one atomic unit
// alongside its orders and trades. The caller must hold both users' locks
// (see LockUsers) for the duration between this call and the batch's
// commit, and must have already retagged the buyer's cash reservation onto
// tradeID via RetagReservation.
func (l *Ledger) QueueTradeSettlement(batch *repository.Batch, buyerBal, sellerBal *domain.UserBalance, cashAmt money.Amount, tradeID string) error {
	if err := buyerBal.ConsumeReserved(cashAmt); err != nil {
		return err
	}
	batch.AddBalance(buyerBal)
	batch.AddTransaction(domain.NewBalanceTransaction(buyerBal.UserID, cashAmt, domain.TradeSettle, tradeID, fmt.Sprintf("cash leg debited for trade %s", tradeID)))
	l.reduceReservation(buyerBal.UserID, tradeID, domain.ReservationCash, cashAmt)

	sellerBal.Credit(cashAmt)
	batch.AddBalance(sellerBal)
	batch.AddTransaction(domain.NewBalanceTransaction(sellerBal.UserID, cashAmt, domain.TradeProceeds, tradeID, fmt.Sprintf("proceeds from trade %s", tradeID)))

	log.Debug().
		Str("trade_id", tradeID).
		Str("buyer", buyerBal.UserID.String()).
		Str("seller", sellerBal.UserID.String()).
		Msg("ledger: trade settlement queued")
	return nil
}

// QueueRelease is Release's batched counterpart: mutates bal in memory and
// queues the resulting balance and transaction writes into batch instead
// of persisting them immediately. The caller must hold bal's owner's lock
// (see LockUsers) for the duration between this call and the batch's
// commit.
func (l *Ledger) QueueRelease(batch *repository.Batch, bal *domain.UserBalance, amt money.Amount, kind domain.ReservationKind, referenceID string) error {
	if err := bal.Release(amt); err != nil {
		return err
	}
	batch.AddBalance(bal)
	batch.AddTransaction(domain.NewBalanceTransaction(bal.UserID, amt, domain.OrderRelease, referenceID, fmt.Sprintf("release %s for %s", kind, referenceID)))
	l.untrackReservation(bal.UserID, referenceID, kind)
	return nil
}

// ReverseTrade undoes the cash leg a prior SettleTrade call already moved:
// it credits cashAmt back to the buyer (whose reservation for it was
// consumed, not merely reserved, so there is nothing left to "release")
// and debits the same amount from the seller's available balance,
// clawing back the proceeds they were credited at match time. Used only
// by market cancellation to unwind already-executed trades; fails if the
// seller's available balance can no longer cover the clawback (e.g. they
// withdrew the proceeds before the market was cancelled). Locks are
// acquired in ascending user-id order, matching SettleTrade.
func (l *Ledger) ReverseTrade(buyerID, sellerID uuid.UUID, cashAmt money.Amount, tradeID string) error {
	first, second := buyerID, sellerID
	if uuidLess(sellerID, buyerID) {
		first, second = sellerID, buyerID
	}

	lockFirst := l.lockFor(first)
	lockFirst.Lock()
	defer lockFirst.Unlock()
	if first != second {
		lockSecond := l.lockFor(second)
		lockSecond.Lock()
		defer lockSecond.Unlock()
	}

	sellerBal, err := l.loadOrCreate(sellerID)
	if err != nil {
		return err
	}
	if err := sellerBal.Debit(cashAmt); err != nil {
		return fmt.Errorf("ledger: claw back trade proceeds from seller %s: %w", sellerID, err)
	}
	if err := l.repo.SaveUserBalance(sellerBal); err != nil {
		return fmt.Errorf("ledger: save seller balance for user %s: %w", sellerID, err)
	}
	sellerTx := domain.NewBalanceTransaction(sellerID, cashAmt, domain.TradeReversal, tradeID, fmt.Sprintf("reversal of trade %s", tradeID))
	if err := l.repo.SaveBalanceTransaction(sellerTx); err != nil {
		return fmt.Errorf("ledger: save seller transaction for user %s: %w", sellerID, err)
	}

	buyerBal, err := l.loadOrCreate(buyerID)
	if err != nil {
		return err
	}
	buyerBal.Credit(cashAmt)
	if err := l.repo.SaveUserBalance(buyerBal); err != nil {
		return fmt.Errorf("ledger: save buyer balance for user %s: %w", buyerID, err)
	}
	buyerTx := domain.NewBalanceTransaction(buyerID, cashAmt, domain.TradeReversal, tradeID, fmt.Sprintf("reversal of trade %s", tradeID))
	if err := l.repo.SaveBalanceTransaction(buyerTx); err != nil {
		return fmt.Errorf("ledger: save buyer transaction for user %s: %w", buyerID, err)
	}

	log.Debug().
		Str("trade_id", tradeID).
		Str("buyer", buyerID.String()).
		Str("seller", sellerID.String()).
		Msg("ledger: trade reversed")
	return nil
}

// ConsumeReservation extinguishes a reservation without crediting it
// anywhere: used at market resolution to forfeit a seller's share
// collateral on a losing position, funding the winning side's payout.
// The consumption is logged as a TradeSettle entry against referenceID.
func (l *Ledger) ConsumeReservation(userID uuid.UUID, amt money.Amount, kind domain.ReservationKind, referenceID string) error {
	return l.withUser(userID, func(bal *domain.UserBalance) (*domain.BalanceTransaction, error) {
		if err := bal.ConsumeReserved(amt); err != nil {
			return nil, err
		}
		l.reduceReservation(userID, referenceID, kind, amt)
		return domain.NewBalanceTransaction(userID, amt, domain.TradeSettle, referenceID, fmt.Sprintf("consume %s for %s", kind, referenceID)), nil
	})
}

func uuidLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
