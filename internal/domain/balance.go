package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"sibyl/internal/money"
)

// UserBalance tracks one user's available and reserved cash.
//
// Invariant: Available >= 0, Reserved >= 0. Total funds owed to a user is
// Available + Reserved.
type UserBalance struct {
	UserID    uuid.UUID
	Available money.Amount
	Reserved  money.Amount
	UpdatedAt time.Time
}

// NewUserBalance constructs a zero balance for a user seen for the first
// time (mirrors the lazy zero-balance creation on first access).
func NewUserBalance(userID uuid.UUID) *UserBalance {
	return &UserBalance{
		UserID:    userID,
		Available: money.Zero,
		Reserved:  money.Zero,
		UpdatedAt: time.Now().UTC(),
	}
}

// Total is the sum of available and reserved funds.
func (b *UserBalance) Total() money.Amount {
	return b.Available.Add(b.Reserved)
}

// HasSufficientAvailable reports whether the user can reserve amt right now.
func (b *UserBalance) HasSufficientAvailable(amt money.Amount) bool {
	return b.Available.GreaterOrEqual(amt)
}

// Reserve moves amt from available to reserved. Fails if available < amt.
func (b *UserBalance) Reserve(amt money.Amount) error {
	if !b.HasSufficientAvailable(amt) {
		return fmt.Errorf("user %s: insufficient available balance %s to reserve %s", b.UserID, b.Available, amt)
	}
	b.Available = b.Available.Sub(amt)
	b.Reserved = b.Reserved.Add(amt)
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// Release moves amt from reserved back to available. Fails if reserved < amt.
func (b *UserBalance) Release(amt money.Amount) error {
	if b.Reserved.LessThan(amt) {
		return fmt.Errorf("user %s: insufficient reserved balance %s to release %s", b.UserID, b.Reserved, amt)
	}
	b.Reserved = b.Reserved.Sub(amt)
	b.Available = b.Available.Add(amt)
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// Credit adds amt directly to available funds (deposits, payouts).
func (b *UserBalance) Credit(amt money.Amount) {
	b.Available = b.Available.Add(amt)
	b.UpdatedAt = time.Now().UTC()
}

// Debit removes amt from available funds (withdrawals). Fails if
// available < amt.
func (b *UserBalance) Debit(amt money.Amount) error {
	if !b.HasSufficientAvailable(amt) {
		return fmt.Errorf("user %s: insufficient available balance %s to withdraw %s", b.UserID, b.Available, amt)
	}
	b.Available = b.Available.Sub(amt)
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// ConsumeReserved deducts amt from reserved funds without returning it to
// available: this is how a filled buyer's or seller's obligation is
// finally extinguished once a trade settles.
func (b *UserBalance) ConsumeReserved(amt money.Amount) error {
	if b.Reserved.LessThan(amt) {
		return fmt.Errorf("user %s: insufficient reserved balance %s to consume %s", b.UserID, b.Reserved, amt)
	}
	b.Reserved = b.Reserved.Sub(amt)
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (b *UserBalance) String() string {
	return fmt.Sprintf("UserBalance[user=%s available=%s reserved=%s]", b.UserID, b.Available, b.Reserved)
}

// BalanceTransaction is an append-only ledger entry. Every mutation to a
// UserBalance is accompanied by exactly one BalanceTransaction.
type BalanceTransaction struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Amount      money.Amount
	Type        TransactionType
	ReferenceID string
	Description string
	CreatedAt   time.Time
}

// NewBalanceTransaction constructs a ledger entry. ReferenceID ties the
// entry back to the order, trade, or market that caused it; it is empty
// for plain deposits and withdrawals.
func NewBalanceTransaction(userID uuid.UUID, amt money.Amount, txType TransactionType, referenceID, description string) *BalanceTransaction {
	return &BalanceTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amt,
		Type:        txType,
		ReferenceID: referenceID,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}

func (t *BalanceTransaction) String() string {
	return fmt.Sprintf(
		"BalanceTransaction[id=%s user=%s type=%s amount=%s ref=%s]",
		t.ID, t.UserID, t.Type, t.Amount, t.ReferenceID,
	)
}
