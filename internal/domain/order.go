package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"sibyl/internal/money"
)

// Order is a single limit order against one outcome of one market.
//
// Invariants: 0 <= Remaining <= Quantity; Status == Filled iff Remaining == 0
// and Quantity > 0; Status == PartiallyFilled iff 0 < Remaining < Quantity;
// terminal statuses never transition further.
type Order struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	MarketID   string
	Side       Side
	Outcome    Outcome
	Price      money.Price
	Quantity   int64
	Remaining  int64
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewOrder constructs a fresh Open order with remaining == quantity.
func NewOrder(userID uuid.UUID, marketID string, side Side, outcome Outcome, price money.Price, quantity int64) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:        uuid.New(),
		UserID:    userID,
		MarketID:  marketID,
		Side:      side,
		Outcome:   outcome,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		Status:    OrderOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the order can rest in or be matched against the
// book.
func (o *Order) IsActive() bool {
	return o.Status.IsActive()
}

// ApplyFill reduces Remaining by fillQty and recomputes Status. fillQty must
// be in (0, Remaining].
func (o *Order) ApplyFill(fillQty int64) {
	if fillQty <= 0 || fillQty > o.Remaining {
		panic(fmt.Sprintf("domain: invalid fill quantity %d against remaining %d", fillQty, o.Remaining))
	}
	o.Remaining -= fillQty
	if o.Remaining == 0 {
		o.Status = OrderFilled
	} else {
		o.Status = OrderPartiallyFilled
	}
	o.UpdatedAt = time.Now().UTC()
}

// Cancel marks the order Cancelled. Callers must check IsTerminal first.
func (o *Order) Cancel() {
	o.Status = OrderCancelled
	o.UpdatedAt = time.Now().UTC()
}

// Reject marks the order Rejected without it ever having rested on a book.
func (o *Order) Reject() {
	o.Status = OrderRejected
	o.UpdatedAt = time.Now().UTC()
}

func (o *Order) String() string {
	return fmt.Sprintf(
		"Order[id=%s user=%s market=%s side=%s outcome=%s price=%s qty=%d/%d status=%s]",
		o.ID, o.UserID, o.MarketID, o.Side, o.Outcome, o.Price, o.Remaining, o.Quantity, o.Status,
	)
}
