package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"sibyl/internal/money"
)

// Trade is an immutable record of one match between a buy order and a sell
// order. Written once; never updated.
type Trade struct {
	ID          uuid.UUID
	MarketID    string
	BuyOrderID  uuid.UUID
	BuyerID     uuid.UUID
	SellOrderID uuid.UUID
	SellerID    uuid.UUID
	Outcome     Outcome
	Price       money.Price
	Quantity    int64
	ExecutedAt  time.Time
}

// NewTrade constructs a Trade record for a completed match.
func NewTrade(marketID string, buyOrderID, buyerID, sellOrderID, sellerID uuid.UUID, outcome Outcome, price money.Price, quantity int64) *Trade {
	return &Trade{
		ID:          uuid.New(),
		MarketID:    marketID,
		BuyOrderID:  buyOrderID,
		BuyerID:     buyerID,
		SellOrderID: sellOrderID,
		SellerID:    sellerID,
		Outcome:     outcome,
		Price:       price,
		Quantity:    quantity,
		ExecutedAt:  time.Now().UTC(),
	}
}

// UserIDForSide returns the user who took the given side of this trade.
func (t *Trade) UserIDForSide(side Side) uuid.UUID {
	if side == Buy {
		return t.BuyerID
	}
	return t.SellerID
}

// OrderIDForSide returns the order id on the given side of this trade.
func (t *Trade) OrderIDForSide(side Side) uuid.UUID {
	if side == Buy {
		return t.BuyOrderID
	}
	return t.SellOrderID
}

func (t *Trade) String() string {
	return fmt.Sprintf(
		"Trade[id=%s market=%s buyer=%s seller=%s outcome=%s price=%s qty=%d]",
		t.ID, t.MarketID, t.BuyerID, t.SellerID, t.Outcome, t.Price, t.Quantity,
	)
}
