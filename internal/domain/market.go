package domain

import (
	"fmt"
	"time"
)

// Market is a single Yes/No prediction market.
//
// The order book backing a Market is owned by internal/book, keyed by
// MarketID, not embedded here: the repository port persists orders as their
// own aggregate (§4.6), and the in-memory book is rebuilt from the
// persisted active-orders view on restart (§7).
type Market struct {
	ID          string
	Question    string
	Description string
	Status      MarketStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CloseTime   *time.Time
	ResolvedAt  *time.Time
	Resolution  *Outcome
}

// NewMarket constructs a fresh Open market.
func NewMarket(id, question, description string, closeTime *time.Time) *Market {
	now := time.Now().UTC()
	return &Market{
		ID:          id,
		Question:    question,
		Description: description,
		Status:      MarketOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
		CloseTime:   closeTime,
	}
}

// IsOpen reports whether the market currently accepts order submissions.
func (m *Market) IsOpen() bool {
	return m.Status == MarketOpen
}

// Close transitions Open -> Closed.
func (m *Market) Close() error {
	if m.Status != MarketOpen {
		return fmt.Errorf("market %s: cannot close from status %s", m.ID, m.Status)
	}
	m.Status = MarketClosed
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// Resolve transitions Closed -> ResolvedYes/ResolvedNo. Idempotent when
// called again with the same outcome; returns an error if already resolved
// to a different outcome, or if the market was never closed.
func (m *Market) Resolve(outcome Outcome) error {
	if m.Status.IsResolved() {
		if m.Resolution != nil && *m.Resolution == outcome {
			return nil
		}
		return fmt.Errorf("market %s: already resolved to %s, cannot resolve to %s", m.ID, m.Resolution, outcome)
	}
	if m.Status != MarketClosed {
		return fmt.Errorf("market %s: must be closed before resolving (status %s)", m.ID, m.Status)
	}
	now := time.Now().UTC()
	if outcome == Yes {
		m.Status = MarketResolvedYes
	} else {
		m.Status = MarketResolvedNo
	}
	m.Resolution = &outcome
	m.ResolvedAt = &now
	m.UpdatedAt = now
	return nil
}

// Cancel transitions any non-terminal status to Cancelled. Idempotent.
func (m *Market) Cancel() error {
	if m.Status == MarketCancelled {
		return nil
	}
	if m.Status.IsTerminal() {
		return fmt.Errorf("market %s: cannot cancel a resolved market", m.ID)
	}
	m.Status = MarketCancelled
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Market) String() string {
	return fmt.Sprintf("Market[id=%s status=%s question=%q]", m.ID, m.Status, m.Question)
}
