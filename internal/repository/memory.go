package repository

import (
	"sync"

	"github.com/google/uuid"

	"sibyl/internal/domain"
)

// Memory is an in-memory Repository implementation: the reference backend
// used by tests and the demo binary. Every map is guarded by a single
// mutex (the same style as internal/net/server.go's clientSessionsLock)
// rather than one lock per collection, since batches here touch several
// collections together.
type Memory struct {
	mu sync.RWMutex

	markets      map[string]*domain.Market
	orders       map[uuid.UUID]*domain.Order
	trades       map[uuid.UUID]*domain.Trade
	balances     map[uuid.UUID]*domain.UserBalance
	transactions map[uuid.UUID]*domain.BalanceTransaction
}

// NewMemory constructs an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		markets:      make(map[string]*domain.Market),
		orders:       make(map[uuid.UUID]*domain.Order),
		trades:       make(map[uuid.UUID]*domain.Trade),
		balances:     make(map[uuid.UUID]*domain.UserBalance),
		transactions: make(map[uuid.UUID]*domain.BalanceTransaction),
	}
}

func (m *Memory) GetMarket(marketID string) (*domain.Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mk, ok := m.markets[marketID]
	if !ok {
		return nil, ErrNotFound
	}
	return mk, nil
}

func (m *Memory) GetAllMarkets() ([]*domain.Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Market, 0, len(m.markets))
	for _, mk := range m.markets {
		out = append(out, mk)
	}
	return out, nil
}

func (m *Memory) SaveMarket(mk *domain.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets[mk.ID] = mk
	return nil
}

func (m *Memory) GetOrder(orderID uuid.UUID) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *Memory) GetOrdersForUser(userID uuid.UUID) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) GetActiveOrdersForMarket(marketID string) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.MarketID == marketID && o.IsActive() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) SaveOrder(o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *Memory) GetTrade(tradeID uuid.UUID) (*domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[tradeID]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *Memory) GetTradesForMarket(marketID string) ([]*domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) SaveTrade(t *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[t.ID] = t
	return nil
}

func (m *Memory) GetUserBalance(userID uuid.UUID) (*domain.UserBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *Memory) SaveUserBalance(b *domain.UserBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[b.UserID] = b
	return nil
}

func (m *Memory) GetBalanceTransactionsForUser(userID uuid.UUID) ([]*domain.BalanceTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.BalanceTransaction
	for _, t := range m.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) SaveBalanceTransaction(t *domain.BalanceTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.ID] = t
	return nil
}

// Commit applies every queued write under a single lock acquisition. The
// in-memory backend has no partial-failure mode, so this is equivalent to
// calling each Save method in turn, but a durable backend implementing
// Repository is expected to wrap its equivalent in a real transaction.
func (m *Memory) Commit(batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mk := range batch.Markets {
		m.markets[mk.ID] = mk
	}
	for _, o := range batch.Orders {
		m.orders[o.ID] = o
	}
	for _, t := range batch.Trades {
		m.trades[t.ID] = t
	}
	for _, b := range batch.Balances {
		m.balances[b.UserID] = b
	}
	for _, t := range batch.Transactions {
		m.transactions[t.ID] = t
	}
	return nil
}

var _ Repository = (*Memory)(nil)
