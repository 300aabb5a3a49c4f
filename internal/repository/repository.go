// Package repository defines the persistence port every service in this
// module is written against, plus an in-memory reference implementation
// used by tests and the demo binary. A durable backend (Postgres, etc.)
// is an out-of-scope host concern; it need only satisfy Repository.
package repository

import (
	"errors"

	"github.com/google/uuid"

	"sibyl/internal/domain"
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("repository: not found")

// Repository is the persistence port. Every method is expected to be
// individually atomic; Commit groups a set of writes the caller wants
// applied together (e.g. saving an order, a market, and the trades it
// produced in one batch) so a crash between them cannot be observed.
type Repository interface {
	GetMarket(marketID string) (*domain.Market, error)
	GetAllMarkets() ([]*domain.Market, error)
	SaveMarket(m *domain.Market) error

	GetOrder(orderID uuid.UUID) (*domain.Order, error)
	GetOrdersForUser(userID uuid.UUID) ([]*domain.Order, error)
	GetActiveOrdersForMarket(marketID string) ([]*domain.Order, error)
	SaveOrder(o *domain.Order) error

	GetTrade(tradeID uuid.UUID) (*domain.Trade, error)
	GetTradesForMarket(marketID string) ([]*domain.Trade, error)
	SaveTrade(t *domain.Trade) error

	GetUserBalance(userID uuid.UUID) (*domain.UserBalance, error)
	SaveUserBalance(b *domain.UserBalance) error

	GetBalanceTransactionsForUser(userID uuid.UUID) ([]*domain.BalanceTransaction, error)
	SaveBalanceTransaction(t *domain.BalanceTransaction) error

	// Commit atomically applies every write queued in batch, or none of
	// them. Used by operations that must persist several aggregates
	// together, such as a fill that touches an order, its resting
	// counterpart, and a new trade.
	Commit(batch *Batch) error
}

// Batch accumulates writes to apply atomically via Repository.Commit.
type Batch struct {
	Markets      []*domain.Market
	Orders       []*domain.Order
	Trades       []*domain.Trade
	Balances     []*domain.UserBalance
	Transactions []*domain.BalanceTransaction
}

// AddMarket queues a market write.
func (b *Batch) AddMarket(m *domain.Market) { b.Markets = append(b.Markets, m) }

// AddOrder queues an order write.
func (b *Batch) AddOrder(o *domain.Order) { b.Orders = append(b.Orders, o) }

// AddTrade queues a trade write.
func (b *Batch) AddTrade(t *domain.Trade) { b.Trades = append(b.Trades, t) }

// AddBalance queues a balance write.
func (b *Batch) AddBalance(bal *domain.UserBalance) { b.Balances = append(b.Balances, bal) }

// AddTransaction queues a transaction write.
func (b *Batch) AddTransaction(t *domain.BalanceTransaction) {
	b.Transactions = append(b.Transactions, t)
}
