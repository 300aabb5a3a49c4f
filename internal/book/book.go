// Package book implements the in-memory order book for a single market:
// four price-ordered queues (yes bids, yes asks, no bids, no asks), each a
// FIFO of resting orders within a price level.
package book

import (
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"sibyl/internal/domain"
	"sibyl/internal/money"
)

// PriceLevel holds every resting order at one price, oldest first.
type PriceLevel struct {
	Price  money.Price
	Orders []*domain.Order
}

// priceLevels is a btree of price levels for one side of one outcome,
// ordered by the comparator given at construction (descending for bids,
// ascending for asks), one tree per (outcome, side).
type priceLevels = btree.BTreeG[*PriceLevel]

// Book is the four-queue order book for one market.
type Book struct {
	MarketID string

	yesBids *priceLevels
	yesAsks *priceLevels
	noBids  *priceLevels
	noAsks  *priceLevels

	// index maps an order id to its current resting location, so a cancel
	// or fill can find and mutate a level without a linear scan. Backed by
	// an ordered redblacktree (rather than a plain map) so that a
	// deterministic archival walk over resting orders — for example when
	// the settlement service dumps all active orders into cancellation
	// refunds — can iterate order ids in a stable order instead of Go's
	// randomized map iteration.
	index *redblacktree.Tree
}

type indexEntry struct {
	order   *domain.Order
	outcome domain.Outcome
	side    domain.Side
	price   money.Price
}

func uuidComparator(a, b interface{}) int {
	ua, ub := a.(uuid.UUID), b.(uuid.UUID)
	for i := range ua {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// NewBook constructs an empty order book for one market.
func NewBook(marketID string) *Book {
	descending := func(a, b *PriceLevel) bool { return a.Price.GreaterThan(b.Price) }
	ascending := func(a, b *PriceLevel) bool { return a.Price.LessThan(b.Price) }
	return &Book{
		MarketID: marketID,
		yesBids:  btree.NewBTreeG(descending),
		yesAsks:  btree.NewBTreeG(ascending),
		noBids:   btree.NewBTreeG(descending),
		noAsks:   btree.NewBTreeG(ascending),
		index:    redblacktree.NewWith(uuidComparator),
	}
}

// Levels returns the resting-order tree for the given outcome/side, the
// side an incoming order of the same side would itself rest on.
func (b *Book) Levels(outcome domain.Outcome, side domain.Side) *priceLevels {
	switch {
	case outcome == domain.Yes && side == domain.Buy:
		return b.yesBids
	case outcome == domain.Yes && side == domain.Sell:
		return b.yesAsks
	case outcome == domain.No && side == domain.Buy:
		return b.noBids
	default:
		return b.noAsks
	}
}

// OpposingLevels returns the tree an incoming order of the given
// outcome/side matches against.
func (b *Book) OpposingLevels(outcome domain.Outcome, side domain.Side) *priceLevels {
	opp := domain.Buy
	if side == domain.Buy {
		opp = domain.Sell
	}
	return b.Levels(outcome, opp)
}

// Add rests an order at its limit price, appending to the level's FIFO
// queue if one already exists at that price.
func (b *Book) Add(o *domain.Order) {
	levels := b.Levels(o.Outcome, o.Side)
	level, ok := levels.GetMut(&PriceLevel{Price: o.Price})
	if ok {
		level.Orders = append(level.Orders, o)
	} else {
		levels.Set(&PriceLevel{Price: o.Price, Orders: []*domain.Order{o}})
	}
	b.index.Put(o.ID, indexEntry{order: o, outcome: o.Outcome, side: o.Side, price: o.Price})
}

// UnindexFilled drops an order from the id index without touching any
// price level: used by the matching package once it has already spliced a
// fully-consumed resting order out of its level's FIFO queue directly, so
// the index does not keep a stale reference to an order no longer on the
// book.
func (b *Book) UnindexFilled(o *domain.Order) {
	b.index.Remove(o.ID)
}

// Remove takes an order off the book entirely, e.g. on cancellation or
// full fill. Returns false if the order was not resting.
func (b *Book) Remove(o *domain.Order) bool {
	raw, found := b.index.Get(o.ID)
	if !found {
		return false
	}
	entry := raw.(indexEntry)
	levels := b.Levels(entry.outcome, entry.side)
	level, ok := levels.GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		b.index.Remove(o.ID)
		return false
	}
	for i, resting := range level.Orders {
		if resting.ID == o.ID {
			level.Orders = append(level.Orders[:i:i], level.Orders[i+1:]...)
			break
		}
	}
	if len(level.Orders) == 0 {
		levels.Delete(level)
	}
	b.index.Remove(o.ID)
	return true
}

// BestPrice returns the top-of-book price for an outcome/side queue.
func (b *Book) BestPrice(outcome domain.Outcome, side domain.Side) (money.Price, bool) {
	level, ok := b.Levels(outcome, side).Min()
	if !ok {
		return money.Price{}, false
	}
	return level.Price, true
}

// BestYesBid, BestYesAsk, BestNoBid, BestNoAsk are convenience wrappers
// over BestPrice for the four standard queues.
func (b *Book) BestYesBid() (money.Price, bool) { return b.BestPrice(domain.Yes, domain.Buy) }
func (b *Book) BestYesAsk() (money.Price, bool) { return b.BestPrice(domain.Yes, domain.Sell) }
func (b *Book) BestNoBid() (money.Price, bool)  { return b.BestPrice(domain.No, domain.Buy) }
func (b *Book) BestNoAsk() (money.Price, bool)  { return b.BestPrice(domain.No, domain.Sell) }

// MidYes returns the mid price between the best yes bid and best yes ask.
// If only one side has resting liquidity, that side's price stands in for
// the mid. Returns false only when neither side has a resting order.
func (b *Book) MidYes() (money.Price, bool) {
	bid, bidOk := b.BestYesBid()
	ask, askOk := b.BestYesAsk()
	switch {
	case bidOk && askOk:
		return money.Mid(bid, ask), true
	case bidOk:
		return bid, true
	case askOk:
		return ask, true
	default:
		return money.Price{}, false
	}
}

// ImpliedYesProbability is the yes mid price expressed as an implied
// probability in [0,1]; for a correctly-calibrated binary contract this is
// simply the mid price itself, since price IS the probability.
func (b *Book) ImpliedYesProbability() (money.Price, bool) {
	return b.MidYes()
}

// ActiveOrders walks every resting order ordered by order id, using the
// redblacktree index rather than the four price-level trees so that
// archival dumps and cancellation refund sweeps see a stable order
// independent of price-level layout.
func (b *Book) ActiveOrders() []*domain.Order {
	values := b.index.Values()
	orders := make([]*domain.Order, 0, len(values))
	for _, v := range values {
		orders = append(orders, v.(indexEntry).order)
	}
	return orders
}
