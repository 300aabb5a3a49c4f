// Package matching implements price-time-priority matching of a single
// incoming order against the resting liquidity in a book.OrderBook.
package matching

import (
	"github.com/tidwall/btree"

	"sibyl/internal/book"
	"sibyl/internal/domain"
	"sibyl/internal/money"
)

// TradeFill is one resting/incoming match, executed at the resting
// (maker) order's price: the maker's limit always wins, so a taker that
// crossed the book at a better price than it strictly needed to receives
// price improvement.
type TradeFill struct {
	RestingOrder *domain.Order
	TakerOrder   *domain.Order
	Quantity     int64
	Price        money.Price
}

// Match sweeps the opposing side of the book against incoming, applying
// fills in price-time priority until incoming is exhausted or the book no
// longer crosses incoming's limit price. It mutates incoming's Remaining
// and Status directly, fully consumes or removes exhausted resting orders
// from the book, and returns one TradeFill per trade produced. Matching
// never crosses an order against one belonging to the same user.
//
// Match does not touch the ledger or emit events: it is a pure function
// over book state and the order objects involved. The caller
// (orderservice) holds the market lock for the whole submit call, so no
// other goroutine observes the book mid-sweep.
func Match(b *book.Book, incoming *domain.Order) []TradeFill {
	var fills []TradeFill
	opposing := b.OpposingLevels(incoming.Outcome, incoming.Side)

	// skip is the last price level the sweep fully drained of crossable
	// liquidity but could not delete, because what's left at that price is
	// pure self-match. Re-fetching it via Min() would hand back the same
	// level forever, so once a level lands in this state the sweep must
	// move past it to the next-best crossing level instead of stopping.
	var skip *book.PriceLevel

	for incoming.Remaining > 0 {
		top, ok := nextLevel(opposing, skip)
		if !ok || !crosses(incoming, top.Price) {
			break
		}
		level, _ := opposing.GetMut(top)

		// Filter level.Orders in place: exhausted resting orders drop out,
		// everything else (self-match skips, an order left with remaining
		// quantity once incoming is filled) is kept in its original FIFO
		// position. kept shares level.Orders' backing array but is only
		// ever written at an index <= the read cursor, so this is a safe
		// in-place filter.
		kept := level.Orders[:0]
		for _, resting := range level.Orders {
			if incoming.Remaining == 0 || resting.UserID == incoming.UserID {
				// Either incoming is already filled or this would be a
				// self-match: leave resting exactly as it was.
				kept = append(kept, resting)
				continue
			}

			qty := min64(incoming.Remaining, resting.Remaining)
			incoming.ApplyFill(qty)
			resting.ApplyFill(qty)

			fills = append(fills, TradeFill{
				RestingOrder: resting,
				TakerOrder:   incoming,
				Quantity:     qty,
				Price:        resting.Price,
			})

			if resting.Remaining > 0 {
				kept = append(kept, resting)
			} else {
				b.UnindexFilled(resting)
			}
		}
		level.Orders = kept

		if len(level.Orders) == 0 {
			opposing.Delete(level)
			skip = nil
		} else {
			// Every order left at this price belongs to incoming's own
			// user: this level has no more crossable liquidity to give,
			// but it isn't empty, so it must be explicitly skipped on the
			// next pass rather than deleted.
			skip = level
		}
	}

	return fills
}

// nextLevel returns the best price level still worth inspecting: Min() on
// the first pass, or the first level strictly past skip once a prior pass
// found skip to be fully self-matched and left it resting on the book.
func nextLevel(levels *btree.BTreeG[*book.PriceLevel], skip *book.PriceLevel) (*book.PriceLevel, bool) {
	if skip == nil {
		return levels.Min()
	}
	var next *book.PriceLevel
	found := false
	levels.Ascend(skip, func(lvl *book.PriceLevel) bool {
		if lvl == skip {
			return true
		}
		next = lvl
		found = true
		return false
	})
	return next, found
}

func crosses(incoming *domain.Order, restingPrice money.Price) bool {
	if incoming.Side == domain.Buy {
		return incoming.Price.GreaterOrEqual(restingPrice)
	}
	return incoming.Price.LessOrEqual(restingPrice)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
