// Package orderservice orchestrates order submission and cancellation:
// reserving funds, taking the per-market lock, matching, persisting the
// result atomically, and publishing events once the lock is released.
package orderservice

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sibyl/internal/book"
	"sibyl/internal/domain"
	"sibyl/internal/events"
	"sibyl/internal/ledger"
	"sibyl/internal/matching"
	"sibyl/internal/money"
	"sibyl/internal/repository"
)

var (
	// ErrMarketNotOpen is returned when an order is submitted against a
	// market that isn't currently accepting orders.
	ErrMarketNotOpen = errors.New("orderservice: market is not open")
	// ErrOrderNotActive is returned when cancelling an order already in a
	// terminal state.
	ErrOrderNotActive = errors.New("orderservice: order is not active")
	// ErrNotOwner is returned when a cancel is attempted by a user who
	// does not own the order.
	ErrNotOwner = errors.New("orderservice: user does not own order")
	// ErrMarketAlreadyExists is returned by CreateMarket when marketID is
	// already in use (§6: create_market fails DuplicateId).
	ErrMarketAlreadyExists = errors.New("orderservice: market id already exists")
)

// Service submits and cancels orders against one exchange's worth of
// markets.
type Service struct {
	repo   repository.Repository
	ledger *ledger.Ledger
	sink   *events.Sink

	// marketsCache mirrors the repository's market rows so that submit
	// and cancel do not round-trip to the repository on every call; it is
	// populated lazily on first access and kept current on every
	// mutation, the same caching discipline the Rust original's
	// OrderService.markets_cache uses.
	cacheMu sync.Mutex
	cache   map[string]*domain.Market

	// books holds one in-memory order book per market. Books are rebuilt
	// from the repository's active-orders view the first time a market is
	// touched after process start.
	booksMu sync.Mutex
	books   map[string]*book.Book

	// marketLocks serializes submit/cancel per market: matching, balance
	// mutation, and persistence for one market happen under this lock so
	// two orders against the same market can never interleave.
	locksMu     sync.Mutex
	marketLocks map[string]*sync.Mutex
}

// New constructs a Service.
func New(repo repository.Repository, l *ledger.Ledger, sink *events.Sink) *Service {
	return &Service{
		repo:        repo,
		ledger:      l,
		sink:        sink,
		cache:       make(map[string]*domain.Market),
		books:       make(map[string]*book.Book),
		marketLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockFor(marketID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.marketLocks[marketID]
	if !ok {
		m = &sync.Mutex{}
		s.marketLocks[marketID] = m
	}
	return m
}

func (s *Service) getMarket(marketID string) (*domain.Market, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if m, ok := s.cache[marketID]; ok {
		return m, nil
	}
	m, err := s.repo.GetMarket(marketID)
	if err != nil {
		return nil, err
	}
	s.cache[marketID] = m
	return m, nil
}

// CreateMarket administratively creates a fresh Open market (§3: "Market
// created administratively"), failing with ErrMarketAlreadyExists if
// marketID is already taken (§6: create_market / DuplicateId).
func (s *Service) CreateMarket(marketID, question, description string, closeTime *time.Time) (*domain.Market, error) {
	if _, err := s.repo.GetMarket(marketID); err == nil {
		return nil, ErrMarketAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("orderservice: %w", err)
	}

	m := domain.NewMarket(marketID, question, description, closeTime)
	if err := s.repo.SaveMarket(m); err != nil {
		return nil, fmt.Errorf("orderservice: save market: %w", err)
	}
	s.putMarket(m)
	return m, nil
}

// GetMarket returns a market by id, satisfying §6's get_market operation.
func (s *Service) GetMarket(marketID string) (*domain.Market, error) {
	return s.getMarket(marketID)
}

func (s *Service) putMarket(m *domain.Market) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[m.ID] = m
}

// Book exposes a market's in-memory order book to other services, e.g.
// settlement's cancellation refund sweep, satisfying settlement.BookProvider.
func (s *Service) Book(marketID string) (*book.Book, error) {
	return s.getBook(marketID)
}

func (s *Service) getBook(marketID string) (*book.Book, error) {
	s.booksMu.Lock()
	defer s.booksMu.Unlock()
	if b, ok := s.books[marketID]; ok {
		return b, nil
	}
	b := book.NewBook(marketID)
	active, err := s.repo.GetActiveOrdersForMarket(marketID)
	if err != nil {
		return nil, fmt.Errorf("orderservice: load active orders for market %s: %w", marketID, err)
	}
	for _, o := range active {
		b.Add(o)
	}
	s.books[marketID] = b
	return b, nil
}

// reservationAmount computes the cash or share obligation an order must
// reserve before it can be accepted: a buy order reserves price*quantity
// in cash, a sell order reserves quantity shares (tracked as an Amount
// equal to the integer quantity, since shares settle 1:1 at resolution).
func reservationAmount(o *domain.Order) (money.Amount, domain.ReservationKind) {
	if o.Side == domain.Buy {
		return money.PriceTimesQty(o.Price, o.Quantity), domain.ReservationCash
	}
	return money.AmountFromInt(o.Quantity), domain.ReservationShares
}

// SubmitOrder reserves the order's funds, matches it against the book,
// and persists the result. Returns the (possibly partially filled) order
// and the trades it produced.
func (s *Service) SubmitOrder(userID uuid.UUID, marketID string, side domain.Side, outcome domain.Outcome, price money.Price, quantity int64) (*domain.Order, []*domain.Trade, error) {
	market, err := s.getMarket(marketID)
	if err != nil {
		return nil, nil, fmt.Errorf("orderservice: %w", err)
	}
	if !market.IsOpen() {
		return nil, nil, ErrMarketNotOpen
	}

	order := domain.NewOrder(userID, marketID, side, outcome, price, quantity)
	reserveAmt, kind := reservationAmount(order)

	if err := s.ledger.Reserve(userID, reserveAmt, kind, order.ID.String()); err != nil {
		order.Reject()
		if saveErr := s.repo.SaveOrder(order); saveErr != nil {
			log.Error().Err(saveErr).Str("order_id", order.ID.String()).Msg("orderservice: failed to persist rejected order")
		}
		return order, nil, fmt.Errorf("orderservice: reserve funds: %w", err)
	}

	lock := s.lockFor(marketID)
	lock.Lock()
	trades, persistErr := s.matchAndPersist(market, order)
	lock.Unlock()

	if persistErr != nil {
		// Roll back the reservation: matchAndPersist queues every balance
		// mutation it computes into its batch and calls no ledger method
		// that persists on its own, so a failed commit leaves the persisted
		// balance exactly as the Reserve call above left it, safe to
		// release here.
		if relErr := s.ledger.Release(userID, reserveAmt, kind, order.ID.String()); relErr != nil {
			log.Error().Err(relErr).Str("order_id", order.ID.String()).Msg("orderservice: failed to roll back reservation after persist failure")
		}
		return nil, nil, persistErr
	}

	s.publishPostSubmit(marketID, order, trades)
	return order, trades, nil
}

// matchAndPersist must be called with marketID's lock held. It matches the
// order against the in-memory book, then settles every resulting trade's
// ledger entries and persists the order/book/trade/balance state as a
// single repository.Batch commit, so a failure partway through never
// leaves a trade's orders committed without its balance effects (or vice
// versa). Any unfilled remainder rests on the book.
func (s *Service) matchAndPersist(market *domain.Market, order *domain.Order) ([]*domain.Trade, error) {
	b, err := s.getBook(market.ID)
	if err != nil {
		return nil, err
	}

	fills := matching.Match(b, order)

	batch := &repository.Batch{}
	var trades []*domain.Trade

	// Every user whose balance this sweep might touch is locked up front
	// and held for the whole fill loop, not just the single ledger call
	// settling one trade: balanceFor's cache and the batch it feeds must
	// see a stable, exclusively-owned view of these balances until
	// s.repo.Commit below actually persists the result.
	touched := make([]uuid.UUID, 0, len(fills)*2+1)
	touched = append(touched, order.UserID)
	for _, f := range fills {
		touched = append(touched, f.RestingOrder.UserID)
	}
	unlock := s.ledger.LockUsers(touched...)
	defer unlock()

	balances := make(map[uuid.UUID]*domain.UserBalance, len(touched))
	balanceFor := func(userID uuid.UUID) (*domain.UserBalance, error) {
		if bal, ok := balances[userID]; ok {
			return bal, nil
		}
		bal, err := s.ledger.LoadBalance(userID)
		if err != nil {
			return nil, err
		}
		balances[userID] = bal
		return bal, nil
	}

	for _, f := range fills {
		var buyOrder, sellOrder *domain.Order
		if order.Side == domain.Buy {
			buyOrder, sellOrder = f.TakerOrder, f.RestingOrder
		} else {
			buyOrder, sellOrder = f.RestingOrder, f.TakerOrder
		}

		trade := domain.NewTrade(market.ID, buyOrder.ID, buyOrder.UserID, sellOrder.ID, sellOrder.UserID, order.Outcome, f.Price, f.Quantity)
		trades = append(trades, trade)
		batch.AddTrade(trade)
		batch.AddOrder(buyOrder)
		batch.AddOrder(sellOrder)

		cashAmt := money.PriceTimesQty(f.Price, f.Quantity)
		shareAmt := money.AmountFromInt(f.Quantity)

		// The amount originally reserved for this slice is always
		// buyOrder.Price*qty: when buyOrder is the resting order, its
		// price equals f.Price exactly; when it is the incoming taker
		// crossing at a better price, its reserved price may exceed
		// f.Price (price improvement), refunded below.
		reservedAtBuyPrice := money.PriceTimesQty(buyOrder.Price, f.Quantity)

		s.ledger.RetagReservation(buyOrder.UserID, domain.ReservationCash, buyOrder.ID.String(), trade.ID.String(), reservedAtBuyPrice)
		// The seller's share collateral is retagged onto the trade id but
		// stays reserved: settlement releases or forfeits it at market
		// resolution, it is not consumed here.
		s.ledger.RetagReservation(sellOrder.UserID, domain.ReservationShares, sellOrder.ID.String(), trade.ID.String(), shareAmt)

		buyerBal, err := balanceFor(buyOrder.UserID)
		if err != nil {
			return nil, fmt.Errorf("orderservice: load buyer balance: %w", err)
		}
		sellerBal, err := balanceFor(sellOrder.UserID)
		if err != nil {
			return nil, fmt.Errorf("orderservice: load seller balance: %w", err)
		}
		if err := s.ledger.QueueTradeSettlement(batch, buyerBal, sellerBal, cashAmt, trade.ID.String()); err != nil {
			return nil, fmt.Errorf("orderservice: settle trade: %w", err)
		}

		if reservedAtBuyPrice.GreaterThan(cashAmt) {
			refund := reservedAtBuyPrice.Sub(cashAmt)
			if err := s.ledger.QueueRelease(batch, buyerBal, refund, domain.ReservationCash, trade.ID.String()); err != nil {
				log.Error().Err(err).Str("order_id", buyOrder.ID.String()).Msg("orderservice: failed to refund price improvement")
			}
		}
	}

	if order.IsActive() && order.Remaining > 0 {
		b.Add(order)
	}
	batch.AddOrder(order)

	if err := s.repo.Commit(batch); err != nil {
		return nil, fmt.Errorf("orderservice: commit: %w", err)
	}
	return trades, nil
}

func (s *Service) publishPostSubmit(marketID string, order *domain.Order, trades []*domain.Trade) {
	if s.sink == nil {
		return
	}
	s.sink.PublishOrderUpdate(order)
	for _, t := range trades {
		s.sink.PublishTrade(t)
	}
	b, err := s.getBook(marketID)
	if err != nil {
		return
	}
	ev := events.PriceUpdateEvent{MarketID: marketID}
	ev.YesBid, ev.YesBidOK = b.BestYesBid()
	ev.YesAsk, ev.YesAskOK = b.BestYesAsk()
	ev.NoBid, ev.NoBidOK = b.BestNoBid()
	ev.NoAsk, ev.NoAskOK = b.BestNoAsk()
	s.sink.PublishPriceUpdate(ev)
}

// CancelOrder removes an order from its book, marks it Cancelled, and
// releases whatever remained reserved against it.
func (s *Service) CancelOrder(userID uuid.UUID, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.GetOrder(orderID)
	if err != nil {
		return nil, fmt.Errorf("orderservice: %w", err)
	}
	if order.UserID != userID {
		return nil, ErrNotOwner
	}
	if !order.IsActive() {
		return nil, ErrOrderNotActive
	}

	lock := s.lockFor(order.MarketID)
	lock.Lock()
	cancelErr := func() error {
		defer lock.Unlock()

		b, err := s.getBook(order.MarketID)
		if err != nil {
			return err
		}
		b.Remove(order)
		order.Cancel()
		if err := s.repo.SaveOrder(order); err != nil {
			return fmt.Errorf("orderservice: save cancelled order: %w", err)
		}

		_, kind := reservationAmount(order)
		remainingAmt := remainingReservation(order, kind)
		if remainingAmt.IsPositive() {
			if err := s.ledger.Release(userID, remainingAmt, kind, order.ID.String()); err != nil {
				return fmt.Errorf("orderservice: release reservation on cancel: %w", err)
			}
		}
		return nil
	}()
	if cancelErr != nil {
		return nil, cancelErr
	}

	if s.sink != nil {
		s.sink.PublishOrderUpdate(order)
	}
	return order, nil
}

// remainingReservation computes the reservation still outstanding against
// an order given its remaining (unfilled) quantity.
func remainingReservation(o *domain.Order, kind domain.ReservationKind) money.Amount {
	if kind == domain.ReservationCash {
		return money.PriceTimesQty(o.Price, o.Remaining)
	}
	return money.AmountFromInt(o.Remaining)
}
