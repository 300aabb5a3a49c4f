// Package settlement implements market lifecycle transitions that pay
// money out of or back into the ledger: closing a market, resolving it to
// Yes or No, and cancelling it with refunds to every resting order.
package settlement

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sibyl/internal/book"
	"sibyl/internal/domain"
	"sibyl/internal/events"
	"sibyl/internal/ledger"
	"sibyl/internal/money"
	"sibyl/internal/repository"
)

// ErrAlreadyResolved is returned by Resolve when the market is resolved to
// a different outcome than requested; resolving to the same outcome again
// is a no-op, not an error.
var ErrAlreadyResolved = errors.New("settlement: market already resolved to a different outcome")

// BookProvider gives the settlement service access to the same in-memory
// order books orderservice maintains, so a cancelled market's resting
// orders can be found and refunded.
type BookProvider interface {
	Book(marketID string) (*book.Book, error)
}

// Service closes, resolves, and cancels markets, computing and crediting
// payouts and refunds through the ledger.
type Service struct {
	repo   repository.Repository
	ledger *ledger.Ledger
	sink   *events.Sink
	books  BookProvider

	locksMu     sync.Mutex
	marketLocks map[string]*sync.Mutex
}

// New constructs a settlement Service.
func New(repo repository.Repository, l *ledger.Ledger, sink *events.Sink, books BookProvider) *Service {
	return &Service{
		repo:        repo,
		ledger:      l,
		sink:        sink,
		books:       books,
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

// CloseMarket transitions a market from Open to Closed, after which no
// further orders are accepted but resolution is not yet final.
func (s *Service) CloseMarket(marketID string) (*domain.Market, error) {
	lock := s.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.repo.GetMarket(marketID)
	if err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}
	if err := m.Close(); err != nil {
		return nil, err
	}
	if err := s.repo.SaveMarket(m); err != nil {
		return nil, fmt.Errorf("settlement: save closed market: %w", err)
	}
	return m, nil
}

// ResolveMarket transitions a Closed market to ResolvedYes/ResolvedNo and
// pays out every trade on the winning outcome. Each winning share pays
// exactly one unit of currency to the user holding it; losing shares pay
// nothing. A user is credited at most once per market even if they hold
// winning positions from several trades (accumulated in processPayouts'
// owed map).
//
// Idempotent: resolving to the same outcome a market is already resolved
// to is a no-op; resolving to the opposite outcome is an error.
func (s *Service) ResolveMarket(marketID string, outcome domain.Outcome) (*domain.Market, error) {
	lock := s.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.repo.GetMarket(marketID)
	if err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}

	if m.Status.IsResolved() {
		if m.Resolution != nil && *m.Resolution == outcome {
			return m, nil
		}
		return nil, ErrAlreadyResolved
	}

	if err := m.Resolve(outcome); err != nil {
		return nil, err
	}
	if err := s.repo.SaveMarket(m); err != nil {
		return nil, fmt.Errorf("settlement: save resolved market: %w", err)
	}

	if err := s.processPayouts(m, outcome); err != nil {
		return nil, fmt.Errorf("settlement: process payouts: %w", err)
	}

	if s.sink != nil {
		s.sink.PublishMarketResolution(marketID, m.Status)
	}
	return m, nil
}

// processPayouts settles every trade against the winning outcome, under
// the canonical binary-contract model: one winning share is worth exactly
// one unit of currency, full stop.
//
// Every sell order fully collateralizes its position at submission time
// (one unit of currency reserved per share, tracked as a ReservationShares
// entry retagged onto the trade id at match time). Resolution spends that
// collateral one of two ways per trade:
//   - the trade's outcome lost: the buyer's shares expire worthless and
//     the seller predicted correctly, so their collateral is released
//     back to their available balance.
//   - the trade's outcome won: the seller's collateral is forfeited
//     (consumed without being credited anywhere) to fund the payout, and
//     the buyer is paid quantity*1 for the position.
//
// Each buyer is credited once per market regardless of how many winning
// trades they hold, by accumulating the total owed before crediting.
func (s *Service) processPayouts(m *domain.Market, outcome domain.Outcome) error {
	trades, err := s.repo.GetTradesForMarket(m.ID)
	if err != nil {
		return err
	}

	owed := make(map[uuid.UUID]money.Amount)
	for _, t := range trades {
		collateral := money.AmountFromInt(t.Quantity)
		if t.Outcome != outcome {
			if err := s.ledger.Release(t.SellerID, collateral, domain.ReservationShares, t.ID.String()); err != nil {
				return fmt.Errorf("settlement: release collateral for trade %s: %w", t.ID, err)
			}
			continue
		}
		if err := s.ledger.ConsumeReservation(t.SellerID, collateral, domain.ReservationShares, t.ID.String()); err != nil {
			return fmt.Errorf("settlement: forfeit collateral for trade %s: %w", t.ID, err)
		}
		owed[t.BuyerID] = owed[t.BuyerID].Add(collateral)
	}

	for userID, amt := range owed {
		if !amt.IsPositive() {
			continue
		}
		if err := s.ledger.CreditPayout(userID, amt, m.ID); err != nil {
			return fmt.Errorf("settlement: credit payout to user %s: %w", userID, err)
		}
		if s.sink != nil {
			s.sink.PublishPayout(m.ID, userID, amt)
		}
	}
	return nil
}

// CancelMarket transitions any non-terminal market to Cancelled, refunds
// every resting order's outstanding reservation in full (a buy order
// refunds price*remaining, a sell order refunds remaining shares), and
// unwinds every trade already executed on the market: the buyer gets back
// the p*q cash their reservation paid into the trade, the seller gets
// back the q shares of collateral forfeited/escrowed for it. This
// effectively undoes all trading activity on the market, per the rule
// that a cancelled market never resolves and so never owes anyone a
// payout. Idempotent if the market is already Cancelled.
func (s *Service) CancelMarket(marketID string) (*domain.Market, error) {
	lock := s.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.repo.GetMarket(marketID)
	if err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}
	wasAlreadyCancelled := m.Status == domain.MarketCancelled
	if err := m.Cancel(); err != nil {
		return nil, err
	}
	if err := s.repo.SaveMarket(m); err != nil {
		return nil, fmt.Errorf("settlement: save cancelled market: %w", err)
	}
	if wasAlreadyCancelled {
		return m, nil
	}

	if err := s.refundActiveOrders(m); err != nil {
		return nil, fmt.Errorf("settlement: refund active orders: %w", err)
	}
	if err := s.unwindTrades(m); err != nil {
		return nil, fmt.Errorf("settlement: unwind trades: %w", err)
	}

	if s.sink != nil {
		s.sink.PublishMarketResolution(marketID, m.Status)
	}
	return m, nil
}

// unwindTrades refunds both legs of every trade executed on m. The
// buyer's p*q cash was consumed outright by SettleTrade (not merely
// reserved), so it is clawed back from the seller and credited to the
// buyer via ReverseTrade; the seller's q-share collateral is still
// sitting in reserved under the trade's id (see orderservice's
// RetagReservation calls) and is simply released back to them.
func (s *Service) unwindTrades(m *domain.Market) error {
	trades, err := s.repo.GetTradesForMarket(m.ID)
	if err != nil {
		return err
	}
	for _, t := range trades {
		cashAmt := money.PriceTimesQty(t.Price, t.Quantity)
		if cashAmt.IsPositive() {
			if err := s.ledger.ReverseTrade(t.BuyerID, t.SellerID, cashAmt, t.ID.String()); err != nil {
				log.Error().Err(err).Str("trade_id", t.ID.String()).Msg("settlement: failed to reverse trade on market cancel")
				return err
			}
		}
		shareAmt := money.AmountFromInt(t.Quantity)
		if shareAmt.IsPositive() {
			if err := s.ledger.Release(t.SellerID, shareAmt, domain.ReservationShares, t.ID.String()); err != nil {
				log.Error().Err(err).Str("trade_id", t.ID.String()).Msg("settlement: failed to refund seller collateral on market cancel")
				return err
			}
		}
	}
	return nil
}

func (s *Service) refundActiveOrders(m *domain.Market) error {
	var active []*domain.Order
	if s.books != nil {
		if b, err := s.books.Book(m.ID); err == nil {
			active = b.ActiveOrders()
		}
	}
	if active == nil {
		var err error
		active, err = s.repo.GetActiveOrdersForMarket(m.ID)
		if err != nil {
			return err
		}
	}

	for _, o := range active {
		if !o.IsActive() || o.Remaining == 0 {
			continue
		}
		var refund money.Amount
		var kind domain.ReservationKind
		if o.Side == domain.Buy {
			refund = money.PriceTimesQty(o.Price, o.Remaining)
			kind = domain.ReservationCash
		} else {
			refund = money.AmountFromInt(o.Remaining)
			kind = domain.ReservationShares
		}

		o.Cancel()
		if err := s.repo.SaveOrder(o); err != nil {
			return fmt.Errorf("save cancelled order %s: %w", o.ID, err)
		}
		if refund.IsPositive() {
			if err := s.ledger.Release(o.UserID, refund, kind, o.ID.String()); err != nil {
				log.Error().Err(err).Str("order_id", o.ID.String()).Msg("settlement: failed to refund cancelled order")
				return err
			}
		}
	}
	return nil
}
