// Package events defines the non-blocking event sinks the core emits to:
// trades, price updates, order updates, payouts, and market resolutions.
// The order service publishes only after releasing its per-market lock;
// the settlement service publishes while still holding its own per-market
// lock. Every publish is a non-blocking send, so a slow or stalled
// subscriber can never hold up matching.
package events

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"

	"sibyl/internal/domain"
	"sibyl/internal/money"
)

// TradeEvent reports one executed trade.
type TradeEvent struct {
	Trade *domain.Trade
}

// PriceUpdateEvent reports a market's best yes/no bid and ask after an
// order submission.
type PriceUpdateEvent struct {
	MarketID   string
	YesBid     money.Price
	YesBidOK   bool
	YesAsk     money.Price
	YesAskOK   bool
	NoBid      money.Price
	NoBidOK    bool
	NoAsk      money.Price
	NoAskOK    bool
}

// OrderUpdateEvent reports a status or remaining-quantity change on an
// order.
type OrderUpdateEvent struct {
	Order *domain.Order
}

// PayoutEvent reports a single user's settlement payout on market
// resolution.
type PayoutEvent struct {
	MarketID string
	UserID   uuid.UUID
	Amount   money.Amount
}

// MarketResolutionEvent reports a market reaching a resolved or cancelled
// terminal state.
type MarketResolutionEvent struct {
	MarketID string
	Status   domain.MarketStatus
}

// Sink is the fan-out point every service publishes to. Each channel is
// buffered; a full channel causes the event to be dropped and logged
// rather than blocking the caller, since transport to subscribers is
// explicitly not part of the matching/settlement critical path.
type Sink struct {
	Trades            chan TradeEvent
	PriceUpdates      chan PriceUpdateEvent
	OrderUpdates      chan OrderUpdateEvent
	Payouts           chan PayoutEvent
	MarketResolutions chan MarketResolutionEvent
}

// NewSink constructs a Sink with the given per-channel buffer size.
func NewSink(buffer int) *Sink {
	return &Sink{
		Trades:            make(chan TradeEvent, buffer),
		PriceUpdates:      make(chan PriceUpdateEvent, buffer),
		OrderUpdates:      make(chan OrderUpdateEvent, buffer),
		Payouts:           make(chan PayoutEvent, buffer),
		MarketResolutions: make(chan MarketResolutionEvent, buffer),
	}
}

func (s *Sink) PublishTrade(t *domain.Trade) {
	select {
	case s.Trades <- TradeEvent{Trade: t}:
	default:
		log.Warn().Str("trade_id", t.ID.String()).Msg("events: trade sink full, dropping")
	}
}

func (s *Sink) PublishPriceUpdate(ev PriceUpdateEvent) {
	select {
	case s.PriceUpdates <- ev:
	default:
		log.Warn().Str("market_id", ev.MarketID).Msg("events: price update sink full, dropping")
	}
}

func (s *Sink) PublishOrderUpdate(o *domain.Order) {
	select {
	case s.OrderUpdates <- OrderUpdateEvent{Order: o}:
	default:
		log.Warn().Str("order_id", o.ID.String()).Msg("events: order update sink full, dropping")
	}
}

func (s *Sink) PublishPayout(marketID string, userID uuid.UUID, amount money.Amount) {
	select {
	case s.Payouts <- PayoutEvent{MarketID: marketID, UserID: userID, Amount: amount}:
	default:
		log.Warn().Str("market_id", marketID).Str("user_id", userID.String()).Msg("events: payout sink full, dropping")
	}
}

func (s *Sink) PublishMarketResolution(marketID string, status domain.MarketStatus) {
	select {
	case s.MarketResolutions <- MarketResolutionEvent{MarketID: marketID, Status: status}:
	default:
		log.Warn().Str("market_id", marketID).Msg("events: market resolution sink full, dropping")
	}
}

// Dispatcher drains a Sink's channels and forwards each event to a set of
// registered handlers, supervised by a tomb so a handler panic or the
// owning process shutting down tears the whole fan-out down together —
// the same tomb/t.Go shape the transport server uses.
type Dispatcher struct {
	sink *Sink
	t    *tomb.Tomb

	onTrade    func(TradeEvent)
	onPrice    func(PriceUpdateEvent)
	onOrder    func(OrderUpdateEvent)
	onPayout   func(PayoutEvent)
	onResolve  func(MarketResolutionEvent)
}

// NewDispatcher wires handler functions to a Sink. Any handler may be nil,
// in which case that event class is drained and discarded.
func NewDispatcher(sink *Sink, onTrade func(TradeEvent), onPrice func(PriceUpdateEvent), onOrder func(OrderUpdateEvent), onPayout func(PayoutEvent), onResolve func(MarketResolutionEvent)) *Dispatcher {
	return &Dispatcher{
		sink:      sink,
		onTrade:   onTrade,
		onPrice:   onPrice,
		onOrder:   onOrder,
		onPayout:  onPayout,
		onResolve: onResolve,
	}
}

// Start launches the dispatch loops under a fresh tomb and returns it so
// the caller can Kill/Wait on shutdown.
func (d *Dispatcher) Start() *tomb.Tomb {
	d.t = new(tomb.Tomb)
	d.t.Go(func() error { return d.loop() })
	return d.t
}

func (d *Dispatcher) loop() error {
	for {
		select {
		case <-d.t.Dying():
			return nil
		case ev := <-d.sink.Trades:
			if d.onTrade != nil {
				d.onTrade(ev)
			}
		case ev := <-d.sink.PriceUpdates:
			if d.onPrice != nil {
				d.onPrice(ev)
			}
		case ev := <-d.sink.OrderUpdates:
			if d.onOrder != nil {
				d.onOrder(ev)
			}
		case ev := <-d.sink.Payouts:
			if d.onPayout != nil {
				d.onPayout(ev)
			}
		case ev := <-d.sink.MarketResolutions:
			if d.onResolve != nil {
				d.onResolve(ev)
			}
		}
	}
}
