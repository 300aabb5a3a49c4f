package domain

import "fmt"

// MarketStatus is the lifecycle state of a Market.
type MarketStatus int

const (
	MarketOpen MarketStatus = iota
	MarketPaused
	MarketClosed
	MarketResolvedYes
	MarketResolvedNo
	MarketCancelled
)

func (s MarketStatus) String() string {
	switch s {
	case MarketOpen:
		return "OPEN"
	case MarketPaused:
		return "PAUSED"
	case MarketClosed:
		return "CLOSED"
	case MarketResolvedYes:
		return "RESOLVED_YES"
	case MarketResolvedNo:
		return "RESOLVED_NO"
	case MarketCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsResolved reports whether the market has reached a resolved terminal state.
func (s MarketStatus) IsResolved() bool {
	return s == MarketResolvedYes || s == MarketResolvedNo
}

// IsTerminal reports whether the status never transitions further.
func (s MarketStatus) IsTerminal() bool {
	return s.IsResolved() || s == MarketCancelled
}

// MarketStatusFromInt recovers a MarketStatus from its stable wire/storage
// integer (§6: Status and side/outcome enums are stored as small integers
// with a stable mapping).
func MarketStatusFromInt(v int) (MarketStatus, error) {
	if v < int(MarketOpen) || v > int(MarketCancelled) {
		return 0, fmt.Errorf("invalid market status value: %d", v)
	}
	return MarketStatus(v), nil
}

// Side is the direction of an order: Buy or Sell.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// SideFromInt recovers a Side from its stable wire integer.
func SideFromInt(v int) (Side, error) {
	if v != int(Buy) && v != int(Sell) {
		return 0, fmt.Errorf("invalid side value: %d", v)
	}
	return Side(v), nil
}

// Outcome is the Yes/No side of a binary proposition.
type Outcome int

const (
	Yes Outcome = iota
	No
)

func (o Outcome) String() string {
	if o == Yes {
		return "YES"
	}
	return "NO"
}

// Opposite returns the other outcome.
func (o Outcome) Opposite() Outcome {
	if o == Yes {
		return No
	}
	return Yes
}

// OutcomeFromInt recovers an Outcome from its stable wire integer.
func OutcomeFromInt(v int) (Outcome, error) {
	if v != int(Yes) && v != int(No) {
		return 0, fmt.Errorf("invalid outcome value: %d", v)
	}
	return Outcome(v), nil
}

// OrderStatus is the lifecycle state of an Order.
type OrderStatus int

const (
	OrderOpen OrderStatus = iota
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
	OrderRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "OPEN"
	case OrderPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderFilled:
		return "FILLED"
	case OrderCancelled:
		return "CANCELLED"
	case OrderRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsActive reports whether the order can still rest in / be matched against
// the book (§3: every queued order has status in {Open, PartiallyFilled}).
func (s OrderStatus) IsActive() bool {
	return s == OrderOpen || s == OrderPartiallyFilled
}

// IsTerminal reports whether the status never transitions further.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// OrderStatusFromInt recovers an OrderStatus from its stable wire integer.
func OrderStatusFromInt(v int) (OrderStatus, error) {
	if v < int(OrderOpen) || v > int(OrderRejected) {
		return 0, fmt.Errorf("invalid order status value: %d", v)
	}
	return OrderStatus(v), nil
}

// TransactionType classifies a BalanceTransaction ledger entry.
type TransactionType int

const (
	Deposit TransactionType = iota
	Withdraw
	OrderReserve
	OrderRelease
	SettlementPayout
	TradeProceeds
	TradeReversal
	TradeSettle
)

func (t TransactionType) String() string {
	switch t {
	case Deposit:
		return "DEPOSIT"
	case Withdraw:
		return "WITHDRAW"
	case OrderReserve:
		return "ORDER_RESERVE"
	case OrderRelease:
		return "ORDER_RELEASE"
	case SettlementPayout:
		return "SETTLEMENT_PAYOUT"
	case TradeProceeds:
		return "TRADE_PROCEEDS"
	case TradeReversal:
		return "TRADE_REVERSAL"
	case TradeSettle:
		return "TRADE_SETTLE"
	default:
		return "UNKNOWN"
	}
}

// TransactionTypeFromInt recovers a TransactionType from its stable wire
// integer.
func TransactionTypeFromInt(v int) (TransactionType, error) {
	if v < int(Deposit) || v > int(TradeSettle) {
		return 0, fmt.Errorf("invalid transaction type value: %d", v)
	}
	return TransactionType(v), nil
}

// ReservationKind distinguishes a buyer's cash reservation from a seller's
// share-obligation reservation (§9 Open Question: seller obligation
// accounting, option (a)).
type ReservationKind int

const (
	ReservationCash ReservationKind = iota
	ReservationShares
)

func (k ReservationKind) String() string {
	if k == ReservationCash {
		return "CASH"
	}
	return "SHARES"
}
