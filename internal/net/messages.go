package net

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sibyl/internal/domain"
	"sibyl/internal/money"
)

var (
	ErrInvalidMessageType = errors.New("net: invalid message type")
	ErrMessageTooShort    = errors.New("net: message too short")
	ErrInvalidUUID        = errors.New("net: invalid uuid")
)

// MessageType identifies the wire message carried in a frame's header.
type MessageType uint16

const (
	Heartbeat MessageType = iota
	SubmitOrder
	CancelOrder
	Deposit
	Withdraw
	CloseMarket
	ResolveMarket
	CancelMarket
	CreateMarket
)

// ReportMessageType identifies the kind of server-to-client report frame.
type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
)

// Message is any parsed client request frame.
type Message interface {
	GetType() MessageType
}

// Frame header sizes, matching the fixed-width binary big-endian layout
// every request carries: a 2-byte type tag followed by a fixed body and,
// for variable-length fields, an explicit length prefix.
const (
	FrameHeaderLen          = 2
	SubmitOrderFixedLen     = 16 + 4 + 1 + 1 + 2 + 8 // userID + marketIDLen + side + outcome + price(cents) + quantity
	CancelOrderFixedLen     = 16 + 16
	DepositWithdrawFixedLen = 16 + 8
	MarketCommandFixedLen   = 4 // market id length prefix
	ResolveMarketFixedLen   = 4 + 1
)

// SubmitOrderMessage is a client request to place one order.
type SubmitOrderMessage struct {
	UserID     uuid.UUID
	MarketID   string
	Side       domain.Side
	Outcome    domain.Outcome
	PriceCents uint16
	Quantity   uint64
}

func (m SubmitOrderMessage) GetType() MessageType { return SubmitOrder }

// Price converts the wire's integer-cents price into a money.Price.
func (m SubmitOrderMessage) Price() (money.Price, error) {
	d := decimal.New(int64(m.PriceCents), -2)
	return money.NewPrice(d)
}

// CancelOrderMessage is a client request to cancel one order.
type CancelOrderMessage struct {
	UserID  uuid.UUID
	OrderID uuid.UUID
}

func (m CancelOrderMessage) GetType() MessageType { return CancelOrder }

// DepositMessage credits a user's available balance.
type DepositMessage struct {
	UserID     uuid.UUID
	AmountMils uint64 // amount in ten-thousandths of a currency unit
}

func (m DepositMessage) GetType() MessageType { return Deposit }

func (m DepositMessage) Amount() money.Amount {
	return money.NewAmount(decimal.New(int64(m.AmountMils), -4))
}

// WithdrawMessage debits a user's available balance.
type WithdrawMessage struct {
	UserID     uuid.UUID
	AmountMils uint64
}

func (m WithdrawMessage) GetType() MessageType { return Withdraw }

func (m WithdrawMessage) Amount() money.Amount {
	return money.NewAmount(decimal.New(int64(m.AmountMils), -4))
}

// MarketCommandMessage carries a market id for CloseMarket/CancelMarket.
type MarketCommandMessage struct {
	Type     MessageType
	MarketID string
}

func (m MarketCommandMessage) GetType() MessageType { return m.Type }

// ResolveMarketMessage resolves a market to Yes or No.
type ResolveMarketMessage struct {
	MarketID string
	Outcome  domain.Outcome
}

func (m ResolveMarketMessage) GetType() MessageType { return ResolveMarket }

// CreateMarketMessage administratively creates a new market (§6:
// create_market). CloseTimeUnix of 0 means no scheduled close time.
type CreateMarketMessage struct {
	MarketID      string
	Question      string
	Description   string
	CloseTimeUnix int64
}

func (m CreateMarketMessage) GetType() MessageType { return CreateMarket }

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < FrameHeaderLen {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	body := msg[2:]
	switch typeOf {
	case SubmitOrder:
		return parseSubmitOrder(body)
	case CancelOrder:
		return parseCancelOrder(body)
	case Deposit:
		return parseDeposit(body)
	case Withdraw:
		return parseWithdraw(body)
	case CloseMarket:
		return parseMarketCommand(CloseMarket, body)
	case CancelMarket:
		return parseMarketCommand(CancelMarket, body)
	case ResolveMarket:
		return parseResolveMarket(body)
	case CreateMarket:
		return parseCreateMarket(body)
	default:
		return nil, ErrInvalidMessageType
	}
}

func readUUID(b []byte) (uuid.UUID, error) {
	if len(b) < 16 {
		return uuid.UUID{}, ErrMessageTooShort
	}
	var u uuid.UUID
	copy(u[:], b[:16])
	return u, nil
}

func readMarketID(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, ErrMessageTooShort
	}
	n := int(binary.BigEndian.Uint32(b[0:4]))
	b = b[4:]
	if len(b) < n {
		return "", nil, ErrMessageTooShort
	}
	return string(b[:n]), b[n:], nil
}

func parseSubmitOrder(b []byte) (SubmitOrderMessage, error) {
	userID, err := readUUID(b)
	if err != nil {
		return SubmitOrderMessage{}, err
	}
	b = b[16:]

	marketID, b, err := readMarketID(b)
	if err != nil {
		return SubmitOrderMessage{}, err
	}

	if len(b) < 1+1+2+8 {
		return SubmitOrderMessage{}, ErrMessageTooShort
	}
	side, err := domain.SideFromInt(int(b[0]))
	if err != nil {
		return SubmitOrderMessage{}, err
	}
	outcome, err := domain.OutcomeFromInt(int(b[1]))
	if err != nil {
		return SubmitOrderMessage{}, err
	}
	priceCents := binary.BigEndian.Uint16(b[2:4])
	quantity := binary.BigEndian.Uint64(b[4:12])

	return SubmitOrderMessage{
		UserID:     userID,
		MarketID:   marketID,
		Side:       side,
		Outcome:    outcome,
		PriceCents: priceCents,
		Quantity:   quantity,
	}, nil
}

func parseCancelOrder(b []byte) (CancelOrderMessage, error) {
	if len(b) < 32 {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	userID, _ := readUUID(b)
	var orderID uuid.UUID
	copy(orderID[:], b[16:32])
	return CancelOrderMessage{UserID: userID, OrderID: orderID}, nil
}

func parseDeposit(b []byte) (DepositMessage, error) {
	if len(b) < 24 {
		return DepositMessage{}, ErrMessageTooShort
	}
	userID, _ := readUUID(b)
	amt := binary.BigEndian.Uint64(b[16:24])
	return DepositMessage{UserID: userID, AmountMils: amt}, nil
}

func parseWithdraw(b []byte) (WithdrawMessage, error) {
	if len(b) < 24 {
		return WithdrawMessage{}, ErrMessageTooShort
	}
	userID, _ := readUUID(b)
	amt := binary.BigEndian.Uint64(b[16:24])
	return WithdrawMessage{UserID: userID, AmountMils: amt}, nil
}

func parseMarketCommand(t MessageType, b []byte) (MarketCommandMessage, error) {
	marketID, _, err := readMarketID(b)
	if err != nil {
		return MarketCommandMessage{}, err
	}
	return MarketCommandMessage{Type: t, MarketID: marketID}, nil
}

func parseCreateMarket(b []byte) (CreateMarketMessage, error) {
	marketID, b, err := readMarketID(b)
	if err != nil {
		return CreateMarketMessage{}, err
	}
	question, b, err := readMarketID(b)
	if err != nil {
		return CreateMarketMessage{}, err
	}
	description, b, err := readMarketID(b)
	if err != nil {
		return CreateMarketMessage{}, err
	}
	if len(b) < 8 {
		return CreateMarketMessage{}, ErrMessageTooShort
	}
	closeTime := int64(binary.BigEndian.Uint64(b[0:8]))
	return CreateMarketMessage{
		MarketID:      marketID,
		Question:      question,
		Description:   description,
		CloseTimeUnix: closeTime,
	}, nil
}

func parseResolveMarket(b []byte) (ResolveMarketMessage, error) {
	marketID, rest, err := readMarketID(b)
	if err != nil {
		return ResolveMarketMessage{}, err
	}
	if len(rest) < 1 {
		return ResolveMarketMessage{}, ErrMessageTooShort
	}
	outcome, err := domain.OutcomeFromInt(int(rest[0]))
	if err != nil {
		return ResolveMarketMessage{}, err
	}
	return ResolveMarketMessage{MarketID: marketID, Outcome: outcome}, nil
}

// Report is a server-to-client frame: either an execution report for a
// completed operation, or an error report.
type Report struct {
	Type    ReportMessageType
	OrderID uuid.UUID
	Status  domain.OrderStatus
	Filled  uint64
	ErrStr  string
}

const reportFixedHeaderLen = 1 + 16 + 1 + 8 + 4

// Serialize converts the report to its wire representation.
func (r *Report) Serialize() ([]byte, error) {
	totalSize := reportFixedHeaderLen + len(r.ErrStr)
	buf := make([]byte, totalSize)
	buf[0] = byte(r.Type)
	copy(buf[1:17], r.OrderID[:])
	buf[17] = byte(r.Status)
	binary.BigEndian.PutUint64(buf[18:26], r.Filled)
	binary.BigEndian.PutUint32(buf[26:30], uint32(len(r.ErrStr)))
	copy(buf[30:], r.ErrStr)
	return buf, nil
}

func executionReport(o *domain.Order) ([]byte, error) {
	r := Report{Type: ExecutionReport, OrderID: o.ID, Status: o.Status, Filled: uint64(o.Quantity - o.Remaining)}
	return r.Serialize()
}

func errorReport(err error) ([]byte, error) {
	r := Report{Type: ErrorReport, ErrStr: fmt.Sprintf("%v", err)}
	return r.Serialize()
}
