package net

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/domain"
)

func encodeSubmitOrderBody(userID uuid.UUID, marketID string, side domain.Side, outcome domain.Outcome, priceCents uint16, qty uint64) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, userID[:]...)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(marketID)))
	buf = append(buf, lenBuf...)
	buf = append(buf, []byte(marketID)...)
	buf = append(buf, byte(side), byte(outcome))
	priceBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(priceBuf, priceCents)
	buf = append(buf, priceBuf...)
	qtyBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(qtyBuf, qty)
	buf = append(buf, qtyBuf...)
	return buf
}

func TestParseSubmitOrder_RoundTrip(t *testing.T) {
	userID := uuid.New()
	body := encodeSubmitOrderBody(userID, "m1", domain.Buy, domain.Yes, 60, 10)

	msg, err := parseSubmitOrder(body)
	require.NoError(t, err)
	assert.Equal(t, userID, msg.UserID)
	assert.Equal(t, "m1", msg.MarketID)
	assert.Equal(t, domain.Buy, msg.Side)
	assert.Equal(t, domain.Yes, msg.Outcome)
	assert.Equal(t, uint64(10), msg.Quantity)

	price, err := msg.Price()
	require.NoError(t, err)
	assert.Equal(t, "0.60", price.String())
}

func TestParseSubmitOrder_TooShort(t *testing.T) {
	_, err := parseSubmitOrder([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestParseCancelOrder_RoundTrip(t *testing.T) {
	userID, orderID := uuid.New(), uuid.New()
	body := append(append([]byte{}, userID[:]...), orderID[:]...)

	msg, err := parseCancelOrder(body)
	require.NoError(t, err)
	assert.Equal(t, userID, msg.UserID)
	assert.Equal(t, orderID, msg.OrderID)
}

func TestParseDeposit_AmountConversion(t *testing.T) {
	userID := uuid.New()
	body := make([]byte, 24)
	copy(body[0:16], userID[:])
	binary.BigEndian.PutUint64(body[16:24], 1050000) // 105.0000

	msg, err := parseDeposit(body)
	require.NoError(t, err)
	assert.Equal(t, "105.0000", msg.Amount().String())
}

func TestParseMessage_Dispatch(t *testing.T) {
	userID := uuid.New()
	body := encodeSubmitOrderBody(userID, "m1", domain.Sell, domain.No, 45, 3)
	frame := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(SubmitOrder))
	copy(frame[2:], body)

	m, err := parseMessage(frame)
	require.NoError(t, err)
	assert.Equal(t, SubmitOrder, m.GetType())
}

func TestParseCreateMarket_RoundTrip(t *testing.T) {
	body := make([]byte, 0, 64)
	appendLenPrefixed := func(s string) {
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(s)))
		body = append(body, lenBuf...)
		body = append(body, s...)
	}
	appendLenPrefixed("m1")
	appendLenPrefixed("Will it rain?")
	appendLenPrefixed("desc")
	closeBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(closeBuf, 0)
	body = append(body, closeBuf...)

	msg, err := parseCreateMarket(body)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.MarketID)
	assert.Equal(t, "Will it rain?", msg.Question)
	assert.Equal(t, "desc", msg.Description)
	assert.Equal(t, int64(0), msg.CloseTimeUnix)
	assert.Equal(t, CreateMarket, msg.GetType())
}

func TestParseMessage_UnknownType(t *testing.T) {
	frame := []byte{0xFF, 0xFF}
	_, err := parseMessage(frame)
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestReportSerialize_IncludesErrString(t *testing.T) {
	r := &Report{Type: ErrorReport, ErrStr: "insufficient funds"}
	buf, err := r.Serialize()
	require.NoError(t, err)
	assert.Equal(t, byte(ErrorReport), buf[0])
	n := binary.BigEndian.Uint32(buf[26:30])
	assert.Equal(t, uint32(len("insufficient funds")), n)
	assert.Equal(t, "insufficient funds", string(buf[30:]))
}
