package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sibyl/internal/domain"
	sibylnet "sibyl/internal/net"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the exchange server")
	action := flag.String("action", "place", "action: place, cancel, deposit, withdraw, create-market, close, resolve, cancel-market")

	userStr := flag.String("user", "", "user id (uuid, required for place/cancel/deposit/withdraw)")
	marketID := flag.String("market", "", "market id (required for place/create-market/close/resolve/cancel-market)")
	question := flag.String("question", "", "market question (required for create-market)")
	description := flag.String("description", "", "market description (create-market)")
	sideStr := flag.String("side", "buy", "order side: buy or sell")
	outcomeStr := flag.String("outcome", "yes", "outcome: yes or no")
	price := flag.Float64("price", 0.50, "limit price in [0.01, 0.99]")
	quantity := flag.Uint64("qty", 10, "order quantity")
	orderIDStr := flag.String("order", "", "order id (uuid, required for cancel)")
	amount := flag.Float64("amount", 0, "amount for deposit/withdraw")

	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s\n", *serverAddr)

	go readReports(conn)

	switch strings.ToLower(*action) {
	case "place":
		userID, err := uuid.Parse(*userStr)
		if err != nil {
			log.Fatalf("invalid -user: %v", err)
		}
		side := domain.Buy
		if strings.ToLower(*sideStr) == "sell" {
			side = domain.Sell
		}
		outcome := domain.Yes
		if strings.ToLower(*outcomeStr) == "no" {
			outcome = domain.No
		}
		if err := sendSubmitOrder(conn, userID, *marketID, side, outcome, *price, *quantity); err != nil {
			log.Fatalf("failed to send order: %v", err)
		}
		fmt.Printf("-> submitted %s %s %s @ %.2f x%d\n", side, outcome, *marketID, *price, *quantity)

	case "cancel":
		userID, err := uuid.Parse(*userStr)
		if err != nil {
			log.Fatalf("invalid -user: %v", err)
		}
		orderID, err := uuid.Parse(*orderIDStr)
		if err != nil {
			log.Fatalf("invalid -order: %v", err)
		}
		if err := sendCancelOrder(conn, userID, orderID); err != nil {
			log.Fatalf("failed to send cancel: %v", err)
		}
		fmt.Printf("-> cancelled %s\n", orderID)

	case "deposit", "withdraw":
		userID, err := uuid.Parse(*userStr)
		if err != nil {
			log.Fatalf("invalid -user: %v", err)
		}
		msgType := sibylnet.Deposit
		if strings.ToLower(*action) == "withdraw" {
			msgType = sibylnet.Withdraw
		}
		if err := sendBalanceOp(conn, msgType, userID, *amount); err != nil {
			log.Fatalf("failed to send %s: %v", *action, err)
		}
		fmt.Printf("-> %s %.4f for %s\n", *action, *amount, userID)

	case "create-market":
		if err := sendCreateMarket(conn, *marketID, *question, *description); err != nil {
			log.Fatalf("failed to create market: %v", err)
		}
		fmt.Printf("-> created market %s (%q)\n", *marketID, *question)

	case "close":
		if err := sendMarketCommand(conn, sibylnet.CloseMarket, *marketID); err != nil {
			log.Fatalf("failed to close market: %v", err)
		}
		fmt.Printf("-> closed market %s\n", *marketID)

	case "cancel-market":
		if err := sendMarketCommand(conn, sibylnet.CancelMarket, *marketID); err != nil {
			log.Fatalf("failed to cancel market: %v", err)
		}
		fmt.Printf("-> cancelled market %s\n", *marketID)

	case "resolve":
		outcome := domain.Yes
		if strings.ToLower(*outcomeStr) == "no" {
			outcome = domain.No
		}
		if err := sendResolveMarket(conn, *marketID, outcome); err != nil {
			log.Fatalf("failed to resolve market: %v", err)
		}
		fmt.Printf("-> resolved market %s to %s\n", *marketID, outcome)

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nlistening for reports... (press ctrl+c to exit)")
	select {}
}

func writeHeader(buf []byte, t sibylnet.MessageType) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(t))
}

func writeMarketID(buf []byte, marketID string) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(marketID)))
	copy(buf[4:], marketID)
}

func sendSubmitOrder(conn net.Conn, userID uuid.UUID, marketID string, side domain.Side, outcome domain.Outcome, price float64, qty uint64) error {
	marketBytes := []byte(marketID)
	bodyLen := 16 + 4 + len(marketBytes) + 1 + 1 + 2 + 8
	buf := make([]byte, 2+bodyLen)
	writeHeader(buf, sibylnet.SubmitOrder)

	body := buf[2:]
	copy(body[0:16], userID[:])
	writeMarketID(body[16:], marketID)
	off := 16 + 4 + len(marketBytes)
	body[off] = byte(side)
	body[off+1] = byte(outcome)
	priceCents := uint16(decimal.NewFromFloat(price).Mul(decimal.New(100, 0)).Round(0).IntPart())
	binary.BigEndian.PutUint16(body[off+2:off+4], priceCents)
	binary.BigEndian.PutUint64(body[off+4:off+12], qty)

	_, err := conn.Write(buf)
	return err
}

func sendCancelOrder(conn net.Conn, userID, orderID uuid.UUID) error {
	buf := make([]byte, 2+32)
	writeHeader(buf, sibylnet.CancelOrder)
	copy(buf[2:18], userID[:])
	copy(buf[18:34], orderID[:])
	_, err := conn.Write(buf)
	return err
}

func sendBalanceOp(conn net.Conn, msgType sibylnet.MessageType, userID uuid.UUID, amount float64) error {
	buf := make([]byte, 2+24)
	writeHeader(buf, msgType)
	copy(buf[2:18], userID[:])
	mils := uint64(decimal.NewFromFloat(amount).Mul(decimal.New(10000, 0)).Round(0).IntPart())
	binary.BigEndian.PutUint64(buf[18:26], mils)
	_, err := conn.Write(buf)
	return err
}

func sendCreateMarket(conn net.Conn, marketID, question, description string) error {
	marketBytes, questionBytes, descBytes := []byte(marketID), []byte(question), []byte(description)
	bodyLen := 4 + len(marketBytes) + 4 + len(questionBytes) + 4 + len(descBytes) + 8
	buf := make([]byte, 2+bodyLen)
	writeHeader(buf, sibylnet.CreateMarket)

	off := 2
	writeMarketID(buf[off:], marketID)
	off += 4 + len(marketBytes)
	writeMarketID(buf[off:], question)
	off += 4 + len(questionBytes)
	writeMarketID(buf[off:], description)
	off += 4 + len(descBytes)
	binary.BigEndian.PutUint64(buf[off:off+8], 0) // no scheduled close time from the CLI

	_, err := conn.Write(buf)
	return err
}

func sendMarketCommand(conn net.Conn, msgType sibylnet.MessageType, marketID string) error {
	marketBytes := []byte(marketID)
	buf := make([]byte, 2+4+len(marketBytes))
	writeHeader(buf, msgType)
	writeMarketID(buf[2:], marketID)
	_, err := conn.Write(buf)
	return err
}

func sendResolveMarket(conn net.Conn, marketID string, outcome domain.Outcome) error {
	marketBytes := []byte(marketID)
	buf := make([]byte, 2+4+len(marketBytes)+1)
	writeHeader(buf, sibylnet.ResolveMarket)
	writeMarketID(buf[2:], marketID)
	buf[2+4+len(marketBytes)] = byte(outcome)
	_, err := conn.Write(buf)
	return err
}

// reportFixedHeaderLen matches Report.Serialize: type(1)+orderID(16)+status(1)+filled(8)+errStrLen(4).
const reportFixedHeaderLen = 1 + 16 + 1 + 8 + 4

func readReports(conn net.Conn) {
	for {
		headerBuf := make([]byte, reportFixedHeaderLen)
		if _, err := io.ReadFull(conn, headerBuf); err != nil {
			if err != io.EOF {
				log.Printf("connection lost: %v", err)
			}
			os.Exit(0)
		}

		msgType := sibylnet.ReportMessageType(headerBuf[0])
		var orderID uuid.UUID
		copy(orderID[:], headerBuf[1:17])
		status := domain.OrderStatus(headerBuf[17])
		filled := binary.BigEndian.Uint64(headerBuf[18:26])
		errStrLen := binary.BigEndian.Uint32(headerBuf[26:30])

		errStr := ""
		if errStrLen > 0 {
			errBuf := make([]byte, errStrLen)
			if _, err := io.ReadFull(conn, errBuf); err != nil {
				log.Printf("error reading report body: %v", err)
				return
			}
			errStr = string(errBuf)
		}

		if msgType == sibylnet.ErrorReport {
			fmt.Printf("\n[ERROR] %s\n", errStr)
		} else {
			fmt.Printf("\n[EXECUTION] order=%s status=%s filled=%d\n", orderID, status, filled)
		}
	}
}
