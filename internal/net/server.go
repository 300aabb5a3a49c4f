// Package net implements the TCP transport: a binary big-endian wire
// protocol and a tomb-supervised server dispatching requests to the
// order and settlement services.
package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"sibyl/internal/domain"
	"sibyl/internal/ledger"
	"sibyl/internal/orderservice"
	"sibyl/internal/settlement"
	"sibyl/internal/utils"
)

// unixOrNil converts a wire close-time (0 meaning "unset") into an
// optional time.Time for CreateMarketMessage.
func unixOrNil(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 5 * time.Second
)

var (
	ErrImproperConversion = errors.New("net: improper type conversion")
	ErrClientDoesNotExist = errors.New("net: client does not exist")
)

// ClientSession tracks one connected TCP session.
type ClientSession struct {
	conn net.Conn
}

// ClientMessage links a parsed message to the connection it came from.
type ClientMessage struct {
	clientAddress string
	message       Message
}

// Server is the TCP front door onto the order/settlement/ledger services.
type Server struct {
	address string
	port    int

	orders     *orderservice.Service
	settlement *settlement.Service
	ledger     *ledger.Ledger

	pool               utils.WorkerPool
	cancel             context.CancelFunc
	clientSessions     map[string]ClientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage
}

// New constructs a Server wired to the given services.
func New(address string, port int, orders *orderservice.Service, settle *settlement.Service, l *ledger.Ledger) *Server {
	return &Server{
		address:        address,
		port:           port,
		orders:         orders,
		settlement:     settle,
		ledger:         l,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]ClientSession),
		clientMessages: make(chan ClientMessage, 1),
	}
}

// Shutdown cancels the server's run context.
func (s *Server) Shutdown() {
	log.Info().Msg("net: server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run accepts connections until ctx is cancelled, dispatching each one to
// the worker pool.
func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("net: unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("net: unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("net: server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("net: error accepting client")
				continue
			}
			log.Info().Str("address", conn.RemoteAddr().String()).Msg("net: new client connected")
			s.addClientSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// sessionHandler drains parsed messages and dispatches them to the
// matching service, logging and reporting any failure back to the
// originating client.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			if err := s.handleMessage(message); err != nil {
				log.Error().
					Err(err).
					Str("clientAddress", message.clientAddress).
					Msg("net: error handling message")
				s.reportError(message.clientAddress, err)
			}
		}
	}
}

func (s *Server) handleMessage(message ClientMessage) error {
	switch m := message.message.(type) {
	case SubmitOrderMessage:
		price, err := m.Price()
		if err != nil {
			return err
		}
		order, _, err := s.orders.SubmitOrder(m.UserID, m.MarketID, m.Side, m.Outcome, price, int64(m.Quantity))
		if err != nil {
			return err
		}
		return s.reportExecution(message.clientAddress, order)

	case CancelOrderMessage:
		order, err := s.orders.CancelOrder(m.UserID, m.OrderID)
		if err != nil {
			return err
		}
		return s.reportExecution(message.clientAddress, order)

	case DepositMessage:
		return s.ledger.Deposit(m.UserID, m.Amount())

	case WithdrawMessage:
		return s.ledger.Withdraw(m.UserID, m.Amount())

	case MarketCommandMessage:
		switch m.Type {
		case CloseMarket:
			_, err := s.settlement.CloseMarket(m.MarketID)
			return err
		case CancelMarket:
			_, err := s.settlement.CancelMarket(m.MarketID)
			return err
		default:
			return ErrInvalidMessageType
		}

	case ResolveMarketMessage:
		_, err := s.settlement.ResolveMarket(m.MarketID, m.Outcome)
		return err

	case CreateMarketMessage:
		_, err := s.orders.CreateMarket(m.MarketID, m.Question, m.Description, unixOrNil(m.CloseTimeUnix))
		return err

	default:
		return ErrInvalidMessageType
	}
}

func (s *Server) reportExecution(clientAddress string, order *domain.Order) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	report, err := executionReport(order)
	if err != nil {
		return err
	}
	client, ok := s.clientSessions[clientAddress]
	if !ok {
		return ErrClientDoesNotExist
	}
	if _, err := client.conn.Write(report); err != nil {
		delete(s.clientSessions, clientAddress)
		return fmt.Errorf("net: unable to send execution report: %w", err)
	}
	return nil
}

func (s *Server) reportError(clientAddress string, opErr error) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	report, err := errorReport(opErr)
	if err != nil {
		return err
	}
	client, ok := s.clientSessions[clientAddress]
	if !ok {
		return ErrClientDoesNotExist
	}
	if _, err := client.conn.Write(report); err != nil {
		delete(s.clientSessions, clientAddress)
		return fmt.Errorf("net: unable to send error report: %w", err)
	}
	return nil
}

// handleConnection reads the next frame off conn, parses it, hands it to
// sessionHandler, and re-queues conn on the worker pool for its following
// frame. The connection is closed only when setting the deadline, reading,
// or parsing fails, or the tomb is dying. A non-nil error returned from
// here is returned by the pool's worker goroutine and so kills the
// server's tomb; read and parse failures are therefore logged and return
// nil.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	closeConn := func() {
		if err := conn.Close(); err != nil {
			log.Error().Str("address", conn.RemoteAddr().String()).Err(err).Msg("net: error closing connection")
		}
	}

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().Str("address", conn.RemoteAddr().String()).Err(err).Msg("net: failed setting deadline")
		closeConn()
		return nil
	}

	buffer := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		closeConn()
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("net: error reading from connection")
			s.deleteClientSession(conn.RemoteAddr().String())
			closeConn()
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("net: error parsing message")
			s.deleteClientSession(conn.RemoteAddr().String())
			closeConn()
			return nil
		}

		s.clientMessages <- ClientMessage{
			message:       message,
			clientAddress: conn.RemoteAddr().String(),
		}
		s.pool.AddTask(conn)
	}
	return nil
}

func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.clientSessions[conn.RemoteAddr().String()] = ClientSession{conn: conn}
}

func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	delete(s.clientSessions, address)
}
