package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"sibyl/internal/events"
	"sibyl/internal/ledger"
	"sibyl/internal/net"
	"sibyl/internal/orderservice"
	"sibyl/internal/repository"
	"sibyl/internal/settlement"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	repo := repository.NewMemory()
	l := ledger.New(repo)
	sink := events.NewSink(256)

	orders := orderservice.New(repo, l, sink)
	settle := settlement.New(repo, l, sink, orders)

	dispatcher := events.NewDispatcher(sink,
		func(ev events.TradeEvent) {
			log.Info().Str("trade_id", ev.Trade.ID.String()).Str("market_id", ev.Trade.MarketID).Msg("trade executed")
		},
		func(ev events.PriceUpdateEvent) {
			log.Debug().Str("market_id", ev.MarketID).Msg("price update")
		},
		func(ev events.OrderUpdateEvent) {
			log.Debug().Str("order_id", ev.Order.ID.String()).Str("status", ev.Order.Status.String()).Msg("order update")
		},
		func(ev events.PayoutEvent) {
			log.Info().Str("market_id", ev.MarketID).Str("user_id", ev.UserID.String()).Str("amount", ev.Amount.String()).Msg("payout credited")
		},
		func(ev events.MarketResolutionEvent) {
			log.Info().Str("market_id", ev.MarketID).Str("status", ev.Status.String()).Msg("market resolution")
		},
	)
	dispatcherTomb := dispatcher.Start()
	defer func() {
		dispatcherTomb.Kill(nil)
		_ = dispatcherTomb.Wait()
	}()

	srv := net.New("0.0.0.0", 9001, orders, settle, l)

	go srv.Run(ctx)
	<-ctx.Done()
}
