// Package main provides the trading engine stub that fills every order command after a fixed latency.
package main

import (
	"github.com/karolcichosz/investment-plans-design/internal/app"
	"github.com/karolcichosz/investment-plans-design/internal/event"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
	"github.com/karolcichosz/investment-plans-design/internal/service"
)

const consumerGroup = "transactions-domain"

func main() {
	cfg, log := app.Setup()

	ctx, cancel := app.SignalContext()
	defer cancel()

	dbPool, err := app.OpenDatabase(ctx, cfg, log)
	if err != nil {
		app.Fatal(log, "failed to open database", err)
	}
	defer dbPool.Close()

	redisClient, err := app.OpenBus(cfg)
	if err != nil {
		app.Fatal(log, "failed to connect to Redis", err)
	}
	defer redisClient.Close()

	outboxRepo := repository.NewOutboxRepositoryImpl(dbPool)
	engine := service.NewTradingEngine(
		repository.NewTransactionManagerImpl(dbPool),
		outboxRepo,
		service.NewOutboxWriter(outboxRepo),
		cfg.Trader.FillLatency,
		log,
	)

	consumer := app.NewConsumer(redisClient, cfg, consumerGroup, []string{event.TopicOrderCommands}, log)

	if err := consumer.Run(ctx, service.NewTraderRouter(engine, log).Handle); err != nil {
		app.Fatal(log, "consumer stopped", err)
	}
}
