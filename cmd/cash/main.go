// Package main provides the cash domain service: authoritative balances announced through the outbox.
package main

import (
	"log/slog"

	"github.com/karolcichosz/investment-plans-design/internal/app"
	"github.com/karolcichosz/investment-plans-design/internal/balance"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
	"github.com/karolcichosz/investment-plans-design/internal/service"
)

func main() {
	cfg, log := app.Setup()

	ctx, cancel := app.SignalContext()
	defer cancel()

	seed, err := balance.ParseSeed(cfg.Cash.SeedBalances)
	if err != nil {
		app.Fatal(log, "invalid seed balances", err)
	}

	dbPool, err := app.OpenDatabase(ctx, cfg, log)
	if err != nil {
		app.Fatal(log, "failed to open database", err)
	}
	defer dbPool.Close()

	cashService := service.NewCashService(
		balance.NewMemoryStore(seed, nil),
		repository.NewTransactionManagerImpl(dbPool),
		service.NewOutboxWriter(repository.NewOutboxRepositoryImpl(dbPool)),
		log,
	)

	if err := cashService.PublishInitialBalances(ctx); err != nil {
		app.Fatal(log, "failed to publish initial balances", err)
	}

	server := NewCashServer(cashService, cfg.Execution.BalanceMaxStaleness, log)

	log.Info("starting cash service", slog.String("service", "cash"), slog.Int("users", len(seed)))

	if err := app.Run(ctx, app.Serve(":"+cfg.Port, server.Routes(), log)); err != nil {
		app.Fatal(log, "cash server stopped", err)
	}
}
