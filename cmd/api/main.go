// Package main provides the HTTP API server for recurring investment plans.
package main

import (
	"log/slog"

	"github.com/karolcichosz/investment-plans-design/internal/app"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
	"github.com/karolcichosz/investment-plans-design/internal/service"
)

func main() {
	cfg, log := app.Setup()

	ctx, cancel := app.SignalContext()
	defer cancel()

	dbPool, err := app.OpenDatabase(ctx, cfg, log)
	if err != nil {
		app.Fatal(log, "failed to open database", err)
	}
	defer dbPool.Close()

	// 依存関係注入
	planRepo := repository.NewPlanRepositoryImpl(dbPool)
	executionRepo := repository.NewExecutionRepositoryImpl(dbPool)
	orderRepo := repository.NewOrderRepositoryImpl(dbPool)
	outboxRepo := repository.NewOutboxRepositoryImpl(dbPool)
	transactionMgr := repository.NewTransactionManagerImpl(dbPool)
	planService := service.NewPlanService(
		transactionMgr, planRepo, executionRepo, orderRepo, service.NewOutboxWriter(outboxRepo), log,
	)

	server := NewAPIServer(planService, log)

	log.Info("starting API server", slog.String("service", "api"), slog.String("port", cfg.Port))

	if err := app.Run(ctx, app.Serve(":"+cfg.Port, server.Routes(), log)); err != nil {
		app.Fatal(log, "api server stopped", err)
	}
}
