// Package main provides the plan execution consumer: the ExecutePlan saga step and its idempotency guards.
package main

import (
	"github.com/karolcichosz/investment-plans-design/internal/app"
	"github.com/karolcichosz/investment-plans-design/internal/event"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
	"github.com/karolcichosz/investment-plans-design/internal/service"
	"github.com/karolcichosz/investment-plans-design/internal/telemetry"
)

const consumerGroup = "execution-service"

func main() {
	cfg, log := app.Setup()

	ctx, cancel := app.SignalContext()
	defer cancel()

	meter, flush := app.Telemetry(ctx, cfg, "executor", log)
	defer flush()

	metrics, err := telemetry.NewSagaMetrics(meter)
	if err != nil {
		app.Fatal(log, "failed to register metrics", err)
	}

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

	// 依存関係注入
	transactionMgr := repository.NewTransactionManagerImpl(dbPool)
	executionRepo := repository.NewExecutionRepositoryImpl(dbPool)
	orderRepo := repository.NewOrderRepositoryImpl(dbPool)
	balanceRepo := repository.NewCashBalanceRepositoryImpl(dbPool)
	writer := service.NewOutboxWriter(repository.NewOutboxRepositoryImpl(dbPool))

	executions := service.NewExecutionService(transactionMgr, executionRepo, orderRepo, balanceRepo, writer,
		service.ExecutionOptions{
			RecurrenceMonths:    cfg.Execution.RecurrenceMonths,
			BalanceMaxStaleness: cfg.Execution.BalanceMaxStaleness,
		}, metrics, log)

	router := service.NewExecutorRouter(
		executions,
		service.NewOrderFilledHandler(transactionMgr, orderRepo, metrics, log),
		service.NewBalanceHandler(balanceRepo, metrics, log),
		log,
	)

	consumer := app.NewConsumer(redisClient, cfg, consumerGroup,
		[]string{event.TopicPlanCommands, event.TopicOrderFilled, event.TopicCashEvents}, log)

	if err := consumer.Run(ctx, router.Handle); err != nil {
		app.Fatal(log, "consumer stopped", err)
	}
}
