// Package main provides the outbox relay that polls due events and publishes them to Redis Streams.
package main

import (
	"log/slog"
	"net/http"

	"github.com/karolcichosz/investment-plans-design/internal/app"
	"github.com/karolcichosz/investment-plans-design/internal/bus"
	"github.com/karolcichosz/investment-plans-design/internal/event"
	"github.com/karolcichosz/investment-plans-design/internal/repository"
	"github.com/karolcichosz/investment-plans-design/internal/service"
	"github.com/karolcichosz/investment-plans-design/internal/telemetry"
)

func main() {
	cfg, log := app.Setup()

	ctx, cancel := app.SignalContext()
	defer cancel()

	meter, flush := app.Telemetry(ctx, cfg, "relay", log)
	defer flush()

	metrics, err := telemetry.NewRelayMetrics(meter)
	if err != nil {
		app.Fatal(log, "failed to register metrics", err)
	}

	router, err := event.LoadRouter(cfg.Relay.RoutesFile)
	if err != nil {
		app.Fatal(log, "failed to load topic routes", err)
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

	outboxRepo := repository.NewOutboxRepositoryImpl(dbPool)
	publisher := service.NewEventPublisher(bus.NewProducer(redisClient), outboxRepo, router, cfg.Relay.PublishTimeout, log)
	relay := service.NewRelay(outboxRepo, publisher, service.RelayOptionsFromConfig(cfg.Relay), metrics, log)

	scheduler, err := relay.ScheduleHealthReports(ctx, cfg.Relay.HealthSchedule)
	if err != nil {
		app.Fatal(log, "failed to schedule health reports", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler(relay, log))
	mux.HandleFunc("GET /api/v1/health", healthHandler(relay, log))

	log.Info("starting outbox relay",
		slog.String("instance", cfg.Relay.InstanceID),
		slog.Duration("poll_interval", cfg.Relay.PollInterval),
		slog.Int("batch_size", cfg.Relay.BatchSize),
	)

	if err := app.Run(ctx,
		relay.Run,
		app.Serve(":"+cfg.Port, mux, log),
	); err != nil {
		app.Fatal(log, "relay stopped", err)
	}

	<-scheduler.Stop().Done()
}
