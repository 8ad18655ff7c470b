package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/karolcichosz/investment-plans-design/internal/app"
	"github.com/karolcichosz/investment-plans-design/internal/service"
)

type healthSource interface {
	Health(ctx context.Context) (service.HealthReport, error)
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	service.HealthReport
}

// healthHandler reports the outbox backlog. A store failure is reported as DOWN.
func healthHandler(relay healthSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := relay.Health(r.Context())
		if err != nil {
			logger.Error("failed to collect outbox health", slog.String("error", err.Error()))
			app.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "DOWN", Service: "relay"})

			return
		}

		app.WriteJSON(w, http.StatusOK, healthResponse{Status: "UP", Service: "relay", HealthReport: report})
	}
}
