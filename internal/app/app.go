// Package app holds the startup and shutdown plumbing shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"
	"github.com/sourcegraph/conc/pool"
	apimetric "go.opentelemetry.io/otel/metric"

	"github.com/karolcichosz/investment-plans-design/internal/bus"
	"github.com/karolcichosz/investment-plans-design/internal/config"
	"github.com/karolcichosz/investment-plans-design/internal/logger"
	"github.com/karolcichosz/investment-plans-design/internal/migrations"
	"github.com/karolcichosz/investment-plans-design/internal/telemetry"
)

const (
	contentTypeJSON   = "Content-Type"
	applicationJSON   = "application/json"
	exitCode          = 1
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Setup loads the configuration and installs the default logger. It exits on failure.
func Setup() (*config.Config, *slog.Logger) {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	return cfg, log
}

// Fatal logs err and exits.
func Fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, slog.String("error", err.Error()))
	os.Exit(exitCode)
}

// SignalContext is canceled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// OpenDatabase applies pending migrations when MIGRATE_ON_START is set and connects the pool.
func OpenDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.MigrateOnStart {
		if err := migrations.Apply(ctx, cfg.DatabaseURL, log); err != nil {
			return nil, err
		}
	}

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbPool, nil
}

// OpenBus connects to the Redis instance carrying the topic streams.
func OpenBus(cfg *config.Config) (rueidis.Client, error) {
	return bus.NewClient(cfg.RedisAddr)
}

// Telemetry installs the meter provider for service. Failures fall back to discarding metrics.
func Telemetry(ctx context.Context, cfg *config.Config, service string, log *slog.Logger) (apimetric.Meter, func()) {
	provider, shutdown, err := telemetry.Init(ctx, cfg.Telemetry, service)
	if err != nil {
		log.Warn("metrics disabled", slog.String("error", err.Error()))

		provider, shutdown, _ = telemetry.Init(ctx, config.TelemetryConfig{}, service)
	}

	return provider.Meter(service), func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("failed to flush metrics", slog.String("error", err.Error()))
		}
	}
}

// NewConsumer builds a consumer group member for streams from the consumer configuration.
func NewConsumer(client rueidis.Client, cfg *config.Config, group string, streams []string, log *slog.Logger) *bus.Consumer {
	return bus.NewConsumer(client, bus.ConsumerOptions{
		Group:         cfg.Consumer.ConsumerGroupOr(group),
		Name:          cfg.Consumer.Name,
		Streams:       streams,
		BatchSize:     cfg.Consumer.BatchSize,
		Block:         cfg.Consumer.BlockTimeout,
		Workers:       cfg.Consumer.Workers,
		RetryInterval: cfg.Consumer.RetryInterval,
	}, log)
}

// Run runs every task until ctx is canceled or one of them fails, then waits for all of them.
func Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()

	for _, task := range tasks {
		p.Go(task)
	}

	return p.Wait()
}

// Serve runs an HTTP server on addr until ctx is canceled and then shuts it down gracefully.
func Serve(addr string, handler http.Handler, log *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		server := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		}

		errCh := make(chan error, 1)

		go func() {
			log.Info("starting HTTP server", slog.String("addr", addr))
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}

			return fmt.Errorf("http server: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}

		log.Info("HTTP server stopped")

		return nil
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(contentTypeJSON, applicationJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError writes msg as an ErrorResponse.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// DecodeJSON decodes the request body into v.
func DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// HealthHandler reports the service as up.
func HealthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "UP", "service": service})
	}
}
