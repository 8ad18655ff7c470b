// Package main applies or reverts the embedded database schema.
package main

import (
	"flag"
	"log/slog"

	"github.com/karolcichosz/investment-plans-design/internal/app"
	"github.com/karolcichosz/investment-plans-design/internal/migrations"
)

func main() {
	down := flag.Bool("down", false, "revert every migration instead of applying them")
	flag.Parse()

	cfg, log := app.Setup()

	ctx, cancel := app.SignalContext()
	defer cancel()

	run := migrations.Apply
	if *down {
		run = migrations.Down
	}

	if err := run(ctx, cfg.DatabaseURL, log); err != nil {
		app.Fatal(log, "migration failed", err)
	}

	log.Info("migrations finished", slog.Bool("down", *down))
}
