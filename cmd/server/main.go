package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/CreditLedger/internal/app"
	"github.com/router-for-me/CreditLedger/internal/config"
	log "github.com/sirupsen/logrus"
)

func main() {
	var cfg config.AppConfig
	flag.StringVar(&cfg.ConfigPath, "config", "", "Path to config.yaml (defaults to $CONFIG_PATH or ./config.yaml)")
	flag.BoolVar(&cfg.MigrateOnly, "migrate-only", false, "Run database migrations and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnly {
		if err := app.Migrate(ctx, cfg); err != nil {
			log.WithError(err).Fatal("migrate failed")
		}
		log.Info("migrations applied")
		return
	}
	if err := app.RunServer(ctx, cfg); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
