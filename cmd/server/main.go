package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"PriceWatch/internal/app"
	"PriceWatch/internal/logger"
	"PriceWatch/pkg/config"
)

func main() {
	cfg := config.MustLoad("config.yml")
	log := logger.Must(cfg.Log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to start", logger.Error(err))
	}
	defer application.Close()

	srv, err := application.Server()
	if err != nil {
		log.Error("Failed to build API server", logger.Error(err))
		return
	}
	if err := srv.Start(ctx, cfg.Server); err != nil {
		log.Error("API server failed", logger.Error(err))
	}
}
