package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ebslms/internal/app"
	"ebslms/internal/app/apiresp"
	"ebslms/internal/platform/logger"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	apiresp.SetLogger(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		srv.Close()
		log.Sync()
		os.Exit(1)
	}
	log.Info("server stopped")
}
