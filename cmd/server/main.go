package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/WebPilotHQ/webpilot/internal/config"
	"github.com/WebPilotHQ/webpilot/internal/logging"
	"github.com/WebPilotHQ/webpilot/internal/server"
)

func main() {
	cfg := config.LoadOrDefault()

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log = logging.NewDefault()
		log.Warn("falling back to default logger", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, log)
	if err := srv.Run(ctx); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
