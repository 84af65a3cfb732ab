// Command lighthoused runs the Lighthouse processing daemon: it watches
// the upload prefix for new meeting recordings and drives each one
// through conversion, transcription, minutes generation, and delivery.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"lighthouse/internal/config"
	"lighthouse/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, err := buildDaemon(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("initialize daemon: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("lighthoused shutting down")
}
