package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/amqp"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/config"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/log"
)

// Consumes transaction-created events published by the scheduling
// engines and writes them to the structured log, giving an audit trail
// of every ledger mutation the batch jobs made.
func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.ComponentEvents, log.Config{Level: slog.LevelInfo})
	log.SetDefault(logger)

	logger.Info("Starting ledger-events-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL must be set for the events worker")
		os.Exit(1)
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	err = client.ConsumeTransactionCreated(ctx, func(msg *amqp.TransactionCreatedMessage) error {
		slog.InfoContext(ctx, "Ledger transaction created",
			log.FieldTransactionID, msg.ID,
			log.FieldOrigin, msg.Origin,
			"created_at", msg.Timestamp)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped", log.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Ledger-events-worker shutdown complete")
}
