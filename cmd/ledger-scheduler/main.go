package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/amqp"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/config"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/core"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/log"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/pricefeed"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/scheduler"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/services"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/storage"
)

func main() {
	singleRun := flag.Bool("single-run", false, "run every job once and exit instead of scheduling")
	asOfFlag := flag.String("as-of", "", "processing date for -single-run, YYYY-MM-DD (default today)")
	flag.Parse()

	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.ComponentScheduler, log.Config{Level: slog.LevelInfo})
	log.SetDefault(logger)

	logger.Info("Starting ledger-scheduler")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	// Scheduled triggers process as of the trigger day; -single-run can
	// pin the date so a rerun is deterministic.
	processingDate := func() core.Date { return core.DateOf(time.Now()) }
	if *asOfFlag != "" {
		fixed, err := core.ParseDate(*asOfFlag)
		if err != nil {
			logger.Error("Invalid -as-of date", "value", *asOfFlag, log.FieldError, err)
			os.Exit(1)
		}
		processingDate = func() core.Date { return fixed }
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// AMQP is optional: without a broker the engines still run, they
	// just stop announcing created transactions.
	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without event publishing", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			events = amqpClient
			logger.Info("AMQP client initialized", log.FieldExchange, cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled, transaction events will not be published")
	}

	feed := pricefeed.NewClient(cfg.PriceFeedBaseURL)
	prices := services.NewPriceRefresher(repo, feed, cfg.PriceTimeout, cfg.PriceParallelism)
	recurrence := services.NewRecurrenceEngine(repo, events)
	autoReload := services.NewAutoReloadEngine(repo, events)

	sched := scheduler.New()
	jobs := []struct {
		name string
		spec string
		run  scheduler.Job
	}{
		{"prices", cfg.PricesCronSpec, func(ctx context.Context) error {
			_, err := prices.Run(ctx, processingDate())
			return err
		}},
		{"recurrence", cfg.RecurrenceCronSpec, func(ctx context.Context) error {
			_, err := recurrence.Run(ctx, processingDate())
			return err
		}},
		{"autoreload", cfg.AutoReloadCronSpec, func(ctx context.Context) error {
			_, err := autoReload.Run(ctx, processingDate())
			return err
		}},
	}
	for _, job := range jobs {
		if err := sched.Register(job.name, job.spec, job.run); err != nil {
			logger.Error("Failed to register job", log.FieldJob, job.name, log.FieldError, err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *singleRun {
		sched.RunAll(ctx)
		logger.Info("Single run complete")
		return
	}

	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", log.FieldError, err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	sched.Stop()
	cancel()
	logger.Info("Ledger-scheduler shutdown complete")
}
