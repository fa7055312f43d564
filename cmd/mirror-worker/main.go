package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"paghetta/internal/amqp"
	"paghetta/internal/config"
	applog "paghetta/internal/log"
	"paghetta/internal/sheets"
	gsheet "paghetta/internal/sheets/google"
	"paghetta/internal/storage"
	"paghetta/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: applog.ComponentWorker,
	})
	applog.SetDefault(logger)

	logger.Info("Starting mirror-worker")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Initialize SQLite repository to read posted transactions
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Initialize Google Sheets client for mirror operations (optional)
	var writer sheets.TransactionWriter
	if cfg.GoogleSpreadsheetID != "" {
		sheetsClient, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		writer = sheetsClient
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	// Initialize AMQP client for consuming ledger events
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mirrorWorker *worker.MirrorWorker
	if writer != nil {
		mirrorWorker = worker.NewMirrorWorker(repo, writer, cfg.MirrorBatchSize)

		// On startup, mirror any transactions that might have been missed
		logger.Info("Performing startup sync check...")
		if err := mirrorWorker.StartupSyncCheck(ctx); err != nil {
			logger.Error("Failed startup sync check", "error", err)
			// Don't exit - continue with normal operation
		}
	} else {
		logger.Info("Skipping mirror operations - no sheets client available")
	}

	// Start event consumption only if we have a mirror worker
	if mirrorWorker != nil {
		go func() {
			handler := func(event *amqp.Event) error {
				return mirrorWorker.HandleEvent(ctx, event)
			}
			if err := amqpClient.ConsumeEvents(ctx, handler); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error("Event consumption failed", "error", err)
				}
				cancel()
			}
		}()

		// Periodic scan for transactions whose events were lost
		ticker := time.NewTicker(cfg.MirrorInterval)
		defer ticker.Stop()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := mirrorWorker.ProcessPending(ctx); err != nil {
						logger.Error("Periodic mirror failed", "error", err)
					}
				}
			}
		}()
	} else {
		logger.Info("Skipping AMQP event consumption - no mirror worker available")
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down mirror-worker...")
	cancel()

	// Give worker time to finish current operations
	time.Sleep(2 * time.Second)
	logger.Info("Mirror-worker shutdown complete")
}
