package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tally/internal/amqp"
	"tally/internal/config"
	"tally/internal/export"
	gexport "tally/internal/export/google"
	memexport "tally/internal/export/memory"
	applog "tally/internal/log"
	"tally/internal/storage"
	"tally/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Component: applog.ComponentWorker})
	applog.SetDefault(logger)

	logger.Info("Starting tally-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	var store storage.Store
	switch cfg.DataBackend {
	case "memory":
		store = storage.NewMemoryStore()
		logger.Info("Initialized memory backend", "backend", cfg.DataBackend)
	default:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", applog.FieldError, err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		store = repo
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Rows land in a spreadsheet when one is configured, otherwise in an
	// in-process appender so the worker still drains the queue.
	var appender export.RowAppender
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gexport.New(ctx, gexport.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleCredentialsJSON,
			CredentialsFile: cfg.GoogleCredentialsFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
			os.Exit(1)
		}
		appender = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	} else {
		appender = memexport.New()
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	var consumer worker.Consumer
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		consumer = amqpClient
		logger.Info("AMQP consumer initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP consumption disabled - no AMQP_URL provided, relying on periodic scan")
	}

	syncWorker := worker.NewSyncWorker(store, appender, consumer, cfg.SyncBatchSize, cfg.SyncInterval)

	logger.Info("Worker started", "batch_size", cfg.SyncBatchSize, "interval", cfg.SyncInterval.String())
	if err := syncWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
