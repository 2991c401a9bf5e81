package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/amqp"
	"tally/internal/auth"
	"tally/internal/config"
	apphttp "tally/internal/http"
	"tally/internal/ledger"
	applog "tally/internal/log"
	"tally/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

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
		logger.Info("Initialized SQLite backend", "backend", cfg.DataBackend, "path", cfg.SQLiteDBPath)
	}

	// Publishing is optional: without a broker transactions are still
	// recorded and picked up later by the worker's pending scan.
	var publisher ledger.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()
		publisher = client
		logger.Info("AMQP publishing enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP publishing disabled - no AMQP_URL provided")
	}

	svc := ledger.New(store, publisher)
	tokens := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, svc, tokens)

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		cancel()
	}()

	logger.Info("Starting tally server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
