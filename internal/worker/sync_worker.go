// Package worker mirrors transactions to the configured spreadsheet.
// It consumes sync messages from AMQP and periodically rescans the
// database for rows still pending, so lost messages are eventually
// exported anyway.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/amqp"
	"tally/internal/export"
	"tally/internal/storage"
)

// Consumer delivers sync messages until the context ends.
type Consumer interface {
	Consume(ctx context.Context, handler func(*amqp.SyncMessage) error) error
}

// SyncWorker exports transactions from the store to a row appender.
type SyncWorker struct {
	store     storage.Store
	appender  export.RowAppender
	consumer  Consumer
	batchSize int
	interval  time.Duration
}

func NewSyncWorker(store storage.Store, appender export.RowAppender, consumer Consumer, batchSize int, interval time.Duration) *SyncWorker {
	return &SyncWorker{
		store:     store,
		appender:  appender,
		consumer:  consumer,
		batchSize: batchSize,
		interval:  interval,
	}
}

// HandleMessage processes one message from the queue.
func (w *SyncWorker) HandleMessage(ctx context.Context, msg *amqp.SyncMessage) error {
	switch msg.Kind {
	case amqp.KindSync:
		return w.exportTransaction(ctx, msg.ID)
	case amqp.KindDelete:
		// Append-only export: rows for deleted transactions stay in the
		// sheet. Log and acknowledge so the message is not requeued.
		slog.InfoContext(ctx, "Transaction deleted, no spreadsheet removal performed", "id", msg.ID)
		return nil
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

// exportTransaction loads the transaction and appends it as a row. A
// transaction deleted between publish and consume is skipped.
func (w *SyncWorker) exportTransaction(ctx context.Context, id int64) error {
	tx, err := w.store.TransactionByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if tx == nil {
		slog.WarnContext(ctx, "Transaction no longer exists, skipping export", "id", id)
		return nil
	}

	ref, err := w.appender.AppendTransaction(ctx, *tx)
	if err != nil {
		if markErr := w.store.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append transaction: %w", err)
	}

	if err := w.store.MarkSynced(ctx, id); err != nil {
		// The export itself succeeded, so don't fail the message.
		slog.ErrorContext(ctx, "Failed to mark as synced", "id", id, "error", err)
	}

	slog.InfoContext(ctx, "Transaction exported",
		"id", id,
		"row_ref", ref,
		"amount", tx.Amount.StringFixed(2),
		"category", tx.Category)

	return nil
}

// ProcessPending exports transactions still marked pending. This is
// the backup path for messages lost between API and broker.
func (w *SyncWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.store.PendingSyncTransactions(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending transactions", "count", len(pending))

	for _, tx := range pending {
		if err := w.exportTransaction(ctx, tx.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export pending transaction", "id", tx.ID, "error", err)
		}
	}
	return nil
}

// Run consumes the queue and rescans for pending rows on a ticker
// until the context is cancelled.
func (w *SyncWorker) Run(ctx context.Context) error {
	// Catch up on anything missed while the worker was down.
	if err := w.ProcessPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup pending scan failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if w.consumer != nil {
		g.Go(func() error {
			return w.consumer.Consume(ctx, func(msg *amqp.SyncMessage) error {
				return w.HandleMessage(ctx, msg)
			})
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := w.ProcessPending(ctx); err != nil {
					slog.ErrorContext(ctx, "Pending scan failed", "error", err)
				}
			}
		}
	})

	return g.Wait()
}
