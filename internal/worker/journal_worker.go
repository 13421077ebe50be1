// Package worker appends committed ledger transactions to the journal.
package worker

import (
	"context"
	"fmt"
	"sync"

	"envelopes/internal/amqp"
	"envelopes/internal/core"
	"envelopes/internal/ledger"
	"envelopes/internal/log"
	"envelopes/internal/sheets"
)

// JournalWorker turns ledger events into journal rows. Each transaction id
// is written at most once, which makes broker redeliveries harmless.
type JournalWorker struct {
	journal sheets.Journal
	source  ledger.TransactionLog
	logger  *log.Logger

	mu      sync.Mutex
	written map[int64]struct{}
	loaded  map[int]bool
}

// NewJournalWorker creates a worker. source may be nil, in which case
// Backfill has nothing to read from.
func NewJournalWorker(journal sheets.Journal, source ledger.TransactionLog, logger *log.Logger) *JournalWorker {
	return &JournalWorker{
		journal: journal,
		source:  source,
		logger:  logger.WithComponent(log.ComponentWorker),
		written: make(map[int64]struct{}),
		loaded:  make(map[int]bool),
	}
}

// HandleEvent processes a single ledger event from AMQP. Envelope events
// carry no transaction and are acknowledged without work.
func (w *JournalWorker) HandleEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	if !msg.IsTransaction() {
		w.logger.DebugContext(ctx, "Ignoring non-transaction event", "event", msg.Type, "message_id", msg.MessageID)
		return nil
	}

	t := msg.Transaction.ToTransaction()
	if t.ID == 0 || t.Source == nil {
		return fmt.Errorf("event %s: %w", msg.MessageID, amqp.ErrDiscard)
	}
	return w.export(ctx, t)
}

// Backfill appends every logged transaction the journal is missing.
// It recovers from events lost while the worker was down.
func (w *JournalWorker) Backfill(ctx context.Context) error {
	if w.source == nil {
		w.logger.InfoContext(ctx, "No transaction log configured, skipping backfill")
		return nil
	}

	txns, err := w.source.ListTransactions(ctx)
	if err != nil {
		return fmt.Errorf("list transactions for backfill: %w", err)
	}

	synced, failed := 0, 0
	for _, t := range txns {
		exported, err := w.exportIfMissing(ctx, t)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to export transaction during backfill",
				log.FieldTransactionID, t.ID, log.FieldError, err.Error())
			failed++
			continue
		}
		if exported {
			synced++
		}
	}

	w.logger.InfoContext(ctx, "Journal backfill completed",
		"total", len(txns),
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *JournalWorker) export(ctx context.Context, t core.Transaction) error {
	exported, err := w.exportIfMissing(ctx, t)
	if err != nil {
		return err
	}
	if !exported {
		w.logger.InfoContext(ctx, "Transaction already in journal", log.FieldTransactionID, t.ID)
	}
	return nil
}

func (w *JournalWorker) exportIfMissing(ctx context.Context, t core.Transaction) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.loadYearLocked(ctx, t.Date.Year()); err != nil {
		return false, err
	}
	if _, ok := w.written[t.ID]; ok {
		return false, nil
	}

	ref, err := w.journal.AppendTransaction(ctx, t)
	if err != nil {
		return false, fmt.Errorf("append to journal: %w", err)
	}
	w.written[t.ID] = struct{}{}

	var dst int64
	if t.Destination != nil {
		dst = t.Destination.ID
	}
	w.logger.InfoContext(ctx, "Exported transaction",
		append(log.NewFields().
			WithOperation(log.OpExport).
			WithMovement(t.ID, t.Source.ID, dst, t.Amount.String(), t.Reference).
			ToSlice(), "journal_ref", ref)...)
	return true, nil
}

func (w *JournalWorker) loadYearLocked(ctx context.Context, year int) error {
	if w.loaded[year] {
		return nil
	}
	ids, err := w.journal.ListTransactionIDs(ctx, year)
	if err != nil {
		return fmt.Errorf("read journal ids for %d: %w", year, err)
	}
	for _, id := range ids {
		w.written[id] = struct{}{}
	}
	w.loaded[year] = true
	return nil
}
