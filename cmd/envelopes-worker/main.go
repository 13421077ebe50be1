package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"envelopes/internal/amqp"
	"envelopes/internal/cli"
	"envelopes/internal/config"
	"envelopes/internal/log"
	"envelopes/internal/sheets"
	gsheet "envelopes/internal/sheets/google"
	memjournal "envelopes/internal/sheets/memory"
	"envelopes/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	logger.Info("Starting envelopes-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	if err := run(logger, cfg); err != nil {
		logger.Error("Worker failed", log.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete", log.FieldOperation, log.OpShutdown)
}

func run(logger *log.Logger, cfg *config.Config) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	// The worker reads the same store as the API to backfill missed events.
	store := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := store.Cleanup(); err != nil {
			logger.Error("Failed to close backend", log.FieldError, err.Error(), log.FieldBackend, cfg.DataBackend)
		}
	}()
	if cfg.DataBackend == config.BackendMemory {
		logger.Warn("Memory backend is private to this process, backfill will find nothing to export",
			log.FieldBackend, cfg.DataBackend)
	}

	journal, err := newJournal(ctx, logger, cfg)
	if err != nil {
		return err
	}

	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, amqp.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initialize AMQP client: %w", err)
	}
	defer consumer.Close()

	journalWorker := worker.NewJournalWorker(journal, store.Store, logger)

	logger.Info("Backfilling journal...")
	if err := journalWorker.Backfill(ctx); err != nil {
		// keep consuming, the next periodic backfill retries
		logger.Error("Journal backfill failed", log.FieldError, err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := consumer.Consume(gctx, journalWorker.HandleEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.JournalSyncInterval > 0 {
		g.Go(func() error {
			periodicSync(gctx, logger, journalWorker, cfg.JournalSyncInterval)
			return nil
		})
	}
	return g.Wait()
}

func newJournal(ctx context.Context, logger *log.Logger, cfg *config.Config) (sheets.Journal, error) {
	if cfg.GoogleSpreadsheetID == "" {
		logger.Warn("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, journal kept in memory")
		return memjournal.New(), nil
	}

	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID: cfg.GoogleSpreadsheetID,
		SheetName:     cfg.GoogleSheetName,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize Google Sheets client: %w", err)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}

// periodicSync reruns the backfill so transactions whose events were lost
// while the broker was unreachable still reach the journal.
func periodicSync(ctx context.Context, logger *log.Logger, w *worker.JournalWorker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Backfill(ctx); err != nil {
				logger.Error("Periodic backfill failed", log.FieldError, err.Error())
			}
		}
	}
}
