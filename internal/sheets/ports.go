// Package sheets defines the journal ports the worker exports committed
// transactions through.
package sheets

import (
	"context"

	"envelopes/internal/core"
)

// Ports for outbound adapters.
type (
	JournalWriter interface {
		// AppendTransaction adds one journal row and returns its reference.
		AppendTransaction(ctx context.Context, t core.Transaction) (rowRef string, err error)
	}

	// JournalReader lists the transaction ids already in the journal for a
	// given year, so redelivered events are not written twice.
	JournalReader interface {
		ListTransactionIDs(ctx context.Context, year int) ([]int64, error)
	}

	Journal interface {
		JournalWriter
		JournalReader
	}
)
