package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"envelopes/internal/core"
)

// Persistence ports. Implementations own storage only; every invariant is
// enforced by Service before it calls them.
type (
	EnvelopeStore interface {
		// GetEnvelope returns core.ErrNotFound when id does not exist.
		GetEnvelope(ctx context.Context, id int64) (core.Envelope, error)
		// ListEnvelopes returns all envelopes ordered by id ascending.
		ListEnvelopes(ctx context.Context) ([]core.Envelope, error)
		CreateEnvelope(ctx context.Context, title string, budget decimal.Decimal) (core.Envelope, error)
		// UpdateEnvelope replaces title and budget, or returns core.ErrNotFound.
		UpdateEnvelope(ctx context.Context, id int64, title string, budget decimal.Decimal) (core.Envelope, error)
		// DeleteEnvelope returns core.ErrNotFound when id does not exist.
		DeleteEnvelope(ctx context.Context, id int64) error
	}

	// TransactionLog is append-only.
	TransactionLog interface {
		// AppendTransaction assigns the id, and the date when it is zero.
		AppendTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		ListTransactions(ctx context.Context) ([]core.Transaction, error)
		// ListTransactionsByEnvelope returns transactions with the envelope as
		// source or destination, ordered by id ascending.
		ListTransactionsByEnvelope(ctx context.Context, envelopeID int64) ([]core.Transaction, error)
		GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	}

	// Tx is the view of the store inside a scoped transaction.
	Tx interface {
		EnvelopeStore
		TransactionLog
	}

	Store interface {
		Tx
		// RunInTx runs fn inside a transaction. The transaction commits only
		// when fn returns nil; an error or a panic rolls every write back.
		RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
		Close() error
	}
)
