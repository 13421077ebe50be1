package ledger

import (
	"context"
	"time"

	"envelopes/internal/core"
)

const (
	EventEnvelopeCreated EventType = "envelope.created"
	EventEnvelopeUpdated EventType = "envelope.updated"
	EventEnvelopeDeleted EventType = "envelope.deleted"
	EventWithdrawal      EventType = "transaction.withdrawal"
	EventTransfer        EventType = "transaction.transfer"
)

type EventType string

// Event describes a change that has already been committed.
type Event struct {
	Type        EventType
	EnvelopeID  int64
	Envelope    *core.Envelope
	Transaction *core.Transaction
	OccurredAt  time.Time
}

// EventPublisher delivers committed changes to outside listeners. Publish
// failures are logged by the service and never undo a commit.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// Recorder receives one observation per service call.
type Recorder interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error, time.Duration) {}
