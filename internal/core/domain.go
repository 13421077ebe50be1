package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	Withdrawal TransactionKind = "withdrawal"
	Transfer   TransactionKind = "transfer"
)

type (
	TransactionKind string

	Envelope struct {
		ID     int64
		Title  string
		Budget decimal.Decimal
	}

	// EnvelopeRef is a copy of an envelope's identity taken when a
	// transaction commits. It stays readable after the envelope is deleted.
	EnvelopeRef struct {
		ID    int64
		Title string
	}

	Transaction struct {
		ID          int64
		Reference   string
		Amount      decimal.Decimal
		Date        time.Time
		Source      *EnvelopeRef
		Destination *EnvelopeRef // nil for withdrawals
	}

	// BudgetSummary aggregates every envelope currently stored.
	BudgetSummary struct {
		Envelopes int
		Total     decimal.Decimal
	}
)

// Ref snapshots the envelope for a transaction record.
func (e Envelope) Ref() *EnvelopeRef {
	return &EnvelopeRef{ID: e.ID, Title: e.Title}
}

// Kind reports whether the transaction moved money between two envelopes
// or out of a single one.
func (t Transaction) Kind() TransactionKind {
	if t.Destination != nil {
		return Transfer
	}
	return Withdrawal
}

// Touches reports whether the envelope appears on either side of t.
func (t Transaction) Touches(envelopeID int64) bool {
	if t.Source != nil && t.Source.ID == envelopeID {
		return true
	}
	return t.Destination != nil && t.Destination.ID == envelopeID
}
