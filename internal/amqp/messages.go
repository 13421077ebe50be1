package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"envelopes/internal/core"
	"envelopes/internal/ledger"
)

type EnvelopeMessage struct {
	ID     int64           `json:"id"`
	Title  string          `json:"title"`
	Budget decimal.Decimal `json:"budget"`
}

type RefMessage struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type TransactionMessage struct {
	ID          int64           `json:"id"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Source      *RefMessage     `json:"source,omitempty"`
	Destination *RefMessage     `json:"destination,omitempty"`
}

// LedgerEventMessage is the wire form of a committed ledger change.
// MessageID is unique per publish so consumers can drop redeliveries.
type LedgerEventMessage struct {
	MessageID   string              `json:"message_id"`
	Type        string              `json:"type"`
	EnvelopeID  int64               `json:"envelope_id"`
	Envelope    *EnvelopeMessage    `json:"envelope,omitempty"`
	Transaction *TransactionMessage `json:"transaction,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

func NewLedgerEventMessage(e ledger.Event) *LedgerEventMessage {
	msg := &LedgerEventMessage{
		MessageID:  uuid.NewString(),
		Type:       string(e.Type),
		EnvelopeID: e.EnvelopeID,
		OccurredAt: e.OccurredAt,
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	if e.Envelope != nil {
		msg.Envelope = &EnvelopeMessage{ID: e.Envelope.ID, Title: e.Envelope.Title, Budget: e.Envelope.Budget}
	}
	if t := e.Transaction; t != nil {
		msg.Transaction = &TransactionMessage{
			ID:          t.ID,
			Reference:   t.Reference,
			Amount:      t.Amount,
			Date:        t.Date,
			Source:      refMessage(t.Source),
			Destination: refMessage(t.Destination),
		}
	}
	return msg
}

func refMessage(r *core.EnvelopeRef) *RefMessage {
	if r == nil {
		return nil
	}
	return &RefMessage{ID: r.ID, Title: r.Title}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON decodes a message and checks it names an
// event type.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("ledger event without type")
	}
	return &msg, nil
}

// IsTransaction reports whether the message carries a withdrawal or a
// transfer.
func (m *LedgerEventMessage) IsTransaction() bool {
	return m.Transaction != nil &&
		(m.Type == string(ledger.EventWithdrawal) || m.Type == string(ledger.EventTransfer))
}

func (t *TransactionMessage) ToTransaction() core.Transaction {
	out := core.Transaction{
		ID:        t.ID,
		Reference: t.Reference,
		Amount:    t.Amount,
		Date:      t.Date,
	}
	if t.Source != nil {
		out.Source = &core.EnvelopeRef{ID: t.Source.ID, Title: t.Source.Title}
	}
	if t.Destination != nil {
		out.Destination = &core.EnvelopeRef{ID: t.Destination.ID, Title: t.Destination.Title}
	}
	return out
}
