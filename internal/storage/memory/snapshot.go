package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"envelopes/internal/core"
)

const snapshotVersion = 1

type snapshot struct {
	Version        int                `json:"version"`
	SavedAt        time.Time          `json:"saved_at"`
	NextEnvelopeID int64              `json:"next_envelope_id"`
	NextTxID       int64              `json:"next_transaction_id"`
	Envelopes      []snapshotEnvelope `json:"envelopes"`
	Transactions   []snapshotTx       `json:"transactions"`
}

type snapshotEnvelope struct {
	ID     int64           `json:"id"`
	Title  string          `json:"title"`
	Budget decimal.Decimal `json:"budget"`
}

type snapshotRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type snapshotTx struct {
	ID          int64           `json:"id"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Source      *snapshotRef    `json:"source,omitempty"`
	Destination *snapshotRef    `json:"destination,omitempty"`
}

// NewFromFile returns a store backed by a JSON snapshot at path. A missing
// file starts an empty ledger; Close writes the file back.
func NewFromFile(path string) (*Store, error) {
	s := New()
	s.snapshotPath = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	s.restore(snap)
	return s, nil
}

// Save writes the current state to the snapshot file. The file is replaced
// by rename so a crash mid-write leaves the previous snapshot intact.
func (s *Store) Save() error {
	s.mu.RLock()
	snap := s.snapshot()
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		Version:        snapshotVersion,
		SavedAt:        s.now().UTC(),
		NextEnvelopeID: s.st.nextEnvelopeID,
		NextTxID:       s.st.nextTxID,
		Envelopes:      []snapshotEnvelope{},
		Transactions:   make([]snapshotTx, 0, len(s.st.txns)),
	}
	envs, _ := s.read().ListEnvelopes(context.Background())
	for _, e := range envs {
		snap.Envelopes = append(snap.Envelopes, snapshotEnvelope{ID: e.ID, Title: e.Title, Budget: e.Budget})
	}
	for _, t := range s.st.txns {
		snap.Transactions = append(snap.Transactions, snapshotTx{
			ID:          t.ID,
			Reference:   t.Reference,
			Amount:      t.Amount,
			Date:        t.Date,
			Source:      toSnapshotRef(t.Source),
			Destination: toSnapshotRef(t.Destination),
		})
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	st := state{
		envelopes:      make(map[int64]core.Envelope, len(snap.Envelopes)),
		txns:           make([]core.Transaction, 0, len(snap.Transactions)),
		nextEnvelopeID: snap.NextEnvelopeID,
		nextTxID:       snap.NextTxID,
	}
	for _, e := range snap.Envelopes {
		st.envelopes[e.ID] = core.Envelope{ID: e.ID, Title: e.Title, Budget: e.Budget}
	}
	for _, t := range snap.Transactions {
		st.txns = append(st.txns, core.Transaction{
			ID:          t.ID,
			Reference:   t.Reference,
			Amount:      t.Amount,
			Date:        t.Date,
			Source:      fromSnapshotRef(t.Source),
			Destination: fromSnapshotRef(t.Destination),
		})
	}

	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

func toSnapshotRef(r *core.EnvelopeRef) *snapshotRef {
	if r == nil {
		return nil
	}
	return &snapshotRef{ID: r.ID, Title: r.Title}
}

func fromSnapshotRef(r *snapshotRef) *core.EnvelopeRef {
	if r == nil {
		return nil
	}
	return &core.EnvelopeRef{ID: r.ID, Title: r.Title}
}
