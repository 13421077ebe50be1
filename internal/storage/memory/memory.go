// Package memory is the in-process ledger backend.
//
// Writes run against a staged copy of the state which replaces the live
// state only when the transaction function succeeds, so readers never see a
// half-applied transfer. An optional snapshot file keeps the state across
// restarts.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"envelopes/internal/core"
	"envelopes/internal/ledger"
)

type Store struct {
	mu           sync.RWMutex
	st           state
	now          func() time.Time
	snapshotPath string
}

type state struct {
	envelopes      map[int64]core.Envelope
	txns           []core.Transaction
	nextEnvelopeID int64
	nextTxID       int64
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		st:  state{envelopes: make(map[int64]core.Envelope)},
		now: time.Now,
	}
}

// clone copies the envelope map; the transaction slice is capped so appends
// on the copy never write into the live backing array.
func (s state) clone() state {
	return state{
		envelopes:      maps.Clone(s.envelopes),
		txns:           s.txns[:len(s.txns):len(s.txns)],
		nextEnvelopeID: s.nextEnvelopeID,
		nextTxID:       s.nextTxID,
	}
}

// RunInTx serializes all writers. fn must only use tx; calling the Store's
// own methods from fn deadlocks.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.st.clone()
	if err := fn(ctx, &view{st: &staged, now: s.now}); err != nil {
		return err
	}
	s.st = staged
	return nil
}

func (s *Store) read() *view {
	return &view{st: &s.st, now: s.now}
}

func (s *Store) GetEnvelope(ctx context.Context, id int64) (core.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetEnvelope(ctx, id)
}

func (s *Store) ListEnvelopes(ctx context.Context) ([]core.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListEnvelopes(ctx)
}

func (s *Store) CreateEnvelope(ctx context.Context, title string, budget decimal.Decimal) (env core.Envelope, err error) {
	err = s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		env, err = tx.CreateEnvelope(ctx, title, budget)
		return err
	})
	return env, err
}

func (s *Store) UpdateEnvelope(ctx context.Context, id int64, title string, budget decimal.Decimal) (env core.Envelope, err error) {
	err = s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		env, err = tx.UpdateEnvelope(ctx, id, title, budget)
		return err
	})
	return env, err
}

func (s *Store) DeleteEnvelope(ctx context.Context, id int64) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.DeleteEnvelope(ctx, id)
	})
}

func (s *Store) AppendTransaction(ctx context.Context, t core.Transaction) (out core.Transaction, err error) {
	err = s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		out, err = tx.AppendTransaction(ctx, t)
		return err
	})
	return out, err
}

func (s *Store) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactions(ctx)
}

func (s *Store) ListTransactionsByEnvelope(ctx context.Context, envelopeID int64) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTransactionsByEnvelope(ctx, envelopeID)
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTransaction(ctx, id)
}

// Close writes the snapshot file when one is configured.
func (s *Store) Close() error {
	if s.snapshotPath == "" {
		return nil
	}
	return s.Save()
}

// view implements ledger.Tx over one state value.
type view struct {
	st  *state
	now func() time.Time
}

func (v *view) GetEnvelope(_ context.Context, id int64) (core.Envelope, error) {
	env, ok := v.st.envelopes[id]
	if !ok {
		return core.Envelope{}, core.NotFound("envelope %d", id)
	}
	return env, nil
}

func (v *view) ListEnvelopes(context.Context) ([]core.Envelope, error) {
	out := make([]core.Envelope, 0, len(v.st.envelopes))
	for _, env := range v.st.envelopes {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) CreateEnvelope(_ context.Context, title string, budget decimal.Decimal) (core.Envelope, error) {
	v.st.nextEnvelopeID++
	env := core.Envelope{ID: v.st.nextEnvelopeID, Title: title, Budget: budget}
	v.st.envelopes[env.ID] = env
	return env, nil
}

func (v *view) UpdateEnvelope(_ context.Context, id int64, title string, budget decimal.Decimal) (core.Envelope, error) {
	if _, ok := v.st.envelopes[id]; !ok {
		return core.Envelope{}, core.NotFound("envelope %d", id)
	}
	env := core.Envelope{ID: id, Title: title, Budget: budget}
	v.st.envelopes[id] = env
	return env, nil
}

func (v *view) DeleteEnvelope(_ context.Context, id int64) error {
	if _, ok := v.st.envelopes[id]; !ok {
		return core.NotFound("envelope %d", id)
	}
	delete(v.st.envelopes, id)
	return nil
}

func (v *view) AppendTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	v.st.nextTxID++
	t.ID = v.st.nextTxID
	if t.Date.IsZero() {
		t.Date = v.now().UTC()
	}
	t.Source = copyRef(t.Source)
	t.Destination = copyRef(t.Destination)
	v.st.txns = append(v.st.txns, t)
	return t, nil
}

func (v *view) ListTransactions(context.Context) ([]core.Transaction, error) {
	out := make([]core.Transaction, len(v.st.txns))
	for i, t := range v.st.txns {
		out[i] = copyTx(t)
	}
	return out, nil
}

func (v *view) ListTransactionsByEnvelope(_ context.Context, envelopeID int64) ([]core.Transaction, error) {
	out := []core.Transaction{}
	for _, t := range v.st.txns {
		if t.Touches(envelopeID) {
			out = append(out, copyTx(t))
		}
	}
	return out, nil
}

func (v *view) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	// ids are assigned in append order
	i := sort.Search(len(v.st.txns), func(i int) bool { return v.st.txns[i].ID >= id })
	if i < len(v.st.txns) && v.st.txns[i].ID == id {
		return copyTx(v.st.txns[i]), nil
	}
	return core.Transaction{}, core.NotFound("transaction %d", id)
}

// copyTx detaches the envelope snapshots from the stored log entry.
func copyTx(t core.Transaction) core.Transaction {
	t.Source = copyRef(t.Source)
	t.Destination = copyRef(t.Destination)
	return t
}

func copyRef(r *core.EnvelopeRef) *core.EnvelopeRef {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
