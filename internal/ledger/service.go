// Package ledger implements the envelope budgeting rules: envelope CRUD,
// withdrawals and two-party transfers.
//
// Every mutating call validates its input, takes the per-envelope locks it
// needs, reads current state and commits all writes through one
// Store.RunInTx call. A failure before or during the commit leaves the
// store exactly as it was.
package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"envelopes/internal/cache"
	"envelopes/internal/core"
	"envelopes/internal/log"
)

type (
	EnvelopeInput struct {
		Title  string
		Budget decimal.Decimal
	}

	WithdrawInput struct {
		Amount    decimal.Decimal
		Reference string
	}

	TransferInput struct {
		SourceID      int64
		DestinationID int64
		Amount        decimal.Decimal
		Reference     string
	}

	// Receipt is the committed result of a withdrawal or transfer.
	// Destination is nil for withdrawals.
	Receipt struct {
		Source      core.Envelope
		Destination *core.Envelope
		Transaction core.Transaction
	}
)

type Service struct {
	store     Store
	locks     *keyedLocks
	publisher EventPublisher
	recorder  Recorder
	cache     cache.Cache[core.Envelope]
	now       func() time.Time
	logger    *log.Logger
}

type Option func(*Service)

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithCache enables read-through caching of single envelope lookups.
func WithCache(c cache.Cache[core.Envelope]) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l.WithComponent(log.ComponentLedger) }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		locks:    newKeyedLocks(),
		recorder: nopRecorder{},
		now:      time.Now,
		logger:   log.New(log.DefaultConfig()).WithComponent(log.ComponentLedger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateEnvelope stores a new envelope with the given title and budget.
func (s *Service) CreateEnvelope(ctx context.Context, in EnvelopeInput) (env core.Envelope, err error) {
	defer s.observe(log.OpCreate, time.Now(), &err)

	budget, err := core.Normalize(in.Budget)
	if err != nil {
		return core.Envelope{}, core.WithOp(log.OpCreate, err)
	}
	if err := core.ValidateEnvelope(in.Title, budget); err != nil {
		return core.Envelope{}, core.WithOp(log.OpCreate, err)
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		env, err = tx.CreateEnvelope(ctx, in.Title, budget)
		return err
	})
	if err != nil {
		return core.Envelope{}, s.fail(log.OpCreate, err)
	}

	s.logger.InfoContext(ctx, "Envelope created",
		log.NewFields().WithEnvelope(env.ID, env.Title, env.Budget.String()).ToSlice()...)
	s.publish(ctx, Event{Type: EventEnvelopeCreated, EnvelopeID: env.ID, Envelope: &env})
	return env, nil
}

// GetEnvelope returns the envelope or core.ErrNotFound.
func (s *Service) GetEnvelope(ctx context.Context, id int64) (env core.Envelope, err error) {
	defer s.observe(log.OpRead, time.Now(), &err)

	if s.cache == nil {
		env, err = s.store.GetEnvelope(ctx, id)
		if err != nil {
			return core.Envelope{}, s.fail(log.OpRead, err)
		}
		return env, nil
	}

	key := cacheKey(id)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	// Populate under the envelope lock so a concurrent commit cannot be
	// overwritten by the value read here.
	unlock := s.locks.Lock(id)
	defer unlock()

	env, err = s.store.GetEnvelope(ctx, id)
	if err != nil {
		return core.Envelope{}, s.fail(log.OpRead, err)
	}
	s.cache.Set(key, env)
	return env, nil
}

// ListEnvelopes returns every envelope ordered by id.
func (s *Service) ListEnvelopes(ctx context.Context) (envs []core.Envelope, err error) {
	defer s.observe(log.OpList, time.Now(), &err)

	envs, err = s.store.ListEnvelopes(ctx)
	if err != nil {
		return nil, s.fail(log.OpList, err)
	}
	return envs, nil
}

// UpdateEnvelope replaces title and budget of an existing envelope.
func (s *Service) UpdateEnvelope(ctx context.Context, id int64, in EnvelopeInput) (env core.Envelope, err error) {
	defer s.observe(log.OpUpdate, time.Now(), &err)

	budget, err := core.Normalize(in.Budget)
	if err != nil {
		return core.Envelope{}, core.WithOp(log.OpUpdate, err)
	}
	if err := core.ValidateEnvelope(in.Title, budget); err != nil {
		return core.Envelope{}, core.WithOp(log.OpUpdate, err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		env, err = tx.UpdateEnvelope(ctx, id, in.Title, budget)
		return err
	})
	s.invalidate(id)
	if err != nil {
		return core.Envelope{}, s.fail(log.OpUpdate, err)
	}

	s.logger.InfoContext(ctx, "Envelope updated",
		log.NewFields().WithEnvelope(env.ID, env.Title, env.Budget.String()).ToSlice()...)
	s.publish(ctx, Event{Type: EventEnvelopeUpdated, EnvelopeID: env.ID, Envelope: &env})
	return env, nil
}

// DeleteEnvelope removes the envelope. Transactions that reference it keep
// their snapshot and are not touched.
func (s *Service) DeleteEnvelope(ctx context.Context, id int64) (err error) {
	defer s.observe(log.OpDelete, time.Now(), &err)

	unlock := s.locks.Lock(id)
	defer unlock()

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.DeleteEnvelope(ctx, id)
	})
	s.invalidate(id)
	if err != nil {
		return s.fail(log.OpDelete, err)
	}

	s.logger.InfoContext(ctx, "Envelope deleted", log.FieldEnvelopeID, id)
	s.publish(ctx, Event{Type: EventEnvelopeDeleted, EnvelopeID: id})
	return nil
}

// Withdraw takes amount out of one envelope and logs a transaction with no
// destination.
func (s *Service) Withdraw(ctx context.Context, envelopeID int64, in WithdrawInput) (r Receipt, err error) {
	defer s.observe(log.OpWithdraw, time.Now(), &err)

	amount, err := core.Normalize(in.Amount)
	if err != nil {
		return Receipt{}, core.WithOp(log.OpWithdraw, err)
	}
	if err := core.ValidateAmount(amount); err != nil {
		return Receipt{}, core.WithOp(log.OpWithdraw, err)
	}
	if err := core.ValidateReference(in.Reference); err != nil {
		return Receipt{}, core.WithOp(log.OpWithdraw, err)
	}

	unlock := s.locks.Lock(envelopeID)
	defer unlock()

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		src, err := tx.GetEnvelope(ctx, envelopeID)
		if err != nil {
			return err
		}
		if src.Budget.LessThan(amount) {
			return core.InsufficientFunds("envelope %d holds %s, cannot withdraw %s", src.ID, src.Budget, amount)
		}

		src, err = tx.UpdateEnvelope(ctx, src.ID, src.Title, src.Budget.Sub(amount))
		if err != nil {
			return err
		}
		txn, err := tx.AppendTransaction(ctx, core.Transaction{
			Reference: in.Reference,
			Amount:    amount,
			Date:      s.now().UTC(),
			Source:    src.Ref(),
		})
		if err != nil {
			return err
		}
		r = Receipt{Source: src, Transaction: txn}
		return nil
	})
	s.invalidate(envelopeID)
	if err != nil {
		return Receipt{}, s.fail(log.OpWithdraw, err)
	}

	s.logger.InfoContext(ctx, "Withdrawal committed",
		log.NewFields().WithMovement(r.Transaction.ID, envelopeID, 0, amount.String(), in.Reference).ToSlice()...)
	s.publish(ctx, Event{Type: EventWithdrawal, EnvelopeID: envelopeID, Envelope: &r.Source, Transaction: &r.Transaction})
	return r, nil
}

// Transfer moves amount from the source envelope to the destination and
// logs exactly one transaction carrying both sides.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (r Receipt, err error) {
	defer s.observe(log.OpTransfer, time.Now(), &err)

	amount, err := core.Normalize(in.Amount)
	if err != nil {
		return Receipt{}, core.WithOp(log.OpTransfer, err)
	}
	if err := core.ValidateTransfer(in.SourceID, in.DestinationID, amount); err != nil {
		return Receipt{}, core.WithOp(log.OpTransfer, err)
	}
	if err := core.ValidateReference(in.Reference); err != nil {
		return Receipt{}, core.WithOp(log.OpTransfer, err)
	}

	unlock := s.locks.Lock(in.SourceID, in.DestinationID)
	defer unlock()

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		src, err := tx.GetEnvelope(ctx, in.SourceID)
		if err != nil {
			return err
		}
		dst, err := tx.GetEnvelope(ctx, in.DestinationID)
		if err != nil {
			return err
		}
		if src.Budget.LessThan(amount) {
			return core.InsufficientFunds("envelope %d holds %s, cannot transfer %s", src.ID, src.Budget, amount)
		}

		if src, err = tx.UpdateEnvelope(ctx, src.ID, src.Title, src.Budget.Sub(amount)); err != nil {
			return err
		}
		if dst, err = tx.UpdateEnvelope(ctx, dst.ID, dst.Title, dst.Budget.Add(amount)); err != nil {
			return err
		}
		txn, err := tx.AppendTransaction(ctx, core.Transaction{
			Reference:   in.Reference,
			Amount:      amount,
			Date:        s.now().UTC(),
			Source:      src.Ref(),
			Destination: dst.Ref(),
		})
		if err != nil {
			return err
		}
		r = Receipt{Source: src, Destination: &dst, Transaction: txn}
		return nil
	})
	s.invalidate(in.SourceID, in.DestinationID)
	if err != nil {
		return Receipt{}, s.fail(log.OpTransfer, err)
	}

	s.logger.InfoContext(ctx, "Transfer committed",
		log.NewFields().WithMovement(r.Transaction.ID, in.SourceID, in.DestinationID, amount.String(), in.Reference).ToSlice()...)
	s.publish(ctx, Event{Type: EventTransfer, EnvelopeID: in.SourceID, Envelope: &r.Source, Transaction: &r.Transaction})
	return r, nil
}

func (s *Service) ListTransactions(ctx context.Context) (txns []core.Transaction, err error) {
	defer s.observe("list_transactions", time.Now(), &err)

	txns, err = s.store.ListTransactions(ctx)
	if err != nil {
		return nil, s.fail("list_transactions", err)
	}
	return txns, nil
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (txn core.Transaction, err error) {
	defer s.observe("get_transaction", time.Now(), &err)

	txn, err = s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, s.fail("get_transaction", err)
	}
	return txn, nil
}

// ListEnvelopeTransactions returns the history of one envelope. It works
// for deleted envelopes too, since the log keeps its own snapshots.
func (s *Service) ListEnvelopeTransactions(ctx context.Context, envelopeID int64) (txns []core.Transaction, err error) {
	defer s.observe("list_envelope_transactions", time.Now(), &err)

	txns, err = s.store.ListTransactionsByEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, s.fail("list_envelope_transactions", err)
	}
	return txns, nil
}

// TotalBudget sums the budgets of all envelopes.
func (s *Service) TotalBudget(ctx context.Context) (core.BudgetSummary, error) {
	envs, err := s.ListEnvelopes(ctx)
	if err != nil {
		return core.BudgetSummary{}, err
	}
	sum := core.BudgetSummary{Envelopes: len(envs), Total: decimal.Zero}
	for _, e := range envs {
		sum.Total = sum.Total.Add(e.Budget)
	}
	return sum, nil
}

// fail classifies err, tags it with op and logs storage failures.
func (s *Service) fail(op string, err error) error {
	err = core.WithOp(op, core.StorageFailure(op, err))
	if !core.IsDomain(err) {
		s.logger.Error("Ledger operation failed",
			log.NewFields().WithOperation(op).WithError(err).ToSlice()...)
	}
	return err
}

func (s *Service) observe(op string, start time.Time, err *error) {
	s.recorder.ObserveOperation(op, *err, time.Since(start))
}

func (s *Service) invalidate(ids ...int64) {
	if s.cache == nil {
		return
	}
	for _, id := range ids {
		s.cache.Delete(cacheKey(id))
	}
}

func (s *Service) publish(ctx context.Context, e Event) {
	if s.publisher == nil {
		return
	}
	e.OccurredAt = s.now().UTC()
	if err := s.publisher.Publish(ctx, e); err != nil {
		// The change is committed; listeners catch up from the log.
		s.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldOperation, log.OpPublish,
			"event", string(e.Type),
			log.FieldEnvelopeID, e.EnvelopeID,
			log.FieldError, err.Error())
	}
}

func cacheKey(id int64) string {
	return "envelope:" + strconv.FormatInt(id, 10)
}
