package storage

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envelopes/internal/core"
	"envelopes/internal/ledger"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository_EnvelopeCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	a, err := repo.CreateEnvelope(ctx, "groceries", decimal.RequireFromString("250.10"))
	require.NoError(t, err)
	b, err := repo.CreateEnvelope(ctx, "rent", decimal.Zero)
	require.NoError(t, err)
	assert.Less(t, a.ID, b.ID)

	got, err := repo.GetEnvelope(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "groceries", got.Title)
	assert.True(t, got.Budget.Equal(decimal.RequireFromString("250.1")))

	_, err = repo.UpdateEnvelope(ctx, b.ID, "housing", decimal.NewFromInt(900))
	require.NoError(t, err)

	envs, err := repo.ListEnvelopes(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "housing", envs[1].Title)

	require.NoError(t, repo.DeleteEnvelope(ctx, b.ID))
	assert.ErrorIs(t, repo.DeleteEnvelope(ctx, b.ID), core.ErrNotFound)
	_, err = repo.GetEnvelope(ctx, b.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = repo.UpdateEnvelope(ctx, b.ID, "x", decimal.Zero)
	assert.ErrorIs(t, err, core.ErrNotFound)

	c, err := repo.CreateEnvelope(ctx, "fun", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Greater(t, c.ID, b.ID, "ids are never reused")
}

func TestSQLiteRepository_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	_, err = repo.CreateEnvelope(context.Background(), "kept", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	reopened, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	envs, err := reopened.ListEnvelopes(context.Background())
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "kept", envs[0].Title)
}

func TestSQLiteRepository_TransactionLog(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	a, err := repo.CreateEnvelope(ctx, "A", decimal.NewFromInt(100))
	require.NoError(t, err)
	b, err := repo.CreateEnvelope(ctx, "B", decimal.NewFromInt(100))
	require.NoError(t, err)

	date := time.Date(2025, 3, 14, 15, 9, 26, 535000000, time.UTC)
	w, err := repo.AppendTransaction(ctx, core.Transaction{
		Reference: "coffee",
		Amount:    decimal.RequireFromString("0.10"),
		Date:      date,
		Source:    a.Ref(),
	})
	require.NoError(t, err)
	tr, err := repo.AppendTransaction(ctx, core.Transaction{
		Amount:      decimal.NewFromInt(20),
		Source:      b.Ref(),
		Destination: a.Ref(),
	})
	require.NoError(t, err)
	assert.False(t, tr.Date.IsZero(), "zero date is stamped")

	got, err := repo.GetTransaction(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "coffee", got.Reference)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, got.Date.Equal(date))
	assert.Nil(t, got.Destination)
	assert.Equal(t, core.Withdrawal, got.Kind())

	all, err := repo.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, w.ID, all[0].ID)
	assert.Equal(t, core.Transfer, all[1].Kind())

	byA, err := repo.ListTransactionsByEnvelope(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, byA, 2)
	byB, err := repo.ListTransactionsByEnvelope(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, byB, 1)

	require.NoError(t, repo.DeleteEnvelope(ctx, a.ID))
	got, err = repo.GetTransaction(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Destination)
	assert.Equal(t, "A", got.Destination.Title)

	_, err = repo.GetTransaction(ctx, 999)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLiteRepository_RunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	a, err := repo.CreateEnvelope(ctx, "A", decimal.NewFromInt(100))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = repo.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.UpdateEnvelope(ctx, a.ID, "A", decimal.NewFromInt(1)); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, core.Transaction{Amount: decimal.NewFromInt(99), Source: a.Ref()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.GetEnvelope(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Budget.Equal(decimal.NewFromInt(100)))
	txns, err := repo.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestSQLiteRepository_LedgerTransfer(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(newTestRepository(t))

	a, err := svc.CreateEnvelope(ctx, ledger.EnvelopeInput{Title: "A", Budget: decimal.NewFromInt(500)})
	require.NoError(t, err)
	b, err := svc.CreateEnvelope(ctx, ledger.EnvelopeInput{Title: "B", Budget: decimal.NewFromInt(100)})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, ledger.TransferInput{SourceID: a.ID, DestinationID: b.ID, Amount: decimal.NewFromInt(200)})
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, b.ID, ledger.WithdrawInput{Amount: decimal.NewFromInt(301)})
	require.ErrorIs(t, err, core.ErrInsufficientFunds)

	sum, err := svc.TotalBudget(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Total.Equal(decimal.NewFromInt(600)))

	txns, err := svc.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestSQLiteRepository_ConcurrentWithdrawals(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	// Two services share the database but not their envelope locks, so only
	// the store transaction keeps withdrawals from overdrawing.
	services := []*ledger.Service{ledger.NewService(repo), ledger.NewService(repo)}
	env, err := services[0].CreateEnvelope(ctx, ledger.EnvelopeInput{Title: "A", Budget: decimal.NewFromInt(100)})
	require.NoError(t, err)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(svc *ledger.Service) {
			defer wg.Done()
			_, err := svc.Withdraw(ctx, env.ID, ledger.WithdrawInput{Amount: decimal.NewFromInt(10)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, core.ErrInsufficientFunds):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(services[i%2])
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, refused)

	got, err := repo.GetEnvelope(ctx, env.ID)
	require.NoError(t, err)
	assert.True(t, got.Budget.IsZero(), "budget = %s", got.Budget)

	txns, err := repo.ListTransactionsByEnvelope(ctx, env.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 10)
}

func TestSQLiteRepository_ConcurrentTransfersConserveTotal(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	services := []*ledger.Service{ledger.NewService(repo), ledger.NewService(repo)}

	a, err := services[0].CreateEnvelope(ctx, ledger.EnvelopeInput{Title: "A", Budget: decimal.NewFromInt(50)})
	require.NoError(t, err)
	b, err := services[0].CreateEnvelope(ctx, ledger.EnvelopeInput{Title: "B", Budget: decimal.NewFromInt(50)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := ledger.TransferInput{SourceID: a.ID, DestinationID: b.ID, Amount: decimal.NewFromInt(7)}
			if i%2 == 1 {
				in.SourceID, in.DestinationID = b.ID, a.ID
			}
			_, err := services[i%2].Transfer(ctx, in)
			if err != nil && !errors.Is(err, core.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	sum, err := services[1].TotalBudget(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Total.Equal(decimal.NewFromInt(100)), "total = %s", sum.Total)

	for _, id := range []int64{a.ID, b.ID} {
		env, err := repo.GetEnvelope(ctx, id)
		require.NoError(t, err)
		assert.False(t, env.Budget.IsNegative(), "envelope %d budget = %s", id, env.Budget)
	}
}

func TestRunInTx_CommitAndRollback(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		fn      func(ctx context.Context, tx ledger.Tx) error
		wantErr string
	}{
		{
			name: "commits on success",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("UPDATE envelopes SET title = ?, budget = ? WHERE id = ?")).
					WithArgs("A", "300", int64(1)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			fn: func(ctx context.Context, tx ledger.Tx) error {
				_, err := tx.UpdateEnvelope(ctx, 1, "A", decimal.NewFromInt(300))
				return err
			},
		},
		{
			name: "rolls back when the log append fails",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("UPDATE envelopes")).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
					WillReturnError(errors.New("disk I/O error"))
				mock.ExpectRollback()
			},
			fn: func(ctx context.Context, tx ledger.Tx) error {
				if _, err := tx.UpdateEnvelope(ctx, 1, "A", decimal.NewFromInt(300)); err != nil {
					return err
				}
				_, err := tx.AppendTransaction(ctx, core.Transaction{
					Amount: decimal.NewFromInt(200),
					Source: &core.EnvelopeRef{ID: 1, Title: "A"},
				})
				return err
			},
			wantErr: "disk I/O error",
		},
		{
			name: "commit failure is reported",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit().WillReturnError(errors.New("database is locked"))
			},
			fn:      func(context.Context, ledger.Tx) error { return nil },
			wantErr: "commit transaction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setup(mock)

			err = NewWithDB(db).RunInTx(context.Background(), tt.fn)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRunInTx_RollsBackOnPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	repo := NewWithDB(db)
	assert.Panics(t, func() {
		_ = repo.RunInTx(context.Background(), func(context.Context, ledger.Tx) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueries_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewWithDB(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM envelopes WHERE id = ?")).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.DeleteEnvelope(ctx, 9), core.ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, budget FROM envelopes WHERE id = ?")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "budget"}))
	_, err = repo.GetEnvelope(ctx, 9)
	assert.ErrorIs(t, err, core.ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, budget FROM envelopes WHERE id = ?")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "budget"}).AddRow(int64(1), "A", "12.50"))
	env, err := repo.GetEnvelope(ctx, 1)
	require.NoError(t, err)
	assert.True(t, env.Budget.Equal(decimal.RequireFromString("12.5")))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, budget FROM envelopes ORDER BY id")).
		WillReturnError(errors.New("connection reset"))
	_, err = repo.ListEnvelopes(ctx)
	assert.ErrorContains(t, err, "list envelopes")
	assert.NotErrorIs(t, err, core.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
