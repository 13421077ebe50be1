// Package storage is the SQLite ledger backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"envelopes/internal/core"
	"envelopes/internal/ledger"

	_ "modernc.org/sqlite"
)

// queryer is the part of *sql.DB and *sql.Tx the queries need.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteRepository struct {
	*queries
	db *sql.DB
}

var _ ledger.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLITE_BUSY otherwise surfaces under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already migrated database.
func NewWithDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{queries: &queries{q: db}, db: db}
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RunInTx runs fn in a database transaction that commits only when fn
// returns nil. The deferred rollback also covers a panic in fn.
func (r *SQLiteRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
			}
		}
	}()

	if err := fn(ctx, &queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

type queries struct {
	q queryer
}

const (
	selectEnvelope    = `SELECT id, title, budget FROM envelopes`
	selectTransaction = `SELECT id, reference, amount, date, source_id, source_title, destination_id, destination_title FROM transactions`
)

func (q *queries) GetEnvelope(ctx context.Context, id int64) (core.Envelope, error) {
	row := q.q.QueryRowContext(ctx, selectEnvelope+` WHERE id = ?`, id)
	env, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Envelope{}, core.NotFound("envelope %d", id)
	}
	if err != nil {
		return core.Envelope{}, fmt.Errorf("get envelope %d: %w", id, err)
	}
	return env, nil
}

func (q *queries) ListEnvelopes(ctx context.Context) ([]core.Envelope, error) {
	rows, err := q.q.QueryContext(ctx, selectEnvelope+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	envs := []core.Envelope{}
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	return envs, nil
}

func (q *queries) CreateEnvelope(ctx context.Context, title string, budget decimal.Decimal) (core.Envelope, error) {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO envelopes (title, budget) VALUES (?, ?)`, title, budget.String())
	if err != nil {
		return core.Envelope{}, fmt.Errorf("create envelope: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Envelope{}, fmt.Errorf("create envelope: %w", err)
	}

	slog.DebugContext(ctx, "Envelope saved to SQLite", "envelope_id", id, "title", title)
	return core.Envelope{ID: id, Title: title, Budget: budget}, nil
}

func (q *queries) UpdateEnvelope(ctx context.Context, id int64, title string, budget decimal.Decimal) (core.Envelope, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE envelopes SET title = ?, budget = ? WHERE id = ?`, title, budget.String(), id)
	if err != nil {
		return core.Envelope{}, fmt.Errorf("update envelope %d: %w", id, err)
	}
	if err := expectOneRow(res, id); err != nil {
		return core.Envelope{}, err
	}
	return core.Envelope{ID: id, Title: title, Budget: budget}, nil
}

func (q *queries) DeleteEnvelope(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM envelopes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete envelope %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (q *queries) AppendTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.Source == nil {
		return core.Transaction{}, fmt.Errorf("append transaction: missing source")
	}
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}

	var dstID sql.NullInt64
	var dstTitle sql.NullString
	if t.Destination != nil {
		dstID = sql.NullInt64{Int64: t.Destination.ID, Valid: true}
		dstTitle = sql.NullString{String: t.Destination.Title, Valid: true}
	}

	res, err := q.q.ExecContext(ctx,
		`INSERT INTO transactions (reference, amount, date, source_id, source_title, destination_id, destination_title)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Reference, t.Amount.String(), t.Date.UTC().Format(time.RFC3339Nano),
		t.Source.ID, t.Source.Title, dstID, dstTitle)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("append transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("append transaction: %w", err)
	}
	t.ID = id
	return t, nil
}

func (q *queries) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	return q.listTransactions(ctx, selectTransaction+` ORDER BY id`)
}

func (q *queries) ListTransactionsByEnvelope(ctx context.Context, envelopeID int64) ([]core.Transaction, error) {
	return q.listTransactions(ctx,
		selectTransaction+` WHERE source_id = ? OR destination_id = ? ORDER BY id`, envelopeID, envelopeID)
}

func (q *queries) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := q.q.QueryRowContext(ctx, selectTransaction+` WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFound("transaction %d", id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return t, nil
}

func (q *queries) listTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txns := []core.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(s scanner) (core.Envelope, error) {
	var env core.Envelope
	var budget string
	if err := s.Scan(&env.ID, &env.Title, &budget); err != nil {
		return core.Envelope{}, err
	}
	d, err := decimal.NewFromString(budget)
	if err != nil {
		return core.Envelope{}, fmt.Errorf("parse budget of envelope %d: %w", env.ID, err)
	}
	env.Budget = d
	return env, nil
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		t            core.Transaction
		amount, date string
		src          core.EnvelopeRef
		dstID        sql.NullInt64
		dstTitle     sql.NullString
	)
	if err := s.Scan(&t.ID, &t.Reference, &amount, &date, &src.ID, &src.Title, &dstID, &dstTitle); err != nil {
		return core.Transaction{}, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount of transaction %d: %w", t.ID, err)
	}
	t.Amount = d
	if t.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse date of transaction %d: %w", t.ID, err)
	}
	t.Source = &src
	if dstID.Valid {
		t.Destination = &core.EnvelopeRef{ID: dstID.Int64, Title: dstTitle.String}
	}
	return t, nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.NotFound("envelope %d", id)
	}
	return nil
}
