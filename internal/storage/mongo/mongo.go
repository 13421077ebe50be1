// Package mongo is the MongoDB ledger backend. Multi-document writes run in
// session transactions, so the server must be a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"envelopes/internal/core"
	"envelopes/internal/ledger"
)

const (
	envelopesCollection    = "envelopes"
	transactionsCollection = "transactions"
	countersCollection     = "counters"

	defaultServerSelectionTimeout = 5 * time.Second
)

type Config struct {
	URI      string
	Database string
}

type Store struct {
	*queries
	client *mongo.Client
}

var _ ledger.Store = (*Store)(nil)

// New connects, pings and makes sure the indexes exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mongo: uri and database are required")
	}

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(defaultServerSelectionTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := &Store{queries: &queries{db: client.Database(cfg.Database)}, client: client}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "source.id", Value: 1}}},
		{Keys: bson.D{{Key: "destination.id", Value: 1}}},
	}
	if _, err := s.db.Collection(transactionsCollection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create transaction indexes: %w", err)
	}
	return nil
}

// RunInTx runs fn inside a session transaction. The driver retries fn on
// transient transaction errors, so fn must not keep state across attempts.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s.queries)
	})
	return err
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type (
	envelopeDoc struct {
		ID     int64                `bson:"_id"`
		Title  string               `bson:"title"`
		Budget primitive.Decimal128 `bson:"budget"`
	}

	refDoc struct {
		ID    int64  `bson:"id"`
		Title string `bson:"title"`
	}

	transactionDoc struct {
		ID          int64                `bson:"_id"`
		Reference   string               `bson:"reference"`
		Amount      primitive.Decimal128 `bson:"amount"`
		Date        time.Time            `bson:"date"`
		Source      refDoc               `bson:"source"`
		Destination *refDoc              `bson:"destination,omitempty"`
	}

	counterDoc struct {
		Seq int64 `bson:"seq"`
	}
)

// queries runs against the database with whatever context it is given; a
// session context makes the calls part of that session's transaction.
type queries struct {
	db *mongo.Database
}

func (q *queries) nextID(ctx context.Context, name string) (int64, error) {
	var c counterDoc
	err := q.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return c.Seq, nil
}

func (q *queries) GetEnvelope(ctx context.Context, id int64) (core.Envelope, error) {
	var doc envelopeDoc
	err := q.db.Collection(envelopesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Envelope{}, core.NotFound("envelope %d", id)
	}
	if err != nil {
		return core.Envelope{}, fmt.Errorf("get envelope %d: %w", id, err)
	}
	return doc.toEnvelope()
}

func (q *queries) ListEnvelopes(ctx context.Context) ([]core.Envelope, error) {
	cur, err := q.db.Collection(envelopesCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	var docs []envelopeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}

	envs := make([]core.Envelope, 0, len(docs))
	for _, d := range docs {
		env, err := d.toEnvelope()
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (q *queries) CreateEnvelope(ctx context.Context, title string, budget decimal.Decimal) (core.Envelope, error) {
	id, err := q.nextID(ctx, envelopesCollection)
	if err != nil {
		return core.Envelope{}, err
	}
	b, err := toDecimal128(budget)
	if err != nil {
		return core.Envelope{}, err
	}
	if _, err := q.db.Collection(envelopesCollection).InsertOne(ctx, envelopeDoc{ID: id, Title: title, Budget: b}); err != nil {
		return core.Envelope{}, fmt.Errorf("create envelope: %w", err)
	}
	return core.Envelope{ID: id, Title: title, Budget: budget}, nil
}

func (q *queries) UpdateEnvelope(ctx context.Context, id int64, title string, budget decimal.Decimal) (core.Envelope, error) {
	b, err := toDecimal128(budget)
	if err != nil {
		return core.Envelope{}, err
	}
	res, err := q.db.Collection(envelopesCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"title": title, "budget": b}})
	if err != nil {
		return core.Envelope{}, fmt.Errorf("update envelope %d: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return core.Envelope{}, core.NotFound("envelope %d", id)
	}
	return core.Envelope{ID: id, Title: title, Budget: budget}, nil
}

func (q *queries) DeleteEnvelope(ctx context.Context, id int64) error {
	res, err := q.db.Collection(envelopesCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete envelope %d: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return core.NotFound("envelope %d", id)
	}
	return nil
}

func (q *queries) AppendTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.Source == nil {
		return core.Transaction{}, fmt.Errorf("append transaction: missing source")
	}
	if t.Date.IsZero() {
		t.Date = time.Now()
	}
	// BSON dates carry milliseconds.
	t.Date = t.Date.UTC().Truncate(time.Millisecond)

	id, err := q.nextID(ctx, transactionsCollection)
	if err != nil {
		return core.Transaction{}, err
	}
	amount, err := toDecimal128(t.Amount)
	if err != nil {
		return core.Transaction{}, err
	}

	doc := transactionDoc{
		ID:        id,
		Reference: t.Reference,
		Amount:    amount,
		Date:      t.Date,
		Source:    refDoc{ID: t.Source.ID, Title: t.Source.Title},
	}
	if t.Destination != nil {
		doc.Destination = &refDoc{ID: t.Destination.ID, Title: t.Destination.Title}
	}
	if _, err := q.db.Collection(transactionsCollection).InsertOne(ctx, doc); err != nil {
		return core.Transaction{}, fmt.Errorf("append transaction: %w", err)
	}

	t.ID = id
	return t, nil
}

func (q *queries) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	return q.findTransactions(ctx, bson.M{})
}

func (q *queries) ListTransactionsByEnvelope(ctx context.Context, envelopeID int64) ([]core.Transaction, error) {
	return q.findTransactions(ctx, bson.M{"$or": bson.A{
		bson.M{"source.id": envelopeID},
		bson.M{"destination.id": envelopeID},
	}})
}

func (q *queries) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	var doc transactionDoc
	err := q.db.Collection(transactionsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Transaction{}, core.NotFound("transaction %d", id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return doc.toTransaction()
}

func (q *queries) findTransactions(ctx context.Context, filter bson.M) ([]core.Transaction, error) {
	cur, err := q.db.Collection(transactionsCollection).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	var docs []transactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	txns := make([]core.Transaction, 0, len(docs))
	for _, d := range docs {
		t, err := d.toTransaction()
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, nil
}

func (d envelopeDoc) toEnvelope() (core.Envelope, error) {
	budget, err := fromDecimal128(d.Budget)
	if err != nil {
		return core.Envelope{}, fmt.Errorf("envelope %d budget: %w", d.ID, err)
	}
	return core.Envelope{ID: d.ID, Title: d.Title, Budget: budget}, nil
}

func (d transactionDoc) toTransaction() (core.Transaction, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %d amount: %w", d.ID, err)
	}
	t := core.Transaction{
		ID:        d.ID,
		Reference: d.Reference,
		Amount:    amount,
		Date:      d.Date.UTC(),
		Source:    &core.EnvelopeRef{ID: d.Source.ID, Title: d.Source.Title},
	}
	if d.Destination != nil {
		t.Destination = &core.EnvelopeRef{ID: d.Destination.ID, Title: d.Destination.Title}
	}
	return t, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert %s to decimal128: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(v.String())
}
