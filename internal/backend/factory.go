package backend

import (
	"context"
	"fmt"

	"envelopes/internal/log"
	"envelopes/internal/storage"
	"envelopes/internal/storage/memory"
	"envelopes/internal/storage/mongo"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case MemoryBackend:
		return f.createMemoryBackend(config)
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MongoBackend:
		return f.createMongoBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	if config.SnapshotPath == "" {
		f.logger.Warn("Initialized memory backend without snapshot, data is lost on exit")
		store := memory.New()
		return &BackendResult{Store: store, Cleanup: store.Close}, nil
	}

	store, err := memory.NewFromFile(config.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory snapshot: %w", err)
	}
	f.logger.Info("Initialized memory backend", "snapshot", config.SnapshotPath)
	return &BackendResult{Store: store, Cleanup: store.Close}, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &BackendResult{Store: repo, Cleanup: repo.Close}, nil
}

func (f *DefaultFactory) createMongoBackend(ctx context.Context, config Config) (*BackendResult, error) {
	store, err := mongo.New(ctx, mongo.Config{URI: config.MongoURI, Database: config.MongoDatabase})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB store: %w", err)
	}
	f.logger.Info("Initialized MongoDB backend", "database", config.MongoDatabase)
	return &BackendResult{Store: store, Cleanup: store.Close}, nil
}
