// Package mongo writes changes into a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/cdc-stitcher/internal/change"
	"github.com/syntrixbase/cdc-stitcher/internal/config"
	"github.com/syntrixbase/cdc-stitcher/internal/sink"
)

const duplicateKeyCode = 11000

// Store implements sink.Sink on a MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

var (
	_ sink.Sink          = (*Store)(nil)
	_ sink.SchemaEnsurer = (*Store)(nil)
)

// Connect opens a client for cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*Store, error) {
	clientOpts := options.Client().ApplyURI(cfg.URI)
	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := NewStore(client.Database(cfg.Database).Collection(cfg.Collection), logger)
	s.client = client
	return s, nil
}

// NewStore wraps an existing collection. Close does not disconnect its client.
func NewStore(coll *mongo.Collection, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		coll:   coll,
		logger: logger.With("component", "mongo-sink", "collection", coll.Name()),
	}
}

// EnsureSchema creates the uniqueness and lookup indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.coll.Indexes().CreateMany(ctx, indexModels()); err != nil {
		return fmt.Errorf("failed to ensure indexes on %s: %w", s.coll.Name(), err)
	}
	return nil
}

// Insert writes changes unordered, ignoring rows that already exist.
func (s *Store) Insert(ctx context.Context, changes []change.Change) error {
	if len(changes) == 0 {
		return nil
	}

	docs := make([]any, len(changes))
	for i, c := range changes {
		docs[i] = c
	}

	res, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		if onlyDuplicateKeys(err) {
			inserted := 0
			if res != nil {
				inserted = len(res.InsertedIDs)
			}
			s.logger.Debug("Skipped existing changes", "batch", len(changes), "inserted", inserted)
			return nil
		}
		return fmt.Errorf("%w: %w", sink.ErrWriteFailed, err)
	}
	return nil
}

// Close disconnects the client opened by Connect.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "position", Value: 1},
				{Key: "table", Value: 1},
				{Key: "schema", Value: 1},
				{Key: "database", Value: 1},
				{Key: "operation", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("position_unique"),
		},
		{Keys: bson.D{{Key: "committed_at", Value: 1}}, Options: options.Index().SetName("committed_at_idx")},
		{Keys: bson.D{{Key: "primary_key", Value: 1}}, Options: options.Index().SetName("primary_key_idx")},
		{Keys: bson.D{{Key: "table", Value: 1}}, Options: options.Index().SetName("table_idx")},
		{Keys: bson.D{{Key: "operation", Value: 1}}, Options: options.Index().SetName("operation_idx")},
	}
}

// onlyDuplicateKeys reports whether every failed write in err was rejected
// by a unique index.
func onlyDuplicateKeys(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}
