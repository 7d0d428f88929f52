package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/cdc-stitcher/internal/config"
	"github.com/syntrixbase/cdc-stitcher/internal/sink"
	"github.com/syntrixbase/cdc-stitcher/internal/sink/mongo"
	"github.com/syntrixbase/cdc-stitcher/internal/sink/pebble"
	"github.com/syntrixbase/cdc-stitcher/internal/sink/postgres"
)

// Swapped in tests.
var (
	openPostgres = postgres.Open
	connectMongo = mongo.Connect
	openPebble   = pebble.Open
)

// openSink opens the configured backend.
func openSink(ctx context.Context, cfg config.SinkConfig, logger *slog.Logger) (sink.Sink, error) {
	switch cfg.Backend {
	case config.SinkPostgres:
		db, err := openPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(db, cfg.Postgres.Table, logger), nil
	case config.SinkMongo:
		store, err := connectMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.SinkPebble:
		store, err := openPebble(cfg.Pebble, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}

// ensureSchema creates the sink's schema when the backend has one and
// reports whether it did.
func ensureSchema(ctx context.Context, s sink.Sink) (bool, error) {
	ensurer, ok := s.(sink.SchemaEnsurer)
	if !ok {
		return false, nil
	}
	if err := ensurer.EnsureSchema(ctx); err != nil {
		return false, fmt.Errorf("failed to ensure sink schema: %w", err)
	}
	return true, nil
}
