// Package pebble writes changes into an embedded Pebble database keyed by
// the change uniqueness key. It suits local development and single-node
// deployments without a SQL sink.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/pebble"

	"github.com/syntrixbase/cdc-stitcher/internal/change"
	"github.com/syntrixbase/cdc-stitcher/internal/config"
	"github.com/syntrixbase/cdc-stitcher/internal/sink"
)

var keyPrefix = []byte("change/")

// Store implements sink.Sink on Pebble.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
}

var _ sink.Sink = (*Store)(nil)

// Open opens or creates the database at cfg.Path.
func Open(cfg config.PebbleConfig, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	cache := pebble.NewCache(cfg.BlockCacheSize)
	defer cache.Unref()

	db, err := pebble.Open(cfg.Path, &pebble.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Path, err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "pebble-sink", "path", cfg.Path),
	}, nil
}

// Insert writes changes whose key is not stored yet and commits synchronously.
func (s *Store) Insert(ctx context.Context, changes []change.Change) error {
	if len(changes) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	seen := make(map[string]struct{}, len(changes))
	skipped := 0
	for _, c := range changes {
		key := changeKey(c)
		if _, ok := seen[string(key)]; ok {
			skipped++
			continue
		}
		seen[string(key)] = struct{}{}

		exists, err := s.has(key)
		if err != nil {
			return fmt.Errorf("%w: %w", sink.ErrWriteFailed, err)
		}
		if exists {
			skipped++
			continue
		}

		value, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal %s: %w", sink.ErrWriteFailed, c.Key(), err)
		}
		if err := batch.Set(key, value, nil); err != nil {
			return fmt.Errorf("%w: %w", sink.ErrWriteFailed, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", sink.ErrWriteFailed, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: failed to commit batch: %w", sink.ErrWriteFailed, err)
	}

	if skipped > 0 {
		s.logger.Debug("Skipped existing changes", "batch", len(changes), "skipped", skipped)
	}
	return nil
}

// List returns every stored change in key order.
func (s *Store) List(ctx context.Context) ([]change.Change, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: prefixEnd(keyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var out []change.Change
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var c change.Change
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", iter.Key(), err)
		}
		out = append(out, c)
	}
	return out, iter.Error()
}

// Close closes the database.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *Store) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

func changeKey(c change.Change) []byte {
	return append(append([]byte{}, keyPrefix...), c.Key()...)
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	end[len(end)-1]++
	return end
}
