// Package sink defines where resolved changes are written.
package sink

import (
	"context"
	"errors"

	"github.com/syntrixbase/cdc-stitcher/internal/change"
)

// ErrWriteFailed wraps any failure to persist a batch.
var ErrWriteFailed = errors.New("sink write failed")

// Sink persists changes. Insert must be idempotent on the change uniqueness
// key and commit the batch before returning.
type Sink interface {
	Insert(ctx context.Context, changes []change.Change) error
	Close(ctx context.Context) error
}

// SchemaEnsurer is implemented by sinks that can create their own schema.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Chunk splits changes into batches of at most size elements.
func Chunk(changes []change.Change, size int) [][]change.Change {
	if size <= 0 {
		size = len(changes)
	}
	var out [][]change.Change
	for start := 0; start < len(changes); start += size {
		end := min(start+size, len(changes))
		out = append(out, changes[start:end])
	}
	return out
}
