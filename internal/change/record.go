// Package change defines the records flowing through the stitcher and the
// rows it persists.
package change

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Record is one decoded broker message.
type Record struct {
	// ShardKey is the broker subject the message was delivered on.
	ShardKey string
	// Sequence is the broker stream sequence. Zero is never assigned.
	Sequence uint64

	Kind          Kind
	Position      int64
	TransactionID int64

	Database string
	Schema   string
	Table    string

	Before  map[string]any
	After   map[string]any
	Context map[string]any

	// Heartbeat marks a liveness annotation with no context and no row data.
	Heartbeat bool

	CommittedAt time.Time
	ObservedAt  time.Time
	CreatedAt   time.Time

	// PrimaryKey is empty when the affected row cannot be identified.
	PrimaryKey string
}

// IsContextAnnotation reports whether the record delivers context for a mutation.
func (r Record) IsContextAnnotation() bool {
	return r.Kind == KindAnnotation && !r.Heartbeat
}

// WithContext returns a copy of the record carrying ctx.
func (r Record) WithContext(ctx map[string]any) Record {
	out := r
	out.Context = maps.Clone(ctx)
	if out.Context == nil {
		out.Context = map[string]any{}
	}
	return out
}

// Change is the flattened row written to a sink once a record is resolved.
type Change struct {
	ID            string         `json:"id" bson:"_id"`
	PrimaryKey    string         `json:"primary_key,omitempty" bson:"primary_key,omitempty"`
	Before        map[string]any `json:"before" bson:"before"`
	After         map[string]any `json:"after" bson:"after"`
	Context       map[string]any `json:"context" bson:"context"`
	Database      string         `json:"database" bson:"database"`
	Schema        string         `json:"schema" bson:"schema"`
	Table         string         `json:"table" bson:"table"`
	Operation     string         `json:"operation" bson:"operation"`
	CommittedAt   time.Time      `json:"committed_at" bson:"committed_at"`
	QueuedAt      time.Time      `json:"queued_at" bson:"queued_at"`
	CreatedAt     time.Time      `json:"created_at" bson:"created_at"`
	TransactionID int64          `json:"transaction_id" bson:"transaction_id"`
	Position      int64          `json:"position" bson:"position"`
}

// NewChange flattens a resolved record into a row with a fresh id.
func NewChange(rec Record) Change {
	return Change{
		ID:            uuid.NewString(),
		PrimaryKey:    rec.PrimaryKey,
		Before:        nonNil(rec.Before),
		After:         nonNil(rec.After),
		Context:       nonNil(rec.Context),
		Database:      rec.Database,
		Schema:        rec.Schema,
		Table:         rec.Table,
		Operation:     rec.Kind.String(),
		CommittedAt:   rec.CommittedAt,
		QueuedAt:      rec.ObservedAt,
		CreatedAt:     rec.CreatedAt,
		TransactionID: rec.TransactionID,
		Position:      rec.Position,
	}
}

// Key renders the uniqueness key (position, table, schema, database, operation).
func (c Change) Key() string {
	return fmt.Sprintf("%020d/%s/%s/%s/%s", c.Position, c.Table, c.Schema, c.Database, c.Operation)
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
