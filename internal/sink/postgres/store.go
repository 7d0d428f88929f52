// Package postgres writes changes into a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
	"github.com/syntrixbase/cdc-stitcher/internal/change"
	"github.com/syntrixbase/cdc-stitcher/internal/sink"
)

// DefaultTable is the table changes are written to.
const DefaultTable = "changes"

const columnCount = 14

// maxBindParams is the PostgreSQL limit of parameters in one statement.
const maxBindParams = 65535

// maxRowsPerStatement is the largest batch one INSERT can carry.
const maxRowsPerStatement = maxBindParams / columnCount

const insertColumns = `id, primary_key, before, after, context, database, schema, "table", operation, committed_at, queued_at, created_at, transaction_id, position`

// Store implements sink.Sink on a PostgreSQL table.
type Store struct {
	db     *sql.DB
	table  string
	logger *slog.Logger

	maxRows int
}

var (
	_ sink.Sink          = (*Store)(nil)
	_ sink.SchemaEnsurer = (*Store)(nil)
)

// NewStore creates a store writing into table.
func NewStore(db *sql.DB, table string, logger *slog.Logger) *Store {
	if table == "" {
		table = DefaultTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		table:   table,
		logger:  logger.With("component", "postgres-sink", "table", table),
		maxRows: maxRowsPerStatement,
	}
}

// EnsureSchema creates the changes table and its indexes if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL(s.table)); err != nil {
		return fmt.Errorf("failed to ensure schema for %s: %w", s.table, describe(err))
	}
	return nil
}

// Insert writes changes, skipping rows that already exist. A batch larger
// than one statement can carry is split into several statements inside a
// single transaction.
func (s *Store) Insert(ctx context.Context, changes []change.Change) error {
	if len(changes) == 0 {
		return nil
	}

	if len(changes) <= s.maxRows {
		inserted, err := s.insertRows(ctx, s.db, changes)
		if err != nil {
			return err
		}
		s.logSkipped(len(changes), inserted)
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", sink.ErrWriteFailed, describe(err))
	}
	defer tx.Rollback()

	var inserted int64
	for start := 0; start < len(changes); start += s.maxRows {
		end := min(start+s.maxRows, len(changes))
		n, err := s.insertRows(ctx, tx, changes[start:end])
		if err != nil {
			return err
		}
		if n < 0 || inserted < 0 {
			inserted = -1
		} else {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %w", sink.ErrWriteFailed, describe(err))
	}
	s.logSkipped(len(changes), inserted)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertRows runs one INSERT and returns the number of rows written, or -1
// when the driver does not report it.
func (s *Store) insertRows(ctx context.Context, db execer, changes []change.Change) (int64, error) {
	query, args, err := s.buildInsert(changes)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", sink.ErrWriteFailed, err)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", sink.ErrWriteFailed, describe(err))
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return inserted, nil
}

func (s *Store) logSkipped(batch int, inserted int64) {
	if inserted >= 0 && int(inserted) < batch {
		s.logger.Debug("Skipped existing changes", "batch", batch, "inserted", inserted)
	}
}

// Close closes the underlying connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *Store) buildInsert(changes []change.Change) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(pq.QuoteIdentifier(s.table))
	sb.WriteString(" (")
	sb.WriteString(insertColumns)
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(changes)*columnCount)
	for i, c := range changes {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 0; j < columnCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*columnCount+j+1)
		}
		sb.WriteByte(')')

		row, err := rowArgs(c)
		if err != nil {
			return "", nil, err
		}
		args = append(args, row...)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")
	return sb.String(), args, nil
}

func rowArgs(c change.Change) ([]any, error) {
	before, err := json.Marshal(c.Before)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal before of %s: %w", c.Key(), err)
	}
	after, err := json.Marshal(c.After)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal after of %s: %w", c.Key(), err)
	}
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context of %s: %w", c.Key(), err)
	}

	var primaryKey any
	if c.PrimaryKey != "" {
		primaryKey = c.PrimaryKey
	}

	return []any{
		c.ID,
		primaryKey,
		before,
		after,
		ctxJSON,
		c.Database,
		c.Schema,
		c.Table,
		c.Operation,
		c.CommittedAt,
		c.QueuedAt,
		c.CreatedAt,
		c.TransactionID,
		c.Position,
	}, nil
}

// describe adds the SQLSTATE to driver errors.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (SQLSTATE %s): %w", pqErr.Message, pqErr.Code, err)
	}
	return err
}
