package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/cdc-stitcher/internal/change"
	"github.com/syntrixbase/cdc-stitcher/internal/config"
	"github.com/syntrixbase/cdc-stitcher/internal/sink"
)

func setupMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Store) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewStore(db, "", nil)
	return db, mock, store
}

func testChange(pos int64, pk string) change.Change {
	ts := time.Date(2023, 11, 28, 17, 6, 20, 939_000_000, time.UTC)
	return change.Change{
		ID:            "0b7a3c4e-2b1f-4d6a-9c3e-5f8a1b2c3d4e",
		PrimaryKey:    pk,
		Before:        map[string]any{},
		After:         map[string]any{"id": "2"},
		Context:       map[string]any{"op": "c"},
		Database:      "bemi_dev_source",
		Schema:        "public",
		Table:         "todo",
		Operation:     "CREATE",
		CommittedAt:   ts,
		QueuedAt:      ts,
		CreatedAt:     ts,
		TransactionID: 768,
		Position:      pos,
	}
}

func rowValues(c change.Change) []driver.Value {
	var pk driver.Value
	if c.PrimaryKey != "" {
		pk = c.PrimaryKey
	}
	return []driver.Value{
		c.ID, pk,
		[]byte(`{}`), []byte(`{"id":"2"}`), []byte(`{"op":"c"}`),
		c.Database, c.Schema, c.Table, c.Operation,
		c.CommittedAt, c.QueuedAt, c.CreatedAt,
		c.TransactionID, c.Position,
	}
}

func TestEnsureSchema(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "changes"`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_Error(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE`).WillReturnError(&pq.Error{Code: "42501", Message: "permission denied for schema public"})

	err := store.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SQLSTATE 42501")
}

func TestSchemaSQL(t *testing.T) {
	ddl := schemaSQL("audit changes")

	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "audit changes"`)
	assert.Contains(t, ddl, `UNIQUE (position, "table", schema, database, operation)`)
	assert.Contains(t, ddl, `CREATE INDEX IF NOT EXISTS "audit changes_context_idx" ON "audit changes" USING GIN (context jsonb_path_ops);`)
}

func TestInsert(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()

	first := testChange(35878528, "2")
	second := testChange(35878832, "")

	args := append(rowValues(first), rowValues(second)...)
	mock.ExpectExec(`INSERT INTO "changes" \(id, primary_key, before, after, context, database, schema, "table", operation, committed_at, queued_at, created_at, transaction_id, position\) VALUES \(\$1, .*\$14\), \(\$15, .*\$28\) ON CONFLICT DO NOTHING`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.Insert(context.Background(), []change.Change{first, second}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_RedeliveredBatchIsIgnored(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()

	c := testChange(35878528, "2")
	mock.ExpectExec(`INSERT INTO "changes"`).WithArgs(rowValues(c)...).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "changes"`).WithArgs(rowValues(c)...).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Insert(context.Background(), []change.Change{c}))
	require.NoError(t, store.Insert(context.Background(), []change.Change{c}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_Empty(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()

	require.NoError(t, store.Insert(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_Error(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO "changes"`).WillReturnError(errors.New("connection reset by peer"))

	err := store.Insert(context.Background(), []change.Change{testChange(1, "1")})
	assert.ErrorIs(t, err, sink.ErrWriteFailed)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestInsert_UnmarshalableValue(t *testing.T) {
	db, _, store := setupMock(t)
	defer db.Close()

	c := testChange(1, "1")
	c.After = map[string]any{"bad": make(chan int)}

	err := store.Insert(context.Background(), []change.Change{c})
	assert.ErrorIs(t, err, sink.ErrWriteFailed)
}

func TestInsert_SplitsOversizedBatch(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()
	store.maxRows = 2

	changes := []change.Change{testChange(1, "1"), testChange(2, "2"), testChange(3, "3")}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "changes" .* VALUES \(\$1, .*\$14\), \(\$15, .*\$28\) ON CONFLICT DO NOTHING`).
		WithArgs(append(rowValues(changes[0]), rowValues(changes[1])...)...).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO "changes" .* VALUES \(\$1, .*\$14\) ON CONFLICT DO NOTHING`).
		WithArgs(rowValues(changes[2])...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Insert(context.Background(), changes))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_SplitBatchRollsBackOnError(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()
	store.maxRows = 1

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "changes"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "changes"`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Insert(context.Background(), []change.Change{testChange(1, "1"), testChange(2, "2")})
	assert.ErrorIs(t, err, sink.ErrWriteFailed)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_SplitBatchCommitError(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()
	store.maxRows = 1

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "changes"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "changes"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := store.Insert(context.Background(), []change.Change{testChange(1, "1"), testChange(2, "2")})
	assert.ErrorIs(t, err, sink.ErrWriteFailed)
	assert.Contains(t, err.Error(), "failed to commit")
}

func TestBuildInsert_StaysWithinBindLimit(t *testing.T) {
	assert.Equal(t, 4681, maxRowsPerStatement)
	assert.LessOrEqual(t, maxRowsPerStatement*columnCount, maxBindParams)
	assert.Greater(t, (maxRowsPerStatement+1)*columnCount, maxBindParams)

	store := NewStore(nil, "", nil)
	assert.Equal(t, maxRowsPerStatement, store.maxRows)

	changes := make([]change.Change, maxRowsPerStatement)
	for i := range changes {
		changes[i] = testChange(int64(i), "1")
	}
	_, args, err := store.buildInsert(changes)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(args), maxBindParams)
}

func TestClose(t *testing.T) {
	_, mock, store := setupMock(t)
	mock.ExpectClose()

	assert.NoError(t, store.Close(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropReplicationSlot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_drop_replication_slot\(slot_name\) FROM pg_replication_slots WHERE slot_name = \$1`).
		WithArgs("bemi_slot").
		WillReturnRows(sqlmock.NewRows([]string{"pg_drop_replication_slot"}).AddRow(nil))
	mock.ExpectQuery(`SELECT pg_drop_replication_slot`).
		WithArgs("bemi_slot").
		WillReturnRows(sqlmock.NewRows([]string{"pg_drop_replication_slot"}))

	dropped, err := DropReplicationSlot(context.Background(), db, "bemi_slot")
	require.NoError(t, err)
	assert.True(t, dropped)

	dropped, err = DropReplicationSlot(context.Background(), db, "bemi_slot")
	require.NoError(t, err)
	assert.False(t, dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		Name:     "bemi_dev",
		User:     "postgres",
		Password: "it's secret",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		`host=localhost port=5432 dbname=bemi_dev user=postgres password='it\'s secret' sslmode=disable`,
		DSN(cfg))

	cfg.Password = ""
	cfg.SSLMode = ""
	assert.Equal(t, `host=localhost port=5432 dbname=bemi_dev user=postgres`, DSN(cfg))
}
