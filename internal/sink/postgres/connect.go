package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/syntrixbase/cdc-stitcher/internal/config"
)

// Open connects to the database described by cfg and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres at %s:%d: %w", cfg.Host, cfg.Port, describe(err))
	}
	return db, nil
}

// DSN renders cfg as a libpq keyword/value connection string.
func DSN(cfg config.PostgresConfig) string {
	parts := []string{
		"host=" + quoteValue(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"dbname=" + quoteValue(cfg.Name),
		"user=" + quoteValue(cfg.User),
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+quoteValue(cfg.Password))
	}
	if cfg.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteValue(cfg.SSLMode))
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// DropReplicationSlot removes the logical replication slot if it exists and
// reports whether one was dropped.
func DropReplicationSlot(ctx context.Context, db *sql.DB, slot string) (bool, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT pg_drop_replication_slot(slot_name) FROM pg_replication_slots WHERE slot_name = $1`, slot)
	if err != nil {
		return false, fmt.Errorf("failed to drop replication slot %s: %w", slot, describe(err))
	}
	defer rows.Close()

	dropped := false
	for rows.Next() {
		dropped = true
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to drop replication slot %s: %w", slot, describe(err))
	}
	return dropped, nil
}
