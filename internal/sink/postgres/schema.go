package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

func schemaSQL(table string) string {
	t := pq.QuoteIdentifier(table)
	name := func(suffix string) string {
		return pq.QuoteIdentifier(table + "_" + suffix)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `
CREATE TABLE IF NOT EXISTS %s (
    id              UUID PRIMARY KEY,
    primary_key     VARCHAR(255),
    before          JSONB NOT NULL DEFAULT '{}',
    after           JSONB NOT NULL DEFAULT '{}',
    context         JSONB NOT NULL DEFAULT '{}',
    database        VARCHAR(255) NOT NULL,
    schema          VARCHAR(255) NOT NULL,
    "table"         VARCHAR(255) NOT NULL,
    operation       TEXT NOT NULL,
    committed_at    TIMESTAMPTZ(6) NOT NULL,
    queued_at       TIMESTAMPTZ(6) NOT NULL,
    created_at      TIMESTAMPTZ(6) NOT NULL DEFAULT NOW(),
    transaction_id  BIGINT NOT NULL,
    position        BIGINT NOT NULL,

    CONSTRAINT %s CHECK (
        operation IN ('CREATE', 'UPDATE', 'DELETE', 'TRUNCATE', 'MESSAGE')
    ),
    CONSTRAINT %s UNIQUE (position, "table", schema, database, operation)
);
`, t, name("operation_check"), name("position_unique"))

	indexes := []struct{ suffix, def string }{
		{"committed_at_idx", "(committed_at)"},
		{"primary_key_idx", "(primary_key)"},
		{"table_idx", `("table")`},
		{"operation_idx", "(operation)"},
		{"before_idx", "USING GIN (before jsonb_path_ops)"},
		{"after_idx", "USING GIN (after jsonb_path_ops)"},
		{"context_idx", "USING GIN (context jsonb_path_ops)"},
	}
	for _, idx := range indexes {
		fmt.Fprintf(&sb, "CREATE INDEX IF NOT EXISTS %s ON %s %s;\n", name(idx.suffix), t, idx.def)
	}
	return sb.String()
}
