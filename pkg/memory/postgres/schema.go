// Package postgres provides a PostgreSQL-backed [memory.Store].
//
// Each NPC identity owns one row in npc_records (interaction counter and last
// interaction time) and any number of rows in npc_messages. Messages are only
// ever inserted, never updated, which keeps the store append-only.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRecords = `
CREATE TABLE IF NOT EXISTS npc_records (
    identity_key       TEXT         PRIMARY KEY,
    role_type          TEXT         NOT NULL DEFAULT '',
    name               TEXT         NOT NULL,
    location           TEXT         NOT NULL DEFAULT '',
    interaction_count  INTEGER      NOT NULL DEFAULT 0,
    last_interaction   TIMESTAMPTZ
);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS npc_messages (
    id            BIGSERIAL    PRIMARY KEY,
    identity_key  TEXT         NOT NULL REFERENCES npc_records (identity_key) ON DELETE CASCADE,
    role          TEXT         NOT NULL,
    text          TEXT         NOT NULL,
    spoken_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_npc_messages_identity
    ON npc_messages (identity_key, id);
`

// Migrate creates the tables used by [Store]. It is idempotent and safe to
// call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlRecords, ddlMessages} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
