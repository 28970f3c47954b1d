package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/pkg/memory"
)

var (
	_ memory.Store  = (*Store)(nil)
	_ memory.Pinger = (*Store)(nil)
)

// Store implements [memory.Store] on top of a [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// GetRecord implements [memory.Store].
func (s *Store) GetRecord(ctx context.Context, id memory.Identity, limit int) (*memory.Record, error) {
	if !id.Valid() {
		return nil, memory.ErrInvalidIdentity
	}
	key := id.Key()
	rec := &memory.Record{Identity: id}

	const qRecord = `
		SELECT interaction_count, last_interaction
		FROM   npc_records
		WHERE  identity_key = $1`

	var last *time.Time
	err := s.pool.QueryRow(ctx, qRecord, key).Scan(&rec.InteractionCount, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get record: %w", err)
	}
	if last != nil {
		rec.LastInteraction = *last
	}

	// LIMIT NULL means no limit.
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	const qMessages = `
		SELECT role, text, spoken_at FROM (
		    SELECT id, role, text, spoken_at
		    FROM   npc_messages
		    WHERE  identity_key = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) recent
		ORDER BY id`

	rows, err := s.pool.Query(ctx, qMessages, key, lim)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get history: %w", err)
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Message, error) {
		var m memory.Message
		err := row.Scan(&m.Role, &m.Text, &m.At)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan history: %w", err)
	}
	rec.History = history
	return rec, nil
}

// AppendAndSave implements [memory.Store]. The record upsert and the message
// inserts share one transaction.
func (s *Store) AppendAndSave(ctx context.Context, id memory.Identity, msgs []memory.Message) error {
	if !id.Valid() {
		return memory.ErrInvalidIdentity
	}
	key := id.Key()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	const qUpsert = `
		INSERT INTO npc_records (identity_key, role_type, name, location, interaction_count, last_interaction)
		VALUES ($1, $2, $3, $4, 1, now())
		ON CONFLICT (identity_key) DO UPDATE
		SET interaction_count = npc_records.interaction_count + 1,
		    last_interaction  = now()`

	if _, err := tx.Exec(ctx, qUpsert, key, id.RoleType, id.Name, id.Location); err != nil {
		return fmt.Errorf("postgres store: upsert record: %w", err)
	}

	if len(msgs) > 0 {
		now := time.Now()
		rows := make([][]any, len(msgs))
		for i, m := range msgs {
			at := m.At
			if at.IsZero() {
				at = now
			}
			rows[i] = []any{key, m.Role, m.Text, at}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"npc_messages"},
			[]string{"identity_key", "role", "text", "spoken_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("postgres store: insert messages: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// Ping implements [memory.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
