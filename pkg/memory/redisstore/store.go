// Package redisstore provides a Redis-backed [memory.Store].
//
// For each identity the store keeps a list of JSON-encoded messages
// (<prefix>:<key>:history) and a hash holding the interaction counter and the
// last interaction time in Unix milliseconds (<prefix>:<key>:meta). Writes go
// through a MULTI/EXEC pipeline so the history and the counters never
// disagree.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/parley/pkg/memory"
)

const defaultPrefix = "parley:npc"

var (
	_ memory.Store  = (*Store)(nil)
	_ memory.Pinger = (*Store)(nil)
)

// Store implements [memory.Store] on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithPrefix sets the key prefix. Default: "parley:npc".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the clock used for interaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect parses a redis:// URL, connects and pings the server.
func Connect(ctx context.Context, url string, opts ...Option) (*Store, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping: %w", err)
	}
	return New(client, opts...), nil
}

func (s *Store) historyKey(id memory.Identity) string {
	return s.prefix + ":" + id.Key() + ":history"
}

func (s *Store) metaKey(id memory.Identity) string {
	return s.prefix + ":" + id.Key() + ":meta"
}

// GetRecord implements [memory.Store].
func (s *Store) GetRecord(ctx context.Context, id memory.Identity, limit int) (*memory.Record, error) {
	if !id.Valid() {
		return nil, memory.ErrInvalidIdentity
	}

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	var (
		metaCmd    *redis.MapStringStringCmd
		historyCmd *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		metaCmd = p.HGetAll(ctx, s.metaKey(id))
		historyCmd = p.LRange(ctx, s.historyKey(id), start, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis store: get record: %w", err)
	}

	rec := &memory.Record{Identity: id}
	meta := metaCmd.Val()
	if v, ok := meta["count"]; ok {
		if rec.InteractionCount, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("redis store: parse count %q: %w", v, err)
		}
	}
	if v, ok := meta["last"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis store: parse last %q: %w", v, err)
		}
		rec.LastInteraction = time.UnixMilli(ms)
	}

	raw := historyCmd.Val()
	rec.History = make([]memory.Message, 0, len(raw))
	for _, item := range raw {
		var m memory.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			// One corrupt entry should not cost the NPC its whole memory.
			s.logger.Warn("redis store: skipping undecodable message", "identity", id.Key(), "err", err)
			continue
		}
		rec.History = append(rec.History, m)
	}
	return rec, nil
}

// AppendAndSave implements [memory.Store].
func (s *Store) AppendAndSave(ctx context.Context, id memory.Identity, msgs []memory.Message) error {
	if !id.Valid() {
		return memory.ErrInvalidIdentity
	}

	now := s.now()
	encoded := make([]any, 0, len(msgs))
	for _, m := range msgs {
		if m.At.IsZero() {
			m.At = now
		}
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis store: encode message: %w", err)
		}
		encoded = append(encoded, string(b))
	}

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(encoded) > 0 {
			p.RPush(ctx, s.historyKey(id), encoded...)
		}
		p.HIncrBy(ctx, s.metaKey(id), "count", 1)
		p.HSet(ctx, s.metaKey(id), "last", now.UnixMilli())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: append: %w", err)
	}
	s.logger.Debug("redis store: saved", "identity", id.Key(), "messages", len(msgs))
	return nil
}

// Ping implements [memory.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis store: ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
