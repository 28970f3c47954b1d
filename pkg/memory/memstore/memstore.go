// Package memstore provides a process-local [memory.Store]. It is the default
// backend when no database is configured and the reference implementation
// used by tests throughout the module.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store keeps records in a map guarded by a mutex. The zero value is not
// usable; call [New].
type Store struct {
	mu      sync.RWMutex
	records map[string]*memory.Record
	now     func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides the clock used for interaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*memory.Record),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetRecord implements [memory.Store].
func (s *Store) GetRecord(_ context.Context, id memory.Identity, limit int) (*memory.Record, error) {
	if !id.Valid() {
		return nil, memory.ErrInvalidIdentity
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id.Key()]
	if !ok {
		return &memory.Record{Identity: id}, nil
	}
	return &memory.Record{
		Identity:         rec.Identity,
		History:          slices.Clone(memory.TailMessages(rec.History, limit)),
		InteractionCount: rec.InteractionCount,
		LastInteraction:  rec.LastInteraction,
	}, nil
}

// AppendAndSave implements [memory.Store].
func (s *Store) AppendAndSave(_ context.Context, id memory.Identity, msgs []memory.Message) error {
	if !id.Valid() {
		return memory.ErrInvalidIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id.Key()]
	if !ok {
		rec = &memory.Record{Identity: id}
		s.records[id.Key()] = rec
	}
	rec.History = append(rec.History, msgs...)
	rec.InteractionCount++
	rec.LastInteraction = s.now()
	return nil
}

// Ping implements [memory.Pinger]; an in-process store is always reachable.
func (s *Store) Ping(context.Context) error { return nil }

// Len returns the number of identities with a stored record.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
