// Package mock provides a recording test double for [memory.Store].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.Records = map[string]*memory.Record{id.Key(): {History: prior}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("AppendAndSave"); got != 1 {
//	    t.Errorf("expected 1 AppendAndSave call, got %d", got)
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [memory.Store]. Records seeds what
// GetRecord returns; AppendAndSave appends to it so a reopened conversation
// sees what the previous one saved.
type Store struct {
	mu    sync.Mutex
	calls []Call

	// Records maps [memory.Identity.Key] to the stored record.
	Records map[string]*memory.Record

	// GetRecordErr is returned by GetRecord when non-nil.
	GetRecordErr error

	// AppendErr is returned by AppendAndSave when non-nil. Nothing is stored.
	AppendErr error

	// Appended lists every message slice passed to AppendAndSave, in order.
	Appended [][]memory.Message
}

var _ memory.Store = (*Store)(nil)

// GetRecord implements [memory.Store].
func (s *Store) GetRecord(_ context.Context, id memory.Identity, limit int) (*memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "GetRecord", Args: []any{id, limit}})
	if s.GetRecordErr != nil {
		return nil, s.GetRecordErr
	}
	rec, ok := s.Records[id.Key()]
	if !ok {
		return &memory.Record{Identity: id}, nil
	}
	return &memory.Record{
		Identity:         id,
		History:          slices.Clone(memory.TailMessages(rec.History, limit)),
		InteractionCount: rec.InteractionCount,
		LastInteraction:  rec.LastInteraction,
	}, nil
}

// AppendAndSave implements [memory.Store].
func (s *Store) AppendAndSave(_ context.Context, id memory.Identity, msgs []memory.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := slices.Clone(msgs)
	s.calls = append(s.calls, Call{Method: "AppendAndSave", Args: []any{id, cp}})
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.Appended = append(s.Appended, cp)
	if s.Records == nil {
		s.Records = make(map[string]*memory.Record)
	}
	rec, ok := s.Records[id.Key()]
	if !ok {
		rec = &memory.Record{Identity: id}
		s.Records[id.Key()] = rec
	}
	rec.History = append(rec.History, cp...)
	rec.InteractionCount++
	return nil
}

// Calls returns a copy of all recorded calls.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and appended messages. Seeded records stay.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.Appended = nil
}
