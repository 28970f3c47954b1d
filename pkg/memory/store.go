// Package memory defines the persistent NPC memory used across conversations.
//
// The game may spawn "the same" NPC afresh on every visit, each time with a
// new transient instance id. Memory is therefore keyed by a derived
// [Identity] (role, normalised name, normalised location) rather than by
// instance id, so repeated instantiations reconcile to one [Record].
//
// Stores are append-only: a conversation only ever adds the messages it
// produced, it never rewrites what was loaded. Backends live in sub-packages
// (memstore, postgres, redis) and every implementation must be safe for
// concurrent use.
package memory

import (
	"context"
	"errors"
)

// ErrInvalidIdentity is returned when an operation receives an identity whose
// name is empty after normalisation.
var ErrInvalidIdentity = errors.New("memory: identity has no name")

// Store persists conversation history and interaction counters per NPC
// identity.
type Store interface {
	// GetRecord returns the record stored for id. History is limited to the
	// most recent limit messages, oldest first; limit <= 0 returns the full
	// history. An identity that was never saved yields an empty record and a
	// nil error.
	GetRecord(ctx context.Context, id Identity, limit int) (*Record, error)

	// AppendAndSave appends msgs to the stored history of id, increments the
	// interaction counter by one and sets the last-interaction timestamp. It
	// never modifies or removes previously stored messages. Calling it with
	// an empty msgs slice still records the interaction.
	AppendAndSave(ctx context.Context, id Identity, msgs []Message) error
}

// Pinger is implemented by backends that can report connectivity for
// readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TailMessages returns the last limit entries of msgs. A limit <= 0 returns
// msgs unchanged. Backends share it so limit semantics stay identical.
func TailMessages(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
