package conversation

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/pkg/memory"
)

// Unlimited is the MaxTurns value of a session without a turn cap.
const Unlimited = 0

// Session is one open conversation with one NPC identity. Its mutable state
// is guarded by mu; callers read it through [Session.Info] and
// [Session.History].
type Session struct {
	ID        string
	Identity  memory.Identity
	NPC       npc.Descriptor
	StartedAt time.Time

	// Interactions and LastInteraction come from the memory record loaded
	// when the session opened.
	Interactions    int
	LastInteraction time.Time

	mu            sync.Mutex
	history       []memory.Message
	loaded        int
	turnCount     int
	maxTurns      int
	active        bool
	questExtended bool
	relevance     string
	busy          bool
}

// Info is a point-in-time copy of a session's state.
type Info struct {
	ID            string    `json:"id"`
	NPCID         string    `json:"npc_id"`
	NPCName       string    `json:"npc_name"`
	Role          string    `json:"role"`
	Location      string    `json:"location"`
	Identity      string    `json:"identity"`
	TurnCount     int       `json:"turn_count"`
	MaxTurns      int       `json:"max_turns"`
	Active        bool      `json:"active"`
	QuestExtended bool      `json:"quest_extended"`
	Relevance     string    `json:"relevance,omitempty"`
	Loaded        int       `json:"loaded"`
	HistoryLen    int       `json:"history_len"`
	Returning     bool      `json:"returning"`
	StartedAt     time.Time `json:"started_at"`
}

// Info returns a snapshot of s.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:            s.ID,
		NPCID:         s.NPC.ID,
		NPCName:       s.NPC.DisplayName(),
		Role:          s.NPC.RoleType,
		Location:      s.NPC.Location,
		Identity:      s.Identity.Key(),
		TurnCount:     s.turnCount,
		MaxTurns:      s.maxTurns,
		Active:        s.active,
		QuestExtended: s.questExtended,
		Relevance:     s.relevance,
		Loaded:        s.loaded,
		HistoryLen:    len(s.history),
		Returning:     s.Interactions > 0,
		StartedAt:     s.StartedAt,
	}
}

// History returns a copy of the conversation so far, loaded messages first.
func (s *Session) History() []memory.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// cappedLocked reports whether the turn budget is spent.
func (s *Session) cappedLocked() bool {
	return !s.questExtended && s.maxTurns != Unlimited && s.turnCount >= s.maxTurns
}

// extend lifts the turn cap. It reports whether anything changed.
func (s *Session) extend(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.questExtended {
		return false
	}
	s.questExtended = true
	s.maxTurns = Unlimited
	s.relevance = reason
	return true
}
