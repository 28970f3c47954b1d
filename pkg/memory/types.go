package memory

import "time"

// Speaker roles recorded in a conversation history.
const (
	RolePlayer = "player"
	RoleNPC    = "npc"
)

// Message is one line of conversation history.
type Message struct {
	// Role is [RolePlayer] or [RoleNPC].
	Role string `json:"role"`

	// Text is the line as shown to the player, with directives removed.
	Text string `json:"text"`

	// At is when the line was spoken. Zero when unknown.
	At time.Time `json:"at,omitzero"`
}

// Record is everything a store remembers about one NPC identity.
type Record struct {
	Identity Identity

	// History holds stored messages, oldest first.
	History []Message

	// InteractionCount is the number of finished conversations.
	InteractionCount int

	// LastInteraction is when the most recent conversation ended. Zero if the
	// player has never spoken to this NPC.
	LastInteraction time.Time
}

// IsReturning reports whether the player has talked to this NPC before.
func (r *Record) IsReturning() bool {
	return r != nil && r.InteractionCount > 0
}
