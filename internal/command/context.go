package command

import (
	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/internal/world"
	"github.com/MrWong99/parley/pkg/memory"
)

// Context is what a handler knows about the exchange that produced the
// directive. One Context is shared by every directive of a single reply, and
// handlers for one reply run sequentially.
type Context struct {
	SessionID string
	NPC       npc.Descriptor

	// History is the conversation so far, including the reply being
	// dispatched. Handlers must not modify it.
	History []memory.Message

	// World gives access to the game systems.
	World world.World

	endRequested bool
}

// RequestEnd asks the conversation manager to close the session once the
// reply has been delivered.
func (c *Context) RequestEnd() { c.endRequested = true }

// EndRequested reports whether a handler called RequestEnd.
func (c *Context) EndRequested() bool { return c.endRequested }
