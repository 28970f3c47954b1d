package conversation

// DefaultDismissalLines end a conversation that ran out of turns.
var DefaultDismissalLines = []string{
	"I have matters to attend to. Safe travels.",
	"That is all the time I can spare today.",
	"Forgive me, I must get back to work.",
}

// DefaultFallbackLines stand in for a reply the generator failed to produce.
var DefaultFallbackLines = []string{
	"Hmm? Sorry, my mind wandered. What were you saying?",
	"The NPC seems distracted and doesn't answer.",
	"Ah... give me a moment to gather my thoughts.",
}

// DefaultClosedLines answer a message sent to a conversation that is over.
var DefaultClosedLines = []string{
	"The conversation has ended.",
}

// pickLine returns one of lines, or def[0] when lines is empty.
func (m *Manager) pickLine(lines, def []string) string {
	if len(lines) == 0 {
		lines = def
	}
	if len(lines) == 1 {
		return lines[0]
	}
	return lines[m.intn(len(lines))]
}
