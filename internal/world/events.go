package world

// QuestEventKind names a quest lifecycle transition.
type QuestEventKind string

const (
	QuestStarted       QuestEventKind = "quest_started"
	QuestReadyToTurnIn QuestEventKind = "quest_ready_to_turn_in"
	QuestFinished      QuestEventKind = "quest_completed"
)

// IsValid reports whether k is a known event kind.
func (k QuestEventKind) IsValid() bool {
	switch k {
	case QuestStarted, QuestReadyToTurnIn, QuestFinished:
		return true
	}
	return false
}

// QuestEvent is emitted by a quest system when a quest changes state.
type QuestEvent struct {
	Kind  QuestEventKind `json:"kind"`
	Quest Quest          `json:"quest"`
}
