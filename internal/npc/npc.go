// Package npc describes the non-player characters a conversation is held with.
package npc

import "github.com/MrWong99/parley/pkg/memory"

// Descriptor is what the game tells the core about an NPC when dialogue
// opens. ID may be a transient instance id that changes between visits;
// persistent memory is keyed by [Descriptor.Identity] instead.
type Descriptor struct {
	// ID identifies this NPC instance (or the catalogue entry).
	ID string `yaml:"id" json:"id"`

	// Name is the in-world display name, e.g. "Old Marta".
	Name string `yaml:"name" json:"name"`

	// RoleType is the NPC's role, e.g. "merchant" or "elder". It selects the
	// permission groups and feeds the persistent identity.
	RoleType string `yaml:"role" json:"role"`

	// Location is where the NPC stands, e.g. "riverside_market".
	Location string `yaml:"location" json:"location"`

	// Personality is injected into the system prompt.
	Personality string `yaml:"personality" json:"personality,omitempty"`

	// Background is free text scanned for quest keywords.
	Background string `yaml:"background" json:"background,omitempty"`

	// QuestIDs lists quests this NPC carries. Any entry makes the NPC
	// quest-relevant.
	QuestIDs []string `yaml:"quest_ids" json:"quest_ids,omitempty"`

	// VoiceID selects the speech synthesis voice. Empty means the configured
	// default voice.
	VoiceID string `yaml:"voice_id" json:"voice_id,omitempty"`
}

// Identity returns the persistent memory key for d.
func (d Descriptor) Identity() memory.Identity {
	return memory.NewIdentity(d.RoleType, d.Name, d.Location)
}

// HasQuestData reports whether the NPC carries any quest.
func (d Descriptor) HasQuestData() bool {
	return len(d.QuestIDs) > 0
}

// DisplayName returns Name, or ID when no name is set.
func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}
