// Package world defines the game systems that directive handlers and the
// conversation manager talk to. Each system is a small capability interface.
// A game that lacks a system passes nothing for it and [World.WithDefaults]
// substitutes the matching no-op stub, so call sites never need to ask
// whether a system is loaded.
package world

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/internal/npc"
)

// ErrUnavailable is returned by no-op stubs for operations that would change
// game state.
var ErrUnavailable = errors.New("world: system not available")

// Market opens and closes an NPC's shop.
type Market interface {
	OpenMarket(ctx context.Context, merchant npc.Descriptor) error
	CloseMarket(ctx context.Context, merchant npc.Descriptor) error
	OfferDiscount(ctx context.Context, merchant npc.Descriptor, percent int) error
}

// Inventory hands items to the player.
type Inventory interface {
	GiveItem(ctx context.Context, itemID string, quantity int) error
}

// QuestState is the lifecycle state of a quest.
type QuestState string

const (
	QuestActive      QuestState = "active"
	QuestReadyToTurn QuestState = "ready_to_turn_in"
	QuestCompleted   QuestState = "completed"
)

// Quest is the part of a quest the conversation core cares about: who hands
// it out and who it is turned in to. NPCs are named by id and display name;
// either may be empty.
type Quest struct {
	ID         string     `yaml:"id" json:"id"`
	Title      string     `yaml:"title" json:"title"`
	GiverID    string     `yaml:"giver_id" json:"giver_id,omitempty"`
	GiverName  string     `yaml:"giver_name" json:"giver_name,omitempty"`
	TurnInID   string     `yaml:"turn_in_id" json:"turn_in_id,omitempty"`
	TurnInName string     `yaml:"turn_in_name" json:"turn_in_name,omitempty"`
	State      QuestState `yaml:"state" json:"state"`
}

// Quests is the quest system. The core only queries it; mutations happen
// through directive handlers.
type Quests interface {
	ActiveQuests(ctx context.Context) ([]Quest, error)
	StartQuest(ctx context.Context, questID string, giver npc.Descriptor) (Quest, error)
	CompleteQuest(ctx context.Context, questID string, by npc.Descriptor) (Quest, error)
}

// Relationships tracks how an NPC feels about the player.
type Relationships interface {
	// AdjustAffinity adds delta and returns the new affinity.
	AdjustAffinity(ctx context.Context, with npc.Descriptor, delta int) (int, error)
}

// Snapshot is the ambient game context included in prompts.
type Snapshot struct {
	TimeOfDay string   `json:"time_of_day,omitempty"`
	Weather   string   `json:"weather,omitempty"`
	Notes     []string `json:"notes,omitempty"`
}

// Environment reports the current ambient game context.
type Environment interface {
	Snapshot(ctx context.Context, at npc.Descriptor) (Snapshot, error)
}

// World bundles every capability. It is passed explicitly to handlers
// through the command context.
type World struct {
	Market        Market
	Inventory     Inventory
	Quests        Quests
	Relationships Relationships
	Environment   Environment
}

// WithDefaults returns a copy of w with every nil capability replaced by its
// no-op stub.
func (w World) WithDefaults() World {
	if w.Market == nil {
		w.Market = NoopMarket{}
	}
	if w.Inventory == nil {
		w.Inventory = NoopInventory{}
	}
	if w.Quests == nil {
		w.Quests = NoopQuests{}
	}
	if w.Relationships == nil {
		w.Relationships = NoopRelationships{}
	}
	if w.Environment == nil {
		w.Environment = NoopEnvironment{}
	}
	return w
}
