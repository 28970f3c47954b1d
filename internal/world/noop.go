package world

import (
	"context"

	"github.com/MrWong99/parley/internal/npc"
)

// NoopMarket rejects every market operation with [ErrUnavailable].
type NoopMarket struct{}

func (NoopMarket) OpenMarket(context.Context, npc.Descriptor) error  { return ErrUnavailable }
func (NoopMarket) CloseMarket(context.Context, npc.Descriptor) error { return ErrUnavailable }
func (NoopMarket) OfferDiscount(context.Context, npc.Descriptor, int) error {
	return ErrUnavailable
}

// NoopInventory rejects every grant with [ErrUnavailable].
type NoopInventory struct{}

func (NoopInventory) GiveItem(context.Context, string, int) error { return ErrUnavailable }

// NoopQuests reports no active quests and rejects mutations.
type NoopQuests struct{}

func (NoopQuests) ActiveQuests(context.Context) ([]Quest, error) { return nil, nil }
func (NoopQuests) StartQuest(context.Context, string, npc.Descriptor) (Quest, error) {
	return Quest{}, ErrUnavailable
}
func (NoopQuests) CompleteQuest(context.Context, string, npc.Descriptor) (Quest, error) {
	return Quest{}, ErrUnavailable
}

// NoopRelationships rejects affinity changes.
type NoopRelationships struct{}

func (NoopRelationships) AdjustAffinity(context.Context, npc.Descriptor, int) (int, error) {
	return 0, ErrUnavailable
}

// NoopEnvironment reports an empty snapshot.
type NoopEnvironment struct{}

func (NoopEnvironment) Snapshot(context.Context, npc.Descriptor) (Snapshot, error) {
	return Snapshot{}, nil
}

var (
	_ Market        = NoopMarket{}
	_ Inventory     = NoopInventory{}
	_ Quests        = NoopQuests{}
	_ Relationships = NoopRelationships{}
	_ Environment   = NoopEnvironment{}
)
