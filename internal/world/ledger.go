package world

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/npc"
)

// Action is one state change applied to a [Ledger].
type Action struct {
	Kind   string    `json:"kind"`
	NPC    string    `json:"npc,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Ledger is an in-process implementation of every capability. The standalone
// server uses it as the game-side state that directives act on; clients read
// it back through the HTTP API. It is safe for concurrent use.
type Ledger struct {
	mu          sync.Mutex
	quests      map[string]Quest
	openMarkets map[string]bool
	discounts   map[string]int
	items       map[string]int
	affinity    map[string]int
	actions     []Action
	snapshot    Snapshot
	subscribers []func(context.Context, QuestEvent)
	now         func() time.Time
}

var (
	_ Market        = (*Ledger)(nil)
	_ Inventory     = (*Ledger)(nil)
	_ Quests        = (*Ledger)(nil)
	_ Relationships = (*Ledger)(nil)
	_ Environment   = (*Ledger)(nil)
)

// NewLedger returns a Ledger that knows the given quests. Quests without a
// state start out unstarted and are not reported as active.
func NewLedger(quests []Quest) *Ledger {
	l := &Ledger{
		quests:      make(map[string]Quest, len(quests)),
		openMarkets: make(map[string]bool),
		discounts:   make(map[string]int),
		items:       make(map[string]int),
		affinity:    make(map[string]int),
		now:         time.Now,
	}
	for _, q := range quests {
		l.quests[q.ID] = q
	}
	return l
}

// World returns a [World] with every capability served by l.
func (l *Ledger) World() World {
	return World{Market: l, Inventory: l, Quests: l, Relationships: l, Environment: l}
}

// Subscribe registers fn to receive quest events. Subscribers are called
// synchronously, after the ledger lock is released.
func (l *Ledger) Subscribe(fn func(context.Context, QuestEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// SetSnapshot replaces the ambient context returned by Snapshot.
func (l *Ledger) SetSnapshot(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot = s
}

// Actions returns a copy of every action applied so far.
func (l *Ledger) Actions() []Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.actions)
}

// MarketOpen reports whether the merchant's market is open.
func (l *Ledger) MarketOpen(merchantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openMarkets[merchantID]
}

// ItemCount returns how many of itemID the player has received.
func (l *Ledger) ItemCount(itemID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items[itemID]
}

// Affinity returns the current affinity of the given NPC.
func (l *Ledger) Affinity(npcID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.affinity[npcID]
}

// Quest returns the quest with the given id.
func (l *Ledger) Quest(id string) (Quest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.quests[id]
	return q, ok
}

func (l *Ledger) record(kind string, who npc.Descriptor, detail string) {
	l.actions = append(l.actions, Action{Kind: kind, NPC: who.ID, Detail: detail, At: l.now()})
}

// OpenMarket implements [Market].
func (l *Ledger) OpenMarket(_ context.Context, merchant npc.Descriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openMarkets[merchant.ID] = true
	l.record("open_market", merchant, "")
	return nil
}

// CloseMarket implements [Market].
func (l *Ledger) CloseMarket(_ context.Context, merchant npc.Descriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.openMarkets, merchant.ID)
	l.record("close_market", merchant, "")
	return nil
}

// OfferDiscount implements [Market].
func (l *Ledger) OfferDiscount(_ context.Context, merchant npc.Descriptor, percent int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discounts[merchant.ID] = percent
	l.record("discount", merchant, fmt.Sprintf("%d%%", percent))
	return nil
}

// GiveItem implements [Inventory].
func (l *Ledger) GiveItem(_ context.Context, itemID string, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[itemID] += quantity
	l.record("give_item", npc.Descriptor{}, fmt.Sprintf("%s x%d", itemID, quantity))
	return nil
}

// ActiveQuests implements [Quests]. Quests in the active or ready-to-turn-in
// state are reported, sorted by id.
func (l *Ledger) ActiveQuests(context.Context) ([]Quest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Quest
	for _, q := range l.quests {
		if q.State == QuestActive || q.State == QuestReadyToTurn {
			out = append(out, q)
		}
	}
	slices.SortFunc(out, func(a, b Quest) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// StartQuest implements [Quests].
func (l *Ledger) StartQuest(ctx context.Context, questID string, giver npc.Descriptor) (Quest, error) {
	return l.transition(ctx, questID, giver, QuestActive, QuestStarted, func(q Quest) error {
		if q.State == QuestActive || q.State == QuestReadyToTurn || q.State == QuestCompleted {
			return fmt.Errorf("world: quest %q already %s", q.ID, q.State)
		}
		return nil
	})
}

// MarkReady moves an active quest to ready-to-turn-in.
func (l *Ledger) MarkReady(ctx context.Context, questID string) (Quest, error) {
	return l.transition(ctx, questID, npc.Descriptor{}, QuestReadyToTurn, QuestReadyToTurnIn, func(q Quest) error {
		if q.State != QuestActive {
			return fmt.Errorf("world: quest %q is %q, not active", q.ID, q.State)
		}
		return nil
	})
}

// CompleteQuest implements [Quests].
func (l *Ledger) CompleteQuest(ctx context.Context, questID string, by npc.Descriptor) (Quest, error) {
	return l.transition(ctx, questID, by, QuestCompleted, QuestFinished, func(q Quest) error {
		if q.State != QuestActive && q.State != QuestReadyToTurn {
			return fmt.Errorf("world: quest %q cannot be completed from state %q", q.ID, q.State)
		}
		return nil
	})
}

func (l *Ledger) transition(ctx context.Context, questID string, who npc.Descriptor, to QuestState, kind QuestEventKind, check func(Quest) error) (Quest, error) {
	l.mu.Lock()
	q, ok := l.quests[questID]
	if !ok {
		l.mu.Unlock()
		return Quest{}, fmt.Errorf("world: unknown quest %q", questID)
	}
	if err := check(q); err != nil {
		l.mu.Unlock()
		return Quest{}, err
	}
	q.State = to
	l.quests[questID] = q
	l.record(string(kind), who, questID)
	subs := slices.Clone(l.subscribers)
	l.mu.Unlock()

	ev := QuestEvent{Kind: kind, Quest: q}
	for _, fn := range subs {
		fn(ctx, ev)
	}
	return q, nil
}

// AdjustAffinity implements [Relationships].
func (l *Ledger) AdjustAffinity(_ context.Context, with npc.Descriptor, delta int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.affinity[with.ID] += delta
	l.record("affinity", with, fmt.Sprintf("%+d", delta))
	return l.affinity[with.ID], nil
}

// Snapshot implements [Environment].
func (l *Ledger) Snapshot(context.Context, npc.Descriptor) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.snapshot
	s.Notes = slices.Clone(s.Notes)
	return s, nil
}
