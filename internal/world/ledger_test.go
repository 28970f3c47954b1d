package world

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parley/internal/npc"
)

func TestLedger_QuestLifecycle(t *testing.T) {
	t.Parallel()

	l := NewLedger([]Quest{
		{ID: "herbs", Title: "Gather Herbs", GiverID: "mira", TurnInID: "aldric"},
		{ID: "wolves", Title: "Cull the Wolves", State: QuestActive},
	})
	var events []QuestEvent
	l.Subscribe(func(_ context.Context, ev QuestEvent) { events = append(events, ev) })

	ctx := context.Background()
	mira := npc.Descriptor{ID: "mira", Name: "Mira"}

	active, err := l.ActiveQuests(ctx)
	if err != nil {
		t.Fatalf("ActiveQuests: %v", err)
	}
	if len(active) != 1 || active[0].ID != "wolves" {
		t.Fatalf("active = %+v, want only wolves", active)
	}

	q, err := l.StartQuest(ctx, "herbs", mira)
	if err != nil {
		t.Fatalf("StartQuest: %v", err)
	}
	if q.State != QuestActive {
		t.Errorf("state = %q, want active", q.State)
	}
	if _, err := l.StartQuest(ctx, "herbs", mira); err == nil {
		t.Error("second StartQuest should fail")
	}
	if _, err := l.MarkReady(ctx, "herbs"); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if _, err := l.CompleteQuest(ctx, "herbs", npc.Descriptor{ID: "aldric"}); err != nil {
		t.Fatalf("CompleteQuest: %v", err)
	}
	if _, err := l.CompleteQuest(ctx, "herbs", npc.Descriptor{ID: "aldric"}); err == nil {
		t.Error("completing a completed quest should fail")
	}
	if _, err := l.StartQuest(ctx, "missing", mira); err == nil {
		t.Error("unknown quest should fail")
	}

	wantKinds := []QuestEventKind{QuestStarted, QuestReadyToTurnIn, QuestFinished}
	if len(events) != len(wantKinds) {
		t.Fatalf("got %d events, want %d", len(events), len(wantKinds))
	}
	for i, k := range wantKinds {
		if events[i].Kind != k || events[i].Quest.ID != "herbs" {
			t.Errorf("event[%d] = %+v, want kind %q", i, events[i], k)
		}
	}
}

func TestLedger_MarketInventoryAffinity(t *testing.T) {
	t.Parallel()

	l := NewLedger(nil)
	ctx := context.Background()
	greta := npc.Descriptor{ID: "greta"}

	if err := l.OpenMarket(ctx, greta); err != nil {
		t.Fatal(err)
	}
	if !l.MarketOpen("greta") {
		t.Error("market should be open")
	}
	if err := l.CloseMarket(ctx, greta); err != nil {
		t.Fatal(err)
	}
	if l.MarketOpen("greta") {
		t.Error("market should be closed")
	}
	if err := l.GiveItem(ctx, "herb", 2); err != nil {
		t.Fatal(err)
	}
	if err := l.GiveItem(ctx, "herb", 1); err != nil {
		t.Fatal(err)
	}
	if got := l.ItemCount("herb"); got != 3 {
		t.Errorf("ItemCount = %d, want 3", got)
	}
	if got, _ := l.AdjustAffinity(ctx, greta, 5); got != 5 {
		t.Errorf("affinity = %d, want 5", got)
	}
	if got, _ := l.AdjustAffinity(ctx, greta, -2); got != 3 {
		t.Errorf("affinity = %d, want 3", got)
	}
	if got := len(l.Actions()); got != 6 {
		t.Errorf("recorded %d actions, want 6", got)
	}
}

func TestWorld_WithDefaults(t *testing.T) {
	t.Parallel()

	w := World{}.WithDefaults()
	ctx := context.Background()
	if err := w.Market.OpenMarket(ctx, npc.Descriptor{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("OpenMarket err = %v, want ErrUnavailable", err)
	}
	qs, err := w.Quests.ActiveQuests(ctx)
	if err != nil || len(qs) != 0 {
		t.Errorf("ActiveQuests = %v, %v", qs, err)
	}
	if _, err := w.Environment.Snapshot(ctx, npc.Descriptor{}); err != nil {
		t.Errorf("Snapshot err = %v", err)
	}

	l := NewLedger(nil)
	full := l.World().WithDefaults()
	if full.Market != Market(l) {
		t.Error("WithDefaults replaced a configured capability")
	}
}
