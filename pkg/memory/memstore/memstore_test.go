package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/memory"
)

func TestStore_UnknownIdentityIsEmpty(t *testing.T) {
	t.Parallel()

	s := New()
	rec, err := s.GetRecord(context.Background(), memory.NewIdentity("guard", "Bram", "Gate"), 10)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if len(rec.History) != 0 || rec.InteractionCount != 0 || !rec.LastInteraction.IsZero() {
		t.Errorf("expected empty record, got %+v", rec)
	}
	if rec.IsReturning() {
		t.Error("new identity must not be returning")
	}
}

func TestStore_AppendOnly(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	id := memory.NewIdentity("merchant", "Marta", "Market")

	if err := s.AppendAndSave(ctx, id, []memory.Message{{Role: memory.RolePlayer, Text: "a"}}); err != nil {
		t.Fatalf("AppendAndSave: %v", err)
	}
	if err := s.AppendAndSave(ctx, id, []memory.Message{{Role: memory.RoleNPC, Text: "b"}}); err != nil {
		t.Fatalf("AppendAndSave: %v", err)
	}

	rec, err := s.GetRecord(ctx, memory.NewIdentity("MERCHANT", " marta", "market "), 0)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if len(rec.History) != 2 || rec.History[0].Text != "a" || rec.History[1].Text != "b" {
		t.Errorf("History = %+v", rec.History)
	}
	if rec.InteractionCount != 2 {
		t.Errorf("InteractionCount = %d, want 2", rec.InteractionCount)
	}
	if !rec.LastInteraction.Equal(fixed) {
		t.Errorf("LastInteraction = %v, want %v", rec.LastInteraction, fixed)
	}

	limited, _ := s.GetRecord(ctx, id, 1)
	if len(limited.History) != 1 || limited.History[0].Text != "b" {
		t.Errorf("limited history = %+v", limited.History)
	}
}

func TestStore_ReturnedRecordIsACopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	id := memory.NewIdentity("merchant", "Marta", "Market")
	_ = s.AppendAndSave(ctx, id, []memory.Message{{Text: "original"}})

	rec, _ := s.GetRecord(ctx, id, 0)
	rec.History[0].Text = "mutated"

	again, _ := s.GetRecord(ctx, id, 0)
	if again.History[0].Text != "original" {
		t.Errorf("store mutated through returned record: %q", again.History[0].Text)
	}
}

func TestStore_InvalidIdentity(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if _, err := s.GetRecord(ctx, memory.Identity{}, 0); !errors.Is(err, memory.ErrInvalidIdentity) {
		t.Errorf("GetRecord err = %v", err)
	}
	if err := s.AppendAndSave(ctx, memory.Identity{}, nil); !errors.Is(err, memory.ErrInvalidIdentity) {
		t.Errorf("AppendAndSave err = %v", err)
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	id := memory.NewIdentity("guard", "Bram", "Gate")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AppendAndSave(ctx, id, []memory.Message{{Text: "x"}})
		}()
	}
	wg.Wait()

	rec, _ := s.GetRecord(ctx, id, 0)
	if rec.InteractionCount != 20 || len(rec.History) != 20 {
		t.Errorf("count=%d history=%d, want 20/20", rec.InteractionCount, len(rec.History))
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}
