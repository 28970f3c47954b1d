package conversation

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/memstore"
	memmock "github.com/MrWong99/parley/pkg/memory/mock"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
)

func TestOpen_MemoryUnavailableStartsFresh(t *testing.T) {
	t.Parallel()

	store := &memmock.Store{GetRecordErr: errors.New("connection refused")}
	gen := &llmmock.Provider{Replies: []string{"Morning."}}
	h := newHarnessWithStore(t, Config{HistoryLimit: 6}, gen, store)
	ctx := context.Background()

	s, err := h.mgr.Open(ctx, farmer)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info := s.Info(); info.Loaded != 0 || info.Returning {
		t.Errorf("info = %+v", info)
	}
	reply, err := h.mgr.Send(ctx, s.ID, "hello")
	if err != nil || reply.Text != "Morning." {
		t.Fatalf("Send = %+v, %v", reply, err)
	}
	if err := h.mgr.Close(ctx, s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	calls := store.Calls()
	if len(calls) != 2 || calls[0].Method != "GetRecord" || calls[1].Method != "AppendAndSave" {
		t.Fatalf("store calls = %+v", calls)
	}
	if limit := calls[0].Args[1]; limit != 6 {
		t.Errorf("history limit = %v, want 6", limit)
	}
	if len(store.Appended) != 1 || !slices.Equal(texts(store.Appended[0]), []string{"hello", "Morning."}) {
		t.Errorf("appended = %+v", store.Appended)
	}
}

func TestClose_SaveFailureIsReported(t *testing.T) {
	t.Parallel()

	saveErr := errors.New("disk full")
	prior := []memory.Message{{Role: memory.RolePlayer, Text: "a"}, {Role: memory.RoleNPC, Text: "b"}}
	store := &memmock.Store{
		Records:   map[string]*memory.Record{farmer.Identity().Key(): {History: prior, InteractionCount: 1}},
		AppendErr: saveErr,
	}
	h := newHarnessWithStore(t, Config{}, &llmmock.Provider{Replies: []string{"d"}}, store)
	ctx := context.Background()

	s, _ := h.mgr.Open(ctx, farmer)
	if info := s.Info(); info.Loaded != 2 || !info.Returning {
		t.Errorf("info = %+v", info)
	}
	if _, err := h.mgr.Send(ctx, s.ID, "c"); err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.Close(ctx, s.ID); !errors.Is(err, saveErr) {
		t.Fatalf("Close = %v, want %v", err, saveErr)
	}
	if got := store.CallCount("AppendAndSave"); got != 1 {
		t.Errorf("AppendAndSave calls = %d", got)
	}
	// The session is gone even though the save failed.
	if _, err := h.mgr.Send(ctx, s.ID, "again"); !errors.Is(err, ErrSessionInactive) {
		t.Errorf("Send after failed close = %v", err)
	}
}

// gatedStore holds every AppendAndSave until release is closed.
type gatedStore struct {
	*memstore.Store
	saving  chan struct{}
	release chan struct{}
}

func (g *gatedStore) AppendAndSave(ctx context.Context, id memory.Identity, msgs []memory.Message) error {
	close(g.saving)
	<-g.release
	return g.Store.AppendAndSave(ctx, id, msgs)
}

func TestOpen_WaitsForPendingSave(t *testing.T) {
	t.Parallel()

	store := &gatedStore{Store: memstore.New(), saving: make(chan struct{}), release: make(chan struct{})}
	h := newHarnessWithStore(t, Config{}, &llmmock.Provider{Replies: []string{"b", "d"}}, store)
	ctx := context.Background()

	s, _ := h.mgr.Open(ctx, farmer)
	if _, err := h.mgr.Send(ctx, s.ID, "a"); err != nil {
		t.Fatal(err)
	}
	closed := make(chan error, 1)
	go func() { closed <- h.mgr.Close(ctx, s.ID) }()
	<-store.saving

	opened := make(chan *Session, 1)
	go func() {
		s2, err := h.mgr.Open(ctx, farmer)
		if err != nil {
			t.Error(err)
		}
		opened <- s2
	}()
	select {
	case <-opened:
		t.Fatal("Open returned while the previous session was still saving")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}
	s2 := <-opened
	if s2 == nil {
		t.Fatal("Open failed")
	}
	if s2.ID == s.ID {
		t.Error("closed session was reused")
	}
	if got := texts(s2.History()); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("reopened history = %q", got)
	}
}

func TestOpen_PendingSaveHonoursContext(t *testing.T) {
	t.Parallel()

	store := &gatedStore{Store: memstore.New(), saving: make(chan struct{}), release: make(chan struct{})}
	h := newHarnessWithStore(t, Config{}, &llmmock.Provider{Replies: []string{"b"}}, store)
	ctx := context.Background()

	s, _ := h.mgr.Open(ctx, farmer)
	if _, err := h.mgr.Send(ctx, s.ID, "a"); err != nil {
		t.Fatal(err)
	}
	closed := make(chan error, 1)
	go func() { closed <- h.mgr.Close(ctx, s.ID) }()
	<-store.saving

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := h.mgr.Open(short, farmer); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Open = %v, want %v", err, context.DeadlineExceeded)
	}

	close(store.release)
	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}
}
