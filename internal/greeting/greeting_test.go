package greeting_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/greeting"
	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// countingFetcher counts calls and can hold them until released.
type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	fn      func(n int32) (string, error)
}

func (f *countingFetcher) FetchGreeting(ctx context.Context, who npc.Descriptor, b greeting.Bucket) (string, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fn != nil {
		return f.fn(n)
	}
	return fmt.Sprintf("Good %s from the %s.", b, who.RoleType), nil
}

var smith = npc.Descriptor{ID: "smith-1", Name: "Borin", RoleType: "blacksmith", Location: "Anvil Square"}

func TestBucketFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hour int
		want greeting.Bucket
	}{
		{4, greeting.Night},
		{5, greeting.Dawn},
		{7, greeting.Dawn},
		{8, greeting.Morning},
		{11, greeting.Morning},
		{12, greeting.Afternoon},
		{16, greeting.Afternoon},
		{17, greeting.Evening},
		{20, greeting.Evening},
		{21, greeting.Night},
		{0, greeting.Night},
	}
	for _, tc := range tests {
		at := time.Date(2024, 1, 1, tc.hour, 30, 0, 0, time.UTC)
		if got := greeting.BucketFor(at); got != tc.want {
			t.Errorf("BucketFor(%02d:30) = %q, want %q", tc.hour, got, tc.want)
		}
	}
}

func TestKeyFor_Normalises(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	a := greeting.KeyFor(npc.Descriptor{RoleType: "Blacksmith", Location: "Anvil  Square"}, at)
	b := greeting.KeyFor(npc.Descriptor{RoleType: "blacksmith", Location: "anvil square"}, at)
	if a != b {
		t.Errorf("keys differ: %v vs %v", a, b)
	}
	if a.Bucket != greeting.Morning {
		t.Errorf("bucket = %q", a.Bucket)
	}
}

func TestGet_ConcurrentCallersShareOneFetch(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{release: make(chan struct{})}
	clk := newClock()
	c := greeting.New(f, greeting.WithClock(clk.Now), greeting.WithWait(400, 5*time.Millisecond))

	const callers = 10
	type result struct {
		text   string
		cached bool
		err    error
	}
	results := make(chan result, callers)
	for range callers {
		go func() {
			text, cached, err := c.Get(context.Background(), smith)
			results <- result{text, cached, err}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fetch never started")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(f.release)

	fetchedHere := 0
	for range callers {
		r := <-results
		if r.err != nil {
			t.Fatalf("Get: %v", r.err)
		}
		if r.text != "Good morning from the blacksmith." {
			t.Errorf("text = %q", r.text)
		}
		if !r.cached {
			fetchedHere++
		}
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	if fetchedHere != 1 {
		t.Errorf("%d callers fetched themselves, want 1", fetchedHere)
	}
}

func TestGet_TTL(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{}
	clk := newClock()
	c := greeting.New(f, greeting.WithClock(clk.Now))
	ctx := context.Background()

	if _, cached, err := c.Get(ctx, smith); err != nil || cached {
		t.Fatalf("first Get cached=%v err=%v", cached, err)
	}
	clk.Advance(4 * time.Minute)
	if _, cached, _ := c.Get(ctx, smith); !cached {
		t.Error("entry should still be fresh after 4m")
	}
	clk.Advance(time.Minute)
	if _, cached, _ := c.Get(ctx, smith); cached {
		t.Error("entry should have expired after 5m")
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
}

func TestGet_BucketChangeRefetches(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{}
	clk := newClock()
	c := greeting.New(f, greeting.WithClock(clk.Now), greeting.WithTTL(24*time.Hour))

	morning, _, _ := c.Get(context.Background(), smith)
	clk.Advance(3 * time.Hour)
	afternoon, cached, _ := c.Get(context.Background(), smith)
	if cached || morning == afternoon {
		t.Errorf("expected a new afternoon greeting, got %q (cached=%v)", afternoon, cached)
	}
}

func TestGet_FailuresAreNotCached(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream down")
	f := &countingFetcher{fn: func(n int32) (string, error) {
		if n == 1 {
			return "", boom
		}
		return "Hail.", nil
	}}
	c := greeting.New(f, greeting.WithClock(newClock().Now))

	if _, _, err := c.Get(context.Background(), smith); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if c.Pending(smith) {
		t.Error("failed fetch left the key pending")
	}
	text, cached, err := c.Get(context.Background(), smith)
	if err != nil || cached || text != "Hail." {
		t.Errorf("retry = %q cached=%v err=%v", text, cached, err)
	}
}

func TestGet_WaitTimeoutFallsBackToOwnFetch(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	defer close(hold)
	f := &countingFetcher{fn: func(n int32) (string, error) {
		if n == 1 {
			<-hold
			return "late", nil
		}
		return "own", nil
	}}
	c := greeting.New(f, greeting.WithClock(newClock().Now), greeting.WithWait(3, time.Millisecond))

	c.Prefetch(smith)
	for f.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	text, cached, err := c.Get(context.Background(), smith)
	if err != nil || cached || text != "own" {
		t.Errorf("Get = %q cached=%v err=%v", text, cached, err)
	}
}

func TestPrefetch(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{release: make(chan struct{})}
	c := greeting.New(f, greeting.WithClock(newClock().Now))

	c.Prefetch(smith)
	c.Prefetch(smith)
	if !c.Pending(smith) {
		t.Error("key should be pending")
	}
	close(f.release)
	c.Wait()

	c.Prefetch(smith)
	c.Wait()
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	e, ok := c.Peek(smith)
	if !ok || e.Text == "" {
		t.Errorf("Peek = %+v, %v", e, ok)
	}
	if _, cached, _ := c.Get(context.Background(), smith); !cached {
		t.Error("Get after Prefetch should hit")
	}
}

func TestPrefetchAll(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	f := greeting.FetcherFunc(func(ctx context.Context, who npc.Descriptor, b greeting.Bucket) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		if who.RoleType == "ghost" {
			return "", errors.New("no voice")
		}
		return "Hello from " + who.RoleType, nil
	})
	c := greeting.New(f, greeting.WithClock(newClock().Now), greeting.WithPrefetchConcurrency(2))

	var npcs []npc.Descriptor
	for _, role := range []string{"baker", "guard", "elder", "miner", "ghost", "baker"} {
		npcs = append(npcs, npc.Descriptor{Name: role, RoleType: role, Location: "village"})
	}
	err := c.PrefetchAll(context.Background(), npcs)
	if err == nil || !strings.Contains(err.Error(), "no voice") {
		t.Errorf("PrefetchAll err = %v", err)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
	if _, ok := c.Peek(npcs[0]); !ok {
		t.Error("baker greeting not cached")
	}
	if _, ok := c.Peek(npcs[4]); ok {
		t.Error("failed greeting was cached")
	}
}

func TestLLMFetcher(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Replies: []string{"“Well met, traveller! {openMarket}”", "  {wave}  "}}
	f := &greeting.LLMFetcher{Provider: p}

	text, err := f.FetchGreeting(context.Background(), smith, greeting.Evening)
	if err != nil {
		t.Fatalf("FetchGreeting: %v", err)
	}
	if text != "Well met, traveller!" {
		t.Errorf("text = %q", text)
	}
	req := p.Calls()[0].Req
	if !strings.Contains(req.SystemPrompt, "Borin") || !strings.Contains(req.SystemPrompt, "blacksmith") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || !strings.Contains(req.Messages[0].Content, "evening") {
		t.Errorf("messages = %+v", req.Messages)
	}

	if _, err := f.FetchGreeting(context.Background(), smith, greeting.Evening); !errors.Is(err, greeting.ErrEmptyGreeting) {
		t.Errorf("err = %v, want ErrEmptyGreeting", err)
	}
}
