// Package app wires the parley subsystems into a running server.
//
// New builds every component from the config, Run serves the HTTP API until
// its context ends, and Shutdown closes conversations (flushing their
// history), stops speech and releases the memory backend.
//
// Tests inject doubles through functional options (WithStore, WithPlayer,
// WithMetrics). Anything not injected is created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/api"
	"github.com/MrWong99/parley/internal/command"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/greeting"
	"github.com/MrWong99/parley/internal/handlers"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/permission"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/world"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/memstore"
	"github.com/MrWong99/parley/pkg/memory/postgres"
	"github.com/MrWong99/parley/pkg/memory/redisstore"
)

// App owns every subsystem and its lifetime.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler

	store      memory.Store
	player     audio.Player
	ledger     *world.Ledger
	dispatcher *command.Dispatcher
	speech     *speech.Queue
	manager    *conversation.Manager
	greetings  *greeting.Cache
	api        *api.Server
	server     *http.Server

	// closers run in order during Shutdown, after conversations are flushed.
	closers []func() error

	stopOnce sync.Once
}

// Option configures New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a memory store instead of creating one from config.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPlayer injects the audio sink instead of creating one from
// speech.output_path.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithMetrics sets the instruments and the handler served on /metrics.
func WithMetrics(m *observe.Metrics, handler http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = handler
	}
}

// New creates an App by wiring all subsystems together. Providers come from
// [BuildProviders]; providers.LLM is required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	if err := a.initCommands(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init commands: %w", err)
	}
	a.ledger = world.NewLedger(cfg.Quests)
	if err := a.initSpeech(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init speech: %w", err)
	}
	a.initConversations()
	a.initGreetings()
	a.initAPI()

	slog.Info("app initialised",
		"memory", string(cfg.Memory.Backend),
		"npcs", len(cfg.NPCs),
		"quests", len(cfg.Quests),
		"speech", a.speech != nil,
	)
	return a, nil
}

func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Memory.Backend {
	case config.MemoryPostgres:
		s, err := postgres.NewStore(ctx, a.cfg.Memory.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, func() error { s.Close(); return nil })
	case config.MemoryRedis:
		s, err := redisstore.Connect(ctx, a.cfg.Memory.RedisURL)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	default:
		a.store = memstore.New()
	}
	return nil
}

func (a *App) initCommands() error {
	defs := a.cfg.Commands
	if len(defs) == 0 {
		defs = handlers.Definitions()
	}
	table, err := command.NewTable(defs)
	if err != nil {
		return err
	}
	reg := command.NewRegistry()
	if err := handlers.RegisterBuiltins(reg); err != nil {
		return err
	}
	for _, name := range table.Names() {
		def, _ := table.Lookup(name)
		if _, ok := reg.Lookup(def.Handler); !ok {
			slog.Warn("directive has no registered handler", "directive", name, "handler", def.Handler)
		}
	}
	resolver := permission.NewResolver(a.cfg.Permissions, table)
	a.dispatcher = command.NewDispatcher(table, resolver, reg, command.WithMetrics(a.metrics))
	return nil
}

func (a *App) initSpeech() error {
	if a.providers.TTS == nil {
		return nil
	}
	if a.player == nil {
		p, closer, err := newPlayer(a.cfg.Speech)
		if err != nil {
			return err
		}
		a.player = p
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	a.speech = speech.New(a.providers.TTS, a.player,
		speech.WithMaxChunk(a.cfg.Speech.MaxChunk),
		speech.WithDefaultVoice(a.cfg.Speech.DefaultVoice),
		speech.WithMetrics(a.metrics),
	)
	return nil
}

// newPlayer picks the audio sink for speech.output_path: nothing discards
// audio, an existing directory or a path ending in a separator collects WAV
// files, anything else is a raw PCM file.
func newPlayer(cfg config.SpeechConfig) (audio.Player, func() error, error) {
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	path := cfg.OutputPath
	if path == "" {
		return audio.NewWriterPlayer(io.Discard, format, format), nil, nil
	}
	if fi, err := os.Stat(path); (err == nil && fi.IsDir()) || strings.HasSuffix(path, string(os.PathSeparator)) {
		p, err := audio.NewWAVDirPlayer(path, format, format)
		return p, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open audio output: %w", err)
	}
	return audio.NewWriterPlayer(f, format, format), f.Close, nil
}

func (a *App) initConversations() {
	c := a.cfg.Conversation
	opts := []conversation.Option{
		conversation.WithWorld(a.ledger.World()),
		conversation.WithMetrics(a.metrics),
	}
	if a.speech != nil {
		opts = append(opts, conversation.WithSpeaker(a.speech))
	}
	a.manager = conversation.New(conversation.Config{
		MaxTurns:       c.MaxTurns,
		HistoryLimit:   a.cfg.Memory.HistoryLimit,
		AuthorityRoles: c.AuthorityRoles,
		QuestKeywords:  c.QuestKeywords,
		DismissalLines: c.DismissalLines,
		FallbackLines:  c.FallbackLines,
		ClosedLines:    c.ClosedLines,
		Temperature:    c.Temperature,
		MaxTokens:      c.MaxTokens,
	}, a.providers.LLM, a.store, a.dispatcher, opts...)

	a.ledger.Subscribe(func(ctx context.Context, ev world.QuestEvent) {
		a.manager.HandleQuestEvent(ctx, ev)
	})
}

func (a *App) initGreetings() {
	g := a.cfg.Greeting
	opts := []greeting.Option{greeting.WithMetrics(a.metrics)}
	if g.TTL > 0 {
		opts = append(opts, greeting.WithTTL(g.TTL))
	}
	if g.WaitAttempts > 0 || g.WaitInterval > 0 {
		opts = append(opts, greeting.WithWait(g.WaitAttempts, g.WaitInterval))
	}
	if g.PrefetchConcurrency > 0 {
		opts = append(opts, greeting.WithPrefetchConcurrency(g.PrefetchConcurrency))
	}
	a.greetings = greeting.New(&greeting.LLMFetcher{Provider: a.providers.LLM}, opts...)
}

type breakerStatus interface {
	Status() []resilience.EntryStatus
}

func (a *App) initAPI() {
	var checks []health.Checker
	if p, ok := a.store.(memory.Pinger); ok {
		checks = append(checks, health.PingCheck("memory", p))
	}
	if b, ok := a.providers.LLM.(breakerStatus); ok {
		checks = append(checks, health.BreakerCheck("llm", b.Status))
	}
	if b, ok := a.providers.TTS.(breakerStatus); ok {
		checks = append(checks, health.BreakerCheck("tts", b.Status))
	}

	deps := api.Deps{
		Conversations:  a.manager,
		Greetings:      a.greetings,
		Directives:     a.dispatcher,
		NPCs:           a.cfg.NPCs,
		Health:         health.New(checks...),
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
	}
	if a.speech != nil {
		deps.Speech = a.speech
	}
	a.api = api.New(deps)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.api,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.api }

// Ledger returns the in-process world state.
func (a *App) Ledger() *world.Ledger { return a.ledger }

// Run serves the HTTP API and, when configured, warms the greeting cache for
// the NPC catalogue. It blocks until ctx is cancelled or the server fails,
// and returns ctx's error in the former case.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http api listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})

	if a.cfg.Greeting.PrefetchOnStart && len(a.cfg.NPCs) > 0 {
		g.Go(func() error {
			if err := a.greetings.PrefetchAll(gctx, a.cfg.NPCs); err != nil {
				slog.Warn("greeting prefetch incomplete", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown closes every conversation, flushing its history, then stops
// speech and runs the closers. Remaining closers are skipped once ctx
// expires.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", len(a.manager.Sessions()), "closers", len(a.closers))

		if err := a.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close conversations: %w", err))
		}
		if a.speech != nil {
			if err := a.speech.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close speech: %w", err))
			}
		}

		done := make(chan struct{})
		go func() {
			a.greetings.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("greeting fetches still running at shutdown")
		}

		if err := ctx.Err(); err != nil {
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers))
			errs = append(errs, err)
			return
		}
		a.runClosers()
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

func (a *App) runClosers() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
