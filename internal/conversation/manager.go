// Package conversation runs multi-turn dialogue with NPCs.
//
// A [Manager] owns one [Session] per persistent NPC identity. Each exchange
// appends the player's line, asks the text generator for a reply, strips and
// dispatches the reply's directives, hands the clean text to speech and
// returns it. Sessions have a turn budget that is lifted for quest-relevant
// NPCs. When a session closes, only the messages it added are appended to
// the memory store.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parley/internal/command"
	"github.com/MrWong99/parley/internal/directive"
	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/world"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// Sentinel errors returned by [Manager] methods.
var (
	ErrSessionNotFound = errors.New("conversation: session not found")
	ErrSessionInactive = errors.New("conversation: session has ended")
	ErrSessionBusy     = errors.New("conversation: a reply is still pending")
)

// Defaults applied by [Config.withDefaults].
const (
	DefaultMaxTurns     = 8
	DefaultHistoryLimit = 20
)

// NoTurnLimit as Config.MaxTurns opens every session without a turn cap.
const NoTurnLimit = -1

// Close reasons reported to metrics.
const (
	reasonClosed  = "closed"
	reasonTurnCap = "turn_cap"
	reasonNPC     = "npc_ended"
)

// Config tunes the manager. Zero values take the package defaults.
type Config struct {
	// MaxTurns caps player turns per session. Zero means [DefaultMaxTurns];
	// any negative value, conventionally [NoTurnLimit], disables the cap.
	MaxTurns       int
	HistoryLimit   int
	AuthorityRoles []string
	QuestKeywords  []string
	DismissalLines []string
	FallbackLines  []string
	ClosedLines    []string
	Temperature    float64
	MaxTokens      int
}

func (c Config) withDefaults() Config {
	switch {
	case c.MaxTurns == 0:
		c.MaxTurns = DefaultMaxTurns
	case c.MaxTurns < 0:
		c.MaxTurns = NoTurnLimit
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.AuthorityRoles == nil {
		c.AuthorityRoles = DefaultAuthorityRoles
	}
	if c.QuestKeywords == nil {
		c.QuestKeywords = DefaultQuestKeywords
	}
	return c
}

// Speaker voices clean reply text. *speech.Queue satisfies it.
type Speaker interface {
	Enqueue(text, voiceID string) int
	Stop()
}

// Reply is the result of one exchange.
type Reply struct {
	Text       string                `json:"text"`
	Ended      bool                  `json:"ended"`
	Dismissed  bool                  `json:"dismissed,omitempty"`
	Fallback   bool                  `json:"fallback,omitempty"`
	Directives []directive.Directive `json:"directives,omitempty"`
	Results    []command.Result      `json:"results,omitempty"`
	TurnCount  int                   `json:"turn_count"`
	MaxTurns   int                   `json:"max_turns"`
}

// Option configures a [Manager].
type Option func(*Manager)

// WithSpeaker voices every reply. Without it replies are text only.
func WithSpeaker(s Speaker) Option {
	return func(m *Manager) { m.speaker = s }
}

// WithWorld sets the game systems handed to directive handlers and consulted
// for quest relevance and prompt context.
func WithWorld(w world.World) Option {
	return func(m *Manager) { m.world = w }
}

// WithParser replaces the default directive parser.
func WithParser(p *directive.Parser) Option {
	return func(m *Manager) { m.parser = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRand replaces the line picker. intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(m *Manager) { m.intn = intn }
}

// Manager owns every open conversation session. It is safe for concurrent
// use; exchanges on one session are serialised, exchanges on different
// sessions run in parallel.
type Manager struct {
	cfg        Config
	gen        llm.Provider
	store      memory.Store
	dispatcher *command.Dispatcher
	world      world.World
	speaker    Speaker
	parser     *directive.Parser
	relevance  *relevance
	log        *slog.Logger
	metrics    *observe.Metrics
	now        func() time.Time
	intn       func(n int) int

	mu         sync.Mutex
	sessions   map[string]*Session
	byIdentity map[string]*Session
	ended      map[string]time.Time

	// closing holds identities whose history is still being saved; the
	// channel is closed once the save returns.
	closing map[string]chan struct{}
}

// endedRetention is how long a closed session id keeps answering with
// ErrSessionInactive instead of ErrSessionNotFound.
const endedRetention = time.Hour

// New returns a Manager generating replies with gen, persisting memory in
// store and running directives through d.
func New(cfg Config, gen llm.Provider, store memory.Store, d *command.Dispatcher, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:        cfg,
		gen:        gen,
		store:      store,
		dispatcher: d,
		parser:     directive.Default(),
		now:        time.Now,
		intn:       rand.IntN,
		sessions:   make(map[string]*Session),
		byIdentity: make(map[string]*Session),
		ended:      make(map[string]time.Time),
		closing:    make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.world = m.world.WithDefaults()
	m.relevance = newRelevance(cfg.AuthorityRoles, cfg.QuestKeywords)
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Open starts a conversation with who, or returns the session already open
// for the same persistent identity.
func (m *Manager) Open(ctx context.Context, who npc.Descriptor) (*Session, error) {
	id := who.Identity()
	if !id.Valid() {
		return nil, fmt.Errorf("conversation: open %q: %w", who.ID, memory.ErrInvalidIdentity)
	}
	key := id.Key()

	// A session for this identity may still be saving its history; wait so
	// the record loaded below includes it.
	for {
		m.mu.Lock()
		if s, ok := m.byIdentity[key]; ok {
			m.mu.Unlock()
			return s, nil
		}
		saving := m.closing[key]
		m.mu.Unlock()
		if saving == nil {
			break
		}
		select {
		case <-saving:
		case <-ctx.Done():
			return nil, fmt.Errorf("conversation: open %q: %w", who.ID, ctx.Err())
		}
	}

	log := observe.Logger(ctx).With("npc_id", who.ID, "identity", key)

	rec, err := m.store.GetRecord(ctx, id, m.cfg.HistoryLimit)
	if err != nil {
		log.Warn("conversation: memory unavailable, starting fresh", "err", err)
		rec = &memory.Record{Identity: id}
	}
	relevant, reason := m.relevance.check(ctx, who, m.world.Quests)

	s := &Session{
		ID:              uuid.NewString(),
		Identity:        id,
		NPC:             who,
		StartedAt:       m.now(),
		Interactions:    rec.InteractionCount,
		LastInteraction: rec.LastInteraction,
		history:         slices.Clone(rec.History),
		loaded:          len(rec.History),
		maxTurns:        max(m.cfg.MaxTurns, Unlimited),
		active:          true,
	}
	if relevant {
		s.maxTurns = Unlimited
		s.questExtended = true
		s.relevance = reason
	}

	m.mu.Lock()
	if existing, ok := m.byIdentity[key]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[s.ID] = s
	m.byIdentity[key] = s
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	log.Info("conversation opened",
		"session_id", s.ID,
		"loaded", s.loaded,
		"max_turns", s.maxTurns,
		"relevance", reason,
	)
	return s, nil
}

// Send runs one exchange: the player says text, the NPC answers.
//
// A closed session yields ErrSessionInactive together with a Reply carrying
// an end-of-conversation line. A session whose turn budget is spent is
// closed and answered with a dismissal line instead of a generated reply.
// A generator failure is answered with an in-character fallback line and is
// not an error.
func (m *Manager) Send(ctx context.Context, sessionID, text string) (Reply, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionInactive) {
			return m.closedReply(), err
		}
		return Reply{}, err
	}

	ctx, span := observe.StartSpan(ctx, "conversation.send")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID), attribute.String("npc.id", s.NPC.ID))

	s.mu.Lock()
	if s.active && !s.busy && s.cappedLocked() {
		s.mu.Unlock()
		m.extendForActiveQuest(ctx, s)
		s.mu.Lock()
	}
	switch {
	case !s.active:
		s.mu.Unlock()
		return m.closedReply(), ErrSessionInactive
	case s.busy:
		s.mu.Unlock()
		return Reply{}, ErrSessionBusy
	case s.cappedLocked():
		turns, limit := s.turnCount, s.maxTurns
		s.mu.Unlock()
		if err := m.close(ctx, s, reasonTurnCap, true); err != nil {
			observe.SpanError(span, err)
			m.log.Error("conversation: flush after turn cap failed", "session_id", s.ID, "err", err)
		}
		return Reply{
			Text:      m.pickLine(m.cfg.DismissalLines, DefaultDismissalLines),
			Ended:     true,
			Dismissed: true,
			TurnCount: turns,
			MaxTurns:  limit,
		}, nil
	}
	s.busy = true
	s.history = append(s.history, memory.Message{Role: memory.RolePlayer, Text: text, At: m.now()})
	in := promptInput{
		NPC:             s.NPC,
		Interactions:    s.Interactions,
		LastInteraction: s.LastInteraction,
		TurnsLeft:       -1,
	}
	if s.maxTurns != Unlimited {
		in.TurnsLeft = s.maxTurns - s.turnCount - 1
	}
	msgs := toLLM(s.history)
	s.mu.Unlock()

	content, fellBack := m.generate(ctx, s, in, msgs)
	parsed := m.parser.Parse(content)

	s.mu.Lock()
	if !s.active {
		s.busy = false
		s.mu.Unlock()
		m.log.Info("conversation: reply arrived after close, dropped", "session_id", s.ID)
		return m.closedReply(), ErrSessionInactive
	}
	if parsed.Clean != "" {
		s.history = append(s.history, memory.Message{Role: memory.RoleNPC, Text: parsed.Clean, At: m.now()})
	}
	s.turnCount++
	reply := Reply{
		Text:       parsed.Clean,
		Fallback:   fellBack,
		Directives: parsed.Directives,
		TurnCount:  s.turnCount,
	}
	hist := slices.Clone(s.history)
	s.mu.Unlock()

	cc := &command.Context{SessionID: s.ID, NPC: s.NPC, History: hist, World: m.world}
	if m.dispatcher != nil && len(parsed.Directives) > 0 {
		reply.Results = m.dispatcher.DispatchAll(ctx, parsed.Directives, cc)
	}

	if m.speaker != nil && parsed.Clean != "" {
		m.speaker.Enqueue(parsed.Clean, s.NPC.VoiceID)
	}
	m.metrics.RecordTurn(ctx, s.NPC.ID)

	s.mu.Lock()
	s.busy = false
	reply.MaxTurns = s.maxTurns
	s.mu.Unlock()

	if cc.EndRequested() {
		reply.Ended = true
		if err := m.close(ctx, s, reasonNPC, false); err != nil {
			observe.SpanError(span, err)
			m.log.Error("conversation: flush after npc ended failed", "session_id", s.ID, "err", err)
		}
	}
	return reply, nil
}

// generate asks the generator for a reply and substitutes a fallback line
// when it fails or returns nothing.
func (m *Manager) generate(ctx context.Context, s *Session, in promptInput, msgs []llm.Message) (string, bool) {
	if snap, err := m.world.Environment.Snapshot(ctx, s.NPC); err == nil {
		in.Snapshot = snap
	}
	if quests, err := m.world.Quests.ActiveQuests(ctx); err == nil {
		for _, q := range quests {
			if questNames(q, s.NPC) {
				in.Quests = append(in.Quests, q)
			}
		}
		if len(in.Quests) > 0 && s.extend(reasonActiveQuest) {
			in.TurnsLeft = -1
			observe.Logger(ctx).Info("conversation extended by active quest",
				"session_id", s.ID, "quest_id", in.Quests[0].ID)
		}
	}
	if m.dispatcher != nil {
		in.Allowed = m.dispatcher.Allowed(s.NPC.RoleType)
	}

	ctx, span := observe.StartSpan(ctx, "conversation.generate")
	defer span.End()

	start := m.now()
	resp, err := m.gen.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(in),
		Messages:     msgs,
		Temperature:  m.cfg.Temperature,
		MaxTokens:    m.cfg.MaxTokens,
	})
	m.metrics.LLMDuration.Record(ctx, m.now().Sub(start).Seconds())

	if err == nil && resp != nil && strings.TrimSpace(resp.Content) != "" {
		return resp.Content, false
	}
	if err == nil {
		err = errors.New("empty reply")
	}
	observe.SpanError(span, err)
	m.metrics.GenerationFallbacks.Add(ctx, 1, metric.WithAttributes(observe.Attr("npc_id", s.NPC.ID)))
	observe.Logger(ctx).Warn("conversation: generation failed, using fallback line",
		"session_id", s.ID, "npc_id", s.NPC.ID, "err", err)
	return m.pickLine(m.cfg.FallbackLines, DefaultFallbackLines), true
}

// Close ends a session: speech stops, the messages added during the session
// are appended to the memory store and the session is discarded.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return m.close(ctx, s, reasonClosed, true)
}

func (m *Manager) close(ctx context.Context, s *Session, reason string, stopSpeech bool) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	added := slices.Clone(s.history[s.loaded:])
	s.mu.Unlock()

	key := s.Identity.Key()
	saved := make(chan struct{})
	m.mu.Lock()
	delete(m.sessions, s.ID)
	if m.byIdentity[key] == s {
		delete(m.byIdentity, key)
	}
	m.closing[key] = saved
	now := m.now()
	for id, at := range m.ended {
		if now.Sub(at) > endedRetention {
			delete(m.ended, id)
		}
	}
	m.ended[s.ID] = now
	m.mu.Unlock()

	if stopSpeech && m.speaker != nil {
		m.speaker.Stop()
	}
	m.metrics.ActiveSessions.Add(ctx, -1)
	m.metrics.SessionsClosed.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", reason)))

	err := m.store.AppendAndSave(ctx, s.Identity, added)
	m.mu.Lock()
	if m.closing[key] == saved {
		delete(m.closing, key)
	}
	m.mu.Unlock()
	close(saved)
	if err != nil {
		return fmt.Errorf("conversation: save history for %s: %w", key, err)
	}
	observe.Logger(ctx).Info("conversation closed",
		"session_id", s.ID, "reason", reason, "saved", len(added))
	return nil
}

// extendForActiveQuest lifts the turn cap of s when the quest system names
// its NPC as giver or turn-in target of an active quest.
func (m *Manager) extendForActiveQuest(ctx context.Context, s *Session) bool {
	active, err := m.world.Quests.ActiveQuests(ctx)
	if err != nil {
		m.log.Warn("conversation: active quest lookup failed", "session_id", s.ID, "err", err)
		return false
	}
	i := slices.IndexFunc(active, func(q world.Quest) bool { return questNames(q, s.NPC) })
	if i < 0 || !s.extend(reasonActiveQuest) {
		return false
	}
	observe.Logger(ctx).Info("conversation extended by active quest",
		"session_id", s.ID, "quest_id", active[i].ID)
	return true
}

// HandleQuestEvent lifts the turn cap of every open session whose NPC the
// event names as giver or turn-in target. It returns the number of sessions
// extended. Only started and ready-to-turn-in events extend sessions.
func (m *Manager) HandleQuestEvent(ctx context.Context, ev world.QuestEvent) int {
	if ev.Kind != world.QuestStarted && ev.Kind != world.QuestReadyToTurnIn {
		return 0
	}
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	n := 0
	for _, s := range open {
		if !questNames(ev.Quest, s.NPC) {
			continue
		}
		if s.extend(reasonActiveQuest) {
			n++
			observe.Logger(ctx).Info("conversation extended by quest event",
				"session_id", s.ID, "quest_id", ev.Quest.ID, "kind", string(ev.Kind))
		}
	}
	return n
}

// Session returns the open session with the given id.
func (m *Manager) Session(sessionID string) (*Session, error) {
	return m.lookup(sessionID)
}

// Sessions returns a snapshot of every open session, oldest first.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(open))
	for _, s := range open {
		out = append(out, s.Info())
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Shutdown closes every open session, flushing their history.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := m.close(ctx, s, reasonClosed, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) lookup(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s, nil
	}
	if _, ok := m.ended[sessionID]; ok {
		return nil, ErrSessionInactive
	}
	return nil, ErrSessionNotFound
}

func (m *Manager) closedReply() Reply {
	return Reply{Text: m.pickLine(m.cfg.ClosedLines, DefaultClosedLines), Ended: true}
}

func toLLM(history []memory.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, h := range history {
		role := llm.RoleUser
		if h.Role == memory.RoleNPC {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: h.Text})
	}
	return out
}
