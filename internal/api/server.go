// Package api exposes the conversation core over HTTP.
//
// Routes:
//
//	POST   /v1/conversations                 open a conversation with a catalogue or inline NPC
//	GET    /v1/conversations                 list open conversations
//	POST   /v1/conversations/{id}/messages   send a player line
//	DELETE /v1/conversations/{id}            close a conversation
//	POST   /v1/quest-events                  report a quest lifecycle event
//	GET    /v1/greetings?npc={id}            greeting for a catalogue NPC
//	GET    /v1/speech                        speech queue state
//	POST   /v1/speech/stop                   stop speech and clear the queue
//	GET    /v1/npcs                          NPC catalogue
//	GET    /v1/npcs/{id}/directives          directives the NPC may use
//	GET    /v1/dispatch/last                 most recent executed directive
//	GET    /healthz, /readyz, /metrics
//
// Errors are JSON objects with an "error" field. A send to an ended
// conversation answers 410 with the in-fiction closing reply.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/parley/internal/command"
	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/world"
)

// Conversations is the session manager surface the API drives.
// *conversation.Manager satisfies it.
type Conversations interface {
	Open(ctx context.Context, who npc.Descriptor) (*conversation.Session, error)
	Send(ctx context.Context, sessionID, text string) (conversation.Reply, error)
	Close(ctx context.Context, sessionID string) error
	Sessions() []conversation.Info
	HandleQuestEvent(ctx context.Context, ev world.QuestEvent) int
}

// Greeter produces opening lines. *greeting.Cache satisfies it.
type Greeter interface {
	Get(ctx context.Context, who npc.Descriptor) (text string, cached bool, err error)
}

// Speech controls playback. *speech.Queue satisfies it.
type Speech interface {
	Stop()
	Len() int
	Idle() bool
}

// Directives reports directive permissions and history.
// *command.Dispatcher satisfies it.
type Directives interface {
	Allowed(role string) []command.Definition
	Last() (command.Execution, bool)
}

var (
	_ Conversations = (*conversation.Manager)(nil)
	_ Directives    = (*command.Dispatcher)(nil)
)

// Deps bundles what the server needs. Greetings and Speech may be nil; the
// matching routes then answer 501.
type Deps struct {
	Conversations Conversations
	Greetings     Greeter
	Speech        Speech
	Directives    Directives
	NPCs          []npc.Descriptor

	Health         *health.Handler
	Metrics        *observe.Metrics
	MetricsHandler http.Handler
}

// Server routes HTTP requests to the conversation core.
type Server struct {
	conv    Conversations
	greet   Greeter
	speech  Speech
	dirs    Directives
	npcs    []npc.Descriptor
	byID    map[string]npc.Descriptor
	handler http.Handler
}

// New builds the router.
func New(d Deps) *Server {
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Health == nil {
		d.Health = health.New()
	}
	s := &Server{
		conv:   d.Conversations,
		greet:  d.Greetings,
		speech: d.Speech,
		dirs:   d.Directives,
		npcs:   d.NPCs,
		byID:   make(map[string]npc.Descriptor, len(d.NPCs)),
	}
	for _, n := range d.NPCs {
		s.byID[n.ID] = n
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, observe.Middleware(d.Metrics))

	d.Health.Register(r)
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.openConversation)
			r.Get("/", s.listConversations)
			r.Post("/{id}/messages", s.sendMessage)
			r.Delete("/{id}", s.closeConversation)
		})
		r.Post("/quest-events", s.questEvent)
		r.Get("/greetings", s.greeting)
		r.Get("/speech", s.speechState)
		r.Post("/speech/stop", s.stopSpeech)
		r.Get("/npcs", s.listNPCs)
		r.Get("/npcs/{id}/directives", s.npcDirectives)
		r.Get("/dispatch/last", s.lastDispatch)
	})

	s.handler = r
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
