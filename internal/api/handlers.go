package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/world"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

type openRequest struct {
	// NPCID selects a catalogue entry.
	NPCID string `json:"npc_id"`

	// NPC describes an NPC inline. Ignored when NPCID is set.
	NPC *npc.Descriptor `json:"npc"`

	// Greet fetches an opening line with the session.
	Greet bool `json:"greet"`
}

type openResponse struct {
	Session        conversation.Info `json:"session"`
	Greeting       string            `json:"greeting,omitempty"`
	GreetingCached bool              `json:"greeting_cached,omitempty"`
}

type sendRequest struct {
	Text string `json:"text"`
}

type greetingResponse struct {
	NPCID  string `json:"npc_id"`
	Text   string `json:"text"`
	Cached bool   `json:"cached"`
}

type questEventResponse struct {
	Extended int `json:"extended"`
}

type speechState struct {
	Pending int  `json:"pending"`
	Idle    bool `json:"idle"`
}

func (s *Server) openConversation(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !decode(w, r, &req) {
		return
	}
	who, ok := s.resolveNPC(req)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown npc %q", req.NPCID))
		return
	}
	if who.Name == "" && who.ID == "" {
		writeError(w, http.StatusBadRequest, "npc_id or npc is required")
		return
	}

	sess, err := s.conv.Open(r.Context(), who)
	if err != nil {
		observe.Logger(r.Context()).Error("open conversation", "npc", who.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not open conversation")
		return
	}
	resp := openResponse{Session: sess.Info()}
	if req.Greet && s.greet != nil {
		text, cached, err := s.greet.Get(r.Context(), who)
		if err != nil {
			observe.Logger(r.Context()).Warn("greeting unavailable", "npc", who.ID, "err", err)
		} else {
			resp.Greeting, resp.GreetingCached = text, cached
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) resolveNPC(req openRequest) (npc.Descriptor, bool) {
	if req.NPCID != "" {
		d, ok := s.byID[req.NPCID]
		return d, ok
	}
	if req.NPC != nil {
		return *req.NPC, true
	}
	return npc.Descriptor{}, true
}

func (s *Server) listConversations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.conv.Sessions())
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	reply, err := s.conv.Send(r.Context(), chi.URLParam(r, "id"), req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, reply)
	case errors.Is(err, conversation.ErrSessionInactive):
		writeJSON(w, http.StatusGone, reply)
	default:
		s.writeSessionError(w, r, err)
	}
}

func (s *Server) closeConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.conv.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, conversation.ErrSessionInactive):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, conversation.ErrSessionBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		observe.Logger(r.Context()).Error("conversation request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) questEvent(w http.ResponseWriter, r *http.Request) {
	var ev world.QuestEvent
	if !decode(w, r, &ev) {
		return
	}
	if !ev.Kind.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event kind %q", ev.Kind))
		return
	}
	if ev.Quest.ID == "" {
		writeError(w, http.StatusBadRequest, "quest.id is required")
		return
	}
	n := s.conv.HandleQuestEvent(r.Context(), ev)
	writeJSON(w, http.StatusOK, questEventResponse{Extended: n})
}

func (s *Server) greeting(w http.ResponseWriter, r *http.Request) {
	if s.greet == nil {
		writeError(w, http.StatusNotImplemented, "greetings are disabled")
		return
	}
	id := r.URL.Query().Get("npc")
	who, ok := s.byID[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown npc %q", id))
		return
	}
	text, cached, err := s.greet.Get(r.Context(), who)
	if err != nil {
		observe.Logger(r.Context()).Warn("greeting fetch failed", "npc", id, "err", err)
		writeError(w, http.StatusBadGateway, "greeting unavailable")
		return
	}
	writeJSON(w, http.StatusOK, greetingResponse{NPCID: id, Text: text, Cached: cached})
}

func (s *Server) speechState(w http.ResponseWriter, _ *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusNotImplemented, "speech is disabled")
		return
	}
	writeJSON(w, http.StatusOK, speechState{Pending: s.speech.Len(), Idle: s.speech.Idle()})
}

func (s *Server) stopSpeech(w http.ResponseWriter, _ *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusNotImplemented, "speech is disabled")
		return
	}
	s.speech.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listNPCs(w http.ResponseWriter, _ *http.Request) {
	out := s.npcs
	if out == nil {
		out = []npc.Descriptor{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) npcDirectives(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	who, ok := s.byID[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown npc %q", id))
		return
	}
	writeJSON(w, http.StatusOK, s.dirs.Allowed(who.RoleType))
}

func (s *Server) lastDispatch(w http.ResponseWriter, _ *http.Request) {
	last, ok := s.dirs.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// decode reads a JSON body into v. On failure it writes a 400 and returns
// false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
