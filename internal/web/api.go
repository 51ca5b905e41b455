package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/internal/chat"
	"github.com/MrWong99/animetalk/internal/observe"
	"github.com/MrWong99/animetalk/internal/speech"
	"github.com/MrWong99/animetalk/pkg/provider/llm"
)

// lookup resolves the {id} path parameter, writing the error response
// itself when it fails.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (character.Character, bool) {
	id := chi.URLParam(r, "id")
	c, err := s.cfg.Characters.Get(r.Context(), id)
	switch {
	case errors.Is(err, character.ErrNotFound):
		respondError(w, http.StatusNotFound, "character_not_found", "no character with id "+id)
		return character.Character{}, false
	case err != nil:
		observe.Logger(r.Context()).Error("web: get character", "id", id, "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "could not load character")
		return character.Character{}, false
	}
	return c, true
}

func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := s.cfg.Characters.List(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("web: list characters", "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "could not list characters")
		return
	}
	respondJSON(w, http.StatusOK, character.Filter(chars, r.URL.Query().Get("q")))
}

func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	if c, ok := s.lookup(w, r); ok {
		respondJSON(w, http.StatusOK, c)
	}
}

// ── Call log ──────────────────────────────────────────────────────────────

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cfg.CallLog.List(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("web: list calls", "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "could not list calls")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClearCalls(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.CallLog.Clear(r.Context()); err != nil {
		observe.Logger(r.Context()).Error("web: clear calls", "err", err)
		respondError(w, http.StatusInternalServerError, "store_error", "could not clear calls")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActiveCalls(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Calls == nil {
		respondJSON(w, http.StatusOK, []any{})
		return
	}
	respondJSON(w, http.StatusOK, s.cfg.Calls.Active())
}

// ── Chat ──────────────────────────────────────────────────────────────────

type chatRequest struct {
	Message string `json:"message"`

	// History, when present, makes the request stateless: the reply is
	// generated against it and the server-side conversation is untouched.
	History []llm.Message `json:"history,omitempty"`
}

type chatResponse struct {
	Reply   string        `json:"reply"`
	History []llm.Message `json:"history"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Chat == nil {
		respondError(w, http.StatusNotImplemented, "chat_unavailable", "no chat provider configured")
		return
	}
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var (
		reply   string
		history []llm.Message
		err     error
	)
	if req.History != nil {
		reply, history, err = s.cfg.Chat.Reply(r.Context(), c, req.History, req.Message)
	} else {
		reply, err = s.cfg.Chat.Say(r.Context(), c, req.Message)
		history = s.cfg.Chat.History(c.ID)
	}
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "empty_message", err.Error())
		return
	case err != nil:
		observe.Logger(r.Context()).Warn("web: chat", "character", c.ID, "err", err)
		respondError(w, http.StatusBadGateway, "chat_failed", "the chat provider did not answer")
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{Reply: reply, History: history})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Chat == nil {
		respondError(w, http.StatusNotImplemented, "chat_unavailable", "no chat provider configured")
		return
	}
	if c, ok := s.lookup(w, r); ok {
		history := s.cfg.Chat.History(c.ID)
		if history == nil {
			history = []llm.Message{}
		}
		respondJSON(w, http.StatusOK, history)
	}
}

func (s *Server) handleClearChat(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Chat == nil {
		respondError(w, http.StatusNotImplemented, "chat_unavailable", "no chat provider configured")
		return
	}
	if c, ok := s.lookup(w, r); ok {
		s.cfg.Chat.Clear(c.ID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ── Speak ─────────────────────────────────────────────────────────────────

type speakRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Speaker == nil {
		respondError(w, http.StatusNotImplemented, "speak_unavailable", "no speech provider configured")
		return
	}
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.cfg.Speaker.Speak(r.Context(), c, req.Text)
	switch {
	case errors.Is(err, speech.ErrNothingToSay):
		respondError(w, http.StatusUnprocessableEntity, "nothing_to_say", "the text holds only stage directions")
		return
	case err != nil:
		observe.Logger(r.Context()).Warn("web: speak", "character", c.ID, "err", err)
		respondError(w, http.StatusBadGateway, "speak_failed", "speech synthesis failed")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Emotion", res.Emotion.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.WAV)
}
