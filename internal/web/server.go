// Package web serves the HTTP API and the browser call endpoint.
package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/animetalk/internal/call"
	"github.com/MrWong99/animetalk/internal/calllog"
	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/internal/chat"
	"github.com/MrWong99/animetalk/internal/health"
	"github.com/MrWong99/animetalk/internal/observe"
	"github.com/MrWong99/animetalk/internal/speech"
)

// DefaultVisualizerInterval paces visualizer events on a call socket.
const DefaultVisualizerInterval = 50 * time.Millisecond

// maxBody bounds JSON request bodies.
const maxBody = 1 << 20

// Config holds the server's dependencies. Chat, Speaker and Calls are
// optional; their routes answer 501 when unset.
type Config struct {
	Characters character.Store
	CallLog    calllog.Store
	Calls      *call.Manager
	Chat       *chat.Service
	Speaker    *speech.Speaker
	Health     *health.Handler
	Metrics    *observe.Metrics

	// MetricsPath mounts the Prometheus handler. Empty disables it.
	MetricsPath string

	// AllowedOrigins are host patterns accepted for cross-origin call
	// sockets. Same-origin requests are always accepted.
	AllowedOrigins []string

	// InputSampleRate is the rate of microphone audio sent by the browser.
	// Zero means 16 kHz.
	InputSampleRate int

	VisualizerInterval time.Duration
}

// Server routes requests to the API handlers.
type Server struct {
	cfg Config
}

// New returns a Server. Characters and CallLog are required.
func New(cfg Config) (*Server, error) {
	if cfg.Characters == nil || cfg.CallLog == nil {
		return nil, errors.New("web: character store and call log are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.VisualizerInterval <= 0 {
		cfg.VisualizerInterval = DefaultVisualizerInterval
	}
	return &Server{cfg: cfg}, nil
}

// Handler returns the router with every route wrapped by the observe
// middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.cfg.Metrics))

	s.cfg.Health.Register(r)
	if s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, observe.MetricsHandler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/characters", s.handleListCharacters)
		r.Get("/characters/{id}", s.handleGetCharacter)
		r.Get("/characters/{id}/chat", s.handleChatHistory)
		r.Post("/characters/{id}/chat", s.handleChat)
		r.Delete("/characters/{id}/chat", s.handleClearChat)
		r.Post("/characters/{id}/speak", s.handleSpeak)

		r.Get("/calls", s.handleListCalls)
		r.Delete("/calls", s.handleClearCalls)
		r.Get("/calls/active", s.handleActiveCalls)
	})
	r.Get("/call/{id}", s.handleCall)
	return r
}

// ── Responses ─────────────────────────────────────────────────────────────

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("web: encode response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: code, Message: message})
}

var errEmptyBody = errors.New("request body is empty")

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}
