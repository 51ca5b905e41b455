// Package chat produces text replies in character.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/internal/observe"
	"github.com/MrWong99/animetalk/pkg/provider/llm"
)

// MaxHistory is the number of messages kept per conversation.
const MaxHistory = 100

var (
	// ErrEmptyMessage is returned for a blank user turn.
	ErrEmptyMessage = errors.New("chat: message must not be empty")

	// ErrEmptyReply is returned when the model answers with nothing.
	ErrEmptyReply = errors.New("chat: empty reply")
)

// Option configures a [Service].
type Option func(*Service)

// WithTemperature sets the sampling temperature. Zero keeps the provider
// default.
func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(s *Service) { s.maxTokens = n }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service generates replies and keeps one conversation per character in
// memory.
type Service struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics

	mu        sync.Mutex
	histories map[string][]llm.Message
}

// New returns a Service backed by p.
func New(p llm.Provider, opts ...Option) *Service {
	s := &Service{
		llm:       p,
		metrics:   observe.DefaultMetrics(),
		histories: make(map[string][]llm.Message),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reply answers text as c given the prior history. It returns the reply and
// the history extended by both turns and capped at [MaxHistory]. history is
// not modified.
func (s *Service) Reply(ctx context.Context, c character.Character, history []llm.Message, text string) (string, []llm.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, ErrEmptyMessage
	}
	ctx, span := observe.StartCharacterSpan(ctx, "chat.reply", c.ID)
	defer span.End()

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	start := time.Now()
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: character.ChatInstruction(c),
		Messages:     Trim(msgs),
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		s.metrics.RecordProviderError(ctx, "llm", "complete")
		return "", nil, fmt.Errorf("chat: %w", err)
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", nil, ErrEmptyReply
	}

	observe.Logger(ctx).Debug("chat reply",
		"history", len(history),
		"tokens", resp.Usage.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: reply})
	return reply, Trim(msgs), nil
}

// Say answers text as c using the stored conversation for c and records
// both turns on success.
func (s *Service) Say(ctx context.Context, c character.Character, text string) (string, error) {
	history := s.History(c.ID)
	reply, updated, err := s.Reply(ctx, c, history, text)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.histories[c.ID] = updated
	s.mu.Unlock()
	return reply, nil
}

// History returns a copy of the stored conversation with a character.
func (s *Service) History(characterID string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.histories[characterID]...)
}

// Clear forgets the conversation with a character.
func (s *Service) Clear(characterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, characterID)
}

// Trim returns the last [MaxHistory] messages of msgs.
func Trim(msgs []llm.Message) []llm.Message {
	if len(msgs) <= MaxHistory {
		return msgs
	}
	return msgs[len(msgs)-MaxHistory:]
}
