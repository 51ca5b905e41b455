// Package mock provides test doubles for the live package interfaces.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	s, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.Event{Kind: live.EventInterrupted})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/animetalk/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, every Connect returns a fresh
	// [Session].
	Session *Session

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// ConnectCalls records the config of every Connect call.
	ConnectCalls []live.SessionConfig

	sessions []*Session
}

// Connect records the call and returns Session or ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Calls returns a copy of ConnectCalls.
func (p *Provider) Calls() []live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]live.SessionConfig(nil), p.ConnectCalls...)
}

// Last returns the most recently handed-out session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// SetConnectErr replaces ConnectErr under the lock.
func (p *Provider) SetConnectErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectErr = err
}

// Session is a mock live.Session. Tests drive inbound traffic with Emit and
// inspect outbound traffic with Audio and Texts.
type Session struct {
	mu     sync.Mutex
	events chan live.Event
	closed bool
	audio  [][]byte
	texts  []string

	// SendErr, if non-nil, is returned by SendAudio and SendText.
	SendErr error

	closeCount int
}

// NewSession returns a session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 64)}
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.events }

// Emit delivers ev to the consumer. It reports false once the session is
// closed.
func (s *Session) Emit(ev live.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events <- ev
	return true
}

// RemoteClose emits EventClosed and ends the event stream, as a server-side
// close would.
func (s *Session) RemoteClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- live.Event{Kind: live.EventClosed}
	s.closed = true
	close(s.events)
}

// SendAudio records pcm.
func (s *Session) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.audio = append(s.audio, pcm)
	return nil
}

// SendText records text.
func (s *Session) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.texts = append(s.texts, text)
	return nil
}

// Close ends the event stream. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Audio returns a copy of the recorded audio blocks.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// Texts returns a copy of the recorded text turns.
func (s *Session) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// CloseCount reports how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
