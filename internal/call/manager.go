package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/pkg/audio"
)

// ErrShuttingDown is returned by [Manager.Start] after [Manager.HangupAll].
var ErrShuttingDown = errors.New("call: manager is shutting down")

// Info describes an active call.
type Info struct {
	ID            string    `json:"id"`
	CharacterID   string    `json:"characterId"`
	CharacterName string    `json:"characterName"`
	StartedAt     time.Time `json:"startedAt"`
	State         string    `json:"state"`
}

// Manager starts calls from a shared base configuration and tracks them
// until they end. All methods are safe for concurrent use.
type Manager struct {
	base Config

	mu     sync.Mutex
	calls  map[string]*Session
	closed bool
	wg     sync.WaitGroup
}

// NewManager returns a manager. base supplies every [Config] field except
// the character, device, target and event callback.
func NewManager(base Config) *Manager {
	return &Manager{base: base, calls: make(map[string]*Session)}
}

// Start creates a call and runs it in the background until it is hung up or
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context, c character.Character, dev audio.Platform, target string, onEvent func(Event)) (*Session, error) {
	cfg := m.base
	cfg.Character = c
	cfg.Device = dev
	cfg.Target = target
	cfg.OnEvent = onEvent

	s, err := New(cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	m.calls[s.ID()] = s
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		_ = s.Run(ctx)
		m.mu.Lock()
		delete(m.calls, s.ID())
		m.mu.Unlock()
	}()
	return s, nil
}

// Active lists the calls that have not ended yet.
func (m *Manager) Active() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.calls))
	for _, s := range m.calls {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		st, _ := s.State()
		c := s.Character()
		out = append(out, Info{
			ID:            s.ID(),
			CharacterID:   c.ID,
			CharacterName: c.Name,
			StartedAt:     s.StartedAt(),
			State:         st.String(),
		})
	}
	return out
}

// Get returns the active call with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.calls[id]
	return s, ok
}

// HangupAll refuses new calls, hangs up every active call and waits for
// them to finish.
func (m *Manager) HangupAll() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.calls))
	for _, s := range m.calls {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Hangup()
		}()
	}
	wg.Wait()
	m.wg.Wait()
}
