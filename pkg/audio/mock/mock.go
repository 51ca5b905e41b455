// Package mock provides in-memory implementations of [audio.Platform] and
// [audio.Connection] for unit tests.
//
// Typical usage:
//
//	conn := mock.NewConnection(16)
//	platform := &mock.Platform{ConnectResult: conn}
//	conn.Input <- audio.AudioFrame{...} // simulate the microphone
//	frame := <-conn.Output              // observe rendered audio
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/animetalk/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock [audio.Connection]. Tests write microphone frames to
// Input and read rendered frames from Output.
type Connection struct {
	// Input is returned by InputStream. Close it to simulate the device
	// going away.
	Input chan audio.AudioFrame

	// Output is returned by OutputStream.
	Output chan audio.AudioFrame

	// DisconnectError is returned by the first Disconnect call.
	DisconnectError error

	mu                  sync.Mutex
	callCountDisconnect int
	done                chan struct{}
	once                sync.Once
}

var _ audio.Connection = (*Connection)(nil)

// NewConnection returns a connection whose channels buffer n frames.
func NewConnection(n int) *Connection {
	return &Connection{
		Input:  make(chan audio.AudioFrame, n),
		Output: make(chan audio.AudioFrame, n),
		done:   make(chan struct{}),
	}
}

// InputStream implements [audio.Connection].
func (c *Connection) InputStream() <-chan audio.AudioFrame { return c.Input }

// OutputStream implements [audio.Connection].
func (c *Connection) OutputStream() chan<- audio.AudioFrame { return c.Output }

// Done implements [audio.Connection].
func (c *Connection) Done() <-chan struct{} { return c.done }

// Disconnect implements [audio.Connection]. Only the first call returns
// DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.callCountDisconnect++
	first := c.callCountDisconnect == 1
	c.mu.Unlock()

	c.once.Do(func() { close(c.done) })
	if first {
		return c.DisconnectError
	}
	return nil
}

// CallCountDisconnect reports how many times Disconnect was called.
func (c *Connection) CallCountDisconnect() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect when ConnectError is nil.
	ConnectResult audio.Connection

	// NewConnection, when set, is called on every Connect instead of
	// returning ConnectResult. Retry tests use it to hand out a fresh
	// device per attempt.
	NewConnection func() audio.Connection

	// ConnectError is returned by Connect.
	ConnectError error

	// ConnectCalls records the target of every Connect call.
	ConnectCalls []string
}

var _ audio.Platform = (*Platform)(nil)

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, target string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, target)
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if p.NewConnection != nil {
		return p.NewConnection(), nil
	}
	return p.ConnectResult, nil
}

// Calls returns a copy of ConnectCalls.
func (p *Platform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ConnectCalls...)
}
