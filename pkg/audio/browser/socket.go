// Package browser provides an [audio.Platform] backed by a browser
// WebSocket.
//
// One [Socket] wraps one accepted WebSocket. Binary frames from the browser
// carry 16 kHz mono PCM16 microphone audio; binary frames to the browser
// carry the rendered call output. Text frames carry JSON: commands from the
// browser and events to it.
//
// The socket outlives individual connection attempts. Each [Socket.Connect]
// returns a fresh binding; disconnecting a binding detaches it without
// closing the socket, so a call can retry on the same page.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/animetalk/pkg/audio"
)

var _ audio.Platform = (*Socket)(nil)

const (
	// InputSampleRate is the rate of microphone frames sent by the browser.
	InputSampleRate = 16000

	inputBuffer   = 64
	commandBuffer = 8
	writeTimeout  = 5 * time.Second
)

// Command is a control message sent by the browser.
type Command struct {
	Type string `json:"type"`
}

// Known command types.
const (
	CommandHangup = "hangup"
	CommandRetry  = "retry"
)

// Option configures a [Socket].
type Option func(*Socket)

// WithInputSampleRate overrides the rate stamped on microphone frames.
func WithInputSampleRate(hz int) Option {
	return func(s *Socket) { s.inputRate = hz }
}

// Socket is a browser WebSocket acting as an audio device.
//
// Socket is safe for concurrent use.
type Socket struct {
	conn      *websocket.Conn
	inputRate int

	writeMu  sync.Mutex
	commands chan Command
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	current *binding
}

// NewSocket wraps an accepted WebSocket. Call [Socket.Run] to start reading.
func NewSocket(conn *websocket.Conn, opts ...Option) *Socket {
	s := &Socket{
		conn:      conn,
		inputRate: InputSampleRate,
		commands:  make(chan Command, commandBuffer),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Commands delivers control messages from the browser.
func (s *Socket) Commands() <-chan Command { return s.commands }

// Done is closed when the socket stops reading.
func (s *Socket) Done() <-chan struct{} { return s.done }

// Run reads from the socket until it is closed or ctx is cancelled. A normal
// closure by either side returns nil.
func (s *Socket) Run(ctx context.Context) error {
	defer s.terminate()
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("browser: read: %w", err)
		}
		switch typ {
		case websocket.MessageBinary:
			s.deliver(audio.AudioFrame{Data: data, SampleRate: s.inputRate, Channels: 1})
		case websocket.MessageText:
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
				slog.Debug("browser: ignoring malformed message", "err", err)
				continue
			}
			select {
			case s.commands <- cmd:
			default:
				slog.Warn("browser: command dropped", "type", cmd.Type)
			}
		}
	}
}

// SendEvent writes v as a JSON text frame.
func (s *Socket) SendEvent(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("browser: encode event: %w", err)
	}
	return s.write(ctx, websocket.MessageText, data)
}

func (s *Socket) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("browser: write: %w", err)
	}
	return nil
}

// Close closes the WebSocket with a normal closure.
func (s *Socket) Close(reason string) error {
	return s.conn.Close(websocket.StatusNormalClosure, reason)
}

// Connect attaches a new binding, detaching the previous one. The target is
// ignored; a socket serves exactly one caller.
func (s *Socket) Connect(_ context.Context, _ string) (audio.Connection, error) {
	select {
	case <-s.done:
		return nil, audio.ErrDeviceClosed
	default:
	}

	b := newBinding(s)
	s.mu.Lock()
	prev := s.current
	s.current = b
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Disconnect()
	}
	go b.forwardOutput()
	return b, nil
}

// deliver hands a microphone frame to the attached binding, dropping it if
// none is attached or its buffer is full.
func (s *Socket) deliver(f audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	select {
	case s.current.input <- f:
	default:
	}
}

// detach removes b if it is the attached binding. The input channel is closed
// under the lock so that deliver never sends on it afterwards.
func (s *Socket) detach(b *binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == b {
		s.current = nil
	}
	b.inputOnce.Do(func() { close(b.input) })
}

func (s *Socket) terminate() {
	s.doneOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	b := s.current
	s.mu.Unlock()
	if b != nil {
		_ = b.Disconnect()
	}
}
