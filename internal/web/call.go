package web

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/animetalk/internal/call"
	"github.com/MrWong99/animetalk/internal/observe"
	"github.com/MrWong99/animetalk/pkg/audio/browser"
	"github.com/MrWong99/animetalk/pkg/audio/visualizer"
)

// eventBuffer bounds call events waiting to be written to the socket.
const eventBuffer = 32

// Events written to the browser as JSON text frames.

type stateEvent struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type interruptedEvent struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

type callEvent struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
}

// visualizerEvent carries magnitudes as numbers; a []uint8 would encode as
// base64.
type visualizerEvent struct {
	Type      string    `json:"type"`
	Frequency []int     `json:"frequency"`
	Average   float64   `json:"average"`
	Bars      []float64 `json:"bars"`
	InputRMS  float64   `json:"inputRms"`
}

func toWire(ev call.Event) any {
	switch ev.Kind {
	case call.EventInterrupted:
		return interruptedEvent{Type: "interrupted", Active: ev.Interrupted}
	default:
		out := stateEvent{Type: "state", State: ev.State.String()}
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
		return out
	}
}

func visualizerWire(s visualizer.Snapshot) visualizerEvent {
	freq := make([]int, len(s.Frequency))
	for i, v := range s.Frequency {
		freq[i] = int(v)
	}
	return visualizerEvent{
		Type:      "visualizer",
		Frequency: freq,
		Average:   s.Average,
		Bars:      s.Bars,
		InputRMS:  s.InputRMS,
	}
}

// handleCall upgrades to a WebSocket and runs a call on it until either the
// call ends or the browser goes away.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Calls == nil {
		respondError(w, http.StatusNotImplemented, "calls_unavailable", "no upstream configured")
		return
	}
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the response.
		observe.Logger(r.Context()).Debug("web: websocket accept", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx).With("character", c.ID)

	var opts []browser.Option
	if s.cfg.InputSampleRate > 0 {
		opts = append(opts, browser.WithInputSampleRate(s.cfg.InputSampleRate))
	}
	sock := browser.NewSocket(conn, opts...)
	go func() {
		if err := sock.Run(ctx); err != nil {
			log.Debug("web: call socket closed", "err", err)
		}
	}()

	events := make(chan any, eventBuffer)
	push := func(ev call.Event) {
		select {
		case events <- toWire(ev):
		default:
			log.Warn("web: call event dropped", "kind", ev.Kind)
		}
	}

	sess, err := s.cfg.Calls.Start(ctx, c, sock, "browser", push)
	if err != nil {
		log.Warn("web: start call", "err", err)
		_ = sock.SendEvent(ctx, stateEvent{Type: "state", State: call.StateError.String(), Error: err.Error()})
		_ = sock.Close("call unavailable")
		return
	}
	_ = sock.SendEvent(ctx, callEvent{Type: "call", CallID: sess.ID()})

	s.serveCall(ctx, sock, sess, events)
}

func (s *Server) serveCall(ctx context.Context, sock *browser.Socket, sess *call.Session, events <-chan any) {
	ticker := time.NewTicker(s.cfg.VisualizerInterval)
	defer ticker.Stop()

	send := func(v any) {
		if err := sock.SendEvent(ctx, v); err != nil {
			observe.Logger(ctx).Debug("web: send call event", "call_id", sess.ID(), "err", err)
		}
	}

	sockDone := sock.Done()
	commands := sock.Commands()
	for {
		select {
		case <-sess.Done():
		flush:
			for {
				select {
				case ev := <-events:
					send(ev)
				default:
					break flush
				}
			}
			_ = sock.Close("call ended")
			return

		case <-sockDone:
			sockDone, commands = nil, nil
			go sess.Hangup()

		case cmd := <-commands:
			switch cmd.Type {
			case browser.CommandHangup:
				go sess.Hangup()
			case browser.CommandRetry:
				go sess.Retry()
			default:
				observe.Logger(ctx).Debug("web: unknown call command", "type", cmd.Type)
			}

		case ev := <-events:
			send(ev)

		case <-ticker.C:
			if sockDone == nil {
				continue
			}
			if snap, ok := sess.Visualizer(); ok {
				send(visualizerWire(snap))
			}
		}
	}
}
