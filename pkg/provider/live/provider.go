// Package live defines the Provider interface for streaming voice sessions
// with a remote inference service.
//
// A live session is full duplex: the caller streams gated microphone blocks
// and an optional greeting text turn upstream, and receives the character's
// synthesized speech as base64 PCM16 chunks together with control events
// (interrupted, turn complete, closed, error) on a single ordered channel.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// ErrSessionClosed is returned by send methods after the session has been
// closed or the connection has gone away.
var ErrSessionClosed = errors.New("live: session closed")

// Default generation parameters for a call.
const (
	DefaultTemperature     = 1.0
	DefaultTopP            = 0.95
	DefaultMaxOutputTokens = 1024

	// DefaultOutputSampleRate is assumed for audio chunks whose MIME type
	// carries no rate.
	DefaultOutputSampleRate = 24000

	// InputSampleRate is the rate of microphone blocks sent upstream.
	InputSampleRate = 16000
)

// SessionConfig is the configuration for opening a session.
type SessionConfig struct {
	// Voice is the provider's prebuilt voice name, e.g. "Puck".
	Voice string

	// SystemInstruction is the character's full instruction text.
	SystemInstruction string

	Temperature     float64
	TopP            float64
	MaxOutputTokens int
}

// DefaultSessionConfig returns a config with the default generation
// parameters and the given voice and instruction.
func DefaultSessionConfig(voice, instruction string) SessionConfig {
	return SessionConfig{
		Voice:             voice,
		SystemInstruction: instruction,
		Temperature:       DefaultTemperature,
		TopP:              DefaultTopP,
		MaxOutputTokens:   DefaultMaxOutputTokens,
	}
}

// EventKind identifies an inbound event.
type EventKind int

const (
	// EventAudio carries one chunk of synthesized speech.
	EventAudio EventKind = iota

	// EventInterrupted reports that the model stopped its current turn
	// because the user barged in. Buffered speech must be discarded.
	EventInterrupted

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventClosed reports that the remote side closed the session. It is
	// always the last event.
	EventClosed

	// EventError reports a connection or protocol failure. A fatal error
	// is followed by the channel closing without an EventClosed.
	EventError
)

// String returns the event label used in logs.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one inbound message from the session.
type Event struct {
	Kind EventKind

	// Audio is base64-encoded little-endian PCM16 mono. Decoding is left to
	// the consumer so that a malformed chunk can be skipped where it is
	// scheduled.
	Audio string

	// SampleRate of Audio in Hz.
	SampleRate int

	// Err is set for EventError.
	Err error
}

// Session is an open live session.
type Session interface {
	// Events returns the inbound event stream. The channel is closed when
	// the session ends for any reason.
	Events() <-chan Event

	// SendAudio sends one block of 16 kHz mono PCM16.
	SendAudio(ctx context.Context, pcm []byte) error

	// SendText sends a complete user text turn.
	SendText(ctx context.Context, text string) error

	// Close ends the session. It is idempotent; no EventClosed is emitted
	// for a locally initiated close.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect opens a session. The session is ready for audio when Connect
	// returns. An error is fatal for the call that requested it.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}

// SampleRateFromMIME extracts the rate parameter from MIME types such as
// "audio/pcm;rate=24000". It returns [DefaultOutputSampleRate] when the
// parameter is missing or malformed.
func SampleRateFromMIME(mime string) int {
	for param := range strings.SplitSeq(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			return rate
		}
	}
	return DefaultOutputSampleRate
}
