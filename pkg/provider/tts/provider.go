// Package tts defines the Provider interface for text-to-speech backends used
// by the speak path.
//
// A provider turns text fragments into a stream of raw little-endian PCM16
// mono audio. Chunks are emitted as soon as the service produces them so the
// caller can schedule playback before synthesis is complete.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrNoVoice is returned when a synthesis request names no voice.
var ErrNoVoice = errors.New("tts: voice must not be empty")

// VoiceProfile selects and directs a voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which backend the voice belongs to.
	Provider string

	// Instructions is a free-form acting direction ("Act as ... Current
	// emotion: SHOUT"). Providers without steerable delivery ignore it.
	Instructions string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments and returns a channel of PCM
	// chunks at [Provider.SampleRate]. The channel is closed when all text
	// has been synthesized, on error, or when ctx is cancelled; callers must
	// drain it. A non-nil error means the stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// SampleRate is the rate of emitted audio in Hz.
	SampleRate() int

	// ListVoices returns the voices available from the backend.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// Text returns a closed channel holding the single fragment s, for callers
// that have the whole text up front.
func Text(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}
