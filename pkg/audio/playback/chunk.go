// Package playback schedules decoded audio chunks back to back on a
// sample-accurate audio clock and renders them through a DSP graph.
//
// The [Scheduler] owns the playback state: the time at which the next chunk
// starts and the set of chunks that are queued or sounding. The [Renderer]
// owns the audio clock. It advances the clock only by rendering frames, so
// scheduled start times are exact in output samples regardless of wall-clock
// jitter.
package playback

import (
	"errors"
	"fmt"

	"github.com/MrWong99/animetalk/pkg/audio"
)

// ErrInvalidChunk is returned when a chunk has no samples or no sample rate.
var ErrInvalidChunk = errors.New("playback: invalid chunk")

// ErrDecode wraps the reason an encoded chunk could not be decoded.
var ErrDecode = errors.New("playback: decode failed")

// Chunk is a decoded mono PCM buffer.
type Chunk struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the chunk's length in seconds at its native rate.
func (c Chunk) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Validate reports whether c can be scheduled.
func (c Chunk) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidChunk, c.SampleRate)
	case len(c.Samples) == 0:
		return fmt.Errorf("%w: no samples", ErrInvalidChunk)
	}
	return nil
}

// DecodeChunk decodes base64 mono PCM16 little-endian audio at sampleRate.
func DecodeChunk(data string, sampleRate int) (Chunk, error) {
	samples, err := audio.DecodeBase64PCM16(data, 1)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	c := Chunk{Samples: samples, SampleRate: sampleRate}
	if err := c.Validate(); err != nil {
		return Chunk{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return c, nil
}

// ChunkFromPCM16 wraps raw mono PCM16 little-endian bytes.
func ChunkFromPCM16(pcm []byte, sampleRate int) (Chunk, error) {
	if len(pcm)%2 != 0 {
		return Chunk{}, fmt.Errorf("%w: %w", ErrDecode, audio.ErrMalformedPCM)
	}
	c := Chunk{Samples: audio.PCM16ToFloat(pcm), SampleRate: sampleRate}
	if err := c.Validate(); err != nil {
		return Chunk{}, err
	}
	return c, nil
}
