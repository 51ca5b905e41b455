package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/animetalk/pkg/audio"
	"github.com/MrWong99/animetalk/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that falls back from one speech backend to
// the next. Only stream setup is covered: once a backend has started
// streaming, a mid-stream failure ends that reply.
//
// Audio from a backend whose native rate differs from the primary's is
// resampled, so callers can rely on [TTSFallback.SampleRate] regardless of
// which backend answered.
type TTSFallback struct {
	members *Failover[tts.Provider]
	rate    int
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a fallback chain starting with primary. cfg tunes
// the breaker of every member.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg BreakerConfig) *TTSFallback {
	f := &TTSFallback{members: NewFailover[tts.Provider](cfg), rate: primary.SampleRate()}
	f.members.Add(primaryName, primary)
	return f
}

// AddFallback appends a backend to the chain.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.members.Add(name, provider)
}

// Backends returns the backend names in the order they are tried.
func (f *TTSFallback) Backends() []string { return f.members.Names() }

// Check fails while every backend's breaker is open.
func (f *TTSFallback) Check(context.Context) error {
	for _, m := range f.members.members {
		if m.breaker.State() != StateOpen {
			return nil
		}
	}
	return &OpenError{Name: "speak"}
}

// SampleRate returns the primary backend's rate.
func (f *TTSFallback) SampleRate() int { return f.rate }

// SynthesizeStream collects the whole text first so that each backend can be
// handed its own copy.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	var sb strings.Builder
	for fragment := range text {
		sb.WriteString(fragment)
	}
	full := sb.String()

	return Try(ctx, f.members, func(ctx context.Context, p tts.Provider) (<-chan []byte, error) {
		ch, err := p.SynthesizeStream(ctx, tts.Text(full), voice)
		if err != nil {
			return nil, err
		}
		if src := p.SampleRate(); src != f.rate {
			return resampleStream(ctx, ch, src, f.rate), nil
		}
		return ch, nil
	})
}

// ListVoices returns the voices of the first backend that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return Try(ctx, f.members, func(ctx context.Context, p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

func resampleStream(ctx context.Context, in <-chan []byte, src, dst int) <-chan []byte {
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		defer audio.Drain(in)
		for chunk := range in {
			select {
			case out <- audio.Resample16(chunk, 1, src, dst):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
