// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks: [][]byte{pcmA, pcmB},
//	    Rate:   24000,
//	}
//	ch, _ := p.SynthesizeStream(ctx, tts.Text("hi"), voice)
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/animetalk/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of SynthesizeStream.
type SynthesizeCall struct {
	// Text is the concatenation of every fragment received.
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is emitted in order by every SynthesizeStream call.
	Chunks [][]byte

	// Rate is returned by SampleRate. Zero means 24000.
	Rate int

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	calls []SynthesizeCall
}

// SynthesizeStream drains text, records the call and emits Chunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	err := p.SynthesizeErr
	chunks := append([][]byte(nil), p.Chunks...)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for fragment := range text {
		sb.WriteString(fragment)
	}
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Text: sb.String(), Voice: voice})
	p.mu.Unlock()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	if p.Rate == 0 {
		return 24000
	}
	return p.Rate
}

// ListVoices returns Voices or ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.Voices, nil
}

// Calls returns a copy of the recorded SynthesizeStream calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.calls...)
}
