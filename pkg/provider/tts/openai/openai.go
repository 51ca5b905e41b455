// Package openai provides a tts.Provider backed by the OpenAI speech API.
//
// The whole text is synthesized in one request with raw PCM output (24 kHz,
// 16-bit, mono), and the response body is forwarded in fixed-size chunks as
// it streams in.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/animetalk/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultModel = "gpt-4o-mini-tts"
	sampleRate   = 24000

	// chunkBytes is 100 ms of 24 kHz PCM16.
	chunkBytes = sampleRate / 10 * 2
)

var voices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

// Option is a functional option for Provider.
type Option func(*config)

type config struct {
	model   string
	baseURL string
	speed   float64
}

// WithModel sets the speech model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithSpeed sets the server-side speaking speed (0.25 to 4).
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	speed  float64
}

// New constructs a provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := config{model: defaultModel}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model, speed: cfg.speed}, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return sampleRate }

// SynthesizeStream collects all fragments from text, then issues one speech
// request. Voice instructions are passed through for models that accept them.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, tts.ErrNoVoice
	}

	var sb strings.Builder
collect:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case fragment, ok := <-text:
			if !ok {
				break collect
			}
			sb.WriteString(fragment)
		}
	}
	input := strings.TrimSpace(sb.String())
	if input == "" {
		return nil, errors.New("openai: empty input text")
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          input,
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Instructions != "" {
		params.Instructions = oai.String(voice.Instructions)
	}
	if p.speed > 0 {
		params.Speed = oai.Float(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: speech: %w", err)
	}

	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		for {
			buf := make([]byte, chunkBytes)
			n, err := io.ReadFull(resp.Body, buf)
			// Keep whole samples only; a stray odd byte would misalign
			// every following chunk.
			n -= n % 2
			if n > 0 {
				select {
				case out <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					slog.Warn("openai: speech stream ended early", "error", err)
				}
				return
			}
		}
	}()
	return out, nil
}

// ListVoices returns the built-in voices. The API has no listing endpoint.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, len(voices))
	for i, v := range voices {
		out[i] = tts.VoiceProfile{ID: v, Name: v, Provider: "openai"}
	}
	return out, nil
}
