// Package speech renders a character's text reply as processed speech.
//
// A line is stripped of stage directions, classified for emotion, merged
// with the character's acoustic profile and synthesized by a TTS provider.
// The resulting PCM is scheduled and rendered offline through a Speak
// variant DSP graph, including the reverb tail, and returned as a WAV file.
package speech

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/animetalk/internal/character"
	"github.com/MrWong99/animetalk/internal/observe"
	"github.com/MrWong99/animetalk/pkg/audio"
	"github.com/MrWong99/animetalk/pkg/audio/dsp"
	"github.com/MrWong99/animetalk/pkg/audio/playback"
	"github.com/MrWong99/animetalk/pkg/audio/wavio"
	"github.com/MrWong99/animetalk/pkg/provider/tts"
	"github.com/MrWong99/animetalk/pkg/voice"
)

// ErrNothingToSay is returned when a line holds only stage directions.
var ErrNothingToSay = errors.New("speech: nothing to say")

const (
	// DefaultSampleRate is the rate of the rendered WAV.
	DefaultSampleRate = 24000

	// minTail is the least amount of audio rendered after the last chunk.
	minTail = 1.0

	// maxRender bounds offline rendering of a single line, in seconds.
	maxRender = 600.0
)

var actionPattern = regexp.MustCompile(`\*.*?\*`)

// Strip removes *action* segments and collapses the remaining whitespace.
func Strip(text string) string {
	return strings.Join(strings.Fields(actionPattern.ReplaceAllString(text, " ")), " ")
}

// Config configures a [Speaker].
type Config struct {
	TTS tts.Provider

	// Voices maps a character voice name to the provider's voice id. Names
	// without an entry are passed through unchanged.
	Voices map[string]string

	// Speed scales the emotional rate. Zero means 1.
	Speed float64

	// Flash adds the feedback echo to the graph.
	Flash bool

	SampleRate int
	Impulse    []float64

	Metrics *observe.Metrics
}

// Speaker renders lines. It is safe for concurrent use; each call builds its
// own graph and scheduler.
type Speaker struct {
	cfg Config
}

// New returns a Speaker for cfg.
func New(cfg Config) (*Speaker, error) {
	if cfg.TTS == nil {
		return nil, errors.New("speech: tts provider is required")
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Speaker{cfg: cfg}, nil
}

// Result is one rendered line.
type Result struct {
	// WAV is a 16-bit stereo WAV file.
	WAV []byte

	// Emotion is the detected delivery.
	Emotion voice.Kind

	// Profile is the merged profile the line was rendered with.
	Profile voice.EffectiveProfile

	// Text is what was sent to the synthesizer.
	Text string

	// Duration is the length of the rendered audio.
	Duration time.Duration
}

// Speak renders text as c.
func (s *Speaker) Speak(ctx context.Context, c character.Character, text string) (*Result, error) {
	ctx, span := observe.StartCharacterSpan(ctx, "speech.speak", c.ID)
	defer span.End()
	log := observe.Logger(ctx)
	start := time.Now()

	clean := Strip(text)
	if clean == "" {
		return nil, ErrNothingToSay
	}

	// Stage directions such as *whispers* are cues for the classifier.
	emotion := voice.Analyze(text, c.ID)
	profile := voice.Merge(c.Profile(), emotion)

	variant := dsp.Speak
	if s.cfg.Flash {
		variant = variant.WithFlash()
	}
	opts := []dsp.Option{dsp.WithSampleRate(s.cfg.SampleRate)}
	if s.cfg.Impulse != nil {
		opts = append(opts, dsp.WithImpulse(s.cfg.Impulse))
	}
	graph, err := dsp.Build(profile, variant, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech: build graph: %w", err)
	}

	clock := playback.NewSampleClock(s.cfg.SampleRate)
	sched := playback.NewScheduler(clock, playback.WithEpsilon(0))
	rate := profile.Rate * s.cfg.Speed

	vp := tts.VoiceProfile{
		ID:           s.voiceID(c.Voice()),
		Name:         c.Voice(),
		Instructions: character.ActingPrompt(c, emotion.Kind.String()),
	}
	pcm, err := s.cfg.TTS.SynthesizeStream(ctx, tts.Text(clean), vp)
	if err != nil {
		s.cfg.Metrics.RecordProviderError(ctx, "tts", "synthesize")
		return nil, fmt.Errorf("speech: synthesize: %w", err)
	}

	chunks, err := enqueueStream(ctx, pcm, sched, s.cfg.TTS.SampleRate(), rate, profile.Detune)
	if err != nil {
		return nil, err
	}
	if chunks == 0 {
		s.cfg.Metrics.RecordProviderError(ctx, "tts", "empty")
		return nil, errors.New("speech: synthesizer returned no audio")
	}

	samples, err := render(clock, sched, graph, math.Max(graph.TailSeconds(), minTail))
	if err != nil {
		return nil, err
	}

	var buf wavio.Buffer
	if err := wavio.Encode(&buf, samples, s.cfg.SampleRate, 2); err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}

	res := &Result{
		WAV:      buf.Bytes(),
		Emotion:  emotion.Kind,
		Profile:  profile,
		Text:     clean,
		Duration: time.Duration(len(samples)/2) * time.Second / time.Duration(s.cfg.SampleRate),
	}
	s.cfg.Metrics.SpeakDuration.Record(ctx, time.Since(start).Seconds())
	log.Debug("line rendered",
		"emotion", emotion.Kind.String(),
		"chunks", chunks,
		"audio", res.Duration.Round(time.Millisecond),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

func (s *Speaker) voiceID(name string) string {
	if id, ok := s.cfg.Voices[name]; ok && id != "" {
		return id
	}
	return name
}

// enqueueStream schedules every PCM chunk from in. A byte split across two
// chunks is carried over. On error the rest of in is drained in the
// background.
func enqueueStream(ctx context.Context, in <-chan []byte, sched *playback.Scheduler, srcRate int, rate, detune float64) (n int, err error) {
	defer func() {
		if err != nil {
			go audio.Drain(in)
		}
	}()
	var carry []byte
	for data := range in {
		if len(carry) > 0 {
			data = append(carry, data...)
			carry = nil
		}
		if len(data)%2 == 1 {
			carry = []byte{data[len(data)-1]}
			data = data[:len(data)-1]
		}
		if len(data) == 0 {
			continue
		}
		c, err := playback.ChunkFromPCM16(data, srcRate)
		if err != nil {
			return n, fmt.Errorf("speech: %w", err)
		}
		if _, err := sched.Enqueue(c, rate, detune); err != nil {
			return n, fmt.Errorf("speech: %w", err)
		}
		n++
	}
	if err := ctx.Err(); err != nil {
		return n, fmt.Errorf("speech: %w", err)
	}
	return n, nil
}

// render drives the graph until every chunk has played and tail seconds of
// silence have passed, returning interleaved stereo samples.
func render(clock *playback.SampleClock, sched *playback.Scheduler, graph *dsp.Graph, tail float64) ([]float32, error) {
	r := playback.NewRenderer(clock, sched, graph)
	block := r.BlockFrames()
	limit := int64(maxRender * float64(clock.SampleRate()))
	tailFrames := int(math.Ceil(tail * float64(clock.SampleRate())))

	var out []float32
	emit := func() error {
		left, right, err := r.RenderBlock()
		if err != nil {
			return fmt.Errorf("speech: %w", err)
		}
		for i := range left {
			out = append(out, left[i], right[i])
		}
		return nil
	}

	for sched.ActiveCount() > 0 {
		if clock.Frames() >= limit {
			return nil, fmt.Errorf("speech: line exceeds %.0f s", maxRender)
		}
		if err := emit(); err != nil {
			return nil, err
		}
	}
	for rendered := 0; rendered < tailFrames; rendered += block {
		if err := emit(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
