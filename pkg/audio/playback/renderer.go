package playback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/animetalk/pkg/audio"
	"github.com/MrWong99/animetalk/pkg/audio/dsp"
)

// DefaultBlockQuanta is the number of DSP quanta rendered per block.
const DefaultBlockQuanta = 4

// Processor turns a mono block into a stereo block. [*dsp.Graph] satisfies
// it.
type Processor interface {
	Process(in, left, right []float32) error
}

// Compile-time interface assertion.
var _ Processor = (*dsp.Graph)(nil)

// StereoSink receives a copy of every rendered block.
type StereoSink interface {
	WriteStereo(left, right []float32) error
}

// RendererOption configures a [Renderer].
type RendererOption func(*Renderer)

// WithBlockQuanta sets how many quanta are rendered per block.
func WithBlockQuanta(n int) RendererOption {
	return func(r *Renderer) {
		if n > 0 {
			r.quanta = n
		}
	}
}

// WithTee copies every rendered block into sink. Sink errors are logged once
// and the tee is then disabled.
func WithTee(sink StereoSink) RendererOption {
	return func(r *Renderer) {
		r.tee = sink
	}
}

// WithDropHook registers fn to be called whenever a real-time block is
// dropped because the output did not accept it in time.
func WithDropHook(fn func()) RendererOption {
	return func(r *Renderer) {
		r.onDrop = fn
	}
}

// Renderer mixes a scheduler's chunks through a processor and advances the
// sample clock.
//
// A Renderer is driven by one goroutine: either [Renderer.Run] for real-time
// output or repeated [Renderer.RenderBlock] calls for offline rendering.
type Renderer struct {
	clock  *SampleClock
	sched  *Scheduler
	proc   Processor
	quanta int
	tee    StereoSink
	onDrop func()

	mix, left, right []float32
}

// NewRenderer returns a renderer that pulls from sched through proc and
// advances clock.
func NewRenderer(clock *SampleClock, sched *Scheduler, proc Processor, opts ...RendererOption) *Renderer {
	r := &Renderer{
		clock:  clock,
		sched:  sched,
		proc:   proc,
		quanta: DefaultBlockQuanta,
	}
	for _, o := range opts {
		o(r)
	}
	n := r.BlockFrames()
	r.mix = make([]float32, n)
	r.left = make([]float32, n)
	r.right = make([]float32, n)
	return r
}

// BlockFrames returns the number of frames per rendered block.
func (r *Renderer) BlockFrames() int { return r.quanta * dsp.Quantum }

// BlockDuration returns the wall-clock length of one block.
func (r *Renderer) BlockDuration() time.Duration {
	return time.Duration(r.BlockFrames()) * time.Second / time.Duration(r.clock.SampleRate())
}

// RenderBlock renders the next block and advances the clock. The returned
// slices are reused by the next call.
func (r *Renderer) RenderBlock() (left, right []float32, err error) {
	clear(r.mix)
	r.sched.Mix(r.mix, r.clock.Frames(), r.clock.SampleRate())
	if err := r.proc.Process(r.mix, r.left, r.right); err != nil {
		return nil, nil, fmt.Errorf("playback: render: %w", err)
	}
	r.clock.Advance(len(r.mix))

	if r.tee != nil {
		if err := r.tee.WriteStereo(r.left, r.right); err != nil {
			slog.Warn("playback: recording disabled", "err", err)
			r.tee = nil
		}
	}
	return r.left, r.right, nil
}

// Run renders one block per block duration and delivers it to out as 16-bit
// stereo PCM until ctx is cancelled. A block that out cannot accept
// immediately is dropped; the clock still advances so that scheduled start
// times stay aligned with wall time.
func (r *Renderer) Run(ctx context.Context, out chan<- audio.AudioFrame) error {
	ticker := time.NewTicker(r.BlockDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		ts := time.Duration(r.clock.Frames()) * time.Second / time.Duration(r.clock.SampleRate())
		left, right, err := r.RenderBlock()
		if err != nil {
			return err
		}
		frame := audio.AudioFrame{
			Data:       audio.InterleaveStereo16(left, right),
			SampleRate: r.clock.SampleRate(),
			Channels:   2,
			Timestamp:  ts,
		}
		select {
		case out <- frame:
		default:
			slog.Debug("playback: output not ready, block dropped", "at", ts)
			if r.onDrop != nil {
				r.onDrop()
			}
		}
	}
}
