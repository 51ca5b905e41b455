// Package capture turns microphone audio into gated PCM16 blocks for the
// upstream inference session.
//
// A [Gate] re-blocks 16 kHz mono input into fixed-size blocks, measures each
// block's RMS and offers blocks above the threshold to a [Sender] without
// blocking. Quiet blocks are dropped. Nothing is buffered across blocks other
// than the partial block being assembled.
package capture

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/MrWong99/animetalk/pkg/audio"
)

const (
	// SampleRate is the rate of gated blocks in Hz.
	SampleRate = 16000

	// DefaultBlockSize is the number of samples per gated block.
	DefaultBlockSize = 2048

	// DefaultThreshold is the RMS a block must exceed to be forwarded.
	DefaultThreshold = 0.02
)

// Sender accepts encoded blocks. TrySend must not block and reports whether
// the block was accepted.
type Sender interface {
	TrySend(pcm []byte) bool
}

// Option configures a [Gate].
type Option func(*Gate)

// WithBlockSize sets the number of samples per block.
func WithBlockSize(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.blockSize = n
		}
	}
}

// WithThreshold sets the RMS gate threshold.
func WithThreshold(rms float64) Option {
	return func(g *Gate) {
		g.threshold = rms
	}
}

// WithBlockHook registers fn to be called once per completed block with its
// outcome. It runs on the capture goroutine and must not block.
func WithBlockHook(fn func(Outcome)) Option {
	return func(g *Gate) {
		g.onBlock = fn
	}
}

// Outcome describes what happened to a completed block.
type Outcome int

const (
	// Forwarded blocks were above threshold and accepted by the sender.
	Forwarded Outcome = iota

	// Gated blocks were at or below threshold and dropped.
	Gated

	// Rejected blocks were above threshold but the sender was full.
	Rejected
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Forwarded:
		return "forwarded"
	case Gated:
		return "gated"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Gate is the noise gate between a microphone and the upstream sender.
// Write and Run must be called from a single goroutine; LastRMS and Stats are
// safe to call concurrently.
type Gate struct {
	out       Sender
	blockSize int
	threshold float64
	onBlock   func(Outcome)

	block []float32
	conv  audio.FormatConverter

	lastRMS   atomic.Uint64 // math.Float64bits
	forwarded atomic.Int64
	gated     atomic.Int64
	rejected  atomic.Int64
}

// NewGate returns a gate that offers loud blocks to out.
func NewGate(out Sender, opts ...Option) *Gate {
	g := &Gate{
		out:       out,
		blockSize: DefaultBlockSize,
		threshold: DefaultThreshold,
		conv:      audio.FormatConverter{Target: audio.Format{SampleRate: SampleRate, Channels: 1}},
	}
	for _, o := range opts {
		o(g)
	}
	g.block = make([]float32, 0, g.blockSize)
	return g
}

// BlockSize returns the number of samples per block.
func (g *Gate) BlockSize() int { return g.blockSize }

// LastRMS returns the RMS of the most recently completed block.
func (g *Gate) LastRMS() float64 {
	return math.Float64frombits(g.lastRMS.Load())
}

// Stats reports how many blocks were forwarded, gated and rejected.
func (g *Gate) Stats() (forwarded, gated, rejected int64) {
	return g.forwarded.Load(), g.gated.Load(), g.rejected.Load()
}

// Write appends 16 kHz mono samples and processes every block they
// complete.
func (g *Gate) Write(samples []float32) {
	for len(samples) > 0 {
		n := min(g.blockSize-len(g.block), len(samples))
		g.block = append(g.block, samples[:n]...)
		samples = samples[n:]
		if len(g.block) == g.blockSize {
			g.process(g.block)
			g.block = g.block[:0]
		}
	}
}

func (g *Gate) process(block []float32) {
	rms := audio.RMS(block)
	g.lastRMS.Store(math.Float64bits(rms))

	outcome := Gated
	if rms > g.threshold {
		if g.out.TrySend(audio.FloatToPCM16(block)) {
			outcome = Forwarded
		} else {
			outcome = Rejected
			slog.Debug("capture: outbound queue full, block dropped", "rms", rms)
		}
	}

	switch outcome {
	case Forwarded:
		g.forwarded.Add(1)
	case Gated:
		g.gated.Add(1)
	case Rejected:
		g.rejected.Add(1)
	}
	if g.onBlock != nil {
		g.onBlock(outcome)
	}
}

// Run reads device frames from in, converts them to 16 kHz mono and gates
// them until ctx is cancelled or in is closed. The partial block is
// discarded on return.
func (g *Gate) Run(ctx context.Context, in <-chan audio.AudioFrame) error {
	defer func() { g.block = g.block[:0] }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			f = g.conv.Convert(f)
			if len(f.Data) == 0 {
				continue
			}
			g.Write(audio.PCM16ToFloat(f.Data))
		}
	}
}
