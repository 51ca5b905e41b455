// Package visualizer turns the rendered output and the microphone level into
// snapshots suitable for a call screen.
//
// Spectra are computed the way a browser AnalyserNode computes byte
// frequency data: a Blackman-windowed FFT, magnitudes scaled by 1/N,
// exponential smoothing over time, then decibels mapped linearly from
// [min, max] dB onto 0..255.
package visualizer

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser defaults.
const (
	FFTSize           = 512
	BinCount          = FFTSize / 2
	Bars              = 80
	DefaultSmoothing  = 0.8
	DefaultMinDecibel = -100.0
	DefaultMaxDecibel = -30.0
)

// Source supplies the most recent output frames, oldest first.
type Source interface {
	Snapshot(dst []float32) []float32
}

// Level supplies the microphone RMS.
type Level interface {
	LastRMS() float64
}

// Snapshot is one visualizer frame.
type Snapshot struct {
	// Frequency holds BinCount byte magnitudes.
	Frequency []uint8 `json:"frequency"`

	// Average is the mean of Frequency in [0, 255].
	Average float64 `json:"average"`

	// Bars holds the radial bar heights in [0, 1], one per second bin.
	Bars []float64 `json:"bars"`

	// InputRMS is the capture gate's most recent block level.
	InputRMS float64 `json:"inputRms"`
}

// Option configures a [Sampler].
type Option func(*Sampler)

// WithSmoothing sets the time constant between 0 (none) and 1.
func WithSmoothing(tau float64) Option {
	return func(s *Sampler) {
		s.smoothing = math.Max(0, math.Min(1, tau))
	}
}

// WithDecibelRange sets the dB range mapped onto 0..255.
func WithDecibelRange(minDB, maxDB float64) Option {
	return func(s *Sampler) {
		if maxDB > minDB {
			s.minDB, s.maxDB = minDB, maxDB
		}
	}
}

// Sampler computes snapshots. It keeps smoothing state between calls and is
// safe for concurrent use.
type Sampler struct {
	src   Source
	level Level

	smoothing    float64
	minDB, maxDB float64

	mu       sync.Mutex
	fft      *fourier.FFT
	window   []float64
	smoothed []float64
	frames   []float32
	seq      []float64
	coeff    []complex128
}

// New returns a sampler reading src and level. level may be nil.
func New(src Source, level Level, opts ...Option) *Sampler {
	s := &Sampler{
		src:       src,
		level:     level,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibel,
		maxDB:     DefaultMaxDecibel,
		fft:       fourier.NewFFT(FFTSize),
		window:    blackman(FFTSize),
		smoothed:  make([]float64, BinCount),
		seq:       make([]float64, FFTSize),
		coeff:     make([]complex128, FFTSize/2+1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func blackman(n int) []float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}

// Sample computes the next snapshot.
func (s *Sampler) Sample() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames = s.src.Snapshot(s.frames)
	// Use the newest FFTSize frames, zero-padding at the front if the
	// source holds fewer.
	clear(s.seq)
	off := FFTSize - min(len(s.frames), FFTSize)
	recent := s.frames[len(s.frames)-(FFTSize-off):]
	for i, v := range recent {
		s.seq[off+i] = float64(v) * s.window[off+i]
	}
	s.fft.Coefficients(s.coeff, s.seq)

	snap := Snapshot{
		Frequency: make([]uint8, BinCount),
		Bars:      make([]float64, Bars),
	}
	scale := 255 / (s.maxDB - s.minDB)
	var sum float64
	for k := range BinCount {
		mag := cmplxAbs(s.coeff[k]) / FFTSize
		s.smoothed[k] = s.smoothing*s.smoothed[k] + (1-s.smoothing)*mag

		db := s.minDB
		if s.smoothed[k] > 0 {
			db = 20 * math.Log10(s.smoothed[k])
		}
		v := math.Max(0, math.Min(255, scale*(db-s.minDB)))
		snap.Frequency[k] = uint8(v)
		sum += float64(snap.Frequency[k])
	}
	snap.Average = sum / BinCount

	for i := range Bars {
		snap.Bars[i] = float64(snap.Frequency[i*2]) / 255
	}
	if s.level != nil {
		snap.InputRMS = s.level.LastRMS()
	}
	return snap
}

func cmplxAbs(c complex128) float64 { return math.Hypot(real(c), imag(c)) }

// Run calls fn with a fresh snapshot every interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration, fn func(Snapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(s.Sample())
		}
	}
}
