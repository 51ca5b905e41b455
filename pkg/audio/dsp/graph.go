// Package dsp implements the fixed voice-rendering graph and its building
// blocks.
//
// A [Graph] takes mono input one [Quantum] at a time and produces stereo
// output:
//
//	compressor → low shelf → formant peak → mid peak ─┬─────────────→ high shelf
//	                                                  └→ high-pass → shaper → gain ┘
//	high shelf ─┬→ dry ──┬→ left
//	            └→ reverb┴→ Haas delay → right
//
// The topology never changes. [Build] binds a [voice.EffectiveProfile] to the
// node parameters and [Graph.SetProfile] rebinds them without interrupting the
// signal.
package dsp

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/animetalk/pkg/voice"
)

const (
	// Quantum is the number of frames processed per graph step.
	Quantum = 128

	// DefaultSampleRate is the rate used when no [WithSampleRate] option is
	// given.
	DefaultSampleRate = 24000
)

// Fixed node parameters.
const (
	formantBase   = 1000.0
	formantQ      = 1.0
	midQ          = 0.8
	midGainDB     = 2.0
	exciterFreq   = 2000.0
	exciterQ      = 1.0 // dB
	dryGain       = 0.8
	flashDelay    = 0.12
	flashFeedback = 0.3
	flashWet      = 0.45

	formantDeadZone = 50.0
	formantMaxGain  = 5.0
)

// ErrInvalidVariant is returned by [Build] when a variant's parameters cannot
// be realised.
var ErrInvalidVariant = errors.New("dsp: invalid variant")

// Variant holds the parameters that differ between the live call chain and
// the offline speak chain.
type Variant struct {
	Name string

	LowShelfFreq  float64 // Hz
	HighShelfFreq float64 // Hz

	// MidFreq pins the presence peak. Zero takes it from the profile.
	MidFreq float64

	Curve Curve

	ReverbSeconds float64
	ReverbDecay   float64

	// HaasDelay is the right-channel delay in seconds.
	HaasDelay float64

	// Flash adds a feedback echo to both channels.
	Flash bool
}

// Graph variants.
var (
	Call = Variant{
		Name:          "call",
		LowShelfFreq:  150,
		HighShelfFreq: 6000,
		Curve:         SoftClip,
		ReverbSeconds: 1.5,
		ReverbDecay:   2.0,
		HaasDelay:     0.015,
	}
	Speak = Variant{
		Name:          "speak",
		LowShelfFreq:  120,
		HighShelfFreq: 8000,
		MidFreq:       1500,
		Curve:         Tube,
		ReverbSeconds: 0.5,
		ReverbDecay:   3.0,
		HaasDelay:     0.012,
	}
)

// WithFlash returns a copy of v with the feedback echo enabled.
func (v Variant) WithFlash() Variant {
	v.Flash = true
	return v
}

// Validate reports every parameter of v that cannot be realised at
// sampleRate.
func (v Variant) Validate(sampleRate int) error {
	var errs []error
	nyquist := float64(sampleRate) / 2
	if sampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", sampleRate))
	}
	if v.LowShelfFreq <= 0 || v.LowShelfFreq >= nyquist {
		errs = append(errs, fmt.Errorf("low shelf %g Hz outside (0, %g)", v.LowShelfFreq, nyquist))
	}
	if v.HighShelfFreq <= 0 || v.HighShelfFreq >= nyquist {
		errs = append(errs, fmt.Errorf("high shelf %g Hz outside (0, %g)", v.HighShelfFreq, nyquist))
	}
	if v.MidFreq < 0 || (v.MidFreq > 0 && v.MidFreq >= nyquist) {
		errs = append(errs, fmt.Errorf("mid frequency %g Hz outside [0, %g)", v.MidFreq, nyquist))
	}
	if v.Curve != SoftClip && v.Curve != Tube {
		errs = append(errs, fmt.Errorf("unknown curve %d", v.Curve))
	}
	if v.ReverbSeconds < 0 || v.ReverbDecay < 0 {
		errs = append(errs, fmt.Errorf("reverb %gs decay %g must not be negative", v.ReverbSeconds, v.ReverbDecay))
	}
	if v.HaasDelay < 0 {
		errs = append(errs, fmt.Errorf("haas delay %gs must not be negative", v.HaasDelay))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidVariant, v.Name, errors.Join(errs...))
}

// Option configures a [Graph] during [Build].
type Option func(*Graph)

// WithSampleRate sets the processing rate. Defaults to [DefaultSampleRate].
func WithSampleRate(hz int) Option {
	return func(g *Graph) {
		g.sampleRate = hz
	}
}

// WithImpulse replaces the synthetic reverb impulse with ir, which must
// already be at the graph's sample rate.
func WithImpulse(ir []float64) Option {
	return func(g *Graph) {
		g.impulse = ir
	}
}

// Graph is one instance of the rendering chain. All methods are safe for
// concurrent use; [Graph.Process] holds the graph lock for the duration of a
// call.
type Graph struct {
	mu sync.Mutex

	sampleRate int
	variant    Variant
	profile    voice.EffectiveProfile
	impulse    []float64

	comp      *Compressor
	lowShelf  *Biquad
	formant   *Biquad
	mid       *Biquad
	exciterHP *Biquad
	shaper    *Shaper
	highShelf *Biquad
	conv      *Convolver
	haas      *Delay
	echo      *Echo
	tap       *Tap

	exciterGain float64
	wetGain     float64
	curveDrive  float64

	main []float64
	wet  []float64
}

// Build constructs a graph for variant with p bound to its parameters.
func Build(p voice.EffectiveProfile, variant Variant, opts ...Option) (*Graph, error) {
	g := &Graph{
		sampleRate: DefaultSampleRate,
		variant:    variant,
	}
	for _, o := range opts {
		o(g)
	}
	if err := variant.Validate(g.sampleRate); err != nil {
		return nil, err
	}

	fs := float64(g.sampleRate)
	if g.impulse == nil {
		g.impulse = SyntheticImpulse(g.sampleRate, variant.ReverbSeconds, variant.ReverbDecay)
	}

	g.comp = NewCompressor(fs, p.CompressionThreshold)
	g.lowShelf = NewBiquad(LowShelf, fs, variant.LowShelfFreq, 0, 0)
	g.formant = NewBiquad(Peaking, fs, formantBase, formantQ, 0)
	g.mid = NewBiquad(Peaking, fs, formantBase, midQ, midGainDB)
	g.exciterHP = NewBiquad(HighPass, fs, exciterFreq, exciterQ, 0)
	g.highShelf = NewBiquad(HighShelf, fs, variant.HighShelfFreq, 0, 0)
	g.shaper = NewShaper(nil)
	g.conv = NewConvolver(g.impulse)
	g.haas = NewDelay(int(math.Round(variant.HaasDelay * fs)))
	if variant.Flash {
		g.echo = NewEcho(int(math.Round(flashDelay*fs)), flashFeedback)
	}
	g.tap = NewTap(AnalyserSize)
	g.main = make([]float64, Quantum)
	g.wet = make([]float64, Quantum)
	g.curveDrive = math.NaN()

	g.bind(p)
	return g, nil
}

// SetProfile rebinds the scalar parameters to p. Filter and reverb state is
// kept.
func (g *Graph) SetProfile(p voice.EffectiveProfile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bind(p)
}

func (g *Graph) bind(p voice.EffectiveProfile) {
	fs := float64(g.sampleRate)
	g.profile = p

	g.comp.SetThreshold(p.CompressionThreshold)
	g.lowShelf.Set(fs, g.variant.LowShelfFreq, 0, p.BassGain)
	g.formant.Set(fs, formantBase+p.FormantShift, formantQ, FormantGain(p.FormantShift))

	midFreq := g.variant.MidFreq
	if midFreq == 0 {
		midFreq = p.MidFreq
	}
	g.mid.Set(fs, midFreq, midQ, midGainDB)
	g.highShelf.Set(fs, g.variant.HighShelfFreq, 0, p.TrebleGain)

	if p.Saturation != g.curveDrive {
		g.shaper.SetCurve(MakeCurve(g.variant.Curve, p.Saturation))
		g.curveDrive = p.Saturation
	}
	g.exciterGain = 0.05 + p.Saturation/500
	g.wetGain = p.ReverbMix
}

// FormantGain returns the formant peak gain in dB for a shift in Hz: zero
// inside the ±50 Hz dead zone, then growing with the shift up to 5 dB.
func FormantGain(shift float64) float64 {
	a := math.Abs(shift)
	if a <= formantDeadZone {
		return 0
	}
	return math.Min(a*0.02, formantMaxGain)
}

// Profile returns the currently bound profile.
func (g *Graph) Profile() voice.EffectiveProfile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.profile
}

// Variant returns the variant the graph was built with.
func (g *Graph) Variant() Variant { return g.variant }

// SampleRate returns the processing rate in Hz.
func (g *Graph) SampleRate() int { return g.sampleRate }

// Analyser returns the tap that receives the mono fold of every output
// frame.
func (g *Graph) Analyser() *Tap { return g.tap }

// TailSeconds reports how long the graph keeps ringing after its input goes
// silent.
func (g *Graph) TailSeconds() float64 {
	tail := float64(len(g.impulse)) / float64(g.sampleRate)
	if g.variant.Flash {
		tail = math.Max(tail, 1)
	}
	return tail + g.variant.HaasDelay
}

// Process renders in through the graph into left and right. All three slices
// must have the same length, which must be a multiple of [Quantum].
func (g *Graph) Process(in, left, right []float32) error {
	if len(left) != len(in) || len(right) != len(in) {
		return fmt.Errorf("dsp: process: channel lengths %d/%d differ from input %d", len(left), len(right), len(in))
	}
	if len(in)%Quantum != 0 {
		return fmt.Errorf("dsp: process: length %d not a multiple of %d", len(in), Quantum)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for off := 0; off < len(in); off += Quantum {
		if err := g.quantum(in[off:off+Quantum], left[off:off+Quantum], right[off:off+Quantum]); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) quantum(in, left, right []float32) error {
	for i, s := range in {
		x := g.comp.Tick(float64(s))
		x = g.lowShelf.Tick(x)
		x = g.formant.Tick(x)
		x = g.mid.Tick(x)
		e := g.shaper.Tick(g.exciterHP.Tick(x)) * g.exciterGain
		g.main[i] = g.highShelf.Tick(x + e)
	}

	if err := g.conv.Process(g.main, g.wet); err != nil {
		return fmt.Errorf("dsp: reverb: %w", err)
	}

	for i := range in {
		sum := dryGain*g.main[i] + g.wetGain*g.wet[i]
		l, r := sum, g.haas.Tick(sum)
		if g.echo != nil {
			e := g.echo.Tick(g.main[i]) * flashWet
			l += e
			r += e
		}
		left[i] = float32(l)
		right[i] = float32(r)
	}
	g.tap.WriteStereo(left, right)
	return nil
}

// Reset silences every stateful node.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, f := range []*Biquad{g.lowShelf, g.formant, g.mid, g.exciterHP, g.highShelf} {
		f.Reset()
	}
	g.comp.Reset()
	g.conv.Reset()
	g.haas.Reset()
	if g.echo != nil {
		g.echo.Reset()
	}
	g.tap.Reset()
}
