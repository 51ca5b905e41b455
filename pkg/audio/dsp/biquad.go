package dsp

import "math"

// FilterType selects the transfer function computed by [Biquad.Set].
type FilterType int

const (
	LowShelf FilterType = iota
	HighShelf
	Peaking
	HighPass
)

// String returns the lower-case name of the filter type.
func (t FilterType) String() string {
	switch t {
	case LowShelf:
		return "lowshelf"
	case HighShelf:
		return "highshelf"
	case Peaking:
		return "peaking"
	case HighPass:
		return "highpass"
	default:
		return "unknown"
	}
}

// Biquad is a second-order IIR section in direct form I.
//
// Coefficients follow the RBJ cookbook with the same parameter conventions as
// a browser BiquadFilterNode: shelves use a fixed slope of 1, peaking filters
// take Q as a bandwidth factor and high-pass filters take Q in dB.
//
// Re-computing coefficients with [Biquad.Set] keeps the filter history so a
// running signal is not interrupted.
type Biquad struct {
	typ FilterType

	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 float64
	y1, y2 float64
}

// NewBiquad returns a filter with coefficients for the given parameters.
func NewBiquad(typ FilterType, sampleRate, freq, q, gainDB float64) *Biquad {
	f := &Biquad{typ: typ}
	f.Set(sampleRate, freq, q, gainDB)
	return f
}

// Set recomputes the coefficients. q is ignored by shelf filters and gainDB
// is ignored by high-pass filters.
func (f *Biquad) Set(sampleRate, freq, q, gainDB float64) {
	nyquist := sampleRate / 2
	freq = math.Max(1, math.Min(freq, nyquist*0.999))

	w0 := 2 * math.Pi * freq / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	A := math.Pow(10, gainDB/40)

	var b0, b1, b2, a0, a1, a2 float64
	switch f.typ {
	case LowShelf:
		alpha := sinw / 2 * math.Sqrt2
		k := 2 * math.Sqrt(A) * alpha
		b0 = A * ((A + 1) - (A-1)*cosw + k)
		b1 = 2 * A * ((A - 1) - (A+1)*cosw)
		b2 = A * ((A + 1) - (A-1)*cosw - k)
		a0 = (A + 1) + (A-1)*cosw + k
		a1 = -2 * ((A - 1) + (A+1)*cosw)
		a2 = (A + 1) + (A-1)*cosw - k
	case HighShelf:
		alpha := sinw / 2 * math.Sqrt2
		k := 2 * math.Sqrt(A) * alpha
		b0 = A * ((A + 1) + (A-1)*cosw + k)
		b1 = -2 * A * ((A - 1) + (A+1)*cosw)
		b2 = A * ((A + 1) + (A-1)*cosw - k)
		a0 = (A + 1) - (A-1)*cosw + k
		a1 = 2 * ((A - 1) - (A+1)*cosw)
		a2 = (A + 1) - (A-1)*cosw - k
	case Peaking:
		if q <= 0 {
			q = 1e-4
		}
		alpha := sinw / (2 * q)
		b0 = 1 + alpha*A
		b1 = -2 * cosw
		b2 = 1 - alpha*A
		a0 = 1 + alpha/A
		a1 = -2 * cosw
		a2 = 1 - alpha/A
	case HighPass:
		alpha := sinw / (2 * math.Pow(10, q/20))
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
		a0 = 1 + alpha
		a1 = -2 * cosw
		a2 = 1 - alpha
	}

	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = a1/a0, a2/a0
}

// Tick filters one sample.
func (f *Biquad) Tick(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	// Flush denormals so a silent tail does not stall the CPU.
	if math.Abs(y) < 1e-30 {
		y = 0
	}
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Magnitude returns the filter's linear gain at freq.
func (f *Biquad) Magnitude(sampleRate, freq float64) float64 {
	w := 2 * math.Pi * freq / sampleRate
	// z^-1 = e^{-jw}
	c1, s1 := math.Cos(w), -math.Sin(w)
	c2, s2 := math.Cos(2*w), -math.Sin(2*w)
	numRe := f.b0 + f.b1*c1 + f.b2*c2
	numIm := f.b1*s1 + f.b2*s2
	denRe := 1 + f.a1*c1 + f.a2*c2
	denIm := f.a1*s1 + f.a2*s2
	return math.Hypot(numRe, numIm) / math.Hypot(denRe, denIm)
}

// Reset clears the filter history.
func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}
