package dsp

import "math"

// CurveSize is the number of points in a generated transfer curve.
const CurveSize = 44100

// Curve selects the transfer function of the exciter waveshaper.
type Curve int

const (
	// SoftClip is an odd-symmetric sigmoid whose knee sharpens with drive.
	SoftClip Curve = iota

	// Tube is an asymmetric triode-style curve: a compressed bottom, a linear
	// middle and a harder top limit, scaled by drive.
	Tube
)

// String returns the name of the curve.
func (c Curve) String() string {
	switch c {
	case SoftClip:
		return "softclip"
	case Tube:
		return "tube"
	default:
		return "unknown"
	}
}

// MakeCurve samples c at CurveSize evenly spaced inputs in [-1, 1) with the
// given drive.
func MakeCurve(c Curve, drive float64) []float64 {
	out := make([]float64, CurveSize)
	deg := math.Pi / 180
	for i := range out {
		x := float64(i)*2/CurveSize - 1
		switch c {
		case Tube:
			var y float64
			switch {
			case x < -0.5:
				y = -0.5 + (1+x+0.5)*0.1
			case x > 0.5:
				y = 0.5 + (x-0.5)*0.8
			default:
				y = x
			}
			out[i] = y * (1 + drive/100)
		default:
			out[i] = (3 + drive) * x * 20 * deg / (math.Pi + drive*math.Abs(x))
		}
	}
	return out
}

// Shaper maps samples through a transfer curve with linear interpolation.
// Inputs outside [-1, 1] clamp to the curve's end points.
type Shaper struct {
	curve []float64
}

// NewShaper returns a shaper for curve. An empty curve passes samples through.
func NewShaper(curve []float64) *Shaper {
	return &Shaper{curve: curve}
}

// SetCurve replaces the transfer curve.
func (s *Shaper) SetCurve(curve []float64) { s.curve = curve }

// Tick shapes one sample.
func (s *Shaper) Tick(x float64) float64 {
	n := len(s.curve)
	if n == 0 {
		return x
	}
	if n == 1 {
		return s.curve[0]
	}
	v := float64(n-1) / 2 * (x + 1)
	if v <= 0 {
		return s.curve[0]
	}
	if v >= float64(n-1) {
		return s.curve[n-1]
	}
	k := int(v)
	frac := v - float64(k)
	return (1-frac)*s.curve[k] + frac*s.curve[k+1]
}
