package dsp

import "math"

// Compressor parameters shared by every graph variant.
const (
	CompressorKnee    = 30.0  // dB
	CompressorRatio   = 12.0  // input dB per output dB above the knee
	CompressorAttack  = 0.003 // seconds
	CompressorRelease = 0.25  // seconds

	// minLevelDB is the detector floor for silent input.
	minLevelDB = -120.0
)

// Compressor is a feed-forward soft-knee dynamics compressor with automatic
// makeup gain.
//
// The static curve passes the signal unchanged below threshold-knee/2,
// applies a quadratic transition across the knee and divides the overshoot
// by the ratio above it. Gain reduction is smoothed with one-pole attack and
// release followers. Makeup gain is (1/g)^0.6 where g is the curve's gain for
// a full-scale input, which is how browser compressors keep perceived level
// roughly constant when the threshold moves.
type Compressor struct {
	threshold float64
	knee      float64
	ratio     float64

	attackCoef  float64
	releaseCoef float64
	makeup      float64

	envelope float64 // current gain reduction in dB, <= 0
}

// NewCompressor returns a compressor at sampleRate with the given threshold
// in dBFS and the fixed knee, ratio, attack and release.
func NewCompressor(sampleRate, thresholdDB float64) *Compressor {
	c := &Compressor{
		knee:        CompressorKnee,
		ratio:       CompressorRatio,
		attackCoef:  math.Exp(-1 / (CompressorAttack * sampleRate)),
		releaseCoef: math.Exp(-1 / (CompressorRelease * sampleRate)),
	}
	c.SetThreshold(thresholdDB)
	return c
}

// SetThreshold moves the threshold and recomputes the makeup gain.
func (c *Compressor) SetThreshold(thresholdDB float64) {
	c.threshold = thresholdDB
	fullRange := math.Pow(10, c.curve(0)/20)
	c.makeup = math.Pow(1/fullRange, 0.6)
}

// Threshold reports the current threshold in dBFS.
func (c *Compressor) Threshold() float64 { return c.threshold }

// curve maps an input level in dB onto the output level in dB.
func (c *Compressor) curve(in float64) float64 {
	over := in - c.threshold
	switch {
	case 2*over < -c.knee:
		return in
	case 2*math.Abs(over) <= c.knee:
		t := over + c.knee/2
		return in + (1/c.ratio-1)*t*t/(2*c.knee)
	default:
		return c.threshold + over/c.ratio
	}
}

// Tick compresses one sample.
func (c *Compressor) Tick(x float64) float64 {
	level := minLevelDB
	if a := math.Abs(x); a > 0 {
		level = math.Max(minLevelDB, 20*math.Log10(a))
	}
	target := c.curve(level) - level

	coef := c.releaseCoef
	if target < c.envelope {
		coef = c.attackCoef
	}
	c.envelope = coef*c.envelope + (1-coef)*target

	return x * math.Pow(10, c.envelope/20) * c.makeup
}

// Reduction reports the current gain reduction in dB as a non-positive value.
func (c *Compressor) Reduction() float64 { return c.envelope }

// Reset clears the envelope follower.
func (c *Compressor) Reset() { c.envelope = 0 }
