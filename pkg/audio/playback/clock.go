package playback

import "sync/atomic"

// Clock reports the current audio time in seconds.
type Clock interface {
	Now() float64
}

// SampleClock counts rendered frames. Its time only moves when a renderer
// advances it.
type SampleClock struct {
	rate   int
	frames atomic.Int64
}

// Compile-time interface assertion.
var _ Clock = (*SampleClock)(nil)

// NewSampleClock returns a clock at zero for the given sample rate.
func NewSampleClock(sampleRate int) *SampleClock {
	return &SampleClock{rate: sampleRate}
}

// Now returns the start time of the next frame to be rendered.
func (c *SampleClock) Now() float64 {
	return float64(c.frames.Load()) / float64(c.rate)
}

// Frames returns the number of frames rendered so far.
func (c *SampleClock) Frames() int64 { return c.frames.Load() }

// SampleRate returns the clock's rate in Hz.
func (c *SampleClock) SampleRate() int { return c.rate }

// Advance moves the clock forward by n frames.
func (c *SampleClock) Advance(n int) { c.frames.Add(int64(n)) }
