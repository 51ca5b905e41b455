package dsp

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Convolver applies a finite impulse response with uniformly partitioned
// overlap-save convolution.
//
// The impulse response is split into partitions of one [Quantum] each. Every
// call to [Convolver.Process] transforms the newest input block once, then
// accumulates the spectral products of the last P input blocks with the P
// partitions. The output is sample-exact with direct convolution and adds no
// latency beyond the quantum itself.
type Convolver struct {
	fft   *fourier.FFT
	parts [][]complex128 // spectra of the impulse partitions
	hist  [][]complex128 // input spectra ring, newest at head
	head  int

	window []float64 // previous block followed by the current block
	acc    []complex128
	time   []float64
}

// NewConvolver returns a convolver for impulse. An empty impulse yields a
// convolver that outputs silence.
func NewConvolver(impulse []float64) *Convolver {
	n := 2 * Quantum
	c := &Convolver{
		fft:    fourier.NewFFT(n),
		window: make([]float64, n),
		acc:    make([]complex128, n/2+1),
		time:   make([]float64, n),
	}

	seg := make([]float64, n)
	for off := 0; off < len(impulse); off += Quantum {
		clear(seg)
		copy(seg, impulse[off:min(off+Quantum, len(impulse))])
		c.parts = append(c.parts, c.fft.Coefficients(nil, seg))
	}
	c.hist = make([][]complex128, len(c.parts))
	for i := range c.hist {
		c.hist[i] = make([]complex128, n/2+1)
	}
	return c
}

// Partitions reports how many impulse partitions are convolved per block.
func (c *Convolver) Partitions() int { return len(c.parts) }

// Process convolves exactly one quantum of input into out. in and out may
// alias.
func (c *Convolver) Process(in, out []float64) error {
	if len(in) != Quantum || len(out) != Quantum {
		return fmt.Errorf("dsp: convolver: block length %d/%d, want %d", len(in), len(out), Quantum)
	}
	if len(c.parts) == 0 {
		clear(out)
		return nil
	}

	copy(c.window, c.window[Quantum:])
	copy(c.window[Quantum:], in)

	c.head = (c.head + len(c.hist) - 1) % len(c.hist)
	c.fft.Coefficients(c.hist[c.head], c.window)

	clear(c.acc)
	for p, h := range c.parts {
		x := c.hist[(c.head+p)%len(c.hist)]
		for k := range c.acc {
			c.acc[k] += x[k] * h[k]
		}
	}

	c.fft.Sequence(c.time, c.acc)
	scale := 1 / float64(len(c.time))
	for i := range out {
		out[i] = c.time[Quantum+i] * scale
	}
	return nil
}

// Reset clears the input history.
func (c *Convolver) Reset() {
	clear(c.window)
	for _, h := range c.hist {
		clear(h)
	}
}
