package dsp

// Delay is a fixed integer-sample delay line.
type Delay struct {
	buf []float64
	pos int
}

// NewDelay returns a delay of n samples. n <= 0 passes samples through.
func NewDelay(n int) *Delay {
	if n < 0 {
		n = 0
	}
	return &Delay{buf: make([]float64, n)}
}

// Len reports the delay in samples.
func (d *Delay) Len() int { return len(d.buf) }

// Tick pushes x and returns the sample written n ticks ago.
func (d *Delay) Tick(x float64) float64 {
	if len(d.buf) == 0 {
		return x
	}
	y := d.buf[d.pos]
	d.buf[d.pos] = x
	d.pos++
	if d.pos == len(d.buf) {
		d.pos = 0
	}
	return y
}

// Reset zeroes the line.
func (d *Delay) Reset() {
	clear(d.buf)
	d.pos = 0
}

// Echo is a delay line with a feedback loop: the delayed output is scaled by
// feedback and summed back into the line.
type Echo struct {
	line     *Delay
	feedback float64
}

// NewEcho returns an echo with an n-sample period.
func NewEcho(n int, feedback float64) *Echo {
	if n < 1 {
		n = 1
	}
	return &Echo{line: NewDelay(n), feedback: feedback}
}

// Tick pushes x and returns the echo signal, excluding the dry input.
func (e *Echo) Tick(x float64) float64 {
	out := e.line.buf[e.line.pos]
	e.line.Tick(x + e.feedback*out)
	return out
}

// Reset silences the echo.
func (e *Echo) Reset() {
	e.line.Reset()
}
