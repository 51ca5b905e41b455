package dsp

import "sync"

// AnalyserSize is the number of recent frames kept by a graph's [Tap].
const AnalyserSize = 512

// Tap is a ring buffer holding the most recent output frames folded to mono.
// It is written by the render goroutine and read by visualizers.
type Tap struct {
	mu  sync.Mutex
	buf []float32
	pos int
}

// NewTap returns a tap that keeps the last size frames.
func NewTap(size int) *Tap {
	return &Tap{buf: make([]float32, size)}
}

// Size reports the number of frames returned by [Tap.Snapshot].
func (t *Tap) Size() int { return len(t.buf) }

// Write appends mono frames.
func (t *Tap) Write(samples []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range samples {
		t.push(s)
	}
}

// WriteStereo appends the average of each left/right pair.
func (t *Tap) WriteStereo(left, right []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range left {
		t.push((left[i] + right[i]) / 2)
	}
}

func (t *Tap) push(s float32) {
	if len(t.buf) == 0 {
		return
	}
	t.buf[t.pos] = s
	t.pos++
	if t.pos == len(t.buf) {
		t.pos = 0
	}
}

// Snapshot copies the retained frames into dst, oldest first, growing dst
// if needed, and returns it.
func (t *Tap) Snapshot(dst []float32) []float32 {
	if cap(dst) < len(t.buf) {
		dst = make([]float32, len(t.buf))
	}
	dst = dst[:len(t.buf)]

	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(dst, t.buf[t.pos:])
	copy(dst[n:], t.buf[:t.pos])
	return dst
}

// Reset fills the tap with silence.
func (t *Tap) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.buf)
	t.pos = 0
}
