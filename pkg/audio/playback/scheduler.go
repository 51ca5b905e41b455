package playback

import (
	"fmt"
	"math"
	"sync"
)

// DefaultEpsilon is the safety offset applied when a chunk arrives after the
// previous one has already finished.
const DefaultEpsilon = 0.05

// snapTolerance is the distance in source samples within which a read
// position is rounded to the nearest whole sample.
const snapTolerance = 1e-6

// ID identifies a scheduled chunk within one scheduler.
type ID uint64

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithEpsilon sets the start offset for chunks that arrive after the queue ran
// dry. Defaults to [DefaultEpsilon].
func WithEpsilon(seconds float64) Option {
	return func(s *Scheduler) {
		s.epsilon = seconds
	}
}

// WithOnComplete registers a callback invoked when a chunk finishes playing
// naturally. It runs on the render goroutine after the scheduler lock has
// been released and must not block.
func WithOnComplete(fn func(ID)) Option {
	return func(s *Scheduler) {
		s.onComplete = fn
	}
}

// Scheduler places chunks back to back on the audio clock.
//
// Each enqueued chunk starts at the current next-start time, after which the
// next-start time advances by duration/rate. When the queue has run dry the
// next chunk starts epsilon seconds from now instead. [Scheduler.Reset] stops
// every chunk and rewinds the next-start time to zero, so the chunk after an
// interruption is again placed at now+epsilon.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	clock      Clock
	epsilon    float64
	onComplete func(ID)

	mu        sync.Mutex
	nextStart float64
	nextID    ID
	active    []*entry
}

// entry is one scheduled chunk and its read position.
type entry struct {
	id    ID
	chunk Chunk
	start float64 // audio-clock seconds
	speed float64 // source seconds per output second
}

// NewScheduler returns an empty scheduler on clock.
func NewScheduler(clock Clock, opts ...Option) *Scheduler {
	s := &Scheduler{clock: clock, epsilon: DefaultEpsilon}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules c to start at the current next-start time. rate scales
// both playback speed and the time the chunk occupies in the queue. detune
// shifts pitch by the given cents and also changes playback speed by
// 2^(detune/1200), but does not affect queue accounting.
func (s *Scheduler) Enqueue(c Chunk, rate, detune float64) (ID, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, fmt.Errorf("playback: enqueue: rate %v must be positive", rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.nextStart < now {
		s.nextStart = now + s.epsilon
	}
	s.nextID++
	v := &entry{
		id:    s.nextID,
		chunk: c,
		start: s.nextStart,
		speed: rate * math.Pow(2, detune/1200),
	}
	s.active = append(s.active, v)
	s.nextStart += c.Duration() / rate
	return v.id, nil
}

// EnqueueBase64 decodes a base64 PCM16 payload and schedules it. On a decode
// failure nothing is scheduled and the next-start time is left untouched.
func (s *Scheduler) EnqueueBase64(data string, sampleRate int, rate, detune float64) (ID, error) {
	c, err := DecodeChunk(data, sampleRate)
	if err != nil {
		return 0, err
	}
	return s.Enqueue(c, rate, detune)
}

// Reset stops and forgets every active chunk and rewinds the next-start time
// to zero. It returns the number of chunks stopped. Once Reset returns, no
// stopped chunk is mixed again.
func (s *Scheduler) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.active)
	clear(s.active)
	s.active = s.active[:0]
	s.nextStart = 0
	return n
}

// ActiveCount returns the number of chunks queued or sounding.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStartTime returns the audio-clock time at which the next enqueued chunk
// would start if it arrived before the queue runs dry.
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Mix adds every active chunk's contribution to the output frames
// [frame0, frame0+len(dst)) at outRate into dst. Chunks that finish inside
// the window are removed and their completion callbacks run before Mix
// returns.
func (s *Scheduler) Mix(dst []float32, frame0 int64, outRate int) {
	var done []ID

	s.mu.Lock()
	kept := s.active[:0]
	for _, v := range s.active {
		if v.mix(dst, frame0, outRate) {
			done = append(done, v.id)
			continue
		}
		kept = append(kept, v)
	}
	clear(s.active[len(kept):])
	s.active = kept
	s.mu.Unlock()

	if s.onComplete != nil {
		for _, id := range done {
			s.onComplete(id)
		}
	}
}

// mix renders v into dst and reports whether v has played to its end.
func (v *entry) mix(dst []float32, frame0 int64, outRate int) bool {
	src := v.chunk.Samples
	n := len(src)
	// Source samples advanced per output frame.
	step := v.speed * float64(v.chunk.SampleRate) / float64(outRate)
	startFrame := v.start * float64(outRate)
	pos := func(frame int64) float64 {
		p := (float64(frame) - startFrame) * step
		// Start times accumulate rounding error; snap to the sample grid.
		if r := math.Round(p); math.Abs(p-r) < snapTolerance {
			return r
		}
		return p
	}

	for i := range dst {
		p := pos(frame0 + int64(i))
		if p < 0 {
			continue
		}
		k := int(p)
		if k >= n {
			return true
		}
		frac := float32(p - float64(k))
		a := src[k]
		b := a
		if k+1 < n {
			b = src[k+1]
		}
		dst[i] += a + (b-a)*frac
	}
	return pos(frame0+int64(len(dst))) >= float64(n)
}
