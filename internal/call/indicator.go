package call

import (
	"sync"
	"time"
)

// DefaultInterruptHold is how long the interrupted indicator stays up.
const DefaultInterruptHold = 2 * time.Second

// Indicator is a flag that clears itself a fixed time after it was last
// raised. Every Raise notifies; the clear notifies once per quiet period.
type Indicator struct {
	hold     time.Duration
	onChange func(on bool)

	mu      sync.Mutex
	on      bool
	gen     uint64
	timer   *time.Timer
	raised  int
	stopped bool
}

// NewIndicator returns a lowered indicator. onChange may be nil; it is
// called without the lock held and must not block.
func NewIndicator(hold time.Duration, onChange func(on bool)) *Indicator {
	if hold <= 0 {
		hold = DefaultInterruptHold
	}
	return &Indicator{hold: hold, onChange: onChange}
}

// Raise sets the indicator and restarts its hold time.
func (i *Indicator) Raise() {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return
	}
	i.on = true
	i.raised++
	i.gen++
	gen := i.gen
	if i.timer != nil {
		i.timer.Stop()
	}
	i.timer = time.AfterFunc(i.hold, func() { i.clear(gen) })
	i.mu.Unlock()

	if i.onChange != nil {
		i.onChange(true)
	}
}

func (i *Indicator) clear(gen uint64) {
	i.mu.Lock()
	if gen != i.gen || !i.on {
		i.mu.Unlock()
		return
	}
	i.on = false
	i.timer = nil
	i.mu.Unlock()

	if i.onChange != nil {
		i.onChange(false)
	}
}

// Active reports whether the indicator is up.
func (i *Indicator) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.on
}

// Raised reports how many times Raise took effect.
func (i *Indicator) Raised() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.raised
}

// Stop lowers the indicator silently and ignores further raises.
func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopped = true
	i.on = false
	i.gen++
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
}
