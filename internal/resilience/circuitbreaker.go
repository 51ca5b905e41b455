// Package resilience keeps a call from hammering a provider that is down.
//
// A [Breaker] counts consecutive provider failures and, past a limit, refuses
// further attempts for a cool-down period. Calls never retry on their own, so
// the breaker only matters for manual retries: the listener pressing "retry"
// against a dead upstream gets an immediate [OpenError] telling them how long
// to wait instead of another slow handshake timeout.
//
// [LiveBreaker] guards upstream connects and [TTSFallback] chains speech
// backends through a [Failover].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen matches every [OpenError].
var ErrCircuitOpen = errors.New("resilience: circuit open")

// OpenError is returned instead of calling a provider whose breaker is open.
type OpenError struct {
	// Name is the breaker's label.
	Name string

	// RetryIn is the remaining cool-down. Zero while half-open probes are
	// exhausted.
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryIn <= 0 {
		return fmt.Sprintf("resilience: %s unavailable", e.Name)
	}
	return fmt.Sprintf("resilience: %s unavailable, retry in %s", e.Name, e.RetryIn.Round(time.Second))
}

// Is reports true for [ErrCircuitOpen].
func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// State is the breaker's mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cool-down has passed.
	StateOpen

	// StateHalfOpen lets a few probe calls through after the cool-down. One
	// failed probe re-opens the breaker; HalfOpenMax successful ones close it.
	StateHalfOpen
)

// String returns the state label used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values take the defaults noted on
// each field.
type BreakerConfig struct {
	// Name labels the breaker in logs, errors and metrics.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before probing again. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes admitted, and required to succeed,
	// while half-open. Default 1.
	HalfOpenMax int

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 1
	}
	return c
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int // admitted while half-open
	passed   int // succeeded while half-open
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do calls fn unless the breaker is open.
//
// A failure only counts against the provider while ctx is still live: a
// caller that hung up mid-handshake says nothing about the provider's health.
// If ctx is already done, fn is not called and ctx.Err() is returned.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	switch {
	case err == nil:
		b.succeeded(probe)
	case ctx.Err() != nil:
		b.abandoned(probe)
	default:
		b.failed(probe)
	}
	return err
}

// State returns the current state. An open breaker whose cool-down has
// passed reports half-open; the transition itself happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooledDown() {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) cooledDown() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	switch b.state {
	case StateOpen:
		if !b.cooledDown() {
			wait := b.cfg.ResetTimeout - b.now().Sub(b.openedAt)
			b.mu.Unlock()
			return false, &OpenError{Name: b.cfg.Name, RetryIn: wait}
		}
		from, changed = b.state, true
		b.state, b.probes, b.passed = StateHalfOpen, 0, 0
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenMax {
			b.mu.Unlock()
			b.notify(changed, from, StateHalfOpen)
			return false, &OpenError{Name: b.cfg.Name}
		}
		b.probes++
		probe = true
	}
	b.mu.Unlock()
	b.notify(changed, from, StateHalfOpen)
	return probe, nil
}

func (b *Breaker) succeeded(probe bool) {
	b.mu.Lock()
	if !probe || b.state != StateHalfOpen {
		b.failures = 0
		b.mu.Unlock()
		return
	}
	b.passed++
	if b.passed < b.cfg.HalfOpenMax {
		b.mu.Unlock()
		return
	}
	b.state, b.failures = StateClosed, 0
	b.mu.Unlock()
	b.notify(true, StateHalfOpen, StateClosed)
}

func (b *Breaker) failed(probe bool) {
	b.mu.Lock()
	from := b.state
	if probe && b.state == StateHalfOpen {
		b.state, b.openedAt = StateOpen, b.now()
		b.mu.Unlock()
		b.notify(true, from, StateOpen)
		return
	}
	b.failures++
	if b.state != StateClosed || b.failures < b.cfg.MaxFailures {
		b.mu.Unlock()
		return
	}
	b.state, b.openedAt = StateOpen, b.now()
	n := b.failures
	b.mu.Unlock()
	slog.Warn("resilience: breaker opened", "name", b.cfg.Name, "consecutive_failures", n)
	b.notify(true, from, StateOpen)
}

// abandoned returns an unused probe slot.
func (b *Breaker) abandoned(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
	b.mu.Unlock()
}

func (b *Breaker) notify(changed bool, from, to State) {
	if !changed || from == to {
		return
	}
	slog.Info("resilience: breaker state", "name", b.cfg.Name, "from", from.String(), "to", to.String())
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
