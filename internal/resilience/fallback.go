package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned by [Try] when no member of a [Failover] produced a
// result.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover is an ordered list of interchangeable providers, each behind its
// own [Breaker]. Members are added before use and never removed.
type Failover[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewFailover returns an empty failover whose members get breakers built
// from cfg. cfg.Name is replaced by each member's name.
func NewFailover[T any](cfg BreakerConfig) *Failover[T] {
	return &Failover[T]{cfg: cfg}
}

// Add appends a member. Members are tried in the order they were added.
func (f *Failover[T]) Add(name string, v T) {
	cfg := f.cfg
	cfg.Name = name
	f.members = append(f.members, member[T]{name: name, value: v, breaker: NewBreaker(cfg)})
}

// Names returns the member names in order.
func (f *Failover[T]) Names() []string {
	out := make([]string, len(f.members))
	for i, m := range f.members {
		out[i] = m.name
	}
	return out
}

// Try calls fn on each member in turn until one succeeds. Members whose
// breaker is open are skipped. A done ctx stops the walk at once and is
// returned as is; otherwise the result wraps [ErrAllFailed] together with
// every member's error.
func Try[T, R any](ctx context.Context, f *Failover[T], fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	errs := make([]error, 0, len(f.members))
	for _, m := range f.members {
		var out R
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider", "provider", m.name, "err", err)
		} else {
			slog.Warn("resilience: provider failed, trying next", "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
