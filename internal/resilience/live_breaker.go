package resilience

import (
	"context"

	"github.com/MrWong99/animetalk/pkg/provider/live"
)

// LiveBreaker guards a [live.Provider]. Once the upstream has refused enough
// connects in a row, Connect fails with an [OpenError] without dialling.
// Established sessions are not tracked: a session that dies mid-call ends
// the call, and only the next connect is judged.
type LiveBreaker struct {
	provider live.Provider
	breaker  *Breaker
}

// Compile-time interface assertion.
var _ live.Provider = (*LiveBreaker)(nil)

// NewLiveBreaker wraps p. An empty cfg.Name becomes "upstream".
func NewLiveBreaker(p live.Provider, cfg BreakerConfig) *LiveBreaker {
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}
	return &LiveBreaker{provider: p, breaker: NewBreaker(cfg)}
}

// Connect implements live.Provider.
func (b *LiveBreaker) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	var sess live.Session
	err := b.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		sess, err = b.provider.Connect(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// State reports the breaker state.
func (b *LiveBreaker) State() State { return b.breaker.State() }

// Check implements a readiness check: it fails while connects are being
// refused.
func (b *LiveBreaker) Check(context.Context) error {
	if b.State() == StateOpen {
		return &OpenError{Name: b.breaker.Name()}
	}
	return nil
}
