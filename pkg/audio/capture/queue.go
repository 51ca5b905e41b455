package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by [Queue.SendText] after the queue has been
// closed.
var ErrQueueClosed = errors.New("capture: queue closed")

// DefaultQueueCapacity is the number of messages buffered between producers
// and the writer goroutine.
const DefaultQueueCapacity = 32

// Upstream is the destination of outbound messages.
type Upstream interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendText(ctx context.Context, text string) error
}

// message is either an audio block or a text turn.
type message struct {
	audio []byte
	text  string
}

// Queue serialises outbound audio and text onto a single writer goroutine.
// Producers never touch the upstream connection directly.
type Queue struct {
	ch      chan message
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Compile-time interface assertion.
var _ Sender = (*Queue)(nil)

// NewQueue returns a queue buffering up to capacity messages.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		ch:   make(chan message, capacity),
		done: make(chan struct{}),
	}
}

// TrySend enqueues an audio block without blocking. It reports false when
// the queue is full or closed.
func (q *Queue) TrySend(pcm []byte) bool {
	if q.closed() {
		return false
	}
	select {
	case q.ch <- message{audio: pcm}:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// SendText enqueues a text turn, waiting for space until ctx is done.
func (q *Queue) SendText(ctx context.Context, text string) error {
	if q.closed() {
		return ErrQueueClosed
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message{text: text}:
		return nil
	}
}

// Dropped reports how many audio blocks were refused because the queue was
// full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Len reports the number of buffered messages.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops accepting messages. Buffered messages are discarded by the
// writer. Close is idempotent.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *Queue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Run writes queued messages to up in order until ctx is cancelled or the
// queue is closed. Nothing is written once either has happened, even if
// messages are still buffered. A write error ends the run.
func (q *Queue) Run(ctx context.Context, up Upstream) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case m := <-q.ch:
			if q.closed() || ctx.Err() != nil {
				return nil
			}
			if m.audio != nil {
				if err := up.SendAudio(ctx, m.audio); err != nil {
					return fmt.Errorf("capture: send audio: %w", err)
				}
				continue
			}
			if err := up.SendText(ctx, m.text); err != nil {
				return fmt.Errorf("capture: send text: %w", err)
			}
		}
	}
}
