package browser

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/animetalk/pkg/audio"
)

var _ audio.Connection = (*binding)(nil)

const outputBuffer = 64

// binding is one attempt's view of a [Socket].
type binding struct {
	sock   *Socket
	input  chan audio.AudioFrame
	output chan audio.AudioFrame

	done      chan struct{}
	doneOnce  sync.Once
	inputOnce sync.Once
}

func newBinding(s *Socket) *binding {
	return &binding{
		sock:   s,
		input:  make(chan audio.AudioFrame, inputBuffer),
		output: make(chan audio.AudioFrame, outputBuffer),
		done:   make(chan struct{}),
	}
}

// InputStream implements [audio.Connection].
func (b *binding) InputStream() <-chan audio.AudioFrame { return b.input }

// OutputStream implements [audio.Connection].
func (b *binding) OutputStream() chan<- audio.AudioFrame { return b.output }

// Done implements [audio.Connection]. It is also closed when the socket goes
// away.
func (b *binding) Done() <-chan struct{} { return b.done }

// Disconnect detaches the binding. The socket stays open.
func (b *binding) Disconnect() error {
	b.sock.detach(b)
	b.doneOnce.Do(func() { close(b.done) })
	return nil
}

// forwardOutput writes rendered frames to the browser until the binding is
// detached. A failed write ends forwarding; the socket reader notices the
// broken connection.
func (b *binding) forwardOutput() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-b.done:
			return
		case f := <-b.output:
			if err := b.sock.write(ctx, websocket.MessageBinary, f.Data); err != nil {
				return
			}
		}
	}
}
