// Package audio defines the device abstraction and PCM helpers shared by the
// call pipeline.
//
// The two primary abstractions are:
//
//   - [Platform] — binds a call to a concrete audio device (a browser
//     WebSocket, a Discord voice channel) and returns a [Connection].
//   - [Connection] — the bound device: one microphone input stream and one
//     output stream for rendered character speech.
//
// Device adapters live in sub-packages (audio/discord) or next to their
// transport (internal/web). The interfaces stay narrow so the call session
// never sees transport details.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceClosed is returned by adapters when an operation is attempted on a
// connection that has already been disconnected.
var ErrDeviceClosed = errors.New("audio: device closed")

// Connection represents an audio device bound to a single call.
//
// All channels returned by a Connection are closed by the implementation when
// the device terminates, except the output stream which is owned by the
// writer. Implementations must be safe for concurrent use.
type Connection interface {
	// InputStream returns the microphone stream. Frames may arrive in any
	// format; consumers convert to the format they need with
	// [FormatConverter]. The channel is closed when the device goes away.
	InputStream() <-chan AudioFrame

	// OutputStream returns the write-only channel for rendered output. The
	// channel is buffered; writers must not block indefinitely on it.
	//
	// The platform does NOT close this channel on Disconnect. Writes after
	// Disconnect are dropped.
	OutputStream() chan<- AudioFrame

	// Done is closed when the device terminates, either through Disconnect
	// or because the remote side went away.
	Done() <-chan struct{}

	// Disconnect releases the device. It is safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform opens audio devices for calls.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect binds the device identified by target and returns an active
	// [Connection]. ctx governs the bind attempt only.
	//
	// An error here is fatal for the call session that requested it.
	Connect(ctx context.Context, target string) (Connection, error)
}
