// Package call runs one voice call between a device and a live upstream
// session.
//
// A [Session] is a small state machine driven by a single controller
// goroutine ([Session.Run]). Upstream events, device loss, pipeline failures
// and the user's retry and hangup commands are all delivered to that
// goroutine as messages, so playback state is only ever mutated in one
// place. Each connection attempt owns its own DSP graph, scheduler, capture
// gate, outbound queue and device binding; leaving CONNECTED releases all of
// them before the next state is published.
package call

// State is the lifecycle state of a call.
type State int

const (
	// StateConnecting covers building the graph, binding the device and
	// opening the upstream session.
	StateConnecting State = iota

	// StateConnected means audio flows in both directions.
	StateConnected

	// StateError means the last attempt failed. Only a manual retry leaves
	// it.
	StateError

	// StateDisconnected means the upstream closed the session or the call
	// was hung up.
	StateDisconnected
)

// String returns the state label used in events, logs and metrics.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Terminal reports whether s holds no session resources.
func (s State) Terminal() bool {
	return s == StateError || s == StateDisconnected
}

// EventKind identifies a [Event].
type EventKind int

const (
	// EventState reports a lifecycle transition.
	EventState EventKind = iota

	// EventInterrupted reports the interrupted indicator being raised or
	// cleared.
	EventInterrupted
)

// Event is published to [Config.OnEvent].
type Event struct {
	Kind EventKind

	// State is the new state for EventState.
	State State

	// Err explains an EventState into StateError.
	Err error

	// Interrupted is the indicator value for EventInterrupted.
	Interrupted bool
}
