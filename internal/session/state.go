package session

import (
	"errors"
	"time"
)

// State is the connection lifecycle position.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Syncing
	Active
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Syncing:
		return "syncing"
	case Active:
		return "active"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connected reports whether the state owns a live transport.
func (s State) Connected() bool {
	return s == Handshaking || s == Syncing || s == Active
}

var (
	// ErrNoAddress reports Connect without a server address.
	ErrNoAddress = errors.New("session: no server address")
	// ErrKicked reports a server-initiated disconnect.
	ErrKicked = errors.New("session: kicked by server")
	// ErrRetriesExhausted reports that the reconnect budget is spent.
	ErrRetriesExhausted = errors.New("session: retries exhausted")
	// ErrNotConnected reports a send outside a live connection.
	ErrNotConnected = errors.New("session: not connected")
)

// Status is reported to the StatusSink on every state change.
type Status struct {
	State     State
	Retryable bool
	Err       error
	// KickReason is the server's text when the session was kicked.
	KickReason string
	Attempt    int
	RetryAt    time.Time
	At         time.Time
}

// StatusSink observes state changes.
type StatusSink interface {
	SessionStatus(Status)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(Status)

func (f StatusFunc) SessionStatus(s Status) { f(s) }
