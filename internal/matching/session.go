package matching

import (
	"time"

	"coderacer-matchmaker/internal/protocol"
)

// State is a session's position in the matchmaking lifecycle.
type State int

const (
	StateConnecting State = iota
	StateIdle
	StateSearching
	StateFound
	StateError
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateFound:
		return "found"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Conn is the outbound half of a client connection, implemented by the
// gateway. Send is best-effort and never blocks coordinator paths; a closed
// connection swallows the frame.
type Conn interface {
	Send(msg any)
	Close(code int, reason string)
}

// Session is one authenticated client's live matching state. All fields are
// guarded by the coordinator's lock; the pairing engine never touches a
// session directly.
type Session struct {
	ID       string
	UserID   string
	Username string

	conn       Conn
	state      State
	difficulty protocol.Difficulty
	enqueuedAt time.Time
	lastSeen   time.Time
}
