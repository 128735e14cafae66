package session

import "time"

type State int

const (
	Idle State = iota
	Loading
	Ready
	Listening
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Listening:
		return "listening"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Options configure one listening phase.
type Options struct {
	// Grammar restricts recognition to these phrases. Add "[unk]" to allow
	// out-of-grammar speech. Empty means unconstrained.
	Grammar []string
	// Timeout ends the phase with onTimeout. Zero disables it.
	Timeout time.Duration
	// Continuous keeps listening across utterances instead of returning to
	// Ready after the first result.
	Continuous bool
}

// Status is a point-in-time view of a session.
type Status struct {
	State     State
	ModelPath string
	SessionID string
	Grammar   []string
	Muted     bool
	Remaining time.Duration
}
