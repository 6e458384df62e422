package transport

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of the socket.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned when an operation is not legal in the
// current state, e.g. connecting a socket that is already open.
var ErrInvalidTransition = errors.New("transport: invalid state transition")

// transitions lists the legal next states for each state.
var transitions = map[State][]State{
	Disconnected: {Connecting, Reconnecting},
	Reconnecting: {Connecting, Disconnected},
	Connecting:   {Open, Disconnected},
	Open:         {Closing, Disconnected},
	Closing:      {Disconnected},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
