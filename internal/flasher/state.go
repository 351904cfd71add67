package flasher

import "errors"

var (
	ErrBusy              = errors.New("a flash operation is already running")
	ErrNotConnected      = errors.New("serial port is not connected")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAborted           = errors.New("aborted by disconnect")
)

// State is a flashing driver state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateCompiling    State = "compiling"
	StateErasing      State = "erasing"
	StateFlashing     State = "flashing"
	StateVerifying    State = "verifying"
	StateSuccess      State = "success"
	StateError        State = "error"
)

var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateError},
	StateConnected:    {StateCompiling, StateDisconnected},
	StateCompiling:    {StateErasing, StateError},
	StateErasing:      {StateFlashing, StateError},
	StateFlashing:     {StateVerifying, StateError},
	StateVerifying:    {StateSuccess, StateError},
	StateSuccess:      {StateConnected, StateDisconnected},
	StateError:        {StateConnected, StateConnecting, StateDisconnected},
}

// CanTransition reports whether the driver may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Busy reports whether the state belongs to a running operation.
func (s State) Busy() bool {
	switch s {
	case StateConnecting, StateCompiling, StateErasing, StateFlashing, StateVerifying:
		return true
	}
	return false
}
