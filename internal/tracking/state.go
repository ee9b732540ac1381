package tracking

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Stopped is the initial state, nothing is sampled or written
	Stopped State = iota

	// Running samples and writes a row on every tick
	Running

	// Paused keeps the session open but writes no rows
	Paused

	// Terminated is final: the session is closed and resources released
	Terminated
)

const (
	CommandStart  Command = "start"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandStop   Command = "stop"
)

// ErrUnknownCommand is returned by ParseCommand for unrecognized input
var ErrUnknownCommand = errors.New("unknown command")

var stateNames = map[State]string{
	Stopped:    "stopped",
	Running:    "running",
	Paused:     "paused",
	Terminated: "terminated",
}

// State is the state of a tracking Controller
type State int32

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active returns true while a session is open
func (s State) Active() bool {
	return s == Running || s == Paused
}

// Command is a control message from the host
type Command string

func (c Command) String() string {
	return string(c)
}

// ParseCommand converts host input into a Command. Input is trimmed and case
// insensitive.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CommandStart, CommandPause, CommandResume, CommandStop:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}
