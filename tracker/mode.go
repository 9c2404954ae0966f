package tracker

import (
	"fmt"
	"strings"
)

// Mode selects what the poller reads each cycle
type Mode int

const (
	// ModeImageCapture reads a full frame each cycle
	ModeImageCapture Mode = iota

	// ModeMotionTracking reads a motion burst each cycle and accumulates position
	ModeMotionTracking
)

func (m Mode) String() string {
	switch m {
	case ModeImageCapture:
		return "image"
	case ModeMotionTracking:
		return "motion"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Toggle returns the other mode
func (m Mode) Toggle() Mode {
	if m == ModeImageCapture {
		return ModeMotionTracking
	}
	return ModeImageCapture
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode accepts "image"/"capture" or "motion"/"tracking", case insensitive
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "capture", "imagecapture", "":
		return ModeImageCapture, nil
	case "motion", "tracking", "motiontracking":
		return ModeMotionTracking, nil
	}
	return ModeImageCapture, fmt.Errorf("%w: %q", ErrBadMode, s)
}

// Step is one action needed to bring the sensor into a mode
type Step int

const (
	StepReset Step = iota
	StepIdentify
	StepConfigure
)

func (s Step) String() string {
	return [...]string{"reset", "identify", "configure"}[s]
}

// startup is the sequence run on power-up and on every mode change
var startup = []Step{StepReset, StepIdentify, StepConfigure}

// Transition returns the steps needed to move the sensor from one mode to
// another.  The sensor cannot change acquisition mode without being
// reinitialized, so any change needs the full startup sequence.
func Transition(from, to Mode) []Step {
	if from == to {
		return nil
	}
	return Startup()
}

// Startup returns the power-up sequence
func Startup() []Step {
	return append([]Step(nil), startup...)
}

// State is where the poller is in its lifecycle
type State int

const (
	StateIdle State = iota
	StateReset
	StateConfigure
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReset:
		return "reset"
	case StateConfigure:
		return "configure"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(b []byte) error {
	for v := StateIdle; v <= StateStopped; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("tracker: unknown state %q", b)
}
