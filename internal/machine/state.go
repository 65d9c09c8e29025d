package machine

import (
	"errors"
	"fmt"
)

// State is the machine mode. Exactly one value holds at any instant.
type State int32

const (
	StateIdle State = iota
	StateAlarm
	StateCheckMode
	StateHoming
	StateCycle
	StateHold
	StateJog
	StateSafetyDoor
	StateSleep
)

// States lists every machine state in declaration order.
var States = []State{
	StateIdle, StateAlarm, StateCheckMode, StateHoming, StateCycle,
	StateHold, StateJog, StateSafetyDoor, StateSleep,
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAlarm:
		return "Alarm"
	case StateCheckMode:
		return "Check"
	case StateHoming:
		return "Home"
	case StateCycle:
		return "Run"
	case StateHold:
		return "Hold"
	case StateJog:
		return "Jog"
	case StateSafetyDoor:
		return "Door"
	case StateSleep:
		return "Sleep"
	default:
		return "Unknown"
	}
}

// ParseState is the inverse of String.
func ParseState(name string) (State, bool) {
	for _, s := range States {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// IsMotion reports whether the step generator may be producing motion in
// this state, so its segment buffer must be refilled every tick.
func (s State) IsMotion() bool {
	switch s {
	case StateCycle, StateHold, StateSafetyDoor, StateHoming, StateJog:
		return true
	}
	return false
}

// ErrInvalidTransition is wrapped by ValidateTransition.
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[State][]State{
	StateIdle:       {StateAlarm, StateCheckMode, StateHoming, StateCycle, StateJog, StateSafetyDoor, StateSleep},
	StateAlarm:      {StateIdle, StateHoming},
	StateCheckMode:  {StateIdle, StateAlarm},
	StateHoming:     {StateIdle, StateAlarm},
	StateCycle:      {StateIdle, StateHold, StateAlarm},
	StateHold:       {StateIdle, StateCycle, StateSafetyDoor, StateSleep, StateAlarm},
	StateJog:        {StateIdle, StateSafetyDoor, StateSleep, StateAlarm},
	StateSafetyDoor: {StateIdle, StateAlarm},
	StateSleep:      {StateAlarm},
}

// ValidateTransition returns nil when from -> to is an edge of the state
// table. Staying in the same state is always allowed.
func ValidateTransition(from, to State) error {
	if from == to {
		return nil
	}
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}
	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// SuspendFlags are the sub-states of a suspend episode.
type SuspendFlags uint8

const (
	SuspendHoldComplete SuspendFlags = 1 << iota
	SuspendRetractComplete
	SuspendInitiateRestore
	SuspendRestoreComplete
	SuspendSafetyDoorAjar
	SuspendMotionCancel
	SuspendJogCancel
	SuspendRestartRetract
)

var suspendNames = []string{
	"hold_complete", "retract_complete", "initiate_restore", "restore_complete",
	"safety_door_ajar", "motion_cancel", "jog_cancel", "restart_retract",
}

// Has reports whether every bit of f is set.
func (s SuspendFlags) Has(f SuspendFlags) bool {
	return s&f == f
}

func (s SuspendFlags) String() string {
	out := ""
	for i, name := range suspendNames {
		if s&(1<<uint(i)) != 0 {
			if out != "" {
				out += "|"
			}
			out += name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// StepControl tells the step generator how to treat the active block.
type StepControl uint8

const (
	StepExecuteHold StepControl = 1 << iota
	StepExecuteSysMotion
	StepUpdateSpindleSpeed
)

// SpindleStopOverride tracks the spindle-stop override during a plain hold.
type SpindleStopOverride uint8

const (
	SpindleStopInitiate SpindleStopOverride = 1 << iota
	SpindleStopEnabled
	SpindleStopRestore
	SpindleStopRestoreCycle
)
