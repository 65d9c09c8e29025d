// Package motion declares the collaborators the motion core drives: the
// trajectory planner, the step generator and the spindle and coolant
// accessories. Implementations live in internal/sim and internal/spindle.
package motion

import (
	"errors"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
)

// ErrEmptyBlock is returned by Planner.BufferLine for a zero-length move.
var ErrEmptyBlock = errors.New("zero-length motion")

// SpindleState is the spindle direction.
type SpindleState uint8

const (
	SpindleOff SpindleState = iota
	SpindleCW
	SpindleCCW
)

func (s SpindleState) String() string {
	switch s {
	case SpindleCW:
		return "cw"
	case SpindleCCW:
		return "ccw"
	default:
		return "off"
	}
}

// AccessoryState is the spindle and coolant state held during a move.
type AccessoryState struct {
	Spindle      SpindleState `json:"spindle"`
	SpindleSpeed float64      `json:"spindle_speed"`
	Flood        bool         `json:"flood"`
	Mist         bool         `json:"mist"`
}

// MotionDescriptor describes one planned move.
type MotionDescriptor struct {
	// FeedRate in mm/min.
	FeedRate float64
	// SystemMotion moves bypass the program queue and feed overrides.
	SystemMotion   bool
	NoFeedOverride bool
	Rapid          bool
	Jog            bool
	Accessory      AccessoryState
	LineNumber     int
}

// Block is a move queued in the planner.
type Block struct {
	Target     []float64
	Descriptor MotionDescriptor
}

// Planner queues moves and owns the planned position.
type Planner interface {
	BufferLine(target []float64, d MotionDescriptor) error
	// CurrentBlock returns the executing program block, nil when the queue
	// is empty.
	CurrentBlock() *Block
	Reset()
	// CycleReinitialize replans the queue from the current machine
	// position after a hold.
	CycleReinitialize()
	// SyncPosition copies the stepper position into the planner.
	SyncPosition()
	Position() []float64
	UpdateOverrides(feed, rapid uint8)
}

// Stepper turns planned blocks into step pulses.
type Stepper interface {
	// PrepBuffer refills the segment buffer. Must be called every executor
	// tick while the machine state produces motion.
	PrepBuffer()
	WakeUp()
	Reset()
	GoIdle()
	// UpdatePlanBlockParameters hands the partially executed block back to
	// the planner before a hold.
	UpdatePlanBlockParameters()
	ParkingSetupBuffer()
	ParkingRestoreBuffer()
	LockMotors(m axes.MotorMask)
	UnlockMotors()
	Position() []float64
	SetAxisPosition(axis int, pos float64)
}

// Spindle drives the spindle. Calls are idempotent.
type Spindle interface {
	SetState(state SpindleState, speed float64) error
	SpinDown() error
	State() (SpindleState, float64)
}

// Coolant drives flood and mist outputs. Calls are idempotent.
type Coolant interface {
	SetState(flood, mist bool)
	Off()
	State() (flood, mist bool)
}

// MacroRunner runs a user macro bound to a control button.
type MacroRunner interface {
	RunMacro(n int) error
}
