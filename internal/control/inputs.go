// Package control maps the operator buttons and the safety door switch to
// realtime requests.
package control

import (
	"sync/atomic"

	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"go.uber.org/zap"
)

// Pin is a control input.
type Pin int

const (
	PinReset Pin = iota
	PinFeedHold
	PinCycleStart
	PinSafetyDoor
	PinMacro0
	PinMacro1
	PinMacro2
	PinMacro3
)

var pinNames = map[Pin]string{
	PinReset:      "reset",
	PinFeedHold:   "feed_hold",
	PinCycleStart: "cycle_start",
	PinSafetyDoor: "safety_door",
	PinMacro0:     "macro0",
	PinMacro1:     "macro1",
	PinMacro2:     "macro2",
	PinMacro3:     "macro3",
}

func (p Pin) String() string {
	if n, ok := pinNames[p]; ok {
		return n
	}
	return "unknown"
}

// ParsePin maps a pin name to a Pin.
func ParsePin(name string) (Pin, bool) {
	for p, n := range pinNames {
		if n == name {
			return p, true
		}
	}
	return 0, false
}

// Inputs turns control pin edges into register requests.
type Inputs struct {
	logger   *zap.Logger
	reg      *signals.Register
	hardStop func()
	levels   atomic.Uint32
}

// NewInputs returns an input mapper. hardStop, if set, runs on the reset
// pin's rising edge before the reset request is raised.
func NewInputs(logger *zap.Logger, reg *signals.Register, hardStop func()) *Inputs {
	return &Inputs{logger: logger, reg: reg, hardStop: hardStop}
}

// OnPinChange is the pin handler. Requests fire on the rising edge; the
// door level is tracked on both edges.
func (in *Inputs) OnPinChange(p Pin, active bool) {
	bit := uint32(1) << uint(p)
	var old uint32
	if active {
		old = in.levels.Or(bit)
	} else {
		old = in.levels.And(^bit)
	}
	if !active || old&bit != 0 {
		return
	}

	switch p {
	case PinReset:
		if in.hardStop != nil {
			in.hardStop()
		}
		in.reg.Set(signals.Reset)
	case PinFeedHold:
		in.reg.Set(signals.FeedHold)
	case PinCycleStart:
		in.reg.Set(signals.CycleStart)
	case PinSafetyDoor:
		in.reg.Set(signals.SafetyDoor)
	case PinMacro0, PinMacro1, PinMacro2, PinMacro3:
		in.reg.TriggerMacro(int(p - PinMacro0))
	default:
		in.logger.Warn("Unknown control pin", zap.Int("pin", int(p)))
	}
}

// Active reports the live level of a pin.
func (in *Inputs) Active(p Pin) bool {
	return in.levels.Load()&(1<<uint(p)) != 0
}

// DoorAjar reports whether the safety door is open right now.
func (in *Inputs) DoorAjar() bool {
	return in.Active(PinSafetyDoor)
}

// Levels returns the live level of every pin as a bitmask indexed by Pin.
func (in *Inputs) Levels() uint32 {
	return in.levels.Load()
}
