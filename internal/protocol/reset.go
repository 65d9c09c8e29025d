package protocol

import (
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"go.uber.org/zap"
)

// RequestReset raises the reset request. Safe from any goroutine.
func (e *Executor) RequestReset() {
	e.sys.Signals.Set(signals.Reset)
}

// Reinitialize brings the core back to a known state after an abort: the
// accessories are stopped, motion is flushed and every request dropped.
// The machine comes back in Alarm when an alarm is pending or it was
// already in Alarm or Sleep, otherwise Idle.
func (e *Executor) Reinitialize() {
	sys, c := e.sys, e.c
	prev := sys.State()

	e.spindleError(c.Spindle.SpinDown())
	c.Coolant.Off()
	c.Stepper.Reset()
	c.Planner.Reset()
	c.Planner.SyncPosition()

	code := machine.AlarmCode(sys.Signals.PendingAlarm())
	sys.Signals.ClearAll()
	sys.ResetSuspend()
	sys.Abort = false
	sys.ParkingOverrideDisabled = false
	sys.Overrides = machine.DefaultOverrides()
	c.Planner.UpdateOverrides(sys.Overrides.Feed, sys.Overrides.Rapid)
	e.suspend.ep = nil
	e.sleepPending = false

	switch {
	case code != machine.AlarmNone:
		e.raiseAlarm(code)
	case prev == machine.StateAlarm || prev == machine.StateSleep:
		e.setState(machine.StateAlarm)
	default:
		e.setState(machine.StateIdle)
	}

	e.logger.Info("Reinitialized after reset",
		zap.String("previous_state", prev.String()),
		zap.String("state", sys.State().String()))
}
