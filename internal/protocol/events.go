package protocol

import (
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"go.uber.org/zap"
)

// handleHoldEvents consumes motion cancel, feed hold, safety door and
// sleep, in that order. It reports whether any of the hold-type requests
// was seen so a simultaneous cycle start can be refused.
func (e *Executor) handleHoldEvents() bool {
	sys, reg := e.sys, e.sys.Signals

	cancel := reg.Take(signals.MotionCancel)
	hold := reg.Take(signals.FeedHold)
	door := reg.Take(signals.SafetyDoor)
	sleep := reg.Take(signals.Sleep)
	if !cancel && !hold && !door && !sleep {
		return false
	}
	held := cancel || hold || door

	switch sys.State() {
	case machine.StateAlarm, machine.StateCheckMode:
		return held
	case machine.StateHoming:
		if door {
			sys.PostAlarm(machine.AlarmHomingFailDoor)
		}
		return held
	}

	if door {
		e.c.Reporter.ReportFeedback("Check door")
	}

	if cancel {
		e.motionCancel()
	}
	if hold {
		e.feedHold()
	}
	if door {
		e.safetyDoor()
	}
	if sleep {
		e.sleep()
	}
	return held
}

// initiateHold starts decelerating the active motion unless a cancel is
// already holding it.
func (e *Executor) initiateHold() {
	if e.sys.Suspend&(machine.SuspendMotionCancel|machine.SuspendJogCancel) != 0 {
		return
	}
	e.c.Stepper.UpdatePlanBlockParameters()
	e.sys.StepControl = machine.StepExecuteHold
}

func (e *Executor) motionCancel() {
	sys := e.sys
	switch sys.State() {
	case machine.StateIdle:
		sys.Suspend = machine.SuspendHoldComplete
	case machine.StateCycle:
		e.initiateHold()
		sys.Suspend |= machine.SuspendMotionCancel
	case machine.StateJog:
		e.initiateHold()
		sys.Suspend |= machine.SuspendJogCancel
	}
}

func (e *Executor) feedHold() {
	sys := e.sys
	switch sys.State() {
	case machine.StateIdle:
		sys.Suspend = machine.SuspendHoldComplete
	case machine.StateCycle:
		e.initiateHold()
		e.setState(machine.StateHold)
	case machine.StateJog:
		e.initiateHold()
		sys.Suspend |= machine.SuspendJogCancel
	}
}

func (e *Executor) safetyDoor() {
	sys := e.sys
	e.sleepPending = false
	switch sys.State() {
	case machine.StateIdle:
		sys.Suspend = machine.SuspendHoldComplete
		e.setState(machine.StateSafetyDoor)
	case machine.StateCycle:
		e.initiateHold()
		e.setState(machine.StateHold)
		e.setState(machine.StateSafetyDoor)
	case machine.StateJog:
		// The door takes effect once the jog cancel completes.
		e.initiateHold()
		sys.Suspend |= machine.SuspendJogCancel
	case machine.StateHold:
		if sys.Suspend&machine.SuspendJogCancel == 0 {
			e.setState(machine.StateSafetyDoor)
		}
	case machine.StateSafetyDoor:
		e.restartRetract()
	case machine.StateSleep:
		return
	}
	sys.Suspend |= machine.SuspendSafetyDoorAjar
}

// restartRetract re-arms the retract when the door reopens while the
// restore is in progress. A finished retract waiting for a resume is left
// alone.
func (e *Executor) restartRetract() {
	sys := e.sys
	if sys.Suspend&machine.SuspendInitiateRestore == 0 {
		return
	}
	if sys.StepControl&machine.StepExecuteSysMotion != 0 {
		e.c.Stepper.UpdatePlanBlockParameters()
		sys.StepControl = machine.StepExecuteHold | machine.StepExecuteSysMotion
		sys.Suspend &^= machine.SuspendHoldComplete
	}
	sys.Suspend &^= machine.SuspendRetractComplete | machine.SuspendInitiateRestore | machine.SuspendRestoreComplete
	sys.Suspend |= machine.SuspendRestartRetract
	e.logger.Warn("Safety door reopened during restore, restarting retract")
}

// sleep parks the machine. Moving machines hold first and fall asleep once
// the hold completes.
func (e *Executor) sleep() {
	sys := e.sys
	switch sys.State() {
	case machine.StateIdle:
		sys.Suspend = machine.SuspendHoldComplete
		e.setState(machine.StateSleep)
	case machine.StateCycle:
		e.initiateHold()
		e.setState(machine.StateHold)
		e.sleepPending = true
	case machine.StateJog:
		e.initiateHold()
		e.sleepPending = true
	case machine.StateHold:
		if sys.Suspend&machine.SuspendHoldComplete != 0 {
			e.enterSleep()
			return
		}
		e.sleepPending = true
	}
}

// enterSleep finishes a deferred sleep on a stopped machine.
func (e *Executor) enterSleep() {
	e.sleepPending = false
	e.sys.StepControl &^= machine.StepExecuteHold
	e.sys.Suspend = machine.SuspendHoldComplete
	e.setState(machine.StateSleep)
}

func (e *Executor) cycleStart() {
	sys := e.sys
	state := sys.State()
	if state == machine.StateAlarm || state == machine.StateCheckMode || state == machine.StateHoming {
		return
	}

	if state == machine.StateSafetyDoor && sys.Suspend&machine.SuspendSafetyDoorAjar == 0 {
		if sys.Suspend&machine.SuspendRestoreComplete != 0 {
			e.setState(machine.StateIdle)
		} else if sys.Suspend&machine.SuspendRetractComplete != 0 {
			sys.Suspend |= machine.SuspendInitiateRestore
		}
	}

	state = sys.State()
	if state != machine.StateIdle && !(state == machine.StateHold && sys.Suspend&machine.SuspendHoldComplete != 0) {
		return
	}
	if state == machine.StateHold && sys.SpindleStopOvr != 0 {
		sys.SpindleStopOvr |= machine.SpindleStopRestoreCycle
		return
	}

	sys.StepControl = 0
	if e.c.Planner.CurrentBlock() != nil && sys.Suspend&machine.SuspendMotionCancel == 0 {
		sys.Suspend = 0
		e.setState(machine.StateCycle)
		e.c.Stepper.PrepBuffer()
		e.c.Stepper.WakeUp()
		return
	}
	sys.Suspend = 0
	e.setState(machine.StateIdle)
}

func (e *Executor) cycleStop() {
	sys := e.sys
	switch sys.State() {
	case machine.StateHold, machine.StateSafetyDoor, machine.StateSleep:
		if sys.Suspend&machine.SuspendJogCancel != 0 {
			e.finishJog()
			return
		}
		e.c.Planner.CycleReinitialize()
		if sys.StepControl&machine.StepExecuteHold != 0 {
			sys.Suspend |= machine.SuspendHoldComplete
		}
		sys.StepControl &^= machine.StepExecuteHold | machine.StepExecuteSysMotion
		if e.sleepPending && sys.State() == machine.StateHold && sys.Suspend&machine.SuspendHoldComplete != 0 {
			e.enterSleep()
		}

	case machine.StateCycle:
		if sys.StepControl&machine.StepExecuteHold != 0 {
			e.c.Planner.CycleReinitialize()
			sys.Suspend |= machine.SuspendHoldComplete
			sys.StepControl = 0
			if sys.Suspend&machine.SuspendMotionCancel == 0 {
				return
			}
			// A cancelled block is dropped rather than resumed.
			e.flush()
		}
		sys.Suspend = 0
		e.setState(machine.StateIdle)

	case machine.StateJog:
		e.finishJog()
	}
}

// finishJog ends a jog and flushes whatever a cancel or hold left queued.
func (e *Executor) finishJog() {
	sys := e.sys
	sys.StepControl = 0
	e.flush()
	if sys.Suspend&machine.SuspendSafetyDoorAjar != 0 {
		e.sleepPending = false
		sys.Suspend &^= machine.SuspendJogCancel
		sys.Suspend |= machine.SuspendHoldComplete
		e.setState(machine.StateSafetyDoor)
		return
	}
	if e.sleepPending {
		e.enterSleep()
		return
	}
	sys.Suspend = 0
	e.setState(machine.StateIdle)
}

func (e *Executor) flush() {
	e.c.Planner.Reset()
	e.c.Stepper.Reset()
	e.c.Planner.SyncPosition()
}

func (e *Executor) setState(to machine.State) {
	if err := e.sys.SetState(to); err != nil {
		e.logger.Error("State change rejected",
			zap.String("state", to.String()),
			zap.Error(err))
	}
}
