package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"go.uber.org/zap"
)

// Line queues a program move. An idle machine starts the cycle on its
// own. A target outside the soft limits stops the machine with a soft
// limit alarm.
func (e *Executor) Line(ctx context.Context, target []float64, d motion.MotionDescriptor) error {
	sys := e.sys
	switch sys.State() {
	case machine.StateAlarm, machine.StateSleep:
		return ErrLocked
	case machine.StateHoming, machine.StateJog:
		return fmt.Errorf("%w: %s", ErrNotIdle, sys.State())
	}

	if e.c.SoftLimits != nil && !e.c.SoftLimits.Allows(target) {
		e.logger.Warn("Move exceeds soft limits", zap.Float64s("target", target))
		e.c.Stepper.Reset()
		sys.PostAlarm(machine.AlarmSoftLimit)
		sys.Signals.Set(signals.Reset)
		e.ExecuteRealtime(ctx)
		return machine.AlarmSoftLimit
	}
	if sys.State() == machine.StateCheckMode {
		return nil
	}

	err := e.c.Planner.BufferLine(target, d)
	if errors.Is(err, motion.ErrEmptyBlock) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to queue move: %w", err)
	}
	if sys.State() == machine.StateIdle {
		sys.Signals.Set(signals.CycleStart)
	}
	e.ExecuteRealtime(ctx)
	if sys.Abort {
		return ErrAborted
	}
	return nil
}

// Jog queues a jog move. Jogs are allowed from Idle or while jogging, and
// a target outside the soft limits is refused without an alarm.
func (e *Executor) Jog(ctx context.Context, target []float64, feedRate float64) error {
	sys := e.sys
	state := sys.State()
	if state != machine.StateIdle && state != machine.StateJog {
		return fmt.Errorf("%w: %s", ErrNotIdle, state)
	}
	if e.c.SoftLimits != nil && !e.c.SoftLimits.Allows(target) {
		return machine.AlarmSoftLimit
	}

	err := e.c.Planner.BufferLine(target, motion.MotionDescriptor{
		FeedRate:       feedRate,
		NoFeedOverride: true,
		Jog:            true,
	})
	if errors.Is(err, motion.ErrEmptyBlock) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to queue jog: %w", err)
	}

	if state == machine.StateIdle && e.c.Planner.CurrentBlock() != nil {
		e.setState(machine.StateJog)
		e.c.Stepper.PrepBuffer()
		e.c.Stepper.WakeUp()
	}
	return nil
}

// PlannedPosition returns the position at the end of the queued moves.
func (e *Executor) PlannedPosition() []float64 {
	return e.c.Planner.Position()
}

// BufferSynchronize waits until every queued move has run, keeping the
// executor serviced. It returns ErrAborted when a reset interrupts it.
func (e *Executor) BufferSynchronize(ctx context.Context) error {
	sys := e.sys
	if sys.State() == machine.StateIdle && e.c.Planner.CurrentBlock() != nil {
		sys.Signals.Set(signals.CycleStart)
	}
	for {
		e.ExecuteRealtime(ctx)
		if sys.Abort {
			return ErrAborted
		}
		if state := sys.State(); e.c.Planner.CurrentBlock() == nil && state != machine.StateCycle && state != machine.StateJog {
			return nil
		}
		e.opts.Yield()
	}
}

// Home runs homing cycles for mask, or every configured cycle when mask
// is zero, then lets the executor surface any alarm the run posted.
func (e *Executor) Home(ctx context.Context, mask axes.AxisMask) error {
	if e.c.Homer == nil {
		return ErrNoHomer
	}
	if state := e.sys.State(); state != machine.StateIdle && state != machine.StateAlarm {
		return fmt.Errorf("%w: %s", ErrNotIdle, state)
	}

	start := time.Now()
	err := e.c.Homer.RunCycles(ctx, mask)
	e.ExecuteRealtime(ctx)
	if err != nil {
		return err
	}
	if e.sys.Abort {
		return ErrAborted
	}
	e.logger.Info("Homing finished", zap.Duration("duration", time.Since(start)))
	return nil
}

// Unlock releases an alarm without homing.
func (e *Executor) Unlock() error {
	sys := e.sys
	if sys.State() != machine.StateAlarm {
		return nil
	}
	if e.c.Door != nil && e.c.Door.DoorAjar() {
		return ErrDoorOpen
	}
	sys.ClearAlarm()
	if err := sys.SetState(machine.StateIdle); err != nil {
		return err
	}
	e.c.Reporter.ReportFeedback("Caution: Unlocked")
	return nil
}

// ToggleCheckMode enters check mode from Idle or leaves it. In check mode
// moves are validated but never executed.
func (e *Executor) ToggleCheckMode() error {
	sys := e.sys
	switch sys.State() {
	case machine.StateIdle:
		e.c.Reporter.ReportFeedback("Enabled")
		return sys.SetState(machine.StateCheckMode)
	case machine.StateCheckMode:
		e.c.Planner.Reset()
		e.c.Planner.SyncPosition()
		e.c.Reporter.ReportFeedback("Disabled")
		return sys.SetState(machine.StateIdle)
	default:
		return fmt.Errorf("%w: %s", ErrNotIdle, sys.State())
	}
}

// delay waits d while servicing the executor. A reset ends it early.
func (e *Executor) delay(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		e.ExecSystem(ctx)
		if e.sys.Abort {
			return
		}
		if remaining > e.opts.Quantum {
			remaining = e.opts.Quantum
		}
		e.opts.Sleep(remaining)
	}
}
