// Package protocol is the realtime side of the motion core. The Executor
// consumes requests from the shared signal register and drives the machine
// state table; the suspend manager sequences parking around holds, door
// openings and sleep; the motion entry points queue moves and wait on the
// planner while keeping the executor serviced.
package protocol

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"go.uber.org/zap"
)

var (
	// ErrAborted is returned by blocking operations interrupted by a reset.
	ErrAborted = errors.New("aborted by reset")
	// ErrNotIdle is returned when an operation needs an idle machine.
	ErrNotIdle = errors.New("machine not idle")
	// ErrLocked is returned while the machine is held in alarm.
	ErrLocked = errors.New("machine locked by alarm")
	// ErrDoorOpen refuses an unlock while the safety door is ajar.
	ErrDoorOpen = errors.New("safety door open")
	ErrNoHomer  = errors.New("homing is not configured")
)

// Reporter publishes status reports and operator feedback.
type Reporter interface {
	ReportStatus()
	ReportFeedback(msg string)
}

type nopReporter struct{}

func (nopReporter) ReportStatus()         {}
func (nopReporter) ReportFeedback(string) {}

// Homer runs homing cycles.
type Homer interface {
	RunCycles(ctx context.Context, mask axes.AxisMask) error
}

// SoftLimiter checks targets against the machine travel.
type SoftLimiter interface {
	Allows(target []float64) bool
}

// DoorSensor reports the live safety door level.
type DoorSensor interface {
	DoorAjar() bool
}

// Collaborators are the parts the executor drives. Spindle, Coolant,
// Macros, Homer, SoftLimits, Door and Reporter are optional.
type Collaborators struct {
	Topology   *axes.Topology
	Planner    motion.Planner
	Stepper    motion.Stepper
	Spindle    motion.Spindle
	Coolant    motion.Coolant
	Macros     motion.MacroRunner
	Homer      Homer
	SoftLimits SoftLimiter
	Door       DoorSensor
	Reporter   Reporter
}

// Options tune the executor.
type Options struct {
	Parking ParkingOptions
	// Yield gives up the processor inside wait loops.
	Yield func()
	// Sleep waits inside timed delays.
	Sleep func(time.Duration)
	// Quantum is the longest single wait inside a timed delay.
	Quantum time.Duration
}

// Executor is the realtime executor. Every method runs on the main task.
type Executor struct {
	logger *zap.Logger
	sys    *machine.System
	c      Collaborators
	opts   Options

	suspend *SuspendManager
	// sleepPending defers a sleep request until the hold it started
	// completes.
	sleepPending bool
	// ctx is used when the executor is serviced from code that has no
	// context of its own, such as homing loops.
	ctx context.Context
}

// NewExecutor wires an executor around sys.
func NewExecutor(logger *zap.Logger, sys *machine.System, c Collaborators, opts Options) *Executor {
	if opts.Yield == nil {
		opts.Yield = runtime.Gosched
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Quantum <= 0 {
		opts.Quantum = time.Millisecond
	}
	if c.Spindle == nil {
		c.Spindle = nopSpindle{}
	}
	if c.Coolant == nil {
		c.Coolant = nopCoolant{}
	}
	if c.Reporter == nil {
		c.Reporter = nopReporter{}
	}
	e := &Executor{
		logger: logger,
		sys:    sys,
		c:      c,
		opts:   opts,
		ctx:    context.Background(),
	}
	e.suspend = newSuspendManager(logger.Named("suspend"), e)
	return e
}

// System returns the context object the executor drives.
func (e *Executor) System() *machine.System {
	return e.sys
}

// Suspend returns the suspend manager.
func (e *Executor) Suspend() *SuspendManager {
	return e.suspend
}

// SetHomer sets the homing coordinator, which is built after the
// executor since it services it.
func (e *Executor) SetHomer(h Homer) {
	e.c.Homer = h
}

// SetContext sets the context used by ServiceRequests.
func (e *Executor) SetContext(ctx context.Context) {
	e.ctx = ctx
}

// ServiceRequests runs one executor pass. Homing loops call it every
// iteration.
func (e *Executor) ServiceRequests() {
	e.ExecSystem(e.ctx)
}

// ExecuteRealtime runs one executor pass and, while a suspend episode is
// active, keeps the suspend manager and the executor running until the
// episode ends or a reset aborts it. Every blocking wait must call it.
func (e *Executor) ExecuteRealtime(ctx context.Context) {
	e.ExecSystem(ctx)
	if e.sys.Suspend != 0 && !e.sys.Abort {
		e.suspend.run(ctx)
	}
}

// ExecSystem is one pass over the signal register in fixed priority:
// alarm, reset, status report, motion events, overrides, then a refill of
// the step segment buffer while moving.
func (e *Executor) ExecSystem(ctx context.Context) {
	sys, reg := e.sys, e.sys.Signals

	if code := machine.AlarmCode(reg.PendingAlarm()); code != machine.AlarmNone {
		// While homing, a non-fatal alarm belongs to the coordinator, which
		// fails the cycle and hands it back.
		if sys.State() != machine.StateHoming || code.IsFatal() {
			e.raiseAlarm(code)
			if code.IsFatal() {
				e.c.Reporter.ReportFeedback("Reset to continue")
				// A trip that requested its own reset must not count as
				// the operator's.
				reg.Clear(signals.Reset)
				for !reg.Has(signals.Reset) && ctx.Err() == nil {
					e.opts.Yield()
				}
			}
		}
	}

	if reg.Has(signals.Reset) {
		e.positionLost()
		sys.Abort = true
		return
	}
	if ctx.Err() != nil {
		sys.Abort = true
		return
	}

	if reg.Take(signals.StatusReport) {
		e.c.Reporter.ReportStatus()
	}

	held := e.handleHoldEvents()
	if reg.Take(signals.CycleStart) && !held {
		e.cycleStart()
	}
	if sys.State() != machine.StateHoming && reg.Take(signals.CycleStop) {
		e.cycleStop()
	}
	e.runMacros()

	e.applyOverrides()

	if sys.State().IsMotion() {
		e.c.Stepper.PrepBuffer()
	}
}

func (e *Executor) raiseAlarm(code machine.AlarmCode) {
	e.sys.Signals.ClearAlarm()
	if err := e.sys.SetState(machine.StateAlarm); err != nil {
		e.logger.Error("Failed to enter alarm state", zap.Error(err))
	}
	e.sys.LatchAlarm(code)
	if code == machine.AlarmHardLimit || code == machine.AlarmAbortCycle {
		e.sys.ForgetHomed(axes.AllAxes)
	}
}

// positionLost posts the alarm a reset implies when it interrupts motion.
// The first posted alarm wins, so a repeated call is harmless.
func (e *Executor) positionLost() {
	state := e.sys.State()
	moving := state == machine.StateCycle || state == machine.StateJog || state == machine.StateHoming ||
		e.sys.StepControl&(machine.StepExecuteHold|machine.StepExecuteSysMotion) != 0
	if !moving {
		return
	}
	if state == machine.StateHoming {
		e.sys.PostAlarm(machine.AlarmHomingFailReset)
	} else {
		e.sys.PostAlarm(machine.AlarmAbortCycle)
	}
}

func (e *Executor) runMacros() {
	pending := e.sys.Signals.TakeMacros()
	if pending == 0 {
		return
	}
	if e.sys.State() != machine.StateIdle || e.c.Macros == nil {
		e.logger.Debug("Macro request ignored",
			zap.String("state", e.sys.State().String()))
		return
	}
	for n := 0; n < signals.MacroCount; n++ {
		if pending&(1<<uint(n)) == 0 {
			continue
		}
		if err := e.c.Macros.RunMacro(n); err != nil {
			e.logger.Error("Macro failed", zap.Int("macro", n), zap.Error(err))
		}
	}
}

// spindleError turns a failed spindle command into an alarm.
func (e *Executor) spindleError(err error) {
	if err == nil {
		return
	}
	e.logger.Error("Spindle command failed", zap.Error(err))
	e.sys.PostAlarm(machine.AlarmSpindleControl)
}

type nopSpindle struct{}

func (nopSpindle) SetState(motion.SpindleState, float64) error { return nil }
func (nopSpindle) SpinDown() error                             { return nil }
func (nopSpindle) State() (motion.SpindleState, float64)       { return motion.SpindleOff, 0 }

type nopCoolant struct{}

func (nopCoolant) SetState(bool, bool) {}
func (nopCoolant) Off()                {}
func (nopCoolant) State() (bool, bool) { return false, false }
