// Package homing runs homing cycles: it drives axis groups onto their
// switches, pulls off, optionally squares ganged axes and sets the machine
// position of every axis it homes.
package homing

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoHomingCycles is returned when homing all axes but no axis is
// assigned to a cycle.
var ErrNoHomingCycles = errors.New("no homing cycles defined")

// ErrBusy is returned when homing is requested outside Idle or Alarm.
var ErrBusy = errors.New("homing not allowed in current state")

// Realtime is serviced on every iteration of a homing loop.
type Realtime interface {
	ServiceRequests()
}

// Switches is the limit tracker surface homing needs.
type Switches interface {
	GetState() axes.MotorMask
	SetHomingMode(on bool)
}

// Options tune the coordinator.
type Options struct {
	// LocateCycles is the number of slow approach and pulloff repetitions
	// after the fast approach.
	LocateCycles int
	// Yield gives up the processor between loop iterations.
	Yield func()
	// Sleep waits out the switch settle time after each phase.
	Sleep func(time.Duration)
}

// PhaseEvent describes a phase about to run.
type PhaseEvent struct {
	Cycle  int
	Phase  Phase
	Axes   axes.AxisMask
	Motors axes.MotorMask
	Move   Move
}

// Run summarizes a finished RunCycles call.
type Run struct {
	ID       uuid.UUID
	Axes     axes.AxisMask
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Observer is told about every finished homing run.
type Observer interface {
	HomingFinished(run Run)
}

// Coordinator runs homing cycles on the main task.
type Coordinator struct {
	logger   *zap.Logger
	topo     *axes.Topology
	sys      *machine.System
	planner  motion.Planner
	stepper  motion.Stepper
	switches Switches
	rt       Realtime
	opts     Options

	observers []Observer
	// OnPhase, when set, is called before each phase starts.
	OnPhase func(PhaseEvent)
	// OnLimit, when set, is called with the remaining motor mask each time
	// an approach locks out motors.
	OnLimit func(remaining axes.MotorMask)
}

// NewCoordinator wires a coordinator. rt may be nil.
func NewCoordinator(
	logger *zap.Logger,
	topo *axes.Topology,
	sys *machine.System,
	planner motion.Planner,
	stepper motion.Stepper,
	switches Switches,
	rt Realtime,
	opts Options,
) *Coordinator {
	if opts.Yield == nil {
		opts.Yield = runtime.Gosched
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Coordinator{
		logger:   logger,
		topo:     topo,
		sys:      sys,
		planner:  planner,
		stepper:  stepper,
		switches: switches,
		rt:       rt,
		opts:     opts,
	}
}

// SetRealtime sets the executor hook serviced from homing loops.
func (c *Coordinator) SetRealtime(rt Realtime) {
	c.rt = rt
}

// AddObserver registers a run observer.
func (c *Coordinator) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// RunCycles homes the axes in mask as one group. A zero mask homes
// everything: cycles 1..N run in order, each with the axes assigned to it.
// The first failure ends the whole call in Alarm; its alarm is posted for
// the executor to latch and returned.
func (c *Coordinator) RunCycles(ctx context.Context, mask axes.AxisMask) error {
	state := c.sys.State()
	if state != machine.StateIdle && state != machine.StateAlarm {
		return fmt.Errorf("%w: %s", ErrBusy, state)
	}

	if mask == 0 && c.topo.MaxCycle() == 0 {
		c.logger.Error("Homing requested but no axis has a homing cycle")
		if err := c.sys.SetState(machine.StateAlarm); err != nil {
			return err
		}
		return ErrNoHomingCycles
	}

	run := Run{ID: uuid.New(), Started: time.Now()}
	logger := c.logger.With(zap.String("run_id", run.ID.String()))

	if err := c.sys.SetState(machine.StateHoming); err != nil {
		return err
	}
	c.switches.SetHomingMode(true)
	defer c.switches.SetHomingMode(false)

	var err error
	if mask != 0 {
		run.Axes, err = c.runOneCycle(ctx, 0, mask)
	} else {
		for n := 1; n <= c.topo.MaxCycle(); n++ {
			group := c.topo.AxesInCycle(n)
			if group == 0 {
				continue
			}
			var homed axes.AxisMask
			homed, err = c.runOneCycle(ctx, n, group)
			run.Axes |= homed
			if err != nil {
				break
			}
		}
	}
	c.sys.StepControl = 0

	run.Duration = time.Since(run.Started)
	run.Err = err
	defer c.notify(run)

	if err != nil {
		c.stepper.Reset()
		c.planner.Reset()

		// The run is over, so its alarm goes to the executor from Alarm
		// rather than from Homing, where it would wait for the coordinator.
		var code machine.AlarmCode
		if errors.As(err, &code) {
			c.sys.PostAlarm(code)
			logger.Error("Homing failed",
				zap.Uint8("code", uint8(code)),
				zap.String("alarm", code.String()))
		} else {
			logger.Error("Homing failed", zap.Error(err))
		}
		if serr := c.sys.SetState(machine.StateAlarm); serr != nil {
			logger.Error("Failed to enter alarm", zap.Error(serr))
		}
		return err
	}

	c.planner.SyncPosition()
	c.sys.ClearAlarm()
	logger.Info("Homing complete",
		zap.String("axes", c.sys.Homed().String()),
		zap.Duration("duration", run.Duration))
	return c.sys.SetState(machine.StateIdle)
}

func (c *Coordinator) notify(run Run) {
	for _, o := range c.observers {
		o.HomingFinished(run)
	}
}

// RunOneCycle homes one group of axes. Axes without homing parameters and
// motors that refuse homing mode are dropped from the group; an empty group
// returns nil without moving.
func (c *Coordinator) RunOneCycle(ctx context.Context, cycle int, mask axes.AxisMask) error {
	_, err := c.runOneCycle(ctx, cycle, mask)
	return err
}

// runOneCycle returns the axes it homed, which is zero on failure.
func (c *Coordinator) runOneCycle(ctx context.Context, cycle int, mask axes.AxisMask) (axes.AxisMask, error) {
	mask &= c.topo.HomingMask()
	if mask == 0 {
		return 0, nil
	}

	motors := c.topo.SetHomingMode(mask, true)
	defer c.topo.SetHomingMode(mask, false)
	if motors == 0 {
		c.logger.Debug("No motor accepted homing mode",
			zap.Int("cycle", cycle),
			zap.String("axes", mask.String()))
		return 0, nil
	}
	mask &= motors.Axes()

	if c.topo.SquaredSharedSwitch(mask) {
		c.logger.Warn("cannot square axis with a single switch, racking may occur",
			zap.Int("cycle", cycle),
			zap.String("axes", mask.String()))
	}

	if squared := c.topo.SquaredMotors(mask) & motors; squared != 0 {
		if err := c.runSquared(ctx, cycle, mask, motors, squared); err != nil {
			return 0, err
		}
	} else {
		if err := c.approachAndPulloff(ctx, cycle, mask, motors, PhaseFastApproach); err != nil {
			return 0, err
		}
		for i := 0; i < c.opts.LocateCycles; i++ {
			if err := c.approachAndPulloff(ctx, cycle, mask, motors, PhaseSlowApproach); err != nil {
				return 0, err
			}
		}
	}

	c.setMachinePositions(mask)
	c.sys.MarkHomed(mask)
	c.logger.Info("Homing cycle complete",
		zap.Int("cycle", cycle),
		zap.String("axes", mask.String()))
	return mask, nil
}

// runSquared homes both motors together, then locates each gang on its
// own switch so the gantry ends up square.
func (c *Coordinator) runSquared(ctx context.Context, cycle int, mask axes.AxisMask, motors, squared axes.MotorMask) error {
	if err := c.approachAndPulloff(ctx, cycle, mask, motors, PhaseFastApproach); err != nil {
		return err
	}
	if err := c.approachAndPulloff(ctx, cycle, mask, motors&^squared, PhaseSlowApproach); err != nil {
		return err
	}
	return c.approachAndPulloff(ctx, cycle, squared.Axes(), squared, PhaseSlowApproach)
}

func (c *Coordinator) approachAndPulloff(ctx context.Context, cycle int, mask axes.AxisMask, motors axes.MotorMask, approach Phase) error {
	if err := c.runPhase(ctx, cycle, mask, motors, approach); err != nil {
		return err
	}
	return c.runPhase(ctx, cycle, mask, motors, PhasePulloff)
}

func (c *Coordinator) runPhase(ctx context.Context, cycle int, mask axes.AxisMask, motors axes.MotorMask, phase Phase) error {
	mask &= motors.Axes()
	move := PlanMove(c.topo, mask, phase)

	if c.OnPhase != nil {
		c.OnPhase(PhaseEvent{Cycle: cycle, Phase: phase, Axes: mask, Motors: motors, Move: move})
	}
	c.logger.Debug("Homing phase",
		zap.Int("cycle", cycle),
		zap.String("phase", phase.String()),
		zap.String("motors", motors.String()),
		zap.Float64("rate", move.Rate))

	target := c.stepper.Position()
	for i := range target {
		target[i] += move.Distance[i]
	}

	c.stepper.LockMotors(c.topo.Motors(mask) &^ motors)
	c.sys.StepControl = machine.StepExecuteSysMotion
	err := c.planner.BufferLine(target, motion.MotionDescriptor{
		FeedRate:       move.Rate,
		SystemMotion:   true,
		NoFeedOverride: true,
	})
	if errors.Is(err, motion.ErrEmptyBlock) {
		c.stepper.UnlockMotors()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to plan homing move: %w", err)
	}

	reg := c.sys.Signals
	reg.Clear(signals.CycleStop)
	c.stepper.PrepBuffer()
	c.stepper.WakeUp()

	err = c.watchPhase(ctx, mask, motors, phase)

	c.stepper.Reset()
	c.planner.Reset()
	if err != nil {
		return err
	}

	if ms := c.topo.SettleTime(mask); ms > 0 {
		c.opts.Sleep(time.Duration(ms) * time.Millisecond)
	}
	return nil
}

// watchPhase polls the switches and the signal register until the phase
// completes or fails.
func (c *Coordinator) watchPhase(ctx context.Context, mask axes.AxisMask, motors axes.MotorMask, phase Phase) error {
	reg := c.sys.Signals
	approach := phase.Approach()
	remaining := motors

	for {
		if approach {
			if limited := c.switches.GetState() & remaining; limited != 0 {
				remaining &^= limited
				c.stepper.LockMotors(limited)
				if c.OnLimit != nil {
					c.OnLimit(remaining)
				}
			}
		}

		c.stepper.PrepBuffer()

		flags := reg.Load()
		if flags&(signals.Reset|signals.SafetyDoor|signals.CycleStop) != 0 || ctx.Err() != nil || c.sys.Abort {
			switch {
			case flags&signals.Reset != 0 || ctx.Err() != nil || c.sys.Abort:
				return machine.AlarmHomingFailReset
			case flags&signals.SafetyDoor != 0:
				reg.Clear(signals.SafetyDoor)
				return machine.AlarmHomingFailDoor
			case !approach && c.switches.GetState()&c.topo.Motors(mask) != 0:
				reg.Clear(signals.CycleStop)
				return machine.AlarmHomingFailPulloff
			case approach && remaining != 0:
				reg.Clear(signals.CycleStop)
				return machine.AlarmHomingFailApproach
			}
			reg.Clear(signals.CycleStop)
			return nil
		}

		if approach && remaining == 0 {
			return nil
		}
		if code := machine.AlarmCode(reg.PendingAlarm()); code != machine.AlarmNone {
			return code
		}

		if c.rt != nil {
			c.rt.ServiceRequests()
		}
		c.opts.Yield()
	}
}

func (c *Coordinator) setMachinePositions(mask axes.AxisMask) {
	for _, a := range c.topo.Axes {
		if !mask.Has(a.Index) {
			continue
		}
		h := a.Homing
		pos := h.MPos + h.Pulloff
		if h.PositiveDirection {
			pos = h.MPos - h.Pulloff
		}
		a.MachinePosition = pos
		c.stepper.SetAxisPosition(a.Index, pos)
	}
}
