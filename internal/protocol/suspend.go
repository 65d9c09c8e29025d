package protocol

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParkingOptions configure the retract performed when the safety door
// opens or the machine sleeps. Positions are machine coordinates, rates
// mm/min.
type ParkingOptions struct {
	Enable bool
	Axis   int
	// Target is the parking position of Axis.
	Target float64
	// Rate is the fast retract and restore rate.
	Rate float64
	// PulloutRate is the slow rate used leaving and re-entering the work.
	PulloutRate float64
	// PulloutIncrement is the slow retract distance.
	PulloutIncrement float64
	LaserMode        bool
	SpindleDelay     time.Duration
	CoolantDelay     time.Duration
}

// Episode describes one suspend, from the first hold to the resume.
type Episode struct {
	ID      uuid.UUID
	State   machine.State
	Started time.Time
}

// EpisodeFunc observes the start of a suspend episode.
type EpisodeFunc func(ep Episode)

type episode struct {
	Episode
	restore         motion.AccessoryState
	restoreTarget   []float64
	parkingTarget   []float64
	retractWaypoint float64
	parked          bool
}

// SuspendManager sequences the de-energize, retract, restore and resume
// steps while the machine is suspended.
type SuspendManager struct {
	logger    *zap.Logger
	e         *Executor
	ep        *episode
	observers []EpisodeFunc
}

func newSuspendManager(logger *zap.Logger, e *Executor) *SuspendManager {
	return &SuspendManager{logger: logger, e: e}
}

// OnEpisode registers an episode observer.
func (m *SuspendManager) OnEpisode(fn EpisodeFunc) {
	m.observers = append(m.observers, fn)
}

// Active returns the running episode, if any.
func (m *SuspendManager) Active() (Episode, bool) {
	if m.ep == nil {
		return Episode{}, false
	}
	return m.ep.Episode, true
}

// run drives the episode until the suspend flags clear or a reset aborts.
func (m *SuspendManager) run(ctx context.Context) {
	sys := m.e.sys
	m.begin()
	defer m.end()

	for sys.Suspend != 0 {
		if sys.Abort {
			return
		}
		m.Service(ctx)
		if sys.Abort {
			return
		}
		m.e.ExecSystem(ctx)
		m.e.opts.Yield()
	}
}

// begin captures what a resume must restore: the accessory state of the
// interrupted block, or of the devices when nothing is queued.
func (m *SuspendManager) begin() {
	if m.ep != nil {
		return
	}
	c := m.e.c
	ep := &episode{Episode: Episode{ID: uuid.New(), State: m.e.sys.State(), Started: time.Now()}}
	if block := c.Planner.CurrentBlock(); block != nil {
		ep.restore = block.Descriptor.Accessory
		ep.restore.Flood, ep.restore.Mist = c.Coolant.State()
	} else {
		ep.restore.Spindle, ep.restore.SpindleSpeed = c.Spindle.State()
		ep.restore.Flood, ep.restore.Mist = c.Coolant.State()
	}
	m.ep = ep

	m.logger.Info("Suspend episode started",
		zap.String("episode_id", ep.ID.String()),
		zap.String("state", ep.State.String()))
	for _, fn := range m.observers {
		fn(ep.Episode)
	}
}

func (m *SuspendManager) end() {
	if m.ep == nil || m.e.sys.Suspend != 0 && !m.e.sys.Abort {
		return
	}
	m.logger.Info("Suspend episode ended",
		zap.String("episode_id", m.ep.ID.String()),
		zap.Duration("duration", time.Since(m.ep.Started)))
	m.ep = nil
}

// Service performs at most one step of the suspend sequence. Calling it
// again without a new request never repeats a retract or restore.
func (m *SuspendManager) Service(ctx context.Context) {
	sys := m.e.sys
	if m.ep == nil {
		m.begin()
	}
	// Nothing happens until the hold has brought motion to a stop.
	if sys.Suspend&machine.SuspendHoldComplete == 0 {
		return
	}

	state := sys.State()
	if state != machine.StateSafetyDoor && state != machine.StateSleep {
		m.serviceHold()
		return
	}

	if sys.Suspend&machine.SuspendRetractComplete == 0 {
		m.retract(ctx)
		sys.Suspend &^= machine.SuspendRestartRetract
		sys.Suspend |= machine.SuspendRetractComplete
		return
	}

	if state == machine.StateSleep {
		m.park()
		return
	}

	if c := m.e.c; c.Door == nil || !c.Door.DoorAjar() {
		sys.Suspend &^= machine.SuspendSafetyDoorAjar
	}

	if sys.Suspend&machine.SuspendInitiateRestore != 0 && sys.Suspend&machine.SuspendRestoreComplete == 0 {
		m.restore(ctx)
	}
}

func (m *SuspendManager) parkingAllowed() bool {
	opts := m.e.opts.Parking
	sys := m.e.sys
	return opts.Enable && !opts.LaserMode && !sys.ParkingOverrideDisabled && sys.Homed().Has(opts.Axis)
}

func (m *SuspendManager) retract(ctx context.Context) {
	sys, c, opts := m.e.sys, m.e.c, m.e.opts.Parking
	ep := m.ep
	sys.SpindleStopOvr = 0

	ep.parkingTarget = c.Stepper.Position()
	if sys.Suspend&machine.SuspendRestartRetract == 0 {
		ep.restoreTarget = append([]float64(nil), ep.parkingTarget...)
		ep.retractWaypoint = ep.restoreTarget[opts.Axis] + opts.PulloutIncrement
		if ep.retractWaypoint > opts.Target {
			ep.retractWaypoint = opts.Target
		}
	}

	if !m.parkingAllowed() || ep.parkingTarget[opts.Axis] >= opts.Target {
		m.deenergize()
		return
	}

	if ep.parkingTarget[opts.Axis] < ep.retractWaypoint {
		ep.parkingTarget[opts.Axis] = ep.retractWaypoint
		m.parkingMotion(ctx, ep.parkingTarget, opts.PulloutRate, ep.restore)
		if sys.Abort {
			return
		}
	}
	m.deenergize()
	if ep.parkingTarget[opts.Axis] < opts.Target {
		ep.parkingTarget[opts.Axis] = opts.Target
		m.parkingMotion(ctx, ep.parkingTarget, opts.Rate, motion.AccessoryState{})
	}
}

func (m *SuspendManager) deenergize() {
	c := m.e.c
	m.e.spindleError(c.Spindle.SpinDown())
	c.Coolant.Off()
}

// park shuts the machine down for sleep. Only a reset ends it.
func (m *SuspendManager) park() {
	if m.ep.parked {
		return
	}
	m.ep.parked = true
	c := m.e.c
	c.Reporter.ReportFeedback("Sleeping")
	m.deenergize()
	c.Stepper.GoIdle()
}

func (m *SuspendManager) restore(ctx context.Context) {
	sys, c, opts := m.e.sys, m.e.c, m.e.opts.Parking
	ep := m.ep

	if m.parkingAllowed() && ep.parkingTarget != nil && ep.parkingTarget[opts.Axis] <= opts.Target {
		ep.parkingTarget[opts.Axis] = ep.retractWaypoint
		m.parkingMotion(ctx, ep.parkingTarget, opts.Rate, motion.AccessoryState{})
		if sys.Abort {
			return
		}
	}

	if ep.restore.Spindle != motion.SpindleOff && sys.Suspend&machine.SuspendRestartRetract == 0 {
		if opts.LaserMode {
			sys.StepControl |= machine.StepUpdateSpindleSpeed
		} else {
			m.e.spindleError(c.Spindle.SetState(ep.restore.Spindle, m.spindleSpeed()))
			m.e.delay(ctx, opts.SpindleDelay)
		}
	}
	if (ep.restore.Flood || ep.restore.Mist) && sys.Suspend&machine.SuspendRestartRetract == 0 {
		c.Coolant.SetState(ep.restore.Flood, ep.restore.Mist)
		m.e.delay(ctx, opts.CoolantDelay)
	}
	if sys.Abort {
		return
	}

	if m.parkingAllowed() && ep.restoreTarget != nil && sys.Suspend&machine.SuspendRestartRetract == 0 {
		m.parkingMotion(ctx, ep.restoreTarget, opts.PulloutRate, ep.restore)
		if sys.Abort {
			return
		}
	}

	if sys.Suspend&machine.SuspendRestartRetract == 0 {
		sys.Suspend |= machine.SuspendRestoreComplete
		sys.Signals.Set(signals.CycleStart)
	}
}

// serviceHold manages the spindle during a plain hold: the spindle stop
// override and spindle speed override changes.
func (m *SuspendManager) serviceHold() {
	sys, c := m.e.sys, m.e.c
	ep := m.ep

	switch ovr := sys.SpindleStopOvr; {
	case ovr&machine.SpindleStopInitiate != 0:
		if ep.restore.Spindle != motion.SpindleOff {
			m.e.spindleError(c.Spindle.SpinDown())
			sys.SpindleStopOvr = machine.SpindleStopEnabled
		} else {
			sys.SpindleStopOvr = 0
		}
	case ovr&(machine.SpindleStopRestore|machine.SpindleStopRestoreCycle) != 0:
		if ep.restore.Spindle != motion.SpindleOff {
			c.Reporter.ReportFeedback("Restoring spindle")
			if m.e.opts.Parking.LaserMode {
				sys.StepControl |= machine.StepUpdateSpindleSpeed
			} else {
				m.e.spindleError(c.Spindle.SetState(ep.restore.Spindle, m.spindleSpeed()))
			}
		}
		if ovr&machine.SpindleStopRestoreCycle != 0 {
			sys.Signals.Set(signals.CycleStart)
		}
		sys.SpindleStopOvr = 0
	case ovr == 0 && sys.StepControl&machine.StepUpdateSpindleSpeed != 0:
		if ep.restore.Spindle != motion.SpindleOff {
			m.e.spindleError(c.Spindle.SetState(ep.restore.Spindle, m.spindleSpeed()))
		}
		sys.StepControl &^= machine.StepUpdateSpindleSpeed
	}
}

func (m *SuspendManager) spindleSpeed() float64 {
	return m.ep.restore.SpindleSpeed * float64(m.e.sys.Overrides.Spindle) / 100
}

// parkingMotion runs one system move and waits for it while servicing the
// executor. A door reopening during the move ends the wait early.
func (m *SuspendManager) parkingMotion(ctx context.Context, target []float64, rate float64, acc motion.AccessoryState) {
	sys, c := m.e.sys, m.e.c
	if sys.Abort {
		return
	}

	err := c.Planner.BufferLine(target, motion.MotionDescriptor{
		FeedRate:       rate,
		SystemMotion:   true,
		NoFeedOverride: true,
		Accessory:      acc,
	})
	if err != nil {
		sys.StepControl &^= machine.StepExecuteSysMotion
		m.e.ExecSystem(ctx)
		return
	}

	sys.StepControl |= machine.StepExecuteSysMotion
	c.Stepper.ParkingSetupBuffer()
	c.Stepper.PrepBuffer()
	c.Stepper.WakeUp()
	for sys.StepControl&machine.StepExecuteSysMotion != 0 {
		m.e.ExecSystem(ctx)
		if sys.Abort {
			return
		}
		if !sys.State().IsMotion() {
			c.Stepper.PrepBuffer()
		}
		m.e.opts.Yield()
	}
	c.Stepper.ParkingRestoreBuffer()
}
