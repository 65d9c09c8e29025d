package system

import (
	"context"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/config"
	"github.com/KevinKickass/OpenMotionCore/internal/control"
	"github.com/KevinKickass/OpenMotionCore/internal/homing"
	"github.com/KevinKickass/OpenMotionCore/internal/limits"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/modbus"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"github.com/KevinKickass/OpenMotionCore/internal/protocol"
	"github.com/KevinKickass/OpenMotionCore/internal/report"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"github.com/KevinKickass/OpenMotionCore/internal/sim"
	"github.com/KevinKickass/OpenMotionCore/internal/spindle"
	"github.com/KevinKickass/OpenMotionCore/internal/storage"
	"github.com/KevinKickass/OpenMotionCore/internal/types"
	"go.uber.org/zap"
)

// Core is the assembled motion core: the simulated step generator, the
// switch and control inputs, the executor and its main task.
type Core struct {
	cfg    *config.Config
	logger *zap.Logger

	topo     *axes.Topology
	sys      *machine.System
	sim      *sim.Machine
	tracker  *limits.Tracker
	inputs   *control.Inputs
	spindle  motion.Spindle
	coolant  motion.Coolant
	vfd      *modbus.Client
	reporter *report.Reporter
	executor *protocol.Executor
	homer    *homing.Coordinator
	loop     *protocol.Loop
	journal  *storage.PostgresClient
}

// NewCore builds the object graph for one machine. pins drives relay
// spindles and coolant outputs and may be nil.
func NewCore(cfg *config.Config, m *config.Machine, pins types.PinWriter, logger *zap.Logger) (*Core, error) {
	if pins == nil {
		pins = types.NopPins{}
	}
	c := &Core{cfg: cfg, logger: logger, topo: m.Topology}

	initial := machine.StateIdle
	if cfg.Homing.Enable && cfg.Homing.InitLock {
		initial = machine.StateAlarm
	}
	c.sys = machine.NewSystem(logger.Named("machine"), initial)

	var simRef *sim.Machine
	hardStop := func() {
		if simRef != nil {
			simRef.HardStop()
		}
	}

	c.tracker = limits.NewTracker(logger.Named("limits"), c.sys, limits.Options{
		HardLimits: cfg.Limits.HardLimits,
		Debounce:   cfg.Limits.Debounce,
		HardStop:   hardStop,
	})
	c.sim = sim.New(c.topo, c.sys, sim.Options{
		Tick:     cfg.Sim.Tick,
		Switches: simSwitches(c.topo, m.Switches),
		OnSwitch: c.tracker.OnPinChange,
	})
	simRef = c.sim
	c.inputs = control.NewInputs(logger.Named("control"), c.sys.Signals, hardStop)

	sp, err := c.buildSpindle(pins)
	if err != nil {
		return nil, err
	}
	c.spindle = sp
	c.coolant = spindle.NewCoolant(pins, cfg.Coolant.Pins)

	c.reporter = report.NewReporter(logger.Named("report"), c.sys, report.Source{
		Position: c.sim.Stepper().Position,
		Limits:   c.tracker.GetState,
		Spindle:  c.spindle,
		Coolant:  c.coolant,
	})

	parking, err := parkingOptions(c.topo, cfg)
	if err != nil {
		return nil, err
	}
	c.executor = protocol.NewExecutor(logger.Named("executor"), c.sys, protocol.Collaborators{
		Topology:   c.topo,
		Planner:    c.sim.Planner(),
		Stepper:    c.sim.Stepper(),
		Spindle:    c.spindle,
		Coolant:    c.coolant,
		Macros:     &macroRunner{logger: logger.Named("macros"), reporter: c.reporter},
		SoftLimits: limits.NewSoftLimits(c.topo, c.sys, cfg.Limits.SoftLimits),
		Door:       c.inputs,
		Reporter:   c.reporter,
	}, protocol.Options{
		Parking: parking,
		Quantum: cfg.Control.Quantum,
	})

	if cfg.Homing.Enable {
		c.homer = homing.NewCoordinator(logger.Named("homing"), c.topo, c.sys,
			c.sim.Planner(), c.sim.Stepper(), c.tracker, c.executor,
			homing.Options{LocateCycles: cfg.Homing.LocateCycles})
		c.homer.AddObserver(c.reporter)
		c.executor.SetHomer(c.homer)
	}

	c.loop = protocol.NewLoop(logger.Named("main"), c.executor, cfg.Control.LoopInterval)
	return c, nil
}

func (c *Core) buildSpindle(pins types.PinWriter) (motion.Spindle, error) {
	switch strings.ToLower(c.cfg.Spindle.Type) {
	case "", "none":
		return &spindle.None{}, nil
	case "relay":
		return spindle.NewRelay(pins, c.cfg.Spindle.Relay), nil
	case "vfd":
		vfd := c.cfg.Spindle.VFD
		if vfd.Address == "" {
			return nil, fmt.Errorf("spindle.vfd.address is required")
		}
		c.vfd = modbus.NewClient(vfd.Address, vfd.Timeout)
		return spindle.NewVFD(c.vfd, vfd, c.logger.Named("spindle")), nil
	default:
		return nil, fmt.Errorf("unknown spindle type %q", c.cfg.Spindle.Type)
	}
}

func parkingOptions(topo *axes.Topology, cfg *config.Config) (protocol.ParkingOptions, error) {
	p := cfg.Parking
	opts := protocol.ParkingOptions{
		Enable:           p.Enable,
		Target:           p.Target,
		Rate:             p.Rate,
		PulloutRate:      p.PulloutRate,
		PulloutIncrement: p.PulloutIncrement,
		LaserMode:        p.LaserMode,
		SpindleDelay:     p.SpindleDelay,
		CoolantDelay:     cfg.Coolant.Delay,
	}
	if !p.Enable {
		return opts, nil
	}
	for i := 0; i < topo.NumAxes(); i++ {
		if strings.EqualFold(topo.Axis(i).Name, p.Axis) {
			opts.Axis = i
			return opts, nil
		}
	}
	return opts, fmt.Errorf("parking axis %q is not configured", p.Axis)
}

// simSwitches places each declared switch in the simulator. Switches
// without a trip point sit half the travel away from the start position.
func simSwitches(topo *axes.Topology, defs []config.SwitchDef) []sim.Switch {
	out := make([]sim.Switch, 0, len(defs))
	for _, d := range defs {
		trip := topo.Axis(d.Axis).MaxTravel / 2
		if d.SimTrip != nil {
			trip = *d.SimTrip
		} else if !d.Positive {
			trip = -trip
		}
		out = append(out, sim.Switch{Switch: d.Switch, Trip: trip})
	}
	return out
}

// Run drives the main task until ctx is done.
func (c *Core) Run(ctx context.Context) error {
	return c.loop.Run(ctx)
}

func (c *Core) Config() *config.Config           { return c.cfg }
func (c *Core) Topology() *axes.Topology         { return c.topo }
func (c *Core) Reporter() *report.Reporter       { return c.reporter }
func (c *Core) Journal() *storage.PostgresClient { return c.journal }
func (c *Core) System() *machine.System          { return c.sys }
func (c *Core) Sim() *sim.Machine                { return c.sim }
func (c *Core) Tracker() *limits.Tracker         { return c.tracker }
func (c *Core) Inputs() *control.Inputs          { return c.inputs }
func (c *Core) Homer() *homing.Coordinator       { return c.homer }
func (c *Core) Executor() *protocol.Executor     { return c.executor }

func (c *Core) Limits() (positive, negative axes.MotorMask) {
	return c.tracker.Positive(), c.tracker.Negative()
}

func (c *Core) Request(f signals.Flag)             { c.loop.Request(f) }
func (c *Core) RequestOverride(o signals.Override) { c.loop.RequestOverride(o) }
func (c *Core) TriggerMacro(n int)                 { c.sys.Signals.TriggerMacro(n) }

func (c *Core) Do(ctx context.Context, fn func(ctx context.Context, e *protocol.Executor) error) error {
	return c.loop.Do(ctx, fn)
}

func (c *Core) close() {
	if c.vfd != nil {
		_ = c.vfd.Close()
	}
}

// macroRunner stands in for the G-code layer, which is not part of the
// core. It reports each macro so operators can see the button fired.
type macroRunner struct {
	logger   *zap.Logger
	reporter *report.Reporter
}

func (m *macroRunner) RunMacro(n int) error {
	m.logger.Info("Macro triggered", zap.Int("macro", n))
	m.reporter.ReportFeedback(fmt.Sprintf("macro %d", n))
	return nil
}
