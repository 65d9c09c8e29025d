// Package sim is a host-side stand-in for the planner, the step generator
// and the limit switches. Motion advances by one tick per PrepBuffer call,
// so tests and the simulate mode of the daemon run the motion core without
// hardware or timers.
package sim

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/limits"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
)

const defaultTick = time.Millisecond

// Switch is a virtual limit switch that asserts once its motor passes
// Trip in the switch direction.
type Switch struct {
	limits.Switch
	Trip float64

	asserted bool
}

// Options configure a simulated machine.
type Options struct {
	// Tick is the simulated time one PrepBuffer call advances.
	Tick time.Duration
	// Start is the initial axis position.
	Start    []float64
	Switches []Switch
	// OnSwitch receives switch edges, normally limits.Tracker.OnPinChange.
	OnSwitch func(sw limits.Switch, asserted bool)
}

type core struct {
	mu   sync.Mutex
	topo *axes.Topology
	sys  *machine.System
	opts Options

	// cmd is the commanded axis position, motors holds each motor's
	// actual position. They differ only while motors are locked.
	cmd    []float64
	motors [][axes.MaxGangs]float64

	queue    []*motion.Block
	sysBlock *motion.Block
	planned  []float64

	feedOvr  uint8
	rapidOvr uint8

	running      bool
	locked       axes.MotorMask
	holdSignaled bool
	parking      bool
	steps        int

	// halted is set by HardStop without taking mu, so it is safe from
	// switch callbacks.
	halted atomic.Bool
}

// Machine bundles the simulated planner and stepper.
type Machine struct {
	c       *core
	planner *Planner
	stepper *Stepper
}

// New returns a simulated machine at rest.
func New(topo *axes.Topology, sys *machine.System, opts Options) *Machine {
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	n := topo.NumAxes()
	c := &core{
		topo:     topo,
		sys:      sys,
		opts:     opts,
		cmd:      make([]float64, n),
		motors:   make([][axes.MaxGangs]float64, n),
		planned:  make([]float64, n),
		feedOvr:  machine.DefaultFeedOverride,
		rapidOvr: machine.DefaultRapidOverride,
	}
	for i := 0; i < n && i < len(opts.Start); i++ {
		c.cmd[i] = opts.Start[i]
		c.planned[i] = opts.Start[i]
		for g := range c.motors[i] {
			c.motors[i][g] = opts.Start[i]
		}
	}
	c.opts.Switches = append([]Switch(nil), opts.Switches...)
	c.evaluateSwitches()
	return &Machine{c: c, planner: &Planner{c: c}, stepper: &Stepper{c: c}}
}

// Planner returns the planner half.
func (m *Machine) Planner() *Planner { return m.planner }

// Stepper returns the step generator half.
func (m *Machine) Stepper() *Stepper { return m.stepper }

// MotorPosition returns the position of one motor.
func (m *Machine) MotorPosition(axis, gang int) float64 {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	return m.c.motors[axis][gang]
}

// HardStop kills motion before the next tick. It does not lock and may be
// called from OnSwitch.
func (m *Machine) HardStop() {
	m.c.halted.Store(true)
}

// Running reports whether the step generator is producing motion.
func (m *Machine) Running() bool {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	return m.c.running
}

// Steps returns the number of ticks that produced motion.
func (m *Machine) Steps() int {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	return m.c.steps
}

// tick advances the active block by one simulated tick. Called with mu
// held.
func (c *core) tick() {
	ctl := c.sys.StepControl
	sysMotion := ctl&machine.StepExecuteSysMotion != 0

	if ctl&machine.StepExecuteHold == 0 {
		c.holdSignaled = false
	} else {
		// Holds stop dead; the remaining distance stays queued.
		if !c.holdSignaled {
			c.holdSignaled = true
			c.running = false
			c.sys.Signals.Set(signals.CycleStop)
		}
		return
	}
	c.sys.StepControl &^= machine.StepUpdateSpindleSpeed

	if c.halted.Load() {
		c.running = false
	}
	if !c.running {
		return
	}

	block := c.sysBlock
	if !sysMotion {
		block = nil
		if len(c.queue) > 0 {
			block = c.queue[0]
		}
	}
	if block == nil {
		c.running = false
		c.sys.Signals.Set(signals.CycleStop)
		return
	}

	rate := c.rate(block.Descriptor)
	stepLen := rate / 60 * c.opts.Tick.Seconds()

	var dist float64
	for i := range c.cmd {
		d := block.Target[i] - c.cmd[i]
		dist += d * d
	}
	dist = math.Sqrt(dist)

	done := dist <= stepLen || stepLen <= 0
	for i := range c.cmd {
		var delta float64
		if done {
			delta = block.Target[i] - c.cmd[i]
		} else {
			delta = (block.Target[i] - c.cmd[i]) / dist * stepLen
		}
		if delta == 0 {
			continue
		}
		c.cmd[i] += delta
		c.stepAxis(i, delta)
	}
	c.steps++
	c.evaluateSwitches()
	if c.halted.Load() {
		c.running = false
		return
	}

	if !done {
		return
	}
	if sysMotion {
		c.sysBlock = nil
		c.running = false
		c.sys.Signals.Set(signals.CycleStop)
		return
	}
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.running = false
		c.sys.Signals.Set(signals.CycleStop)
	}
}

func (c *core) rate(d motion.MotionDescriptor) float64 {
	rate := d.FeedRate
	if d.SystemMotion || d.NoFeedOverride {
		return rate
	}
	if d.Rapid {
		return rate * float64(c.rapidOvr) / 100
	}
	return rate * float64(c.feedOvr) / 100
}

func (c *core) stepAxis(axis int, delta float64) {
	a := c.topo.Axis(axis)
	for g, gang := range a.Gangs {
		if c.locked.Has(axis, g) {
			continue
		}
		c.motors[axis][g] += delta
		if gang.Motor != nil {
			gang.Motor.SetDirection(delta > 0)
			gang.Motor.Step()
			gang.Motor.Unstep()
		}
	}
}

func (c *core) evaluateSwitches() {
	for i := range c.opts.Switches {
		sw := &c.opts.Switches[i]
		gang := sw.Gang
		if gang == limits.SharedGang {
			gang = 0
		}
		pos := c.motors[sw.Axis][gang]
		asserted := pos <= sw.Trip
		if sw.Positive {
			asserted = pos >= sw.Trip
		}
		if asserted == sw.asserted {
			continue
		}
		sw.asserted = asserted
		if asserted && c.sys.State() == machine.StateHoming {
			c.stopAtSwitch(sw)
		}
		if c.opts.OnSwitch != nil {
			c.opts.OnSwitch(sw.Switch, asserted)
		}
	}
}

// stopAtSwitch holds the motors behind a switch that closed during homing
// at the trip point, the way a driver stops on its endstop within a step.
func (c *core) stopAtSwitch(sw *Switch) {
	motors := axes.AxisBit(sw.Axis).Motors()
	if sw.Gang != limits.SharedGang {
		motors = axes.MotorBit(sw.Axis, sw.Gang)
	}
	for g := range c.topo.Axis(sw.Axis).Gangs {
		if motors.Has(sw.Axis, g) {
			c.motors[sw.Axis][g] = sw.Trip
		}
	}
	c.locked |= motors
}

func (c *core) position() []float64 {
	out := make([]float64, len(c.cmd))
	for i := range c.cmd {
		out[i] = c.motors[i][0]
	}
	return out
}
