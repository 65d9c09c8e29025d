// Package limits tracks the limit and homing switches. Pin handlers write
// the observed switch state into the shared limit masks; the homing
// coordinator and the hard-limit trip read it.
package limits

import (
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"go.uber.org/zap"
)

// SharedGang marks a switch wired to every motor of its axis.
const SharedGang = -1

// Switch identifies one physical limit input.
type Switch struct {
	Axis     int
	Gang     int
	Positive bool
}

func (s Switch) bits() uint32 {
	if s.Gang == SharedGang {
		return uint32(axes.AxisBit(s.Axis).Motors())
	}
	return uint32(axes.MotorBit(s.Axis, s.Gang))
}

// Options configure a Tracker.
type Options struct {
	HardLimits bool
	// Debounce holds a changed reading for this long before it is
	// published. Zero publishes from the pin handler directly.
	Debounce time.Duration
	// HardStop kills step generation. It runs from pin handler context.
	HardStop func()
}

// Tracker publishes limit switch state.
type Tracker struct {
	logger  *zap.Logger
	sys     *machine.System
	limits  *signals.Limits
	opts    Options
	homing  atomic.Bool
	enabled atomic.Bool
	now     func() time.Time

	rawPos     atomic.Uint32
	rawNeg     atomic.Uint32
	lastChange atomic.Int64
}

// NewTracker returns a tracker publishing into sys.Limits.
func NewTracker(logger *zap.Logger, sys *machine.System, opts Options) *Tracker {
	t := &Tracker{
		logger: logger,
		sys:    sys,
		limits: sys.Limits,
		opts:   opts,
		now:    time.Now,
	}
	t.enabled.Store(opts.HardLimits)
	return t
}

// SetClock replaces the time source used by the debounce job.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// SetHardLimits enables or disables the hard-limit trip at runtime.
func (t *Tracker) SetHardLimits(on bool) {
	t.enabled.Store(on)
}

// SetHomingMode suppresses the hard-limit trip while homing drives onto
// the switches.
func (t *Tracker) SetHomingMode(on bool) {
	t.homing.Store(on)
}

// OnPinChange is the pin handler. It may run concurrently with the main
// task and with other handlers.
func (t *Tracker) OnPinChange(sw Switch, asserted bool) {
	bits := sw.bits()
	if t.opts.Debounce <= 0 {
		t.limits.Assert(bits, sw.Positive, asserted)
		if asserted {
			t.checkHardLimit(bits)
		}
		return
	}

	raw := &t.rawNeg
	if sw.Positive {
		raw = &t.rawPos
	}
	if asserted {
		raw.Or(bits)
	} else {
		raw.And(^bits)
	}
	t.lastChange.Store(t.now().UnixNano())
}

// Debounce publishes the raw reading once it has been stable for the
// configured interval. It is the body of the periodic debounce job.
func (t *Tracker) Debounce() {
	if t.opts.Debounce <= 0 {
		return
	}
	last := t.lastChange.Load()
	if last == 0 || t.now().UnixNano()-last < int64(t.opts.Debounce) {
		return
	}
	pos, neg := t.rawPos.Load(), t.rawNeg.Load()
	newly := (pos | neg) &^ t.limits.State()
	t.limits.Store(pos, neg)
	if newly != 0 {
		t.checkHardLimit(newly)
	}
}

// GetState returns every asserted switch as a motor mask.
func (t *Tracker) GetState() axes.MotorMask {
	return axes.MotorMask(t.limits.State())
}

// Positive returns the asserted positive-direction switches.
func (t *Tracker) Positive() axes.MotorMask {
	return axes.MotorMask(t.limits.Positive())
}

// Negative returns the asserted negative-direction switches.
func (t *Tracker) Negative() axes.MotorMask {
	return axes.MotorMask(t.limits.Negative())
}

func (t *Tracker) checkHardLimit(bits uint32) {
	if !t.enabled.Load() || t.homing.Load() {
		return
	}
	if t.sys.State() == machine.StateAlarm {
		return
	}
	if t.opts.HardStop != nil {
		t.opts.HardStop()
	}
	if t.sys.PostAlarm(machine.AlarmHardLimit) {
		t.logger.Warn("Hard limit triggered",
			zap.String("motors", axes.MotorMask(bits).String()))
	}
	t.sys.Signals.Set(signals.Reset)
}
