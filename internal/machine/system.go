// Package machine holds the main-task context object: the machine state,
// the suspend sub-flags and the bookkeeping the realtime executor, the
// suspend manager and the homing coordinator share. Only the state, the
// latched alarm and the homed mask may be read from other goroutines.
package machine

import (
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"go.uber.org/zap"
)

const (
	DefaultFeedOverride    = 100
	DefaultRapidOverride   = 100
	DefaultSpindleOverride = 100
)

// Overrides are the active override percentages.
type Overrides struct {
	Feed    uint8
	Rapid   uint8
	Spindle uint8
}

// DefaultOverrides returns 100% everywhere.
func DefaultOverrides() Overrides {
	return Overrides{Feed: DefaultFeedOverride, Rapid: DefaultRapidOverride, Spindle: DefaultSpindleOverride}
}

// TransitionFunc observes a completed state change.
type TransitionFunc func(from, to State)

// AlarmFunc observes an alarm taking effect.
type AlarmFunc func(code AlarmCode)

// System is the main-task context object. Fields without accessors are
// owned by the main task and must not be touched from elsewhere.
type System struct {
	logger *zap.Logger

	// Signals and Limits are the interrupt-writable subset.
	Signals *signals.Register
	Limits  *signals.Limits

	Suspend        SuspendFlags
	StepControl    StepControl
	SpindleStopOvr SpindleStopOverride
	Overrides      Overrides
	// Abort is set when a reset was observed and cleared by reinitialize.
	Abort bool
	// ParkingOverrideDisabled mirrors the parking override modal state.
	ParkingOverrideDisabled bool

	state atomic.Int32
	alarm atomic.Uint32
	homed atomic.Uint32

	mu          sync.RWMutex
	transitions []TransitionFunc
	alarms      []AlarmFunc
}

// NewSystem returns a context object in the given initial state.
func NewSystem(logger *zap.Logger, initial State) *System {
	s := &System{
		logger:    logger,
		Signals:   signals.NewRegister(),
		Limits:    signals.NewLimits(),
		Overrides: DefaultOverrides(),
	}
	s.state.Store(int32(initial))
	return s
}

// State returns the current machine state. Safe from any goroutine.
func (s *System) State() State {
	return State(s.state.Load())
}

// SetState moves to a new state if the edge exists in the transition
// table. On an invalid edge the state is left unchanged.
func (s *System) SetState(to State) error {
	from := s.State()
	if from == to {
		return nil
	}
	if err := ValidateTransition(from, to); err != nil {
		s.logger.Error("Rejected state transition",
			zap.String("state", to.String()),
			zap.String("previous_state", from.String()))
		return err
	}
	s.state.Store(int32(to))

	s.logger.Info("Machine state changed",
		zap.String("state", to.String()),
		zap.String("previous_state", from.String()))

	s.mu.RLock()
	listeners := s.transitions
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(from, to)
	}
	return nil
}

// OnTransition registers a state change observer. Observers run on the main
// task and must not block.
func (s *System) OnTransition(fn TransitionFunc) {
	s.mu.Lock()
	s.transitions = append(s.transitions, fn)
	s.mu.Unlock()
}

// OnAlarm registers an alarm observer.
func (s *System) OnAlarm(fn AlarmFunc) {
	s.mu.Lock()
	s.alarms = append(s.alarms, fn)
	s.mu.Unlock()
}

// Alarm returns the alarm latched by the executor, AlarmNone when clear.
func (s *System) Alarm() AlarmCode {
	return AlarmCode(s.alarm.Load())
}

// LatchAlarm records the alarm the machine is held in and notifies
// observers.
func (s *System) LatchAlarm(code AlarmCode) {
	s.alarm.Store(uint32(code))
	s.logger.Error("Alarm",
		zap.Uint8("code", uint8(code)),
		zap.String("alarm", code.String()),
		zap.Bool("fatal", code.IsFatal()))

	s.mu.RLock()
	listeners := s.alarms
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(code)
	}
}

// ClearAlarm drops the latched alarm.
func (s *System) ClearAlarm() {
	s.alarm.Store(0)
}

// PostAlarm is a shorthand for posting to the signal register.
func (s *System) PostAlarm(code AlarmCode) bool {
	return s.Signals.PostAlarm(uint8(code))
}

// Homed returns the axes homed since the last power cycle.
func (s *System) Homed() axes.AxisMask {
	return axes.AxisMask(s.homed.Load())
}

// MarkHomed adds axes to the homed set.
func (s *System) MarkHomed(m axes.AxisMask) {
	s.homed.Or(uint32(m))
}

// ForgetHomed drops axes from the homed set.
func (s *System) ForgetHomed(m axes.AxisMask) {
	s.homed.And(^uint32(m))
}

// ResetSuspend clears every suspend-episode field.
func (s *System) ResetSuspend() {
	s.Suspend = 0
	s.StepControl = 0
	s.SpindleStopOvr = 0
}
