// Package report publishes what the motion core is doing: status
// snapshots, state changes, alarms, homing runs and operator feedback.
// Listeners subscribe to a buffered channel; a slow listener misses events
// rather than stalling the main task.
package report

import (
	"errors"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/homing"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"go.uber.org/zap"
)

const subscriberBuffer = 100

// EventType names an event.
type EventType string

const (
	EventStatus   EventType = "status"
	EventState    EventType = "state"
	EventAlarm    EventType = "alarm"
	EventFeedback EventType = "feedback"
	EventHoming   EventType = "homing"
)

// Overrides are the override percentages in a status report.
type Overrides struct {
	Feed    uint8 `json:"feed"`
	Rapid   uint8 `json:"rapid"`
	Spindle uint8 `json:"spindle"`
}

// Status is a point-in-time snapshot of the machine.
type Status struct {
	State     string                `json:"state"`
	Alarm     *AlarmInfo            `json:"alarm,omitempty"`
	Suspend   string                `json:"suspend"`
	Position  []float64             `json:"machine_position"`
	Homed     string                `json:"homed"`
	Limits    string                `json:"limits"`
	Overrides Overrides             `json:"overrides"`
	Accessory motion.AccessoryState `json:"accessory"`
	Timestamp time.Time             `json:"timestamp"`
}

// StateChange is a completed transition.
type StateChange struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

// HomingInfo summarizes a homing run.
type HomingInfo struct {
	RunID    string  `json:"run_id"`
	Axes     string  `json:"axes"`
	Seconds  float64 `json:"seconds"`
	Error    string  `json:"error,omitempty"`
	Alarm    int     `json:"alarm,omitempty"`
	Complete bool    `json:"complete"`
}

// Event is one published item. Exactly one payload field is set.
type Event struct {
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Status    *Status      `json:"status,omitempty"`
	State     *StateChange `json:"state,omitempty"`
	Alarm     *AlarmInfo   `json:"alarm,omitempty"`
	Homing    *HomingInfo  `json:"homing,omitempty"`
	Feedback  string       `json:"feedback,omitempty"`
}

// Source supplies the parts of a status report the context object does
// not hold. Any field may be nil.
type Source struct {
	Position func() []float64
	Limits   func() axes.MotorMask
	Spindle  motion.Spindle
	Coolant  motion.Coolant
}

// Reporter builds status reports and fans events out to subscribers.
type Reporter struct {
	logger *zap.Logger
	sys    *machine.System
	src    Source

	mu          sync.RWMutex
	last        Status
	subscribers map[chan Event]struct{}
}

// NewReporter returns a reporter and hooks it to the state and alarm
// notifications of sys.
func NewReporter(logger *zap.Logger, sys *machine.System, src Source) *Reporter {
	r := &Reporter{
		logger:      logger,
		sys:         sys,
		src:         src,
		subscribers: make(map[chan Event]struct{}),
	}
	r.last = Status{State: sys.State().String(), Suspend: machine.SuspendFlags(0).String()}
	sys.OnTransition(r.stateChanged)
	sys.OnAlarm(r.alarmRaised)
	return r
}

// Subscribe returns a channel receiving every event from now on.
func (r *Reporter) Subscribe() <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	r.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe stops delivery and closes the channel.
func (r *Reporter) Unsubscribe(ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sub := range r.subscribers {
		if sub == ch {
			delete(r.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Last returns the most recent status report.
func (r *Reporter) Last() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// ReportStatus builds a status report and publishes it. It reads
// main-task state, so only the executor calls it.
func (r *Reporter) ReportStatus() {
	st := r.snapshot()
	r.mu.Lock()
	r.last = st
	r.mu.Unlock()
	r.publish(Event{Type: EventStatus, Timestamp: st.Timestamp, Status: &st})
}

// ReportFeedback publishes an operator message.
func (r *Reporter) ReportFeedback(msg string) {
	r.logger.Info("Feedback", zap.String("message", msg))
	r.publish(Event{Type: EventFeedback, Timestamp: time.Now(), Feedback: msg})
}

// HomingFinished publishes a homing run summary.
func (r *Reporter) HomingFinished(run homing.Run) {
	info := &HomingInfo{
		RunID:    run.ID.String(),
		Axes:     run.Axes.String(),
		Seconds:  run.Duration.Seconds(),
		Complete: run.Err == nil,
	}
	if run.Err != nil {
		info.Error = run.Err.Error()
		var code machine.AlarmCode
		if errors.As(run.Err, &code) {
			info.Alarm = int(code)
		}
	}
	r.publish(Event{Type: EventHoming, Timestamp: time.Now(), Homing: info})
}

func (r *Reporter) stateChanged(from, to machine.State) {
	r.mu.Lock()
	r.last.State = to.String()
	r.mu.Unlock()
	r.publish(Event{
		Type:      EventState,
		Timestamp: time.Now(),
		State:     &StateChange{State: to.String(), Previous: from.String()},
	})
}

func (r *Reporter) alarmRaised(code machine.AlarmCode) {
	info := Alarm(code)
	r.mu.Lock()
	r.last.Alarm = &info
	r.mu.Unlock()
	r.publish(Event{Type: EventAlarm, Timestamp: time.Now(), Alarm: &info})
}

func (r *Reporter) snapshot() Status {
	sys := r.sys
	st := Status{
		State:   sys.State().String(),
		Suspend: sys.Suspend.String(),
		Homed:   sys.Homed().String(),
		Overrides: Overrides{
			Feed:    sys.Overrides.Feed,
			Rapid:   sys.Overrides.Rapid,
			Spindle: sys.Overrides.Spindle,
		},
		Timestamp: time.Now(),
	}
	if code := sys.Alarm(); code != machine.AlarmNone {
		info := Alarm(code)
		st.Alarm = &info
	}
	if r.src.Position != nil {
		st.Position = r.src.Position()
	}
	if r.src.Limits != nil {
		st.Limits = r.src.Limits().String()
	}
	if r.src.Spindle != nil {
		st.Accessory.Spindle, st.Accessory.SpindleSpeed = r.src.Spindle.State()
	}
	if r.src.Coolant != nil {
		st.Accessory.Flood, st.Accessory.Mist = r.src.Coolant.State()
	}
	return st
}

func (r *Reporter) publish(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
			// Skip if channel is full
		}
	}
}
