// Package metrics exports the motion core's state to prometheus.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/KevinKickass/OpenMotionCore/internal/homing"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/protocol"
)

const (
	Namespace = "motioncore"
)

var (
	MachineState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "machine_state",
		Help:      "1 for the current machine state, 0 for every other.",
	}, []string{"state"})
	StateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "state_transitions_total",
		Help:      "The number of machine state changes, by target state.",
	}, []string{"state"})
	Alarms = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "alarms_total",
		Help:      "The number of alarms raised, by alarm name.",
	}, []string{"alarm"})
	HomingDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: Namespace,
		Name:      "homing_duration_seconds",
		Help:      "Time to run a homing request, by result.",
	}, []string{"result"})
	SuspendEpisodes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "suspend_episodes_total",
		Help:      "The number of suspend episodes started, by machine state.",
	}, []string{"state"})
	JobTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "job_ticks_total",
		Help:      "The number of background job runs.",
	}, []string{"job"})
)

var registerMetrics sync.Once

// Register adds every collector to the default registry.
func Register() {
	registerMetrics.Do(func() {
		MustRegister(prometheus.DefaultRegisterer)
	})
}

// MustRegister adds every collector to r.
func MustRegister(r prometheus.Registerer) {
	r.MustRegister(MachineState)
	r.MustRegister(StateTransitions)
	r.MustRegister(Alarms)
	r.MustRegister(HomingDuration)
	r.MustRegister(SuspendEpisodes)
	r.MustRegister(JobTicks)
}

// Bind feeds the collectors from the machine's observers.
func Bind(sys *machine.System, homer *homing.Coordinator, suspend *protocol.SuspendManager) {
	setState(sys.State())
	sys.OnTransition(func(_, to machine.State) {
		setState(to)
		StateTransitions.WithLabelValues(to.String()).Inc()
	})
	sys.OnAlarm(func(code machine.AlarmCode) {
		Alarms.WithLabelValues(code.String()).Inc()
	})
	if homer != nil {
		homer.AddObserver(HomingObserver{})
	}
	if suspend != nil {
		suspend.OnEpisode(func(ep protocol.Episode) {
			SuspendEpisodes.WithLabelValues(ep.State.String()).Inc()
		})
	}
}

// CountTick wraps a job body so each run is counted.
func CountTick(job string, fn func()) func() {
	c := JobTicks.WithLabelValues(job)
	return func() {
		c.Inc()
		fn()
	}
}

func setState(current machine.State) {
	for _, s := range machine.States {
		v := 0.0
		if s == current {
			v = 1
		}
		MachineState.WithLabelValues(s.String()).Set(v)
	}
}

// HomingObserver records homing run durations.
type HomingObserver struct{}

func (HomingObserver) HomingFinished(run homing.Run) {
	HomingDuration.WithLabelValues(result(run.Err)).Observe(run.Duration.Seconds())
}

func result(err error) string {
	var code machine.AlarmCode
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &code):
		return code.String()
	default:
		return "error"
	}
}
