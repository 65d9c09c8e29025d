package limits_test

import (
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/limits"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("Tracker", func() {
	var (
		sys      *machine.System
		tracker  *limits.Tracker
		stops    int
		newTrack func(opts limits.Options) *limits.Tracker
	)

	BeforeEach(func() {
		stops = 0
		sys = machine.NewSystem(zap.NewNop(), machine.StateIdle)
		newTrack = func(opts limits.Options) *limits.Tracker {
			opts.HardStop = func() { stops++ }
			return limits.NewTracker(zap.NewNop(), sys, opts)
		}
	})

	Context("without debounce", func() {
		BeforeEach(func() {
			tracker = newTrack(limits.Options{HardLimits: true})
		})

		It("publishes per motor and direction", func() {
			tracker.SetHardLimits(false)
			tracker.OnPinChange(limits.Switch{Axis: 1, Gang: 1}, true)
			tracker.OnPinChange(limits.Switch{Axis: 0, Gang: 0, Positive: true}, true)

			Expect(tracker.Negative()).To(Equal(axes.MotorBit(1, 1)))
			Expect(tracker.Positive()).To(Equal(axes.MotorBit(0, 0)))
			Expect(tracker.GetState()).To(Equal(axes.MotorBit(1, 1) | axes.MotorBit(0, 0)))

			tracker.OnPinChange(limits.Switch{Axis: 1, Gang: 1}, false)
			Expect(tracker.Negative()).To(BeZero())
		})

		It("maps a shared switch to every gang of the axis", func() {
			tracker.SetHardLimits(false)
			tracker.OnPinChange(limits.Switch{Axis: 1, Gang: limits.SharedGang}, true)
			Expect(tracker.Negative()).To(Equal(axes.AxisBit(1).Motors()))
		})

		It("trips the hard limit: stop, alarm, reset", func() {
			tracker.OnPinChange(limits.Switch{Axis: 0, Gang: 0}, true)

			Expect(stops).To(Equal(1))
			Expect(machine.AlarmCode(sys.Signals.PendingAlarm())).To(Equal(machine.AlarmHardLimit))
			Expect(sys.Signals.Has(signals.Reset)).To(BeTrue())
		})

		It("does not trip while homing", func() {
			tracker.SetHomingMode(true)
			tracker.OnPinChange(limits.Switch{Axis: 0, Gang: 0}, true)

			Expect(stops).To(BeZero())
			Expect(sys.Signals.PendingAlarm()).To(BeZero())
			Expect(tracker.Negative()).To(Equal(axes.MotorBit(0, 0)))
		})

		It("does not trip in Alarm", func() {
			Expect(sys.SetState(machine.StateAlarm)).To(Succeed())
			tracker.OnPinChange(limits.Switch{Axis: 0, Gang: 0}, true)
			Expect(stops).To(BeZero())
		})

		It("does not trip on release", func() {
			tracker.SetHardLimits(false)
			tracker.OnPinChange(limits.Switch{Axis: 0, Gang: 0}, true)
			tracker.SetHardLimits(true)
			tracker.OnPinChange(limits.Switch{Axis: 0, Gang: 0}, false)
			Expect(stops).To(BeZero())
		})
	})

	Context("with debounce", func() {
		var now time.Time

		BeforeEach(func() {
			now = time.Unix(1000, 0)
			tracker = newTrack(limits.Options{HardLimits: true, Debounce: 10 * time.Millisecond})
			tracker.SetClock(func() time.Time { return now })
		})

		It("publishes only after the reading is stable", func() {
			tracker.OnPinChange(limits.Switch{Axis: 2, Gang: 0}, true)
			Expect(tracker.GetState()).To(BeZero())

			now = now.Add(5 * time.Millisecond)
			tracker.Debounce()
			Expect(tracker.GetState()).To(BeZero())

			now = now.Add(5 * time.Millisecond)
			tracker.Debounce()
			Expect(tracker.Negative()).To(Equal(axes.MotorBit(2, 0)))
			Expect(stops).To(Equal(1))
			Expect(sys.Signals.Has(signals.Reset)).To(BeTrue())
		})

		It("filters a bounce", func() {
			tracker.OnPinChange(limits.Switch{Axis: 2, Gang: 0}, true)
			now = now.Add(2 * time.Millisecond)
			tracker.OnPinChange(limits.Switch{Axis: 2, Gang: 0}, false)
			now = now.Add(20 * time.Millisecond)
			tracker.Debounce()

			Expect(tracker.GetState()).To(BeZero())
			Expect(stops).To(BeZero())
		})

		It("trips once for a switch that stays asserted", func() {
			tracker.OnPinChange(limits.Switch{Axis: 2, Gang: 0}, true)
			now = now.Add(20 * time.Millisecond)
			tracker.Debounce()
			tracker.Debounce()
			Expect(stops).To(Equal(1))
		})
	})
})

var _ = Describe("SoftLimits", func() {
	It("checks homed axes only when enabled", func() {
		topo, err := axes.New([]*axes.Axis{
			{Name: "X", Index: 0, MaxTravel: 100, Homing: &axes.Homing{Cycle: 1, SeekRate: 1, FeedRate: 1},
				Gangs: []*axes.Gang{{Motor: axes.Null{}}}},
			{Name: "Y", Index: 1, MaxTravel: 100, Homing: &axes.Homing{Cycle: 1, SeekRate: 1, FeedRate: 1},
				Gangs: []*axes.Gang{{Motor: axes.Null{}}}},
		})
		Expect(err).NotTo(HaveOccurred())
		sys := machine.NewSystem(zap.NewNop(), machine.StateIdle)
		soft := limits.NewSoftLimits(topo, sys, true)

		Expect(soft.Allows([]float64{500, 500})).To(BeTrue())

		sys.MarkHomed(axes.AxisBit(0))
		Expect(soft.Allows([]float64{50, 500})).To(BeTrue())
		Expect(soft.Allows([]float64{150, 0})).To(BeFalse())

		soft.Enabled = false
		Expect(soft.Allows([]float64{150, 0})).To(BeTrue())
	})
})
