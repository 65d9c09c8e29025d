package machine_test

import (
	"errors"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var _ = Describe("State table", func() {
	DescribeTable("edges",
		func(from, to machine.State, ok bool) {
			err := machine.ValidateTransition(from, to)
			if ok {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(errors.Is(err, machine.ErrInvalidTransition)).To(BeTrue())
			}
		},
		Entry("idle to cycle", machine.StateIdle, machine.StateCycle, true),
		Entry("cycle to hold", machine.StateCycle, machine.StateHold, true),
		Entry("hold to door", machine.StateHold, machine.StateSafetyDoor, true),
		Entry("jog to door", machine.StateJog, machine.StateSafetyDoor, true),
		Entry("alarm to homing", machine.StateAlarm, machine.StateHoming, true),
		Entry("sleep to alarm", machine.StateSleep, machine.StateAlarm, true),
		Entry("cycle to door skips hold", machine.StateCycle, machine.StateSafetyDoor, false),
		Entry("cycle to sleep skips hold", machine.StateCycle, machine.StateSleep, false),
		Entry("alarm to cycle", machine.StateAlarm, machine.StateCycle, false),
		Entry("alarm to sleep", machine.StateAlarm, machine.StateSleep, false),
		Entry("sleep to idle", machine.StateSleep, machine.StateIdle, false),
		Entry("homing to cycle", machine.StateHoming, machine.StateCycle, false),
	)

	It("lets every state enter Alarm", func() {
		for _, s := range machine.States {
			Expect(machine.ValidateTransition(s, machine.StateAlarm)).To(Succeed(), s.String())
		}
	})

	It("round-trips names", func() {
		for _, s := range machine.States {
			parsed, ok := machine.ParseState(s.String())
			Expect(ok).To(BeTrue())
			Expect(parsed).To(Equal(s))
		}
		_, ok := machine.ParseState("Bogus")
		Expect(ok).To(BeFalse())
	})

	It("marks the states that feed the step generator", func() {
		Expect(machine.StateCycle.IsMotion()).To(BeTrue())
		Expect(machine.StateSafetyDoor.IsMotion()).To(BeTrue())
		Expect(machine.StateIdle.IsMotion()).To(BeFalse())
		Expect(machine.StateSleep.IsMotion()).To(BeFalse())
	})
})

var _ = Describe("System", func() {
	var (
		sys  *machine.System
		logs *observer.ObservedLogs
	)

	BeforeEach(func() {
		core, observed := observer.New(zap.InfoLevel)
		logs = observed
		sys = machine.NewSystem(zap.New(core), machine.StateIdle)
	})

	When("a valid transition is requested", func() {
		It("changes state, logs and notifies observers", func() {
			var seen [][2]machine.State
			sys.OnTransition(func(from, to machine.State) {
				seen = append(seen, [2]machine.State{from, to})
			})

			Expect(sys.SetState(machine.StateCycle)).To(Succeed())
			Expect(sys.State()).To(Equal(machine.StateCycle))
			Expect(seen).To(Equal([][2]machine.State{{machine.StateIdle, machine.StateCycle}}))

			entries := logs.FilterMessage("Machine state changed").All()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ContextMap()).To(HaveKeyWithValue("state", "Run"))
			Expect(entries[0].ContextMap()).To(HaveKeyWithValue("previous_state", "Idle"))
		})

		It("does not notify when the state is unchanged", func() {
			called := false
			sys.OnTransition(func(_, _ machine.State) { called = true })
			Expect(sys.SetState(machine.StateIdle)).To(Succeed())
			Expect(called).To(BeFalse())
		})
	})

	When("an invalid transition is requested", func() {
		It("leaves the state unchanged", func() {
			Expect(sys.SetState(machine.StateSleep)).To(Succeed())
			err := sys.SetState(machine.StateIdle)
			Expect(errors.Is(err, machine.ErrInvalidTransition)).To(BeTrue())
			Expect(sys.State()).To(Equal(machine.StateSleep))
			Expect(logs.FilterMessage("Rejected state transition").Len()).To(Equal(1))
		})
	})

	Describe("alarms", func() {
		It("latches and notifies", func() {
			var got []machine.AlarmCode
			sys.OnAlarm(func(code machine.AlarmCode) { got = append(got, code) })

			sys.LatchAlarm(machine.AlarmHomingFailApproach)
			Expect(sys.Alarm()).To(Equal(machine.AlarmHomingFailApproach))
			Expect(got).To(ConsistOf(machine.AlarmHomingFailApproach))

			sys.ClearAlarm()
			Expect(sys.Alarm()).To(Equal(machine.AlarmNone))
		})

		It("posts through the signal register, first one wins", func() {
			Expect(sys.PostAlarm(machine.AlarmHardLimit)).To(BeTrue())
			Expect(sys.PostAlarm(machine.AlarmSoftLimit)).To(BeFalse())
			Expect(machine.AlarmCode(sys.Signals.PendingAlarm())).To(Equal(machine.AlarmHardLimit))
		})

		It("names every code and classifies fatality", func() {
			for _, code := range machine.Alarms {
				Expect(code.String()).NotTo(HavePrefix("Unknown"))
			}
			Expect(machine.AlarmHardLimit.IsFatal()).To(BeTrue())
			Expect(machine.AlarmHomingFailPulloff.IsFatal()).To(BeFalse())
			Expect(machine.AlarmCode(99).String()).To(Equal("Unknown (99)"))

			var err error = machine.AlarmHomingFailReset
			var code machine.AlarmCode
			Expect(errors.As(err, &code)).To(BeTrue())
			Expect(code).To(Equal(machine.AlarmHomingFailReset))
		})
	})

	It("tracks homed axes", func() {
		sys.MarkHomed(axes.AxisBit(0) | axes.AxisBit(2))
		sys.ForgetHomed(axes.AxisBit(0))
		Expect(sys.Homed()).To(Equal(axes.AxisBit(2)))
	})

	It("clears every suspend field", func() {
		sys.Suspend = machine.SuspendHoldComplete | machine.SuspendSafetyDoorAjar
		sys.StepControl = machine.StepExecuteHold
		sys.SpindleStopOvr = machine.SpindleStopEnabled

		sys.ResetSuspend()

		Expect(sys.Suspend).To(BeZero())
		Expect(sys.StepControl).To(BeZero())
		Expect(sys.SpindleStopOvr).To(BeZero())
		Expect(machine.SuspendFlags(0).String()).To(Equal("none"))
		Expect((machine.SuspendHoldComplete | machine.SuspendMotionCancel).String()).To(Equal("hold_complete|motion_cancel"))
	})
})
