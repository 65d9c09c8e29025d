package protocol_test

import (
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/protocol"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func idle(*rig) {}

// cycling leaves a program moving toward X10.
func cycling(r *rig) {
	Expect(r.line([]float64{10, 0}, none)).To(Succeed())
	Expect(r.sys.State()).To(Equal(machine.StateCycle))
}

// ending leaves a cycle whose only block has just run out.
func ending(r *rig) {
	Expect(r.line([]float64{1, 0}, none)).To(Succeed())
	Expect(r.sys.State()).To(Equal(machine.StateCycle))
}

func held(r *rig) {
	cycling(r)
	r.sys.Signals.Set(signals.FeedHold)
	r.step(2)
	Expect(r.sys.State()).To(Equal(machine.StateHold))
	Expect(r.sys.Suspend).To(Equal(machine.SuspendHoldComplete))
}

func jogging(r *rig) {
	Expect(r.e.Jog(r.ctx, []float64{0, 20}, feed)).To(Succeed())
	r.step(1)
	Expect(r.sys.State()).To(Equal(machine.StateJog))
}

func doorOpen(r *rig) {
	r.door.ajar.Store(true)
	r.sys.Signals.Set(signals.SafetyDoor)
	r.step(1)
	Expect(r.sys.State()).To(Equal(machine.StateSafetyDoor))
}

func homingCycle(r *rig) {
	r.enter(machine.StateHoming)
}

var _ = Describe("Realtime events", func() {
	DescribeTable("move the machine between states",
		func(setup func(*rig), ev signals.Flag, state machine.State, suspend machine.SuspendFlags) {
			r := newRig(protocol.Options{})
			setup(r)

			r.sys.Signals.Set(ev)
			r.step(1)

			Expect(r.sys.State()).To(Equal(state))
			Expect(r.sys.Suspend).To(Equal(suspend))
		},
		Entry("idle, motion cancel", idle, signals.MotionCancel, machine.StateIdle, machine.SuspendHoldComplete),
		Entry("idle, feed hold", idle, signals.FeedHold, machine.StateIdle, machine.SuspendHoldComplete),
		Entry("idle, safety door", idle, signals.SafetyDoor, machine.StateSafetyDoor,
			machine.SuspendHoldComplete|machine.SuspendSafetyDoorAjar),
		Entry("idle, sleep", idle, signals.Sleep, machine.StateSleep, machine.SuspendHoldComplete),
		Entry("idle, cycle start with nothing queued", idle, signals.CycleStart, machine.StateIdle, machine.SuspendFlags(0)),
		Entry("idle, cycle stop", idle, signals.CycleStop, machine.StateIdle, machine.SuspendFlags(0)),

		Entry("cycle, motion cancel", cycling, signals.MotionCancel, machine.StateCycle, machine.SuspendMotionCancel),
		Entry("cycle, feed hold", cycling, signals.FeedHold, machine.StateHold, machine.SuspendFlags(0)),
		Entry("cycle, safety door", cycling, signals.SafetyDoor, machine.StateSafetyDoor, machine.SuspendSafetyDoorAjar),
		Entry("cycle, sleep", cycling, signals.Sleep, machine.StateHold, machine.SuspendFlags(0)),
		Entry("cycle, cycle start", cycling, signals.CycleStart, machine.StateCycle, machine.SuspendFlags(0)),
		Entry("cycle, cycle stop at program end", ending, signals.CycleStop, machine.StateIdle, machine.SuspendFlags(0)),

		Entry("hold, motion cancel", held, signals.MotionCancel, machine.StateHold, machine.SuspendHoldComplete),
		Entry("hold, feed hold", held, signals.FeedHold, machine.StateHold, machine.SuspendHoldComplete),
		Entry("hold, safety door", held, signals.SafetyDoor, machine.StateSafetyDoor,
			machine.SuspendHoldComplete|machine.SuspendSafetyDoorAjar),
		Entry("hold, sleep", held, signals.Sleep, machine.StateSleep, machine.SuspendHoldComplete),
		Entry("hold, cycle start", held, signals.CycleStart, machine.StateCycle, machine.SuspendFlags(0)),
		Entry("hold, cycle stop", held, signals.CycleStop, machine.StateHold, machine.SuspendHoldComplete),

		Entry("jog, motion cancel", jogging, signals.MotionCancel, machine.StateJog, machine.SuspendJogCancel),
		Entry("jog, feed hold", jogging, signals.FeedHold, machine.StateJog, machine.SuspendJogCancel),
		Entry("jog, safety door", jogging, signals.SafetyDoor, machine.StateJog,
			machine.SuspendJogCancel|machine.SuspendSafetyDoorAjar),
		Entry("jog, sleep", jogging, signals.Sleep, machine.StateJog, machine.SuspendFlags(0)),
		Entry("jog, cycle start", jogging, signals.CycleStart, machine.StateJog, machine.SuspendFlags(0)),
		Entry("jog, cycle stop", jogging, signals.CycleStop, machine.StateIdle, machine.SuspendFlags(0)),

		Entry("door, motion cancel", doorOpen, signals.MotionCancel, machine.StateSafetyDoor,
			machine.SuspendHoldComplete|machine.SuspendSafetyDoorAjar),
		Entry("door, feed hold", doorOpen, signals.FeedHold, machine.StateSafetyDoor,
			machine.SuspendHoldComplete|machine.SuspendSafetyDoorAjar),
		Entry("door, safety door", doorOpen, signals.SafetyDoor, machine.StateSafetyDoor,
			machine.SuspendHoldComplete|machine.SuspendSafetyDoorAjar),
		Entry("door, sleep", doorOpen, signals.Sleep, machine.StateSafetyDoor,
			machine.SuspendHoldComplete|machine.SuspendSafetyDoorAjar),
		Entry("door, cycle start while ajar", doorOpen, signals.CycleStart, machine.StateSafetyDoor,
			machine.SuspendHoldComplete|machine.SuspendSafetyDoorAjar),
		Entry("door, cycle stop", doorOpen, signals.CycleStop, machine.StateSafetyDoor,
			machine.SuspendHoldComplete|machine.SuspendSafetyDoorAjar),

		Entry("homing, motion cancel", homingCycle, signals.MotionCancel, machine.StateHoming, machine.SuspendFlags(0)),
		Entry("homing, feed hold", homingCycle, signals.FeedHold, machine.StateHoming, machine.SuspendFlags(0)),
		Entry("homing, safety door", homingCycle, signals.SafetyDoor, machine.StateHoming, machine.SuspendFlags(0)),
		Entry("homing, sleep", homingCycle, signals.Sleep, machine.StateHoming, machine.SuspendFlags(0)),
		Entry("homing, cycle start", homingCycle, signals.CycleStart, machine.StateHoming, machine.SuspendFlags(0)),
		Entry("homing, cycle stop", homingCycle, signals.CycleStop, machine.StateHoming, machine.SuspendFlags(0)),
	)

	It("fails homing when the door opens", func() {
		r := newRig(protocol.Options{})
		homingCycle(r)
		r.sys.Signals.Set(signals.SafetyDoor)
		r.step(1)
		Expect(machine.AlarmCode(r.sys.Signals.PendingAlarm())).To(Equal(machine.AlarmHomingFailDoor))
	})

	It("drops the rest of a jog when a bare cycle stop ends it", func() {
		r := newRig(protocol.Options{})
		jogging(r)
		r.sys.Signals.Set(signals.CycleStop)
		r.step(1)
		Expect(r.sim.Planner().CurrentBlock()).To(BeNil())
		Expect(r.sim.Planner().Position()).To(Equal(r.position()))
	})
})
