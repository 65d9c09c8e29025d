package axes_test

import (
	"math"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func gang(m axes.Motor, endstop *axes.Endstop) *axes.Gang {
	return &axes.Gang{Motor: m, Endstop: endstop}
}

func gantry() *axes.Topology {
	neg := &axes.Endstop{Negative: true, HardLimits: true}
	topo, err := axes.New([]*axes.Axis{
		{
			Name: "X", Index: 0, MaxTravel: 300,
			Homing:  &axes.Homing{Cycle: 2, SeekRate: 2000, FeedRate: 100, Pulloff: 1, DebounceMs: 10},
			Endstop: neg,
			Gangs:   []*axes.Gang{gang(&axes.StepDir{}, nil)},
		},
		{
			Name: "Y", Index: 1, MaxTravel: 400, Squared: true,
			Homing: &axes.Homing{Cycle: 2, SeekRate: 2000, FeedRate: 100, Pulloff: 1, DebounceMs: 25},
			Gangs: []*axes.Gang{
				gang(&axes.StepDir{}, neg),
				gang(&axes.StepDir{}, neg),
			},
		},
		{
			Name: "Z", Index: 2, MaxTravel: 80,
			Homing:  &axes.Homing{Cycle: 1, PositiveDirection: true, SeekRate: 500, FeedRate: 50, Pulloff: 1},
			Endstop: &axes.Endstop{Positive: true},
			Gangs:   []*axes.Gang{gang(&axes.StepDir{}, nil)},
		},
		{
			Name: "A", Index: 3, MaxTravel: 360,
			Gangs: []*axes.Gang{gang(axes.Null{}, nil)},
		},
	})
	Expect(err).NotTo(HaveOccurred())
	return topo
}

var _ = Describe("Masks", func() {
	It("places gang 1 motors in the upper half", func() {
		Expect(axes.MotorBit(1, 0)).To(Equal(axes.MotorMask(1 << 1)))
		Expect(axes.MotorBit(1, 1)).To(Equal(axes.MotorMask(1 << 17)))
		Expect(axes.AxisBit(1).Motors()).To(Equal(axes.MotorBit(1, 0) | axes.MotorBit(1, 1)))
		Expect((axes.MotorBit(1, 1) | axes.MotorBit(2, 0)).Axes()).To(Equal(axes.AxisBit(1) | axes.AxisBit(2)))
	})

	It("converts to and from letters", func() {
		m, ok := axes.ParseAxes("xz")
		Expect(ok).To(BeTrue())
		Expect(m).To(Equal(axes.AxisBit(0) | axes.AxisBit(2)))
		Expect(m.String()).To(Equal("XZ"))
		Expect(m.Count()).To(Equal(2))

		_, ok = axes.ParseAxes("Q")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Topology", func() {
	var topo *axes.Topology

	BeforeEach(func() {
		topo = gantry()
	})

	It("rejects out of order axes and bad gang counts", func() {
		_, err := axes.New([]*axes.Axis{{Name: "X", Index: 1, Gangs: []*axes.Gang{gang(axes.Null{}, nil)}}})
		Expect(err).To(HaveOccurred())

		_, err = axes.New([]*axes.Axis{{Name: "X", Index: 0}})
		Expect(err).To(HaveOccurred())

		_, err = axes.New(nil)
		Expect(err).To(HaveOccurred())
	})

	It("groups axes into homing cycles", func() {
		Expect(topo.MaxCycle()).To(Equal(2))
		Expect(topo.AxesInCycle(1)).To(Equal(axes.AxisBit(2)))
		Expect(topo.AxesInCycle(2)).To(Equal(axes.AxisBit(0) | axes.AxisBit(1)))
		Expect(topo.AxesInCycle(0)).To(BeZero())
		Expect(topo.HomingMask()).To(Equal(axes.AxisBit(0) | axes.AxisBit(1) | axes.AxisBit(2)))
		Expect(topo.Mask()).To(Equal(axes.AxisMask(0b1111)))
	})

	It("lists the configured motors", func() {
		Expect(topo.Motors(axes.AxisBit(1))).To(Equal(axes.MotorBit(1, 0) | axes.MotorBit(1, 1)))
		Expect(topo.Motor(1, 1)).NotTo(BeNil())
		Expect(topo.Motor(0, 1)).To(BeNil())
	})

	It("squares only axes with a switch per motor", func() {
		Expect(topo.Axis(1).SharesSwitch()).To(BeFalse())
		Expect(topo.SquaredMotors(axes.AxisBit(1))).To(Equal(axes.MotorBit(1, 1)))
		Expect(topo.SquaredSharedSwitch(axes.AxisBit(1))).To(BeFalse())

		topo.Axis(1).Gangs[1].Endstop = nil
		topo.Axis(1).Endstop = &axes.Endstop{Negative: true}
		Expect(topo.Axis(1).SharesSwitch()).To(BeTrue())
		Expect(topo.SquaredMotors(axes.AxisBit(1))).To(BeZero())
		Expect(topo.SquaredSharedSwitch(axes.AxisBit(1))).To(BeTrue())
	})

	It("uses the longest debounce of a cycle", func() {
		Expect(topo.SettleTime(topo.AxesInCycle(2))).To(Equal(25))
		Expect(topo.SettleTime(topo.AxesInCycle(1))).To(BeZero())
	})

	It("reports which motors accept homing mode", func() {
		accepted := topo.SetHomingMode(topo.Mask(), true)
		Expect(accepted.Has(0, 0)).To(BeTrue())
		Expect(accepted.Has(1, 1)).To(BeTrue())
		Expect(accepted.Has(3, 0)).To(BeFalse())
		Expect(topo.Axis(0).Gangs[0].Motor.(*axes.StepDir).Homing()).To(BeTrue())
	})

	Describe("travel windows", func() {
		It("extends away from the switch", func() {
			lo, hi := topo.Axis(0).TravelWindow()
			Expect(lo).To(Equal(0.0))
			Expect(hi).To(Equal(300.0))

			lo, hi = topo.Axis(2).TravelWindow()
			Expect(lo).To(Equal(-80.0))
			Expect(hi).To(Equal(0.0))
		})

		It("checks only homed axes", func() {
			homed := axes.AxisBit(0) | axes.AxisBit(2)
			Expect(topo.WithinTravel([]float64{10, -999, -5, 0}, homed)).To(BeTrue())
			Expect(topo.WithinTravel([]float64{301, 0, -5, 0}, homed)).To(BeFalse())
			Expect(topo.WithinTravel([]float64{10, 0, 1, 0}, homed)).To(BeFalse())
			Expect(topo.WithinTravel([]float64{math.NaN(), 0, 0, 0}, homed)).To(BeFalse())
		})
	})
})
