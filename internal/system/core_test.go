package system_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenMotionCore/internal/config"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/protocol"
	"github.com/KevinKickass/OpenMotionCore/internal/report"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"github.com/KevinKickass/OpenMotionCore/internal/system"
	"github.com/KevinKickass/OpenMotionCore/internal/types"
)

const machineFile = `
axes:
  - name: X
    max_travel: 100
    homing: {cycle: 1, seek_rate: 3000, feed_rate: 600, pulloff: 1}
    endstop: {negative: true}
    gangs:
      - motor: {type: stepdir, step_pin: 2, dir_pin: 5}
  - name: Z
    max_travel: 50
    gangs:
      - motor: {type: stepdir, step_pin: 3, dir_pin: 6}
`

func loadMachine() *config.Machine {
	m, err := config.ParseMachine([]byte(machineFile), types.NopPins{})
	Expect(err).NotTo(HaveOccurred())
	return m
}

func defaultConfig() *config.Config {
	cfg, err := config.Load("")
	Expect(err).NotTo(HaveOccurred())
	cfg.Sim.Tick = 100 * time.Millisecond
	cfg.Server.HTTPPort = 0
	cfg.Server.GRPCPort = 0
	return cfg
}

func run(core *system.Core) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = core.Run(ctx)
	}()
	DeferCleanup(func() {
		cancel()
		Eventually(done).Should(BeClosed())
	})
}

var _ = Describe("NewCore", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = defaultConfig()
	})

	It("boots locked when homing is required", func() {
		core, err := system.NewCore(cfg, loadMachine(), nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		Expect(core.System().State()).To(Equal(machine.StateAlarm))
		Expect(core.Homer()).NotTo(BeNil())
		Expect(core.Topology().NumAxes()).To(Equal(2))
		Expect(core.Reporter().Last().State).To(Equal("Alarm"))
	})

	It("boots idle without the homing lock", func() {
		cfg.Homing.InitLock = false
		core, err := system.NewCore(cfg, loadMachine(), nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		Expect(core.System().State()).To(Equal(machine.StateIdle))
	})

	It("leaves homing out when disabled", func() {
		cfg.Homing.Enable = false
		core, err := system.NewCore(cfg, loadMachine(), nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		Expect(core.System().State()).To(Equal(machine.StateIdle))
		Expect(core.Homer()).To(BeNil())

		run(core)
		err = core.Do(context.Background(), func(ctx context.Context, e *protocol.Executor) error {
			return e.Home(ctx, 0)
		})
		Expect(err).To(MatchError(protocol.ErrNoHomer))
	})

	DescribeTable("rejects bad accessory and parking settings",
		func(mutate func(cfg *config.Config), msg string) {
			mutate(cfg)
			_, err := system.NewCore(cfg, loadMachine(), nil, zap.NewNop())
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("unknown spindle", func(cfg *config.Config) { cfg.Spindle.Type = "plasma" }, "unknown spindle type"),
		Entry("vfd without address", func(cfg *config.Config) { cfg.Spindle.Type = "vfd" }, "spindle.vfd.address"),
		Entry("unknown parking axis", func(cfg *config.Config) {
			cfg.Parking.Enable = true
			cfg.Parking.Axis = "Y"
		}, `parking axis "Y"`),
	)

	It("matches the parking axis by name", func() {
		cfg.Parking.Enable = true
		cfg.Parking.Axis = "z"
		_, err := system.NewCore(cfg, loadMachine(), nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	It("builds a relay spindle", func() {
		cfg.Spindle.Type = "relay"
		_, err := system.NewCore(cfg, loadMachine(), nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	When("running", func() {
		var core *system.Core

		BeforeEach(func() {
			cfg.Homing.InitLock = false
			var err error
			core, err = system.NewCore(cfg, loadMachine(), nil, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			run(core)
		})

		It("trips the hard limit at the simulated switch", func() {
			err := core.Do(context.Background(), func(ctx context.Context, e *protocol.Executor) error {
				return e.Jog(ctx, []float64{-80, 0}, 600)
			})
			Expect(err).NotTo(HaveOccurred())

			Eventually(core.System().State).Should(Equal(machine.StateAlarm))
			Expect(core.Sim().Stepper().Position()[0]).To(BeNumerically("~", -50, 1))
			_, negative := core.Limits()
			Expect(negative).NotTo(BeZero())

			core.Request(signals.Reset)
			Eventually(core.Sim().Running).Should(BeFalse())
			Expect(core.System().Alarm()).To(Equal(machine.AlarmHardLimit))
		})

		It("homes and clears the alarm lock", func() {
			err := core.Do(context.Background(), func(ctx context.Context, e *protocol.Executor) error {
				return e.Home(ctx, 0)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(core.System().Homed().Has(0)).To(BeTrue())
			Expect(core.System().State()).To(Equal(machine.StateIdle))
		})

		It("reports triggered macros", func() {
			events := core.Reporter().Subscribe()
			DeferCleanup(core.Reporter().Unsubscribe, events)

			core.TriggerMacro(2)
			Eventually(events).Should(Receive(HaveField("Feedback", "macro 2")))
		})

		It("forwards override requests", func() {
			core.RequestOverride(signals.FeedCoarsePlus)
			Eventually(func() uint8 {
				var feed uint8
				_ = core.Do(context.Background(), func(_ context.Context, e *protocol.Executor) error {
					feed = e.System().Overrides.Feed
					return nil
				})
				return feed
			}).Should(BeEquivalentTo(110))
		})

		It("answers status requests", func() {
			events := core.Reporter().Subscribe()
			DeferCleanup(core.Reporter().Unsubscribe, events)

			core.Request(signals.StatusReport)
			Eventually(events).Should(Receive(HaveField("Type", report.EventStatus)))
		})
	})
})
