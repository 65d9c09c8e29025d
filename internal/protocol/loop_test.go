package protocol_test

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"github.com/KevinKickass/OpenMotionCore/internal/protocol"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("Loop", func() {
	var (
		r      *rig
		loop   *protocol.Loop
		cancel context.CancelFunc
		runErr chan error
	)

	BeforeEach(func() {
		r = newRig(protocol.Options{})
		loop = protocol.NewLoop(zap.NewNop(), r.e, time.Millisecond)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		runErr = make(chan error, 1)
		go func() {
			runErr <- loop.Run(ctx)
		}()
		DeferCleanup(func() {
			cancel()
			Eventually(runErr).Should(Receive(BeNil()))
		})
	})

	queue := func(target ...float64) {
		err := loop.Do(context.Background(), func(ctx context.Context, e *protocol.Executor) error {
			return e.Line(ctx, target, motion.MotionDescriptor{FeedRate: feed})
		})
		Expect(err).NotTo(HaveOccurred())
	}

	It("runs commands on the main task and returns their error", func() {
		boom := errors.New("boom")
		err := loop.Do(context.Background(), func(_ context.Context, e *protocol.Executor) error {
			Expect(e).To(BeIdenticalTo(loop.Executor()))
			return boom
		})
		Expect(err).To(MatchError(boom))
	})

	It("runs queued motion to completion", func() {
		queue(10, 0)
		Eventually(r.sys.State).Should(Equal(machine.StateIdle))
		Eventually(r.position).Should(Equal([]float64{10, 0}))
	})

	It("holds and resumes through realtime requests", func() {
		queue(50, 0)
		loop.Request(signals.FeedHold)
		Eventually(r.sys.State).Should(Equal(machine.StateHold))

		held := r.position()
		Consistently(r.position, 20*time.Millisecond).Should(Equal(held))

		loop.Request(signals.CycleStart)
		Eventually(r.position).Should(Equal([]float64{50, 0}))
		Eventually(r.sys.State).Should(Equal(machine.StateIdle))
	})

	It("reinitializes after a reset", func() {
		queue(500, 0)
		Eventually(r.sim.Steps).Should(BeNumerically(">", 2))

		loop.Request(signals.Reset)
		Eventually(r.sys.State).Should(Equal(machine.StateAlarm))
		Expect(r.sys.Alarm()).To(Equal(machine.AlarmAbortCycle))
		Eventually(r.sim.Running).Should(BeFalse())
	})

	It("applies override requests", func() {
		loop.RequestOverride(signals.RapidLow)
		Eventually(func() uint8 {
			var rapid uint8
			_ = loop.Do(context.Background(), func(_ context.Context, e *protocol.Executor) error {
				rapid = e.System().Overrides.Rapid
				return nil
			})
			return rapid
		}).Should(BeEquivalentTo(25))
	})

	It("refuses commands once stopped", func() {
		cancel()
		Eventually(runErr).Should(Receive(BeNil()))
		runErr <- nil

		err := loop.Do(context.Background(), func(context.Context, *protocol.Executor) error { return nil })
		Expect(err).To(MatchError(protocol.ErrStopped))
	})

	It("gives up when the caller's context ends", func() {
		idle := protocol.NewLoop(zap.NewNop(), newRig(protocol.Options{}).e, 0)
		ctx, stop := context.WithCancel(context.Background())
		stop()
		err := idle.Do(ctx, func(context.Context, *protocol.Executor) error { return nil })
		Expect(err).To(MatchError(context.Canceled))
	})
})
