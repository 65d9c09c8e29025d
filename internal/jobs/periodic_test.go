package jobs_test

import (
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenMotionCore/internal/jobs"
)

var _ = Describe("Periodic", func() {
	It("ticks until stopped", func() {
		var n atomic.Int32
		p := jobs.NewPeriodic("count", time.Millisecond, func() { n.Add(1) }, zap.NewNop())
		Expect(p.Start()).To(Succeed())
		Expect(p.IsRunning()).To(BeTrue())
		Eventually(n.Load).Should(BeNumerically(">=", 3))

		p.Stop()
		Expect(p.IsRunning()).To(BeFalse())
		after := n.Load()
		Consistently(n.Load, 20*time.Millisecond).Should(Equal(after))
	})

	It("can be restarted and survives a panicking tick", func() {
		var n atomic.Int32
		p := jobs.NewPeriodic("flaky", time.Millisecond, func() {
			if n.Add(1) == 1 {
				panic("boom")
			}
		}, zap.NewNop())

		var g jobs.Group
		g.Add(p)
		Expect(g.Start()).To(Succeed())
		Eventually(n.Load).Should(BeNumerically(">=", 2))
		g.Stop()

		Expect(p.Start()).To(Succeed())
		Eventually(p.IsRunning).Should(BeTrue())
		p.Stop()
	})
})
