package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/KevinKickass/OpenMotionCore/internal/config"
)

var _ = Describe("Load", func() {
	It("uses defaults without a file", func() {
		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.HTTPPort).To(Equal(8080))
		Expect(cfg.Homing.InitLock).To(BeTrue())
		Expect(cfg.Homing.LocateCycles).To(Equal(1))
		Expect(cfg.Spindle.Type).To(Equal("none"))
		Expect(cfg.Spindle.Relay.Direction).To(Equal(-1))
		Expect(cfg.Spindle.VFD.ControlRegister).To(Equal(uint16(0x2000)))
		Expect(cfg.Control.StatusInterval).To(Equal(200 * time.Millisecond))
	})

	It("reads the file and lets the environment win", func() {
		path := filepath.Join(GinkgoT().TempDir(), "motioncore.yaml")
		Expect(os.WriteFile(path, []byte(`
server:
  http_port: 9090
parking:
  enable: true
  axis: Z
  target: -2
spindle:
  type: vfd
  vfd:
    address: 10.0.0.5:502
    max_rpm: 18000
`), 0o600)).To(Succeed())
		GinkgoT().Setenv("OMC_PARKING_TARGET", "-8")

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.HTTPPort).To(Equal(9090))
		Expect(cfg.Parking.Enable).To(BeTrue())
		Expect(cfg.Parking.Target).To(Equal(-8.0))
		Expect(cfg.Spindle.VFD.Address).To(Equal("10.0.0.5:502"))
		Expect(cfg.Spindle.VFD.MaxRPM).To(Equal(18000.0))
		Expect(cfg.Spindle.VFD.Timeout).To(Equal(200 * time.Millisecond))
	})

	It("fails on a missing file", func() {
		_, err := config.Load("/nonexistent/motioncore.yaml")
		Expect(err).To(MatchError(ContainSubstring("failed to read config")))
	})
})

var _ = Describe("AuthConfig", func() {
	It("falls back to the development secret", func() {
		a := config.AuthConfig{JWTSecretEnv: "OMC_TEST_UNSET_SECRET"}
		Expect(a.IsProductionReady()).To(BeFalse())

		GinkgoT().Setenv("OMC_TEST_UNSET_SECRET", "0123456789abcdef0123456789abcdef")
		Expect(a.IsProductionReady()).To(BeTrue())
	})
})
