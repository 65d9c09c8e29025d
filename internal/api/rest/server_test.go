package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenMotionCore/internal/api/rest"
	"github.com/KevinKickass/OpenMotionCore/internal/api/websocket"
	"github.com/KevinKickass/OpenMotionCore/internal/auth"
	"github.com/KevinKickass/OpenMotionCore/internal/config"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/protocol"
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

func newCore(cfg *config.Config) *system.Core {
	m, err := config.ParseMachine([]byte(machineFile), types.NopPins{})
	Expect(err).NotTo(HaveOccurred())

	core, err := system.NewCore(cfg, m, nil, zap.NewNop())
	Expect(err).NotTo(HaveOccurred())

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
	return core
}

func testConfig() *config.Config {
	cfg, err := config.Load("")
	Expect(err).NotTo(HaveOccurred())
	cfg.Homing.InitLock = false
	// 600 mm/min moves 1 mm per tick.
	cfg.Sim.Tick = 100 * time.Millisecond
	return cfg
}

type client struct {
	handler http.Handler
	token   string
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder, out any) {
	Expect(json.Unmarshal(w.Body.Bytes(), out)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		core *system.Core
		c    *client
	)

	BeforeEach(func() {
		core = newCore(testConfig())
		hub := websocket.NewHub(zap.NewNop(), nil, core)
		c = &client{handler: rest.NewServer(core, zap.NewNop(), hub, nil).Handler()}
	})

	It("reports health", func() {
		w := c.do(http.MethodGet, "/health", nil)
		Expect(w.Code).To(Equal(http.StatusOK))

		var body map[string]any
		decode(w, &body)
		Expect(body).To(HaveKeyWithValue("status", "ok"))
		Expect(body).To(HaveKeyWithValue("state", "Idle"))
	})

	It("serves prometheus metrics", func() {
		w := c.do(http.MethodGet, "/metrics", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("lists the alarm table", func() {
		w := c.do(http.MethodGet, "/api/v1/machine/alarms", nil)
		Expect(w.Code).To(Equal(http.StatusOK))

		var table []map[string]any
		decode(w, &table)
		Expect(table).To(HaveLen(len(machine.Alarms)))
		Expect(table[0]).To(HaveKeyWithValue("name", "Hard Limit"))
	})

	It("describes the topology", func() {
		w := c.do(http.MethodGet, "/api/v1/system/topology", nil)
		Expect(w.Code).To(Equal(http.StatusOK))

		var body struct {
			Axes []struct {
				Name        string `json:"name"`
				HomingCycle int    `json:"homing_cycle"`
			} `json:"axes"`
		}
		decode(w, &body)
		Expect(body.Axes).To(HaveLen(2))
		Expect(body.Axes[0].Name).To(Equal("X"))
		Expect(body.Axes[0].HomingCycle).To(Equal(1))
		Expect(body.Axes[1].Name).To(Equal("Z"))
	})

	It("reports the switch state", func() {
		w := c.do(http.MethodGet, "/api/v1/machine/limits", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"positive": "", "negative": ""}`))
	})

	When("realtime requests arrive", func() {
		It("raises known signals", func() {
			w := c.do(http.MethodPost, "/api/v1/machine/realtime/status_report", nil)
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Eventually(func() time.Time {
				return core.Reporter().Last().Timestamp
			}).ShouldNot(BeZero())
		})

		It("rejects unknown signals", func() {
			w := c.do(http.MethodPost, "/api/v1/machine/realtime/warp_drive", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))

			var body types.ErrorResponse
			decode(w, &body)
			Expect(body.Error.Code).To(Equal(types.CodeBadRequest))
		})

		It("queues override changes", func() {
			w := c.do(http.MethodPost, "/api/v1/machine/overrides/rapid_low", nil)
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Eventually(func() uint8 {
				var rapid uint8
				_ = core.Do(context.Background(), func(_ context.Context, e *protocol.Executor) error {
					rapid = e.System().Overrides.Rapid
					return nil
				})
				return rapid
			}).Should(BeEquivalentTo(25))

			w = c.do(http.MethodPost, "/api/v1/machine/overrides/turbo", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("validates macro numbers", func() {
			Expect(c.do(http.MethodPost, "/api/v1/machine/macros/2", nil).Code).To(Equal(http.StatusAccepted))
			Expect(c.do(http.MethodPost, "/api/v1/machine/macros/4", nil).Code).To(Equal(http.StatusBadRequest))
		})
	})

	When("motion is requested", func() {
		It("runs a synchronous line", func() {
			w := c.do(http.MethodPost, "/api/v1/machine/line", map[string]any{
				"target": []float64{5, 0}, "feed_rate": 600, "sync": true,
			})
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(core.Sim().Stepper().Position()).To(Equal([]float64{5, 0}))
		})

		It("resolves incremental targets from the planned position", func() {
			body := map[string]any{"target": []float64{2, 0}, "feed_rate": 600, "incremental": true, "sync": true}
			Expect(c.do(http.MethodPost, "/api/v1/machine/line", body).Code).To(Equal(http.StatusAccepted))
			Expect(c.do(http.MethodPost, "/api/v1/machine/line", body).Code).To(Equal(http.StatusAccepted))
			Expect(core.Sim().Stepper().Position()).To(Equal([]float64{4, 0}))
		})

		It("rejects targets with the wrong number of axes", func() {
			w := c.do(http.MethodPost, "/api/v1/machine/line", map[string]any{
				"target": []float64{5}, "feed_rate": 600,
			})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("jogs", func() {
			w := c.do(http.MethodPost, "/api/v1/machine/jog", map[string]any{
				"target": []float64{0, 3}, "feed_rate": 600,
			})
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Eventually(core.Sim().Stepper().Position).Should(Equal([]float64{0, 3}))
			Eventually(core.System().State).Should(Equal(machine.StateIdle))
		})

		It("requires a jog feed rate", func() {
			w := c.do(http.MethodPost, "/api/v1/machine/jog", map[string]any{"target": []float64{0, 3}})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("validates moves without running them in check mode", func() {
			w := c.do(http.MethodPost, "/api/v1/machine/check-mode", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`{"state": "Check"}`))

			w = c.do(http.MethodPost, "/api/v1/machine/line", map[string]any{
				"target": []float64{5, 0}, "feed_rate": 600, "sync": true,
			})
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(core.Sim().Stepper().Position()).To(Equal([]float64{0, 0}))
		})
	})

	When("the machine is in alarm", func() {
		BeforeEach(func() {
			err := core.Do(context.Background(), func(_ context.Context, e *protocol.Executor) error {
				sys := e.System()
				if err := sys.SetState(machine.StateAlarm); err != nil {
					return err
				}
				sys.LatchAlarm(machine.AlarmHomingFailReset)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses motion with the alarm code", func() {
			w := c.do(http.MethodPost, "/api/v1/machine/line", map[string]any{
				"target": []float64{5, 0}, "feed_rate": 600,
			})
			Expect(w.Code).To(Equal(http.StatusLocked))

			var body types.ErrorResponse
			decode(w, &body)
			Expect(body.Error.Code).To(Equal(types.CodeLocked))
			Expect(body.Error.Alarm).To(Equal(int(machine.AlarmHomingFailReset)))
		})

		It("reports the alarm", func() {
			w := c.do(http.MethodGet, "/api/v1/machine/alarm", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring("Homing Fail Reset"))
		})

		It("unlocks", func() {
			Expect(c.do(http.MethodPost, "/api/v1/machine/unlock", nil).Code).To(Equal(http.StatusOK))
			Expect(core.System().State()).To(Equal(machine.StateIdle))
		})

		It("homes the machine", func() {
			w := c.do(http.MethodPost, "/api/v1/machine/home", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(core.System().State()).To(Equal(machine.StateIdle))
			Expect(core.System().Homed().Has(0)).To(BeTrue())
		})
	})

	It("rejects homing unknown axes", func() {
		w := c.do(http.MethodPost, "/api/v1/machine/home", map[string]any{"axes": "Y"})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("refuses homing while moving", func() {
		Expect(c.do(http.MethodPost, "/api/v1/machine/line", map[string]any{
			"target": []float64{90, 0}, "feed_rate": 600,
		}).Code).To(Equal(http.StatusAccepted))

		w := c.do(http.MethodPost, "/api/v1/machine/home", map[string]any{"axes": "X"})
		Expect(w.Code).To(Equal(http.StatusConflict))
	})

	It("reports the journal as unavailable when disabled", func() {
		Expect(c.do(http.MethodGet, "/api/v1/machine/history/alarms", nil).Code).To(Equal(http.StatusServiceUnavailable))
		Expect(c.do(http.MethodGet, "/api/v1/machine/history/homing", nil).Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("counts websocket clients", func() {
		w := c.do(http.MethodGet, "/api/v1/ws/status", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"connected_clients": 0}`))
	})
})

var _ = Describe("Server with authentication", func() {
	var (
		jwt     *auth.JWTHandler
		handler http.Handler
	)

	token := func(role string) string {
		t, err := jwt.GenerateToken(uuid.New(), "tester", role)
		Expect(err).NotTo(HaveOccurred())
		return t
	}

	BeforeEach(func() {
		cfg := testConfig()
		cfg.Auth.Enabled = true
		core := newCore(cfg)
		jwt = auth.NewJWTHandler("0123456789abcdef0123456789abcdef", "motioncore", time.Hour)
		hub := websocket.NewHub(zap.NewNop(), jwt, core)
		handler = rest.NewServer(core, zap.NewNop(), hub, jwt).Handler()
	})

	It("keeps health public", func() {
		c := &client{handler: handler}
		Expect(c.do(http.MethodGet, "/health", nil).Code).To(Equal(http.StatusOK))
	})

	It("requires a token", func() {
		c := &client{handler: handler}
		Expect(c.do(http.MethodGet, "/api/v1/machine/status", nil).Code).To(Equal(http.StatusUnauthorized))

		c.token = "not-a-token"
		Expect(c.do(http.MethodGet, "/api/v1/machine/status", nil).Code).To(Equal(http.StatusUnauthorized))
	})

	It("grants operators motion but not homing", func() {
		c := &client{handler: handler, token: token(auth.RoleOperator)}
		Expect(c.do(http.MethodGet, "/api/v1/machine/status", nil).Code).To(Equal(http.StatusOK))
		Expect(c.do(http.MethodPost, "/api/v1/machine/realtime/feed_hold", nil).Code).To(Equal(http.StatusAccepted))
		Expect(c.do(http.MethodPost, "/api/v1/machine/home", nil).Code).To(Equal(http.StatusForbidden))
		Expect(c.do(http.MethodGet, "/api/v1/system/topology", nil).Code).To(Equal(http.StatusForbidden))
	})

	It("grants technicians homing", func() {
		c := &client{handler: handler, token: token(auth.RoleTechnician)}
		Expect(c.do(http.MethodPost, "/api/v1/machine/unlock", nil).Code).To(Equal(http.StatusOK))
		Expect(c.do(http.MethodPost, "/api/v1/machine/check-mode", nil).Code).To(Equal(http.StatusForbidden))
	})
})
