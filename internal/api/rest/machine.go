package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/homing"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"github.com/KevinKickass/OpenMotionCore/internal/protocol"
	"github.com/KevinKickass/OpenMotionCore/internal/report"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"github.com/KevinKickass/OpenMotionCore/internal/types"
)

// GET /api/v1/machine/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Reporter().Last())
}

// GET /api/v1/machine/alarm
func (s *Server) getAlarm(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alarm": s.core.Reporter().Last().Alarm})
}

// GET /api/v1/machine/alarms
func (s *Server) listAlarms(c *gin.Context) {
	c.JSON(http.StatusOK, report.AlarmTable())
}

// GET /api/v1/machine/limits
func (s *Server) getLimits(c *gin.Context) {
	pos, neg := s.core.Limits()
	c.JSON(http.StatusOK, gin.H{
		"positive": pos.String(),
		"negative": neg.String(),
	})
}

// POST /api/v1/machine/realtime/:signal
func (s *Server) realtime(c *gin.Context) {
	flag, ok := signals.ParseFlag(c.Param("signal"))
	if !ok {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Unknown signal", c.Param("signal")))
		return
	}
	s.core.Request(flag)
	c.JSON(http.StatusAccepted, gin.H{"message": "Signal raised", "signal": flag.String()})
}

// POST /api/v1/machine/overrides/:name
func (s *Server) override(c *gin.Context) {
	o, ok := signals.ParseOverride(c.Param("name"))
	if !ok {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Unknown override", c.Param("name")))
		return
	}
	s.core.RequestOverride(o)
	c.JSON(http.StatusAccepted, gin.H{"message": "Override requested", "override": c.Param("name")})
}

// POST /api/v1/machine/macros/:n
func (s *Server) macro(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 0 || n >= signals.MacroCount {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Macro must be 0-3", c.Param("n")))
		return
	}
	s.core.TriggerMacro(n)
	c.JSON(http.StatusAccepted, gin.H{"message": "Macro triggered", "macro": n})
}

// POST /api/v1/machine/home
func (s *Server) home(c *gin.Context) {
	var req struct {
		// Axes is a list of axis letters, empty for every homing cycle.
		Axes string `json:"axes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}
	mask, ok := axes.ParseAxes(req.Axes)
	if !ok || mask&^s.core.Topology().Mask() != 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Unknown axis", req.Axes))
		return
	}

	err := s.core.Do(c.Request.Context(), func(ctx context.Context, e *protocol.Executor) error {
		return e.Home(ctx, mask)
	})
	if err != nil {
		s.writeError(c, "Homing failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Homing complete", "status": s.core.Reporter().Last()})
}

// POST /api/v1/machine/unlock
func (s *Server) unlock(c *gin.Context) {
	err := s.core.Do(c.Request.Context(), func(_ context.Context, e *protocol.Executor) error {
		return e.Unlock()
	})
	if err != nil {
		s.writeError(c, "Unlock refused", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unlocked"})
}

// POST /api/v1/machine/check-mode
func (s *Server) toggleCheckMode(c *gin.Context) {
	var state machine.State
	err := s.core.Do(c.Request.Context(), func(_ context.Context, e *protocol.Executor) error {
		err := e.ToggleCheckMode()
		state = e.System().State()
		return err
	})
	if err != nil {
		s.writeError(c, "Check mode toggle refused", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state.String()})
}

type moveRequest struct {
	Target      []float64 `json:"target" binding:"required"`
	FeedRate    float64   `json:"feed_rate"`
	Incremental bool      `json:"incremental"`
}

// resolve turns the request into an absolute target on the main task.
func (r *moveRequest) resolve(e *protocol.Executor) []float64 {
	if !r.Incremental {
		return r.Target
	}
	target := e.PlannedPosition()
	for i := range target {
		target[i] += r.Target[i]
	}
	return target
}

func (s *Server) bindMove(c *gin.Context, req any, target func() []float64) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return false
	}
	if n := s.core.Topology().NumAxes(); len(target()) != n {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Target needs one value per axis", gin.H{"axes": n}))
		return false
	}
	return true
}

// POST /api/v1/machine/jog
func (s *Server) jog(c *gin.Context) {
	var req moveRequest
	if !s.bindMove(c, &req, func() []float64 { return req.Target }) {
		return
	}
	if req.FeedRate <= 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "feed_rate must be positive", nil))
		return
	}

	err := s.core.Do(c.Request.Context(), func(ctx context.Context, e *protocol.Executor) error {
		return e.Jog(ctx, req.resolve(e), req.FeedRate)
	})
	if err != nil {
		s.writeError(c, "Jog refused", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Jog queued"})
}

type lineRequest struct {
	moveRequest
	Rapid        bool    `json:"rapid"`
	LineNumber   int     `json:"line_number"`
	Spindle      string  `json:"spindle"`
	SpindleSpeed float64 `json:"spindle_speed"`
	Flood        bool    `json:"flood"`
	Mist         bool    `json:"mist"`
	// Sync waits until the queue has drained.
	Sync bool `json:"sync"`
}

func (r *lineRequest) descriptor() motion.MotionDescriptor {
	d := motion.MotionDescriptor{
		FeedRate:   r.FeedRate,
		Rapid:      r.Rapid,
		LineNumber: r.LineNumber,
		Accessory: motion.AccessoryState{
			SpindleSpeed: r.SpindleSpeed,
			Flood:        r.Flood,
			Mist:         r.Mist,
		},
	}
	switch r.Spindle {
	case "cw":
		d.Accessory.Spindle = motion.SpindleCW
	case "ccw":
		d.Accessory.Spindle = motion.SpindleCCW
	}
	return d
}

// POST /api/v1/machine/line
func (s *Server) line(c *gin.Context) {
	var req lineRequest
	if !s.bindMove(c, &req, func() []float64 { return req.Target }) {
		return
	}

	err := s.core.Do(c.Request.Context(), func(ctx context.Context, e *protocol.Executor) error {
		if err := e.Line(ctx, req.resolve(e), req.descriptor()); err != nil {
			return err
		}
		if req.Sync {
			return e.BufferSynchronize(ctx)
		}
		return nil
	})
	if err != nil {
		s.writeError(c, "Move refused", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Move queued"})
}

// writeError maps motion core errors onto HTTP responses.
func (s *Server) writeError(c *gin.Context, message string, err error) {
	var code machine.AlarmCode
	switch {
	case errors.As(err, &code):
		c.JSON(http.StatusLocked, types.NewAlarmResponse(int(code), code.Error()))
	case errors.Is(err, protocol.ErrLocked):
		alarm := 0
		if a := s.core.Reporter().Last().Alarm; a != nil {
			alarm = int(a.Code)
		}
		c.JSON(http.StatusLocked, types.NewAlarmResponse(alarm, err.Error()))
	case errors.Is(err, protocol.ErrNotIdle), errors.Is(err, protocol.ErrAborted),
		errors.Is(err, protocol.ErrDoorOpen), errors.Is(err, homing.ErrBusy):
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.CodeBusy, message, err.Error()))
	case errors.Is(err, homing.ErrNoHomingCycles):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, message, err.Error()))
	case errors.Is(err, protocol.ErrNoHomer), errors.Is(err, protocol.ErrStopped),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeUnavailable, message, err.Error()))
	default:
		s.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeInternal, message, err.Error()))
	}
}
