package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenMotionCore/internal/types"
)

type axisInfo struct {
	Name        string  `json:"name"`
	Gangs       int     `json:"gangs"`
	MaxTravel   float64 `json:"max_travel"`
	Squared     bool    `json:"squared"`
	HomingCycle int     `json:"homing_cycle"`
	Motors      string  `json:"motors"`
}

// GET /api/v1/system/topology
func (s *Server) getTopology(c *gin.Context) {
	topo := s.core.Topology()
	out := make([]axisInfo, 0, topo.NumAxes())
	for _, a := range topo.Axes {
		info := axisInfo{
			Name:      a.Name,
			Gangs:     len(a.Gangs),
			MaxTravel: a.MaxTravel,
			Squared:   a.Squared,
		}
		if a.Homing != nil {
			info.HomingCycle = a.Homing.Cycle
		}
		for i, g := range a.Gangs {
			if i > 0 {
				info.Motors += ","
			}
			info.Motors += g.Motor.Name()
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, gin.H{"axes": out})
}

func historyLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 1000 {
		return 50
	}
	return limit
}

// GET /api/v1/machine/history/alarms
func (s *Server) alarmHistory(c *gin.Context) {
	journal := s.core.Journal()
	if journal == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeUnavailable, "Journal disabled", nil))
		return
	}
	events, err := journal.RecentAlarms(c.Request.Context(), historyLimit(c))
	if err != nil {
		s.writeError(c, "Failed to read journal", err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// GET /api/v1/machine/history/homing
func (s *Server) homingHistory(c *gin.Context) {
	journal := s.core.Journal()
	if journal == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeUnavailable, "Journal disabled", nil))
		return
	}
	runs, err := journal.RecentHomingRuns(c.Request.Context(), historyLimit(c))
	if err != nil {
		s.writeError(c, "Failed to read journal", err)
		return
	}
	c.JSON(http.StatusOK, runs)
}
