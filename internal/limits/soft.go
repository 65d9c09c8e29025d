package limits

import (
	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
)

// SoftLimits checks targets against the travel window of homed axes.
type SoftLimits struct {
	Enabled bool
	topo    *axes.Topology
	sys     *machine.System
}

// NewSoftLimits returns a checker for the given topology.
func NewSoftLimits(topo *axes.Topology, sys *machine.System, enabled bool) *SoftLimits {
	return &SoftLimits{Enabled: enabled, topo: topo, sys: sys}
}

// Allows reports whether target may be reached. Axes that have not been
// homed are not checked since their machine position is unknown.
func (s *SoftLimits) Allows(target []float64) bool {
	if !s.Enabled {
		return true
	}
	return s.topo.WithinTravel(target, s.sys.Homed())
}
