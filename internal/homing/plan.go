package homing

import (
	"math"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
)

// Phase is one homing move.
type Phase int

const (
	PhaseFastApproach Phase = iota
	PhasePulloff
	PhaseSlowApproach
)

func (p Phase) String() string {
	switch p {
	case PhaseFastApproach:
		return "fast_approach"
	case PhasePulloff:
		return "pulloff"
	case PhaseSlowApproach:
		return "slow_approach"
	default:
		return "unknown"
	}
}

// Approach reports whether the phase drives toward the switches.
func (p Phase) Approach() bool {
	return p != PhasePulloff
}

// Move is a planned homing move for a group of axes.
type Move struct {
	// Distance is the signed per-axis travel, indexed by axis.
	Distance []float64
	// Rate is the group feed rate, the Euclidean norm of the axis rates.
	Rate float64
	// Time is the travel time of the slowest axis, in minutes.
	Time float64
}

// PlanMove computes one phase for the selected axes so that every axis
// arrives at the same time. The search or locate scaler stretches the
// approach travel of each axis before the shared time is taken.
func PlanMove(topo *axes.Topology, mask axes.AxisMask, phase Phase) Move {
	n := topo.NumAxes()
	move := Move{Distance: make([]float64, n)}
	rates := make([]float64, n)

	for _, a := range topo.Axes {
		if !mask.Has(a.Index) || a.Homing == nil {
			continue
		}
		h := a.Homing
		rate := h.FeedRate
		if phase == PhaseFastApproach {
			rate = h.SeekRate
		}
		if rate <= 0 {
			continue
		}
		travel := h.Pulloff
		if phase.Approach() {
			travel = a.MaxTravel * approachScaler(h, phase)
		}
		rates[a.Index] = rate
		if t := travel / rate; t > move.Time {
			move.Time = t
		}
	}

	var sumSq float64
	for _, a := range topo.Axes {
		rate := rates[a.Index]
		if rate == 0 {
			continue
		}
		dist := rate * move.Time
		if a.Homing.PositiveDirection != phase.Approach() {
			dist = -dist
		}
		move.Distance[a.Index] = dist
		sumSq += rate * rate
	}
	move.Rate = math.Sqrt(sumSq)
	return move
}

func approachScaler(h *axes.Homing, phase Phase) float64 {
	scaler := h.LocateScaler
	if phase == PhaseFastApproach {
		scaler = h.SearchScaler
	}
	if scaler <= 0 {
		return 1
	}
	return scaler
}
