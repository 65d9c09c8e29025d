// Package axes describes the static machine topology: logical axes, the one
// or two ganged motors driving each axis, their switches and homing
// parameters. A Topology is built once from configuration and is read-only
// while motion runs; homing only writes MachinePosition.
package axes

import (
	"fmt"
	"math"
)

// Homing holds the per-axis homing parameters. Rates are in mm/min,
// distances in mm.
type Homing struct {
	// Cycle is the homing cycle this axis takes part in, 0 for none.
	Cycle             int
	PositiveDirection bool
	SeekRate          float64
	FeedRate          float64
	Pulloff           float64
	DebounceMs        int
	SearchScaler      float64
	LocateScaler      float64
	// MPos is the machine coordinate of the switch position.
	MPos float64
}

// Endstop declares which switches are wired for a gang or, when attached
// to the axis itself, a switch shared by every gang.
type Endstop struct {
	Positive   bool
	Negative   bool
	HardLimits bool
}

// Gang is one motor slot of an axis.
type Gang struct {
	Motor   Motor
	Endstop *Endstop
}

// Axis is one logical axis.
type Axis struct {
	Name      string
	Index     int
	MaxTravel float64
	Squared   bool
	Homing    *Homing
	Endstop   *Endstop
	Gangs     []*Gang

	// MachinePosition is the homed position, runtime only.
	MachinePosition float64
}

// SharesSwitch reports whether both gangs of the axis are stopped by one
// switch, so homing cannot tell the motors apart.
func (a *Axis) SharesSwitch() bool {
	if len(a.Gangs) < 2 {
		return a.Endstop != nil
	}
	return !(a.Gangs[0].Endstop != nil && a.Gangs[1].Endstop != nil)
}

// TravelWindow returns the machine coordinate range reachable by the axis
// after homing.
func (a *Axis) TravelWindow() (lo, hi float64) {
	if a.Homing == nil {
		return -a.MaxTravel, a.MaxTravel
	}
	if a.Homing.PositiveDirection {
		return a.Homing.MPos - a.MaxTravel, a.Homing.MPos
	}
	return a.Homing.MPos, a.Homing.MPos + a.MaxTravel
}

// Topology is the ordered axis list.
type Topology struct {
	Axes []*Axis
}

// New validates the axis order and returns a topology.
func New(axes []*Axis) (*Topology, error) {
	if len(axes) == 0 || len(axes) > MaxAxes {
		return nil, fmt.Errorf("axis count %d out of range 1..%d", len(axes), MaxAxes)
	}
	for i, a := range axes {
		if a.Index != i {
			return nil, fmt.Errorf("axis %s: index %d, expected %d", a.Name, a.Index, i)
		}
		if len(a.Gangs) == 0 || len(a.Gangs) > MaxGangs {
			return nil, fmt.Errorf("axis %s: %d gangs, expected 1..%d", a.Name, len(a.Gangs), MaxGangs)
		}
	}
	return &Topology{Axes: axes}, nil
}

// NumAxes returns the number of configured axes.
func (t *Topology) NumAxes() int {
	return len(t.Axes)
}

// Axis returns axis i.
func (t *Topology) Axis(i int) *Axis {
	return t.Axes[i]
}

// Mask selects every configured axis.
func (t *Topology) Mask() AxisMask {
	return AxisMask(1)<<uint(len(t.Axes)) - 1
}

// HomingMask selects the axes that have homing parameters.
func (t *Topology) HomingMask() AxisMask {
	var m AxisMask
	for _, a := range t.Axes {
		if a.Homing != nil {
			m |= AxisBit(a.Index)
		}
	}
	return m
}

// AxesInCycle selects the axes assigned to homing cycle n.
func (t *Topology) AxesInCycle(n int) AxisMask {
	var m AxisMask
	if n <= 0 {
		return 0
	}
	for _, a := range t.Axes {
		if a.Homing != nil && a.Homing.Cycle == n {
			m |= AxisBit(a.Index)
		}
	}
	return m
}

// MaxCycle returns the highest homing cycle number in use, 0 when no axis
// is assigned to a cycle.
func (t *Topology) MaxCycle() int {
	n := 0
	for _, a := range t.Axes {
		if a.Homing != nil && a.Homing.Cycle > n {
			n = a.Homing.Cycle
		}
	}
	return n
}

// Motors returns the configured motors of the selected axes.
func (t *Topology) Motors(mask AxisMask) MotorMask {
	var m MotorMask
	for _, a := range t.Axes {
		if !mask.Has(a.Index) {
			continue
		}
		for g := range a.Gangs {
			m |= MotorBit(a.Index, g)
		}
	}
	return m
}

// Motor returns the driver at axis/gang, nil when the slot is empty.
func (t *Topology) Motor(axis, gang int) Motor {
	if axis >= len(t.Axes) || gang >= len(t.Axes[axis].Gangs) {
		return nil
	}
	return t.Axes[axis].Gangs[gang].Motor
}

// SetHomingMode switches the motors of the selected axes in or out of
// homing mode and returns the motors that accepted.
func (t *Topology) SetHomingMode(mask AxisMask, on bool) MotorMask {
	var accepted MotorMask
	for _, a := range t.Axes {
		if !mask.Has(a.Index) {
			continue
		}
		for g, gang := range a.Gangs {
			if gang.Motor != nil && gang.Motor.SetHomingMode(on) {
				accepted |= MotorBit(a.Index, g)
			}
		}
	}
	return accepted
}

// SquaredSharedSwitch reports whether any selected axis is squared but
// cannot distinguish its motors.
func (t *Topology) SquaredSharedSwitch(mask AxisMask) bool {
	for _, a := range t.Axes {
		if mask.Has(a.Index) && a.Squared && a.SharesSwitch() {
			return true
		}
	}
	return false
}

// SquaredMotors returns the gang 1 motors of selected squared axes that
// have a switch per motor. An empty result means no squaring is possible.
func (t *Topology) SquaredMotors(mask AxisMask) MotorMask {
	var m MotorMask
	for _, a := range t.Axes {
		if mask.Has(a.Index) && a.Squared && len(a.Gangs) == MaxGangs && !a.SharesSwitch() {
			m |= MotorBit(a.Index, 1)
		}
	}
	return m
}

// SettleTime returns the largest debounce delay of the selected axes.
func (t *Topology) SettleTime(mask AxisMask) int {
	ms := 0
	for _, a := range t.Axes {
		if mask.Has(a.Index) && a.Homing != nil && a.Homing.DebounceMs > ms {
			ms = a.Homing.DebounceMs
		}
	}
	return ms
}

// WithinTravel reports whether target lies inside every homed axis's
// travel window. Axes not in homed are not checked.
func (t *Topology) WithinTravel(target []float64, homed AxisMask) bool {
	for _, a := range t.Axes {
		if !homed.Has(a.Index) || a.Index >= len(target) {
			continue
		}
		lo, hi := a.TravelWindow()
		const eps = 1e-6
		if target[a.Index] < lo-eps || target[a.Index] > hi+eps || math.IsNaN(target[a.Index]) {
			return false
		}
	}
	return true
}
