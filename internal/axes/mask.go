package axes

import (
	"math/bits"
	"strings"
)

const (
	// MaxAxes is the number of logical axes a topology may declare.
	MaxAxes = 6
	// MaxGangs is the number of motors that may drive one axis.
	MaxGangs = 2

	gangStride = 16
)

// Names are the conventional axis letters, indexed by axis number.
const Names = "XYZABC"

// AxisMask selects logical axes, bit i for axis i.
type AxisMask uint32

// MotorMask selects motors: bit axis for gang 0, bit axis+16 for gang 1.
type MotorMask uint32

// AllAxes selects every possible axis.
const AllAxes AxisMask = 1<<MaxAxes - 1

// AxisBit returns the mask bit of one axis.
func AxisBit(axis int) AxisMask {
	return 1 << uint(axis)
}

// MotorBit returns the mask bit of one motor.
func MotorBit(axis, gang int) MotorMask {
	return 1 << uint(axis+gang*gangStride)
}

// GangMask returns every motor bit of the given gang.
func GangMask(gang int) MotorMask {
	return MotorMask(AllAxes) << uint(gang*gangStride)
}

// Has reports whether axis is selected.
func (m AxisMask) Has(axis int) bool {
	return m&AxisBit(axis) != 0
}

// Motors expands the axis mask to every gang of each selected axis.
func (m AxisMask) Motors() MotorMask {
	var out MotorMask
	for gang := 0; gang < MaxGangs; gang++ {
		out |= MotorMask(m) << uint(gang*gangStride)
	}
	return out
}

// Count returns the number of selected axes.
func (m AxisMask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// String renders the selected axes as letters, "XZ" for axes 0 and 2.
func (m AxisMask) String() string {
	var sb strings.Builder
	for axis := 0; axis < MaxAxes; axis++ {
		if m.Has(axis) {
			sb.WriteByte(Names[axis])
		}
	}
	return sb.String()
}

// ParseAxes converts axis letters to a mask. Unknown letters are reported
// back as ok=false.
func ParseAxes(s string) (AxisMask, bool) {
	var m AxisMask
	for _, r := range strings.ToUpper(s) {
		i := strings.IndexRune(Names, r)
		if i < 0 {
			return 0, false
		}
		m |= AxisBit(i)
	}
	return m, true
}

// Has reports whether the motor of axis/gang is selected.
func (m MotorMask) Has(axis, gang int) bool {
	return m&MotorBit(axis, gang) != 0
}

// Axes collapses the motor mask to the axes that own a selected motor.
func (m MotorMask) Axes() AxisMask {
	var out AxisMask
	for gang := 0; gang < MaxGangs; gang++ {
		out |= AxisMask(m>>uint(gang*gangStride)) & AllAxes
	}
	return out
}

// String renders motors as letters, gang 1 motors with a trailing "2".
func (m MotorMask) String() string {
	var parts []string
	for axis := 0; axis < MaxAxes; axis++ {
		for gang := 0; gang < MaxGangs; gang++ {
			if !m.Has(axis, gang) {
				continue
			}
			name := string(Names[axis])
			if gang == 1 {
				name += "2"
			}
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ",")
}
