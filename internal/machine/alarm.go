package machine

import "fmt"

// AlarmCode is a fault reason. The numeric values are stable and reported
// to operators.
type AlarmCode uint8

const (
	AlarmNone AlarmCode = iota
	AlarmHardLimit
	AlarmSoftLimit
	AlarmAbortCycle
	AlarmProbeFailInitial
	AlarmProbeFailContact
	AlarmHomingFailReset
	AlarmHomingFailDoor
	AlarmHomingFailPulloff
	AlarmHomingFailApproach
	AlarmSpindleControl
)

var alarmNames = map[AlarmCode]string{
	AlarmHardLimit:          "Hard Limit",
	AlarmSoftLimit:          "Soft Limit",
	AlarmAbortCycle:         "Abort Cycle",
	AlarmProbeFailInitial:   "Probe Fail Initial",
	AlarmProbeFailContact:   "Probe Fail Contact",
	AlarmHomingFailReset:    "Homing Fail Reset",
	AlarmHomingFailDoor:     "Homing Fail Door",
	AlarmHomingFailPulloff:  "Homing Fail Pulloff",
	AlarmHomingFailApproach: "Homing Fail Approach",
	AlarmSpindleControl:     "Spindle Control",
}

// Alarms lists every defined alarm code.
var Alarms = []AlarmCode{
	AlarmHardLimit, AlarmSoftLimit, AlarmAbortCycle, AlarmProbeFailInitial,
	AlarmProbeFailContact, AlarmHomingFailReset, AlarmHomingFailDoor,
	AlarmHomingFailPulloff, AlarmHomingFailApproach, AlarmSpindleControl,
}

func (a AlarmCode) String() string {
	if name, ok := alarmNames[a]; ok {
		return name
	}
	if a == AlarmNone {
		return "None"
	}
	return fmt.Sprintf("Unknown (%d)", uint8(a))
}

// Error lets homing failures travel as ordinary errors.
func (a AlarmCode) Error() string {
	return fmt.Sprintf("alarm %d: %s", uint8(a), a.String())
}

// IsFatal reports whether the alarm blocks everything until a reset.
func (a AlarmCode) IsFatal() bool {
	switch a {
	case AlarmHardLimit, AlarmSoftLimit, AlarmAbortCycle, AlarmSpindleControl:
		return true
	}
	return false
}
