// Package signals holds the only state written from interrupt context:
// the realtime request register and the limit switch masks. Every field is
// an atomic so pin handlers can set or clear single bits while the main task
// reads them at any time.
package signals

import "sync/atomic"

// Flag is one realtime request bit.
type Flag uint32

const (
	Reset Flag = 1 << iota
	FeedHold
	SafetyDoor
	CycleStart
	CycleStop
	MotionCancel
	Sleep
	StatusReport
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{Reset, "reset"},
	{FeedHold, "feed_hold"},
	{SafetyDoor, "safety_door"},
	{CycleStart, "cycle_start"},
	{CycleStop, "cycle_stop"},
	{MotionCancel, "motion_cancel"},
	{Sleep, "sleep"},
	{StatusReport, "status_report"},
}

// ParseFlag maps a request name ("feed_hold", "cycle_start", ...) to its bit.
func ParseFlag(name string) (Flag, bool) {
	for _, f := range flagNames {
		if f.name == name {
			return f.flag, true
		}
	}
	return 0, false
}

func (f Flag) String() string {
	out := ""
	for _, n := range flagNames {
		if f&n.flag != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// Override is one pending override request bit.
type Override uint32

const (
	FeedReset Override = 1 << iota
	FeedCoarsePlus
	FeedCoarseMinus
	FeedFinePlus
	FeedFineMinus
	RapidReset
	RapidMedium
	RapidLow
	SpindleReset
	SpindleCoarsePlus
	SpindleCoarseMinus
	SpindleFinePlus
	SpindleFineMinus
	SpindleStop
	CoolantFloodToggle
	CoolantMistToggle
)

var overrideNames = map[string]Override{
	"feed_reset":           FeedReset,
	"feed_coarse_plus":     FeedCoarsePlus,
	"feed_coarse_minus":    FeedCoarseMinus,
	"feed_fine_plus":       FeedFinePlus,
	"feed_fine_minus":      FeedFineMinus,
	"rapid_reset":          RapidReset,
	"rapid_medium":         RapidMedium,
	"rapid_low":            RapidLow,
	"spindle_reset":        SpindleReset,
	"spindle_coarse_plus":  SpindleCoarsePlus,
	"spindle_coarse_minus": SpindleCoarseMinus,
	"spindle_fine_plus":    SpindleFinePlus,
	"spindle_fine_minus":   SpindleFineMinus,
	"spindle_stop":         SpindleStop,
	"coolant_flood_toggle": CoolantFloodToggle,
	"coolant_mist_toggle":  CoolantMistToggle,
}

// ParseOverride maps an override request name to its bit.
func ParseOverride(name string) (Override, bool) {
	o, ok := overrideNames[name]
	return o, ok
}

// Register is the shared signal register.
type Register struct {
	state     atomic.Uint32
	alarm     atomic.Uint32
	macros    atomic.Uint32
	overrides atomic.Uint32
}

// NewRegister returns an empty register.
func NewRegister() *Register {
	return &Register{}
}

// Set raises the given request bits.
func (r *Register) Set(f Flag) {
	r.state.Or(uint32(f))
}

// Clear drops the given request bits.
func (r *Register) Clear(f Flag) {
	r.state.And(^uint32(f))
}

// Load returns the current request bits. A multi-flag value is not a
// consistent snapshot; bits may change between the read and the next call.
func (r *Register) Load() Flag {
	return Flag(r.state.Load())
}

// Has reports whether any of the given bits is raised.
func (r *Register) Has(f Flag) bool {
	return Flag(r.state.Load())&f != 0
}

// Take clears the given bit and reports whether it was set. It is the only
// way the executor consumes a request, so a request is never acted on twice.
func (r *Register) Take(f Flag) bool {
	return Flag(r.state.And(^uint32(f)))&f != 0
}

// PostAlarm latches an alarm code unless one is already pending. The first
// detector wins so the original cause is not masked by a follow-on fault.
func (r *Register) PostAlarm(code uint8) bool {
	if code == 0 {
		return false
	}
	return r.alarm.CompareAndSwap(0, uint32(code))
}

// PendingAlarm returns the latched alarm code, 0 when none.
func (r *Register) PendingAlarm() uint8 {
	return uint8(r.alarm.Load())
}

// ClearAlarm drops the pending alarm code.
func (r *Register) ClearAlarm() {
	r.alarm.Store(0)
}

// MacroCount is the number of macro slots.
const MacroCount = 4

// TriggerMacro requests macro n; numbers outside 0..MacroCount-1 are ignored.
func (r *Register) TriggerMacro(n int) {
	if n < 0 || n >= MacroCount {
		return
	}
	r.macros.Or(1 << uint(n))
}

// TakeMacros returns and clears the pending macro requests.
func (r *Register) TakeMacros() uint32 {
	return r.macros.Swap(0)
}

// RequestOverride queues an override change.
func (r *Register) RequestOverride(o Override) {
	r.overrides.Or(uint32(o))
}

// TakeOverrides returns and clears the pending override requests.
func (r *Register) TakeOverrides() Override {
	return Override(r.overrides.Swap(0))
}

// ClearAll drops every pending request except the alarm latch.
func (r *Register) ClearAll() {
	r.state.Store(0)
	r.macros.Store(0)
	r.overrides.Store(0)
}
