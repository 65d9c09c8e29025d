package signals

import "sync/atomic"

// Limits holds the observed limit switch state, one bit per motor
// (axis and gang), split by travel direction. Bits are written only by pin
// handlers; the main task only reads them.
type Limits struct {
	pos atomic.Uint32
	neg atomic.Uint32
}

// NewLimits returns a mask pair with every switch released.
func NewLimits() *Limits {
	return &Limits{}
}

// Assert sets or clears the given motor bits for one direction.
func (l *Limits) Assert(bits uint32, positive, asserted bool) {
	m := &l.neg
	if positive {
		m = &l.pos
	}
	if asserted {
		m.Or(bits)
	} else {
		m.And(^bits)
	}
}

// Store replaces both masks. Used by the debounce job when it publishes a
// settled reading.
func (l *Limits) Store(pos, neg uint32) {
	l.pos.Store(pos)
	l.neg.Store(neg)
}

// Positive returns the asserted positive-direction switches.
func (l *Limits) Positive() uint32 { return l.pos.Load() }

// Negative returns the asserted negative-direction switches.
func (l *Limits) Negative() uint32 { return l.neg.Load() }

// State returns every asserted switch regardless of direction.
func (l *Limits) State() uint32 {
	return l.pos.Load() | l.neg.Load()
}
