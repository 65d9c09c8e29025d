// Package spindle implements the spindle and coolant outputs: a relay
// spindle on digital pins, a Modbus/TCP VFD and a no-op spindle for
// machines without one.
package spindle

import (
	"sync"

	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"github.com/KevinKickass/OpenMotionCore/internal/types"
)

// None is a machine without a spindle. It remembers the last command so
// status reports stay consistent.
type None struct {
	mu    sync.Mutex
	state motion.SpindleState
	speed float64
}

var _ motion.Spindle = (*None)(nil)

func (n *None) SetState(state motion.SpindleState, speed float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state, n.speed = state, speed
	if state == motion.SpindleOff {
		n.speed = 0
	}
	return nil
}

func (n *None) SpinDown() error {
	return n.SetState(motion.SpindleOff, 0)
}

func (n *None) State() (motion.SpindleState, float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state, n.speed
}

// RelayPins are the output numbers of a relay spindle. Direction is
// ignored when negative.
type RelayPins struct {
	Enable    int `mapstructure:"enable"`
	Direction int `mapstructure:"direction"`
}

// Relay switches a spindle on and off with an enable relay and an
// optional direction relay. Speed is recorded but not driven.
type Relay struct {
	pins types.PinWriter
	cfg  RelayPins

	mu    sync.Mutex
	state motion.SpindleState
	speed float64
}

var _ motion.Spindle = (*Relay)(nil)

func NewRelay(pins types.PinWriter, cfg RelayPins) *Relay {
	return &Relay{pins: pins, cfg: cfg}
}

func (r *Relay) SetState(state motion.SpindleState, speed float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state == motion.SpindleOff {
		r.pins.SetPin(r.cfg.Enable, false)
		r.state, r.speed = motion.SpindleOff, 0
		return nil
	}
	// Direction changes only while stopped.
	if r.state != motion.SpindleOff && r.state != state {
		r.pins.SetPin(r.cfg.Enable, false)
	}
	if r.cfg.Direction >= 0 {
		r.pins.SetPin(r.cfg.Direction, state == motion.SpindleCCW)
	}
	r.pins.SetPin(r.cfg.Enable, true)
	r.state, r.speed = state, speed
	return nil
}

func (r *Relay) SpinDown() error {
	return r.SetState(motion.SpindleOff, 0)
}

func (r *Relay) State() (motion.SpindleState, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.speed
}
