package sim

import (
	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
)

// Stepper is the simulated motion.Stepper.
type Stepper struct {
	c *core
}

var _ motion.Stepper = (*Stepper)(nil)

// PrepBuffer advances motion by one tick.
func (s *Stepper) PrepBuffer() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.tick()
}

func (s *Stepper) WakeUp() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.running = true
}

// Reset stops motion at once and releases motor locks.
func (s *Stepper) Reset() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.running = false
	s.c.halted.Store(false)
	s.c.locked = 0
	s.c.parking = false
	// Commanded and actual positions re-converge on the master motor.
	for i := range s.c.cmd {
		s.c.cmd[i] = s.c.motors[i][0]
	}
}

func (s *Stepper) GoIdle() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.running = false
}

func (s *Stepper) UpdatePlanBlockParameters() {}

func (s *Stepper) ParkingSetupBuffer() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.parking = true
}

func (s *Stepper) ParkingRestoreBuffer() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.parking = false
}

func (s *Stepper) LockMotors(m axes.MotorMask) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.locked |= m
}

func (s *Stepper) UnlockMotors() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.locked = 0
}

// Locked returns the motors currently excluded from stepping.
func (s *Stepper) Locked() axes.MotorMask {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.locked
}

func (s *Stepper) Position() []float64 {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.position()
}

// SetAxisPosition redefines the coordinate of an axis and all its motors.
func (s *Stepper) SetAxisPosition(axis int, pos float64) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	delta := pos - s.c.motors[axis][0]
	s.c.cmd[axis] = pos
	for g := range s.c.motors[axis] {
		s.c.motors[axis][g] += delta
	}
	for i := range s.c.opts.Switches {
		if s.c.opts.Switches[i].Axis == axis {
			s.c.opts.Switches[i].Trip += delta
		}
	}
}
