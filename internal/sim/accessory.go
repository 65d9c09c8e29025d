package sim

import (
	"sync"

	"github.com/KevinKickass/OpenMotionCore/internal/motion"
)

// Spindle records spindle commands.
type Spindle struct {
	mu        sync.Mutex
	state     motion.SpindleState
	speed     float64
	spinDowns int
	sets      int
	// Err, when set, is returned by SetState.
	Err error
}

var _ motion.Spindle = (*Spindle)(nil)

func (s *Spindle) SetState(state motion.SpindleState, speed float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.sets++
	s.state, s.speed = state, speed
	if state == motion.SpindleOff {
		s.speed = 0
	}
	return nil
}

func (s *Spindle) SpinDown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spinDowns++
	s.state, s.speed = motion.SpindleOff, 0
	return nil
}

func (s *Spindle) State() (motion.SpindleState, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.speed
}

// SpinDowns returns how many times SpinDown was called.
func (s *Spindle) SpinDowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spinDowns
}

// Sets returns how many times SetState succeeded.
func (s *Spindle) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// Coolant records coolant commands.
type Coolant struct {
	mu    sync.Mutex
	flood bool
	mist  bool
	offs  int
}

var _ motion.Coolant = (*Coolant)(nil)

func (c *Coolant) SetState(flood, mist bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flood, c.mist = flood, mist
}

func (c *Coolant) Off() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offs++
	c.flood, c.mist = false, false
}

func (c *Coolant) State() (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flood, c.mist
}

// Offs returns how many times Off was called.
func (c *Coolant) Offs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offs
}

// Macros records macro runs.
type Macros struct {
	mu  sync.Mutex
	ran []int
}

func (m *Macros) RunMacro(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ran = append(m.ran, n)
	return nil
}

// Ran returns the macros run so far.
func (m *Macros) Ran() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.ran...)
}
