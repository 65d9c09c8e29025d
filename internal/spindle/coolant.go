package spindle

import (
	"sync"

	"github.com/KevinKickass/OpenMotionCore/internal/motion"
	"github.com/KevinKickass/OpenMotionCore/internal/types"
)

// CoolantPins are the flood and mist output numbers. A negative pin is
// not wired.
type CoolantPins struct {
	Flood int `mapstructure:"flood"`
	Mist  int `mapstructure:"mist"`
}

// Coolant drives flood and mist relays.
type Coolant struct {
	pins types.PinWriter
	cfg  CoolantPins

	mu    sync.Mutex
	flood bool
	mist  bool
}

var _ motion.Coolant = (*Coolant)(nil)

func NewCoolant(pins types.PinWriter, cfg CoolantPins) *Coolant {
	return &Coolant{pins: pins, cfg: cfg}
}

func (c *Coolant) SetState(flood, mist bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(c.cfg.Flood, flood)
	c.set(c.cfg.Mist, mist)
	c.flood, c.mist = flood, mist
}

func (c *Coolant) Off() {
	c.SetState(false, false)
}

func (c *Coolant) State() (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flood, c.mist
}

func (c *Coolant) set(pin int, on bool) {
	if pin >= 0 {
		c.pins.SetPin(pin, on)
	}
}
