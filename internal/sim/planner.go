package sim

import (
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
)

// Planner is the simulated motion.Planner. Blocks carry absolute targets
// and run at their programmed rate with no acceleration.
type Planner struct {
	c *core
}

var _ motion.Planner = (*Planner)(nil)

// BufferLine queues a move. System motion replaces the single system
// block and starts from the current stepper position.
func (p *Planner) BufferLine(target []float64, d motion.MotionDescriptor) error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()

	from := p.c.planned
	if d.SystemMotion {
		from = p.c.cmd
	}
	t := make([]float64, len(p.c.cmd))
	moves := false
	for i := range t {
		t[i] = from[i]
		if i < len(target) {
			t[i] = target[i]
		}
		if t[i] != from[i] {
			moves = true
		}
	}
	if !moves || d.FeedRate <= 0 {
		return motion.ErrEmptyBlock
	}

	block := &motion.Block{Target: t, Descriptor: d}
	if d.SystemMotion {
		p.c.sysBlock = block
		return nil
	}
	p.c.queue = append(p.c.queue, block)
	copy(p.c.planned, t)
	return nil
}

// CurrentBlock returns the head of the program queue.
func (p *Planner) CurrentBlock() *motion.Block {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if len(p.c.queue) == 0 {
		return nil
	}
	return p.c.queue[0]
}

// Len returns the number of queued program blocks.
func (p *Planner) Len() int {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return len(p.c.queue)
}

func (p *Planner) Reset() {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.c.queue = nil
	p.c.sysBlock = nil
}

// CycleReinitialize is a no-op: a resumed block continues from wherever
// the hold stopped it.
func (p *Planner) CycleReinitialize() {}

func (p *Planner) SyncPosition() {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	copy(p.c.planned, p.c.cmd)
}

func (p *Planner) Position() []float64 {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return append([]float64(nil), p.c.planned...)
}

func (p *Planner) UpdateOverrides(feed, rapid uint8) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.c.feedOvr = feed
	p.c.rapidOvr = rapid
}
