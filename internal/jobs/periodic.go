// Package jobs runs the independent periodic tasks beside the main task:
// limit and button debounce, status polling and driver diagnostics. Jobs
// only read configuration and post requests through the signal register;
// they never change the machine state.
package jobs

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Periodic calls a function on a fixed interval until stopped.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func()
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewPeriodic returns a stopped job.
func NewPeriodic(name string, interval time.Duration, fn func(), logger *zap.Logger) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
	}
}

// Start launches the job. Starting a running job is a no-op.
func (p *Periodic) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.loop(p.stopChan)

	p.logger.Info("Periodic job started",
		zap.String("job", p.name),
		zap.Duration("interval", p.interval))

	return nil
}

// Stop halts the job and waits for a running tick to return.
func (p *Periodic) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopChan)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()

	p.logger.Info("Periodic job stopped", zap.String("job", p.name))
}

// IsRunning reports whether the job loop is active.
func (p *Periodic) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Periodic) loop(stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Periodic) tick() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Periodic job panicked",
				zap.String("job", p.name),
				zap.Any("panic", r))
		}
	}()
	p.fn()
}

// Group starts and stops a set of jobs together.
type Group struct {
	jobs []*Periodic
}

// Add appends a job to the group.
func (g *Group) Add(p *Periodic) {
	g.jobs = append(g.jobs, p)
}

// Start starts every job.
func (g *Group) Start() error {
	for _, p := range g.jobs {
		if err := p.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every job in reverse order.
func (g *Group) Stop() {
	for i := len(g.jobs) - 1; i >= 0; i-- {
		g.jobs[i].Stop()
	}
}
