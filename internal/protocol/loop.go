package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"go.uber.org/zap"
)

// ErrStopped is returned by Do once the main task has exited.
var ErrStopped = errors.New("main task stopped")

type command struct {
	fn   func(ctx context.Context, e *Executor) error
	done chan error
}

// Loop is the main task. It owns the executor: every operation that
// touches main-task state is submitted through Do and runs between
// executor passes.
type Loop struct {
	logger   *zap.Logger
	e        *Executor
	interval time.Duration
	commands chan command
	stopped  chan struct{}
}

// NewLoop wraps an executor. interval is how often an idle main task
// wakes to service the executor.
func NewLoop(logger *zap.Logger, e *Executor, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Loop{
		logger:   logger,
		e:        e,
		interval: interval,
		commands: make(chan command),
		stopped:  make(chan struct{}),
	}
}

// Executor returns the wrapped executor. Its methods must only be called
// from inside Do.
func (l *Loop) Executor() *Executor {
	return l.e
}

// Request raises a realtime request. Safe from any goroutine.
func (l *Loop) Request(f signals.Flag) {
	l.e.sys.Signals.Set(f)
}

// RequestOverride queues an override change. Safe from any goroutine.
func (l *Loop) RequestOverride(o signals.Override) {
	l.e.sys.Signals.RequestOverride(o)
}

// Do runs fn on the main task and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(ctx context.Context, e *Executor) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case l.commands <- cmd:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the main task body. It returns when ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	l.e.SetContext(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("Main task started",
		zap.String("state", l.e.sys.State().String()))

	for {
		l.e.ExecuteRealtime(ctx)
		if ctx.Err() != nil {
			l.logger.Info("Main task stopped")
			return nil
		}
		if l.e.sys.Abort {
			l.e.Reinitialize()
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Info("Main task stopped")
			return nil
		case cmd := <-l.commands:
			cmd.done <- cmd.fn(ctx, l.e)
		case <-ticker.C:
		}
	}
}
