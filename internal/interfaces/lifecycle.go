package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/config"
	"github.com/KevinKickass/OpenMotionCore/internal/protocol"
	"github.com/KevinKickass/OpenMotionCore/internal/report"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"github.com/KevinKickass/OpenMotionCore/internal/storage"
)

// MotionCore is the running daemon as the API adapters see it.
type MotionCore interface {
	Config() *config.Config
	Topology() *axes.Topology
	Reporter() *report.Reporter
	// Journal is nil when the event journal is disabled.
	Journal() *storage.PostgresClient

	// Limits returns the published switch state.
	Limits() (positive, negative axes.MotorMask)

	// Request, RequestOverride and TriggerMacro are safe from any
	// goroutine and return immediately.
	Request(f signals.Flag)
	RequestOverride(o signals.Override)
	TriggerMacro(n int)

	// Do runs fn on the main task.
	Do(ctx context.Context, fn func(ctx context.Context, e *protocol.Executor) error) error
}
