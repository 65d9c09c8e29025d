package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/api/grpcapi"
	"github.com/KevinKickass/OpenMotionCore/internal/api/rest"
	"github.com/KevinKickass/OpenMotionCore/internal/api/websocket"
	"github.com/KevinKickass/OpenMotionCore/internal/auth"
	"github.com/KevinKickass/OpenMotionCore/internal/config"
	"github.com/KevinKickass/OpenMotionCore/internal/jobs"
	"github.com/KevinKickass/OpenMotionCore/internal/metrics"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"github.com/KevinKickass/OpenMotionCore/internal/storage"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// LifecycleManager owns the motion core and everything serving it. A
// server port of zero leaves that server off.
type LifecycleManager struct {
	config *config.Config
	core   *Core
	logger *zap.Logger

	jwt        *auth.JWTHandler
	hub        *websocket.Hub
	restServer *rest.Server
	grpcServer *grpc.Server
	jobs       *jobs.Group
	db         *storage.PostgresClient
	journal    *storage.Journal

	cancel   context.CancelFunc
	loopDone chan error

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    error

	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, m *config.Machine, logger *zap.Logger) (*LifecycleManager, error) {
	core, err := NewCore(cfg, m, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("build motion core: %w", err)
	}

	var jwt *auth.JWTHandler
	if cfg.Auth.Enabled {
		jwt = auth.NewJWTHandlerFromConfig(cfg.Auth)
	}

	return &LifecycleManager{
		config:       cfg,
		core:         core,
		logger:       logger,
		jwt:          jwt,
		hub:          websocket.NewHub(logger.Named("ws"), jwt, core),
		jobs:         &jobs.Group{},
		loopDone:     make(chan error, 1),
		currentState: StateInitializing,
	}, nil
}

// Core returns the motion core.
func (lm *LifecycleManager) Core() *Core {
	return lm.core
}

// Start brings up the journal, the main task, the periodic jobs and the
// servers. The main task and jobs stop when Shutdown is called, not when
// ctx ends; ctx only bounds startup.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting motion core")

	if lm.config.Journal.Enable {
		if err := lm.startJournal(ctx); err != nil {
			lm.setError(err)
			return err
		}
	}

	metrics.Register()
	metrics.Bind(lm.core.sys, lm.core.homer, lm.core.executor.Suspend())

	runCtx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	go func() {
		lm.loopDone <- lm.core.Run(runCtx)
	}()

	lm.addJobs()
	if err := lm.jobs.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start jobs: %w", err))
		return err
	}

	go lm.hub.Run(runCtx)
	go lm.hub.Forward(runCtx, lm.core.Reporter())

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	if err := lm.setState(StateRunning); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("machine_state", lm.core.sys.State().String()),
		zap.Bool("journal_enabled", lm.journal != nil))

	return nil
}

func (lm *LifecycleManager) startJournal(ctx context.Context) error {
	db, err := storage.NewPostgresClient(ctx, lm.config.Journal.Database)
	if err != nil {
		return fmt.Errorf("failed to connect journal database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate journal database: %w", err)
	}

	lm.db = db
	lm.journal = storage.NewJournal(lm.logger.Named("journal"), db, lm.config.Journal.Buffer)
	lm.journal.Bind(lm.core.sys, lm.core.homer)
	lm.journal.Start()
	lm.core.journal = db

	lm.logger.Info("Journal connected",
		zap.String("host", lm.config.Journal.Database.Host),
		zap.String("database", lm.config.Journal.Database.Database))
	return nil
}

func (lm *LifecycleManager) addJobs() {
	if lm.config.Limits.Debounce > 0 {
		lm.jobs.Add(jobs.NewPeriodic("debounce", lm.config.Limits.DebounceInterval,
			metrics.CountTick("debounce", lm.core.tracker.Debounce), lm.logger))
	}
	if lm.config.Control.StatusInterval > 0 {
		lm.jobs.Add(jobs.NewPeriodic("status", lm.config.Control.StatusInterval,
			metrics.CountTick("status", func() { lm.core.Request(signals.StatusReport) }), lm.logger))
	}
}

func (lm *LifecycleManager) startGRPCServer() error {
	if lm.config.Server.GRPCPort == 0 {
		return nil
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	grpcapi.RegisterStatusServiceServer(lm.grpcServer, grpcapi.NewStatusService(lm.core.Reporter()))

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", grpcapi.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	if lm.config.Server.HTTPPort == 0 {
		return nil
	}
	lm.restServer = rest.NewServer(lm.core, lm.logger, lm.hub, lm.jwt)
	return lm.restServer.Start()
}

// Shutdown stops the servers, then the jobs and the main task, then
// flushes the journal.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Shutdown from unexpected state", zap.Error(err))
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.stateMu.Lock()
		lm.currentState = StateStopped
		lm.stateMu.Unlock()
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var result *multierror.Error

	if lm.restServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("rest api shutdown failed: %w", err))
		}
		cancel()
	}

	if lm.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			lm.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			lm.logger.Warn("gRPC graceful stop timed out, forcing stop")
			lm.grpcServer.Stop()
		}
	}

	lm.jobs.Stop()

	if lm.cancel != nil {
		lm.cancel()
		select {
		case err := <-lm.loopDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				result = multierror.Append(result, fmt.Errorf("main task: %w", err))
			}
		case <-ctx.Done():
			result = multierror.Append(result, fmt.Errorf("shutdown timeout exceeded"))
		}
	}

	if lm.journal != nil {
		lm.journal.Stop()
	}
	if lm.db != nil {
		lm.db.Close()
	}
	lm.core.close()

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		return err
	}
	lm.currentState = state
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.logger.Error("System error", zap.Error(err))
	lm.currentState = StateError
	lm.lastError = err
}

// Status returns the lifecycle state.
func (lm *LifecycleManager) Status() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	st := SystemStatus{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
	}
	if lm.lastError != nil {
		st.Error = lm.lastError.Error()
	}
	return st
}
