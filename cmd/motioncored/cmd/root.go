// Package cmd holds the motioncored command line: the daemon itself and
// its helper subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenMotionCore/internal/config"
	"github.com/KevinKickass/OpenMotionCore/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const appName = "motioncored"

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Motion control core daemon",
	Long: `motioncored runs the motion control core: the realtime executor, the
homing and parking coordinators and the limit tracker, with REST, WebSocket
and gRPC front ends.`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

// Execute runs the root command. Called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file (defaults only when empty)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "development logging")
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.Info("Config loaded successfully",
		zap.String("file", cfgFile),
		zap.String("machine_file", cfg.MachineFile))
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	if cfg.Auth.Enabled && !cfg.Auth.IsProductionReady() {
		logger.Warn("JWT secret is missing or short, set it via the configured environment variable",
			zap.String("env", cfg.Auth.JWTSecretEnv))
	}

	m, err := config.LoadMachine(cfg.MachineFile, nil)
	if err != nil {
		return err
	}
	logger.Info("Machine loaded",
		zap.Int("axes", m.Topology.NumAxes()),
		zap.Int("switches", len(m.Switches)))

	lifecycle, err := system.NewLifecycleManager(cfg, m, logger)
	if err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := lifecycle.Start(startCtx); err != nil {
		_ = lifecycle.Shutdown(context.Background())
		return fmt.Errorf("failed to start system: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	ctx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := lifecycle.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("motioncored stopped successfully")
	return nil
}
