// Package config loads the daemon configuration and the machine topology
// file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/KevinKickass/OpenMotionCore/internal/spindle"
)

type Config struct {
	Server      ServerConfig  `mapstructure:"server"`
	Control     ControlConfig `mapstructure:"control"`
	Homing      HomingConfig  `mapstructure:"homing"`
	Parking     ParkingConfig `mapstructure:"parking"`
	Spindle     SpindleConfig `mapstructure:"spindle"`
	Coolant     CoolantConfig `mapstructure:"coolant"`
	Limits      LimitsConfig  `mapstructure:"limits"`
	Journal     JournalConfig `mapstructure:"journal"`
	Auth        AuthConfig    `mapstructure:"auth"`
	Sim         SimConfig     `mapstructure:"sim"`
	MachineFile string        `mapstructure:"machine_file"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ControlConfig tunes the main task.
type ControlConfig struct {
	// Quantum is the sleep slice of dwell and delay loops.
	Quantum time.Duration `mapstructure:"quantum"`
	// LoopInterval is how often the idle main task polls for signals.
	LoopInterval   time.Duration `mapstructure:"loop_interval"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

type HomingConfig struct {
	Enable bool `mapstructure:"enable"`
	// InitLock boots the machine in Alarm until homed or unlocked.
	InitLock     bool `mapstructure:"init_lock"`
	LocateCycles int  `mapstructure:"locate_cycles"`
}

type ParkingConfig struct {
	Enable           bool          `mapstructure:"enable"`
	Axis             string        `mapstructure:"axis"`
	Target           float64       `mapstructure:"target"`
	Rate             float64       `mapstructure:"rate"`
	PulloutRate      float64       `mapstructure:"pullout_rate"`
	PulloutIncrement float64       `mapstructure:"pullout_increment"`
	LaserMode        bool          `mapstructure:"laser_mode"`
	SpindleDelay     time.Duration `mapstructure:"spindle_delay"`
}

type SpindleConfig struct {
	// Type is none, relay or vfd.
	Type  string            `mapstructure:"type"`
	Relay spindle.RelayPins `mapstructure:"relay"`
	VFD   spindle.VFDConfig `mapstructure:"vfd"`
}

type CoolantConfig struct {
	Pins  spindle.CoolantPins `mapstructure:"pins"`
	Delay time.Duration       `mapstructure:"delay"`
}

type LimitsConfig struct {
	HardLimits       bool          `mapstructure:"hard_limits"`
	SoftLimits       bool          `mapstructure:"soft_limits"`
	Debounce         time.Duration `mapstructure:"debounce"`
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`
}

// JournalConfig enables the PostgreSQL event journal.
type JournalConfig struct {
	Enable   bool           `mapstructure:"enable"`
	Database DatabaseConfig `mapstructure:"database"`
	Buffer   int            `mapstructure:"buffer"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	JWTSecretEnv string        `mapstructure:"jwt_secret_env"`
	Issuer       string        `mapstructure:"issuer"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// SimConfig drives the simulated machine used when no hardware backend
// is configured.
type SimConfig struct {
	Tick time.Duration `mapstructure:"tick"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("control.quantum", "1ms")
	v.SetDefault("control.loop_interval", "1ms")
	v.SetDefault("control.status_interval", "200ms")

	v.SetDefault("homing.enable", true)
	v.SetDefault("homing.init_lock", true)
	v.SetDefault("homing.locate_cycles", 1)

	v.SetDefault("parking.enable", false)
	v.SetDefault("parking.axis", "Z")
	v.SetDefault("parking.target", -5.0)
	v.SetDefault("parking.rate", 500.0)
	v.SetDefault("parking.pullout_rate", 100.0)
	v.SetDefault("parking.pullout_increment", 5.0)
	v.SetDefault("parking.spindle_delay", "4s")

	vfd := spindle.DefaultVFDConfig()
	v.SetDefault("spindle.type", "none")
	v.SetDefault("spindle.relay.enable", 0)
	v.SetDefault("spindle.relay.direction", -1)
	v.SetDefault("spindle.vfd.unit_id", vfd.UnitID)
	v.SetDefault("spindle.vfd.control_register", vfd.ControlRegister)
	v.SetDefault("spindle.vfd.status_register", vfd.StatusRegister)
	v.SetDefault("spindle.vfd.run_forward", vfd.RunForward)
	v.SetDefault("spindle.vfd.run_reverse", vfd.RunReverse)
	v.SetDefault("spindle.vfd.stop", vfd.Stop)
	v.SetDefault("spindle.vfd.max_rpm", vfd.MaxRPM)
	v.SetDefault("spindle.vfd.max_frequency", vfd.MaxFrequency)
	v.SetDefault("spindle.vfd.timeout", vfd.Timeout)

	v.SetDefault("coolant.pins.flood", -1)
	v.SetDefault("coolant.pins.mist", -1)
	v.SetDefault("coolant.delay", "1s")

	v.SetDefault("limits.hard_limits", true)
	v.SetDefault("limits.soft_limits", false)
	v.SetDefault("limits.debounce", "0s")
	v.SetDefault("limits.debounce_interval", "1ms")

	v.SetDefault("journal.enable", false)
	v.SetDefault("journal.database.host", "localhost")
	v.SetDefault("journal.database.port", 5432)
	v.SetDefault("journal.database.database", "motioncore")
	v.SetDefault("journal.database.max_connections", 4)
	v.SetDefault("journal.buffer", 256)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.issuer", "motioncore")
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("sim.tick", "1ms")
	v.SetDefault("machine_file", "machine.yaml")
}

// Load reads the YAML file at path, overlaid with OMC_ environment
// variables. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("OMC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// GetJWTSecret reads the signing secret from the configured environment
// variable, falling back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}
	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

// IsProductionReady reports whether a real secret of sufficient length is
// configured.
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
