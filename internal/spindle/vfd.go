package spindle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenMotionCore/internal/modbus"
	"github.com/KevinKickass/OpenMotionCore/internal/motion"
)

// VFDConfig maps spindle commands onto drive registers. The control word
// and the frequency setpoint must be adjacent, control first.
type VFDConfig struct {
	Address         string        `mapstructure:"address"`
	UnitID          uint8         `mapstructure:"unit_id"`
	ControlRegister uint16        `mapstructure:"control_register"`
	StatusRegister  uint16        `mapstructure:"status_register"`
	RunForward      uint16        `mapstructure:"run_forward"`
	RunReverse      uint16        `mapstructure:"run_reverse"`
	Stop            uint16        `mapstructure:"stop"`
	MaxRPM          float64       `mapstructure:"max_rpm"`
	MaxFrequency    uint16        `mapstructure:"max_frequency"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// DefaultVFDConfig matches the common Huanyang-style register layout.
func DefaultVFDConfig() VFDConfig {
	return VFDConfig{
		UnitID:          1,
		ControlRegister: 0x2000,
		StatusRegister:  0x3000,
		RunForward:      0x0001,
		RunReverse:      0x0002,
		Stop:            0x0005,
		MaxRPM:          24000,
		MaxFrequency:    40000,
		Timeout:         200 * time.Millisecond,
	}
}

// Registers is the subset of the Modbus client the VFD uses.
type Registers interface {
	WriteMultipleRegisters(ctx context.Context, unitID uint8, startAddr uint16, values []uint16) error
	WriteSingleRegister(ctx context.Context, unitID uint8, addr, value uint16) error
	ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr, quantity uint16) ([]uint16, error)
}

var _ Registers = (*modbus.Client)(nil)

// VFD drives a spindle inverter over Modbus/TCP. A failed write leaves
// the last known state unchanged and is returned to the caller.
type VFD struct {
	regs   Registers
	cfg    VFDConfig
	logger *zap.Logger

	mu    sync.Mutex
	state motion.SpindleState
	speed float64
}

var _ motion.Spindle = (*VFD)(nil)

func NewVFD(regs Registers, cfg VFDConfig, logger *zap.Logger) *VFD {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultVFDConfig().Timeout
	}
	return &VFD{regs: regs, cfg: cfg, logger: logger}
}

func (v *VFD) SetState(state motion.SpindleState, speed float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if state == motion.SpindleOff || speed <= 0 {
		return v.stopLocked()
	}

	word := v.cfg.RunForward
	if state == motion.SpindleCCW {
		word = v.cfg.RunReverse
	}
	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.Timeout)
	defer cancel()
	err := v.regs.WriteMultipleRegisters(ctx, v.cfg.UnitID, v.cfg.ControlRegister,
		[]uint16{word, v.frequency(speed)})
	if err != nil {
		v.logger.Error("Spindle command failed",
			zap.String("state", state.String()),
			zap.Float64("speed", speed),
			zap.Error(err))
		return fmt.Errorf("spindle %s at %.0f rpm: %w", state, speed, err)
	}
	v.state, v.speed = state, speed
	return nil
}

func (v *VFD) SpinDown() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopLocked()
}

func (v *VFD) stopLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.Timeout)
	defer cancel()
	if err := v.regs.WriteSingleRegister(ctx, v.cfg.UnitID, v.cfg.ControlRegister, v.cfg.Stop); err != nil {
		v.logger.Error("Spindle stop failed", zap.Error(err))
		return fmt.Errorf("spindle stop: %w", err)
	}
	v.state, v.speed = motion.SpindleOff, 0
	return nil
}

func (v *VFD) State() (motion.SpindleState, float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state, v.speed
}

// ReadStatus returns the raw drive status word.
func (v *VFD) ReadStatus(ctx context.Context) (uint16, error) {
	regs, err := v.regs.ReadHoldingRegisters(ctx, v.cfg.UnitID, v.cfg.StatusRegister, 1)
	if err != nil {
		return 0, err
	}
	if len(regs) == 0 {
		return 0, fmt.Errorf("empty status response")
	}
	return regs[0], nil
}

// frequency scales rpm to the drive setpoint, clamped to MaxFrequency.
func (v *VFD) frequency(rpm float64) uint16 {
	if v.cfg.MaxRPM <= 0 {
		return 0
	}
	f := math.Round(rpm / v.cfg.MaxRPM * float64(v.cfg.MaxFrequency))
	if f > float64(v.cfg.MaxFrequency) {
		f = float64(v.cfg.MaxFrequency)
	}
	return uint16(f)
}
