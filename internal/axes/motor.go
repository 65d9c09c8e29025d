package axes

import "github.com/KevinKickass/OpenMotionCore/internal/types"

// Motor is the capability surface the homing coordinator and the step
// generator need from a motor driver. The set of implementations is closed:
// StepDir, Sensorless and Null.
type Motor interface {
	Name() string
	// SetHomingMode enters or leaves homing mode. It returns false when the
	// driver cannot take part in homing.
	SetHomingMode(on bool) bool
	Step()
	Unstep()
	SetDirection(positive bool)

	motor()
}

// StepDir is a plain step/direction driver.
type StepDir struct {
	StepPin    int
	DirPin     int
	InvertStep bool
	InvertDir  bool
	Pins       types.PinWriter

	homing bool
}

func (m *StepDir) Name() string { return "stepdir" }

func (m *StepDir) SetHomingMode(on bool) bool {
	m.homing = on
	return true
}

func (m *StepDir) Step() {
	m.pins().SetPin(m.StepPin, !m.InvertStep)
}

func (m *StepDir) Unstep() {
	m.pins().SetPin(m.StepPin, m.InvertStep)
}

func (m *StepDir) SetDirection(positive bool) {
	m.pins().SetPin(m.DirPin, positive != m.InvertDir)
}

// Homing reports whether the driver is in homing mode.
func (m *StepDir) Homing() bool { return m.homing }

func (m *StepDir) pins() types.PinWriter {
	if m.Pins == nil {
		return types.NopPins{}
	}
	return m.Pins
}

func (*StepDir) motor() {}

// Sensorless is a step/direction driver whose stall detection output
// replaces the mechanical switch while homing. Entering homing mode drops the
// run current and arms stall detection.
type Sensorless struct {
	StepDir
	RunCurrent   float64
	HomeCurrent  float64
	StallCurrent func(amps float64, stallDetect bool) error
}

func (m *Sensorless) Name() string { return "sensorless" }

func (m *Sensorless) SetHomingMode(on bool) bool {
	if m.StallCurrent != nil {
		amps := m.RunCurrent
		if on {
			amps = m.HomeCurrent
		}
		if err := m.StallCurrent(amps, on); err != nil {
			return false
		}
	}
	return m.StepDir.SetHomingMode(on)
}

func (*Sensorless) motor() {}

// Null is a placeholder for an axis slot with no driver attached.
type Null struct{}

func (Null) Name() string            { return "null" }
func (Null) SetHomingMode(bool) bool { return false }
func (Null) Step()                   {}
func (Null) Unstep()                 {}
func (Null) SetDirection(bool)       {}
func (Null) motor()                  {}
