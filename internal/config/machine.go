package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/limits"
	"github.com/KevinKickass/OpenMotionCore/internal/types"
)

//go:embed schema/machine-v1.json
var machineSchemaJSON string

// Default homing scalers applied when the file leaves them out.
const (
	DefaultSearchScaler = 1.1
	DefaultLocateScaler = 5.0
)

type machineFile struct {
	Axes []axisFile `json:"axes"`
}

type axisFile struct {
	Name      string       `json:"name"`
	MaxTravel float64      `json:"max_travel"`
	Squared   bool         `json:"squared"`
	Homing    *homingFile  `json:"homing"`
	Endstop   *endstopFile `json:"endstop"`
	Gangs     []gangFile   `json:"gangs"`
}

type homingFile struct {
	Cycle             int     `json:"cycle"`
	PositiveDirection bool    `json:"positive_direction"`
	SeekRate          float64 `json:"seek_rate"`
	FeedRate          float64 `json:"feed_rate"`
	Pulloff           float64 `json:"pulloff"`
	DebounceMs        int     `json:"debounce_ms"`
	SearchScaler      float64 `json:"search_scaler"`
	LocateScaler      float64 `json:"locate_scaler"`
	MPos              float64 `json:"mpos"`
}

type endstopFile struct {
	Positive   bool     `json:"positive"`
	Negative   bool     `json:"negative"`
	HardLimits bool     `json:"hard_limits"`
	SimTrip    *float64 `json:"sim_trip"`
}

type gangFile struct {
	Motor   motorFile    `json:"motor"`
	Endstop *endstopFile `json:"endstop"`
}

type motorFile struct {
	Type        string  `json:"type"`
	StepPin     int     `json:"step_pin"`
	DirPin      int     `json:"dir_pin"`
	InvertStep  bool    `json:"invert_step"`
	InvertDir   bool    `json:"invert_dir"`
	RunCurrent  float64 `json:"run_current"`
	HomeCurrent float64 `json:"home_current"`
}

// SwitchDef is a limit input declared in the machine file.
type SwitchDef struct {
	limits.Switch
	// SimTrip is the simulated trip position, nil when unset.
	SimTrip *float64
}

// Machine is a loaded machine file.
type Machine struct {
	Topology *axes.Topology
	Switches []SwitchDef
}

// MachineValidator checks machine files against the embedded schema.
type MachineValidator struct {
	schema *jsonschema.Schema
}

func NewMachineValidator() (*MachineValidator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("machine-v1.json",
		strings.NewReader(machineSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("machine-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &MachineValidator{schema: schema}, nil
}

// Validate checks a JSON document.
func (v *MachineValidator) Validate(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// LoadMachine reads a YAML machine file.
func LoadMachine(path string, pins types.PinWriter) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read machine file: %w", err)
	}
	m, err := ParseMachine(data, pins)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseMachine decodes, validates and builds a machine from YAML.
func ParseMachine(data []byte, pins types.PinWriter) (*Machine, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert machine file: %w", err)
	}

	validator, err := NewMachineValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(jsonData); err != nil {
		return nil, err
	}

	var file machineFile
	if err := json.Unmarshal(jsonData, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal machine file: %w", err)
	}
	if err := file.check(); err != nil {
		return nil, err
	}
	return file.build(pins)
}

// check reports every semantic problem at once.
func (f *machineFile) check() error {
	var result *multierror.Error
	seen := map[string]bool{}

	for i, a := range f.Axes {
		if seen[a.Name] {
			result = multierror.Append(result, fmt.Errorf("axis %d: duplicate name %s", i, a.Name))
		}
		seen[a.Name] = true

		if a.Squared && len(a.Gangs) != 2 {
			result = multierror.Append(result, fmt.Errorf("axis %s: squared axis needs two gangs", a.Name))
		}
		if h := a.Homing; h != nil {
			if h.SeekRate <= 0 || h.FeedRate <= 0 {
				result = multierror.Append(result, fmt.Errorf("axis %s: homing rates must be positive", a.Name))
			}
			if !a.hasHomingSwitch() {
				result = multierror.Append(result, fmt.Errorf("axis %s: no switch in the homing direction", a.Name))
			}
		}
	}
	return result.ErrorOrNil()
}

// hasHomingSwitch reports whether some switch, or a sensorless motor, can
// stop the axis in its homing direction.
func (a *axisFile) hasHomingSwitch() bool {
	positive := a.Homing.PositiveDirection
	covers := func(e *endstopFile) bool {
		return e != nil && (positive && e.Positive || !positive && e.Negative)
	}
	if covers(a.Endstop) {
		return true
	}
	for _, g := range a.Gangs {
		if covers(g.Endstop) || g.Motor.Type == "sensorless" {
			return true
		}
	}
	return false
}

func (f *machineFile) build(pins types.PinWriter) (*Machine, error) {
	m := &Machine{}
	list := make([]*axes.Axis, 0, len(f.Axes))

	for i, a := range f.Axes {
		axis := &axes.Axis{
			Name:      a.Name,
			Index:     i,
			MaxTravel: a.MaxTravel,
			Squared:   a.Squared,
			Endstop:   a.Endstop.endstop(),
		}
		if h := a.Homing; h != nil {
			axis.Homing = &axes.Homing{
				Cycle:             h.Cycle,
				PositiveDirection: h.PositiveDirection,
				SeekRate:          h.SeekRate,
				FeedRate:          h.FeedRate,
				Pulloff:           h.Pulloff,
				DebounceMs:        h.DebounceMs,
				SearchScaler:      orDefault(h.SearchScaler, DefaultSearchScaler),
				LocateScaler:      orDefault(h.LocateScaler, DefaultLocateScaler),
				MPos:              h.MPos,
			}
		}
		m.Switches = append(m.Switches, a.Endstop.switches(i, limits.SharedGang)...)

		for g, gf := range a.Gangs {
			axis.Gangs = append(axis.Gangs, &axes.Gang{
				Motor:   gf.Motor.motor(pins),
				Endstop: gf.Endstop.endstop(),
			})
			m.Switches = append(m.Switches, gf.Endstop.switches(i, g)...)
		}
		list = append(list, axis)
	}

	topo, err := axes.New(list)
	if err != nil {
		return nil, err
	}
	m.Topology = topo
	return m, nil
}

func (e *endstopFile) endstop() *axes.Endstop {
	if e == nil {
		return nil
	}
	return &axes.Endstop{Positive: e.Positive, Negative: e.Negative, HardLimits: e.HardLimits}
}

func (e *endstopFile) switches(axis, gang int) []SwitchDef {
	if e == nil {
		return nil
	}
	var out []SwitchDef
	if e.Negative {
		out = append(out, SwitchDef{Switch: limits.Switch{Axis: axis, Gang: gang}, SimTrip: e.SimTrip})
	}
	if e.Positive {
		out = append(out, SwitchDef{Switch: limits.Switch{Axis: axis, Gang: gang, Positive: true}, SimTrip: e.SimTrip})
	}
	return out
}

func (m *motorFile) motor(pins types.PinWriter) axes.Motor {
	stepDir := axes.StepDir{
		StepPin:    m.StepPin,
		DirPin:     m.DirPin,
		InvertStep: m.InvertStep,
		InvertDir:  m.InvertDir,
		Pins:       pins,
	}
	switch m.Type {
	case "sensorless":
		return &axes.Sensorless{StepDir: stepDir, RunCurrent: m.RunCurrent, HomeCurrent: m.HomeCurrent}
	case "null":
		return axes.Null{}
	default:
		return &stepDir
	}
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
