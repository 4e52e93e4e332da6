package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"

	"gomotion/standalone"
	"gomotion/standalone/compensation"
	"gomotion/standalone/kinematics"
	"gomotion/standalone/planner"
)

var (
	// ErrInvalidConfig wraps every validation failure
	ErrInvalidConfig = errors.New("invalid configuration")
)

// LoadConfig parses a JSON configuration string, fills defaults and
// validates the result
func LoadConfig(jsonData []byte) (*standalone.MachineConfig, error) {
	var config standalone.MachineConfig

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *standalone.MachineConfig) {
	if config.Kinematics == "" {
		config.Kinematics = "cartesian"
	}
	if config.DefaultFeedrate == 0 {
		config.DefaultFeedrate = 50.0 // 50 mm/s
	}

	for name, axis := range config.Axes {
		if axis.MaxFeedrate == 0 {
			axis.MaxFeedrate = 300.0
		}
		if axis.MaxAccel == 0 {
			axis.MaxAccel = 1000.0
		}
		if axis.HomingFeedrate == 0 {
			axis.HomingFeedrate = 5.0
		}
		if axis.Jerk == 0 {
			axis.Jerk = 10.0
			if name == "z" {
				axis.Jerk = 0.3
			}
		}
		if axis.StepsPerMM == 0 {
			axis.StepsPerMM = 80.0 // Common value
		}
		config.Axes[name] = axis
	}

	p := &config.Planner
	if p.BufferSize == 0 {
		p.BufferSize = 16
	}
	if p.JunctionModel == "" {
		p.JunctionModel = "deviation"
	}
	if p.JunctionDeviation == 0 {
		p.JunctionDeviation = 0.05 // 0.05mm
	}
	if p.PrintAccel == 0 {
		p.PrintAccel = 500.0
	}
	if p.RetractAccel == 0 {
		p.RetractAccel = p.PrintAccel
	}
	if p.TravelAccel == 0 {
		p.TravelAccel = p.PrintAccel
	}
	if p.ExtrudeMinTemp == 0 {
		p.ExtrudeMinTemp = 170.0
	}
	if p.ExtrudeMaxLength == 0 {
		p.ExtrudeMaxLength = 200.0
	}
	if p.Extruders == 0 {
		p.Extruders = 1
	}
	if p.Fans == 0 {
		p.Fans = 1
	}

	if config.Leveling.Mode == "" {
		config.Leveling.Mode = "none"
	}

	for name, heater := range config.Heaters {
		if heater.MaxTemp == 0 {
			heater.MaxTemp = 300.0
		}
		if heater.MaxPower == 0 {
			heater.MaxPower = 1.0
		}
		config.Heaters[name] = heater
	}

	if config.Host.Baud == 0 {
		config.Host.Baud = 250000
	}
}

// Validate checks a configuration for problems that make the machine
// unusable. These are fatal at boot.
func Validate(config *standalone.MachineConfig) error {
	if _, err := kinematics.New(config); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := planner.SettingsFromConfig(config); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := compensation.NewLeveler(config.Leveling); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for name, axis := range config.Axes {
		if _, ok := standalone.AxisFromName(name); !ok {
			return fmt.Errorf("%w: unknown axis %q", ErrInvalidConfig, name)
		}
		if axis.MaxPosition < axis.MinPosition {
			return fmt.Errorf("%w: axis %s max_position below min_position", ErrInvalidConfig, name)
		}
		if axis.Backlash < 0 {
			return fmt.Errorf("%w: axis %s backlash is negative", ErrInvalidConfig, name)
		}
	}
	for name := range config.Endstops {
		if _, ok := standalone.AxisFromName(name); !ok {
			return fmt.Errorf("%w: endstop for unknown axis %q", ErrInvalidConfig, name)
		}
	}

	p := config.Planner
	if p.Extruders < 1 || p.Extruders > planner.MaxExtruders {
		return fmt.Errorf("%w: extruders must be 1..%d", ErrInvalidConfig, planner.MaxExtruders)
	}
	if p.Fans < 0 || p.Fans > planner.MaxFans {
		return fmt.Errorf("%w: fans must be 0..%d", ErrInvalidConfig, planner.MaxFans)
	}
	if len(config.FanPins) > p.Fans {
		return fmt.Errorf("%w: %d fan pins for %d fans", ErrInvalidConfig, len(config.FanPins), p.Fans)
	}
	for name, heater := range config.Heaters {
		if heater.Extruder >= p.Extruders {
			return fmt.Errorf("%w: heater %s names extruder %d of %d", ErrInvalidConfig, name, heater.Extruder, p.Extruders)
		}
		if heater.MaxTemp <= heater.MinTemp {
			return fmt.Errorf("%w: heater %s max_temp below min_temp", ErrInvalidConfig, name)
		}
	}

	if c := config.Backlash.Correction; c < 0 || c > 1 {
		return fmt.Errorf("%w: backlash correction must be 0..1", ErrInvalidConfig)
	}
	if r := config.Retract; r.Length < 0 || r.ZHop < 0 {
		return fmt.Errorf("%w: retraction length and z_hop must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Schema returns the JSON Schema describing a configuration document
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(standalone.MachineConfig))
	schema.Title = "Motion controller configuration"
	schema.Description = "Machine, planner and compensation settings loaded at boot"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// DefaultCartesianConfig returns a default configuration for a Cartesian printer
func DefaultCartesianConfig() *standalone.MachineConfig {
	config := &standalone.MachineConfig{
		Kinematics: "cartesian",
		Axes: map[string]standalone.AxisConfig{
			"x": {
				StepPin:        "gpio0",
				DirPin:         "gpio1",
				EnablePin:      "gpio8",
				StepsPerMM:     80.0,
				MaxFeedrate:    300.0,
				MaxAccel:       3000.0,
				Jerk:           10.0,
				HomingFeedrate: 50.0,
				MaxPosition:    220.0,
			},
			"y": {
				StepPin:        "gpio2",
				DirPin:         "gpio3",
				EnablePin:      "gpio8",
				StepsPerMM:     80.0,
				MaxFeedrate:    300.0,
				MaxAccel:       3000.0,
				Jerk:           10.0,
				HomingFeedrate: 50.0,
				MaxPosition:    220.0,
			},
			"z": {
				StepPin:        "gpio4",
				DirPin:         "gpio5",
				EnablePin:      "gpio8",
				StepsPerMM:     400.0,
				MaxFeedrate:    10.0,
				MaxAccel:       100.0,
				Jerk:           0.3,
				HomingFeedrate: 5.0,
				MaxPosition:    250.0,
			},
			"e": {
				StepPin:     "gpio6",
				DirPin:      "gpio7",
				EnablePin:   "gpio8",
				StepsPerMM:  93.0,
				MaxFeedrate: 50.0,
				MaxAccel:    5000.0,
				Jerk:        5.0,
				MinPosition: -10000.0,
				MaxPosition: 10000.0,
			},
		},
		Endstops: map[string]standalone.EndstopConfig{
			"x": {Pin: "gpio20", Invert: false},
			"y": {Pin: "gpio21", Invert: false},
			"z": {Pin: "gpio22", Invert: false},
		},
		Heaters: map[string]standalone.HeaterConfig{
			"extruder": {
				SensorPin: "ADC0",
				HeaterPin: "gpio10",
				Extruder:  0,
				PID:       [3]float64{0.1, 0.5, 0.05},
				MaxTemp:   300.0,
				MaxPower:  1.0,
			},
			"bed": {
				SensorPin: "ADC1",
				HeaterPin: "gpio11",
				Extruder:  -1,
				PID:       [3]float64{0.2, 1.0, 0.1},
				MaxTemp:   150.0,
				MaxPower:  1.0,
			},
		},
		Planner: standalone.PlannerConfig{
			BufferSize:           16,
			JunctionModel:        "deviation",
			JunctionDeviation:    0.05,
			PrintAccel:           1500,
			RetractAccel:         3000,
			TravelAccel:          3000,
			MinSegmentTimeUS:     20000,
			Slowdown:             true,
			MinimumPlannerSpeed:  0.05,
			MinStepsPerSegment:   6,
			MinimalStepRate:      120,
			PreventColdExtrusion: true,
			ExtrudeMinTemp:       170,
			PreventLongExtrusion: true,
			ExtrudeMaxLength:     200,
			FirstMoveDelayMS:     20,
			CleaningTicks:        1000,
			Extruders:            1,
			Fans:                 1,
		},
		Leveling: standalone.LevelingConfig{Mode: "none"},
		Skew:     standalone.SkewConfig{MaxX: 220, MaxY: 220},
		Retract: standalone.RetractConfig{
			Length:          3,
			Feedrate:        45,
			RecoverFeedrate: 25,
		},
		Host:            standalone.HostConfig{Baud: 250000},
		FanPins:         []string{"gpio12"},
		DefaultFeedrate: 50.0,
	}
	return config
}

// DefaultCoreXYConfig returns the Cartesian defaults with CoreXY belts
func DefaultCoreXYConfig() *standalone.MachineConfig {
	config := DefaultCartesianConfig()
	config.Kinematics = "corexy"
	for _, name := range []string{"x", "y"} {
		axis := config.Axes[name]
		axis.MaxAccel = 5000.0
		config.Axes[name] = axis
	}
	config.Planner.TravelAccel = 5000
	return config
}
