package planner

import (
	"errors"
	"fmt"
	"math"

	"gomotion/standalone"
)

var (
	// ErrBufferSize is returned for a buffer size that is not a power of
	// two of at least 4
	ErrBufferSize = errors.New("buffer size must be a power of two >= 4")
	// ErrSettings is returned for implausible motion limits
	ErrSettings = errors.New("invalid planner settings")
)

// JunctionModel selects how corner speeds are limited
type JunctionModel uint8

const (
	// JunctionDeviation limits centripetal acceleration around a virtual arc
	JunctionDeviation JunctionModel = iota
	// ClassicJerk limits the instantaneous per-axis speed change
	ClassicJerk
)

// String returns the configuration name of the model
func (m JunctionModel) String() string {
	if m == ClassicJerk {
		return "jerk"
	}
	return "deviation"
}

// Settings holds every motion limit the queue uses. A copy lives in the
// queue; setters on MotionQueue change it for subsequently buffered blocks.
type Settings struct {
	BufferSize int

	Junction            JunctionModel
	JunctionDeviationMM float64

	StepsPerMM      [standalone.NumAxis]float64
	MaxFeedrate     [standalone.NumAxis]float64 // mm/s
	MaxAcceleration [standalone.NumAxis]float64 // mm/s^2
	MaxJerk         [standalone.NumAxis]float64 // mm/s

	PrintAccel   float64
	RetractAccel float64
	TravelAccel  float64

	MinFeedrate       float64
	MinTravelFeedrate float64
	MinSegmentTimeUS  uint32
	Slowdown          bool

	MinimumPlannerSpeed float64
	MinStepsPerSegment  uint32
	MinimalStepRate     uint32
	SCurve              bool

	PreventColdExtrusion bool
	PreventLongExtrusion bool
	ExtrudeMaxLength     float64

	VolumetricLimit  float64 // mm^3/s, 0 disables
	FirstMoveDelayMS uint16
	CleaningTicks    uint32
}

// DefaultSettings returns a small Cartesian machine's settings
func DefaultSettings() Settings {
	return Settings{
		BufferSize:          16,
		Junction:            JunctionDeviation,
		JunctionDeviationMM: 0.013,
		StepsPerMM:          [standalone.NumAxis]float64{80, 80, 400, 93},
		MaxFeedrate:         [standalone.NumAxis]float64{300, 300, 5, 25},
		MaxAcceleration:     [standalone.NumAxis]float64{3000, 3000, 100, 10000},
		MaxJerk:             [standalone.NumAxis]float64{10, 10, 0.3, 5},
		PrintAccel:          3000,
		RetractAccel:        3000,
		TravelAccel:         3000,
		MinFeedrate:         0,
		MinTravelFeedrate:   0,
		MinSegmentTimeUS:    20000,
		Slowdown:            true,
		MinimumPlannerSpeed: 0.05,
		MinStepsPerSegment:  6,
		MinimalStepRate:     120,
		ExtrudeMaxLength:    200,
		FirstMoveDelayMS:    20,
		CleaningTicks:       1000,
	}
}

// SettingsFromConfig converts a machine configuration
func SettingsFromConfig(cfg *standalone.MachineConfig) (Settings, error) {
	s := DefaultSettings()
	p := cfg.Planner

	if p.BufferSize != 0 {
		s.BufferSize = p.BufferSize
	}
	switch p.JunctionModel {
	case "", "deviation":
		s.Junction = JunctionDeviation
	case "jerk":
		s.Junction = ClassicJerk
	default:
		return s, fmt.Errorf("%w: unknown junction model %q", ErrSettings, p.JunctionModel)
	}
	if p.JunctionDeviation != 0 {
		s.JunctionDeviationMM = p.JunctionDeviation
	}

	for a := standalone.AxisX; a < standalone.NumAxis; a++ {
		ac, ok := cfg.Axis(a)
		if !ok {
			if a == standalone.AxisE {
				continue
			}
			return s, fmt.Errorf("%w: axis %s not configured", ErrSettings, a)
		}
		s.StepsPerMM[a] = ac.StepsPerMM
		s.MaxFeedrate[a] = ac.MaxFeedrate
		s.MaxAcceleration[a] = ac.MaxAccel
		s.MaxJerk[a] = ac.Jerk
	}

	setIf := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	setIf(&s.PrintAccel, p.PrintAccel)
	setIf(&s.RetractAccel, p.RetractAccel)
	setIf(&s.TravelAccel, p.TravelAccel)
	setIf(&s.MinimumPlannerSpeed, p.MinimumPlannerSpeed)
	setIf(&s.ExtrudeMaxLength, p.ExtrudeMaxLength)
	s.MinFeedrate = p.MinFeedrate
	s.MinTravelFeedrate = p.MinTravelFeedrate
	s.MinSegmentTimeUS = p.MinSegmentTimeUS
	s.Slowdown = p.Slowdown
	if p.MinStepsPerSegment != 0 {
		s.MinStepsPerSegment = p.MinStepsPerSegment
	}
	if p.MinimalStepRate != 0 {
		s.MinimalStepRate = p.MinimalStepRate
	}
	s.SCurve = p.SCurve
	s.PreventColdExtrusion = p.PreventColdExtrusion
	s.PreventLongExtrusion = p.PreventLongExtrusion
	s.VolumetricLimit = p.VolumetricLimit
	s.FirstMoveDelayMS = p.FirstMoveDelayMS
	if p.CleaningTicks != 0 {
		s.CleaningTicks = p.CleaningTicks
	}

	return s, s.Validate()
}

// Validate checks the settings for values the queue cannot run with
func (s *Settings) Validate() error {
	if s.BufferSize < 4 || s.BufferSize > 256 || s.BufferSize&(s.BufferSize-1) != 0 {
		return fmt.Errorf("%w: %d", ErrBufferSize, s.BufferSize)
	}
	for a := standalone.AxisX; a < standalone.NumAxis; a++ {
		if s.StepsPerMM[a] < 0 || math.IsNaN(s.StepsPerMM[a]) {
			return fmt.Errorf("%w: steps_per_mm[%s] = %v", ErrSettings, a, s.StepsPerMM[a])
		}
		if a == standalone.AxisE && s.StepsPerMM[a] == 0 {
			continue
		}
		if s.StepsPerMM[a] == 0 {
			return fmt.Errorf("%w: steps_per_mm[%s] must be positive", ErrSettings, a)
		}
		if s.MaxFeedrate[a] <= 0 {
			return fmt.Errorf("%w: max_feedrate[%s] must be positive", ErrSettings, a)
		}
		if s.MaxAcceleration[a] <= 0 {
			return fmt.Errorf("%w: max_accel[%s] must be positive", ErrSettings, a)
		}
		if s.Junction == ClassicJerk && s.MaxJerk[a] <= 0 {
			return fmt.Errorf("%w: jerk[%s] must be positive", ErrSettings, a)
		}
	}
	if s.Junction == JunctionDeviation && s.JunctionDeviationMM <= 0 {
		return fmt.Errorf("%w: junction_deviation must be positive", ErrSettings)
	}
	if s.PrintAccel <= 0 || s.RetractAccel <= 0 || s.TravelAccel <= 0 {
		return fmt.Errorf("%w: accelerations must be positive", ErrSettings)
	}
	if s.MinimumPlannerSpeed <= 0 {
		return fmt.Errorf("%w: minimum_planner_speed must be positive", ErrSettings)
	}
	if s.MinStepsPerSegment == 0 {
		return fmt.Errorf("%w: min_steps_per_segment must be positive", ErrSettings)
	}
	if s.MinimalStepRate == 0 {
		return fmt.Errorf("%w: minimal_step_rate must be positive", ErrSettings)
	}
	return nil
}
