package kinematics

import (
	"errors"
	"fmt"

	"gomotion/standalone"
)

var (
	// ErrUnknownKinematics is returned by New for an unrecognized name
	ErrUnknownKinematics = errors.New("unsupported kinematics")
	// ErrUnreachable is returned when a cartesian target lies outside
	// the machine's reachable workspace
	ErrUnreachable = errors.New("position unreachable")
	// ErrAxisNotConfigured is returned when a required axis is missing
	ErrAxisNotConfigured = errors.New("axis not configured")
)

// Kinematics maps cartesian tool positions to machine axes and describes
// how axis step deltas combine into motor step deltas.
type Kinematics interface {
	// Name returns the configuration name ("cartesian", "corexy", ...)
	Name() string

	// ToMachine maps a cartesian XYZE position to machine ABCE coordinates.
	// E passes through unchanged.
	ToMachine(cart standalone.Position) (standalone.Position, error)

	// ToCartesian maps machine ABCE coordinates back to cartesian XYZE.
	ToCartesian(machine standalone.Position) (standalone.Position, error)

	// MotorSteps converts per-axis step values (absolute or delta) into
	// per-motor step values. Linear for every supported machine.
	MotorSteps(axis [standalone.NumAxis]int64) [standalone.NumAxis]int64

	// AxisSteps inverts MotorSteps for motor counts read back from the
	// steppers.
	AxisSteps(motor [standalone.NumAxis]int64) [standalone.NumAxis]float64

	// IsKinematic reports whether ToMachine is non-linear (delta, SCARA).
	// Such machines need the cartesian travel distance passed as a hint.
	IsKinematic() bool

	// CheckLimits validates that a cartesian position is within limits
	CheckLimits(pos standalone.Position) error

	// GetAxisNames returns the machine axis names in slot order
	GetAxisNames() []string
}

// New creates the kinematics named in the configuration
func New(config *standalone.MachineConfig) (Kinematics, error) {
	switch config.Kinematics {
	case "", "cartesian":
		return NewCartesian(config)
	case "corexy":
		return NewCore(config, standalone.AxisX, standalone.AxisY)
	case "corexz":
		return NewCore(config, standalone.AxisX, standalone.AxisZ)
	case "coreyz":
		return NewCore(config, standalone.AxisY, standalone.AxisZ)
	case "delta":
		return NewDelta(config)
	case "scara":
		return NewScara(config)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKinematics, config.Kinematics)
}

// requireAxes checks that every linear axis is configured
func requireAxes(config *standalone.MachineConfig) error {
	for _, a := range []standalone.Axis{standalone.AxisX, standalone.AxisY, standalone.AxisZ} {
		if _, ok := config.Axis(a); !ok {
			return fmt.Errorf("%w: %s", ErrAxisNotConfigured, a)
		}
	}
	return nil
}

// checkCartesianLimits checks X, Y and Z against the configured travel
func checkCartesianLimits(config *standalone.MachineConfig, pos standalone.Position) error {
	for _, a := range []standalone.Axis{standalone.AxisX, standalone.AxisY, standalone.AxisZ} {
		axis, ok := config.Axis(a)
		if !ok || axis.MinPosition == axis.MaxPosition {
			continue
		}
		if pos[a] < axis.MinPosition || pos[a] > axis.MaxPosition {
			return fmt.Errorf("%s position %.3f out of limits [%.3f, %.3f]",
				a, pos[a], axis.MinPosition, axis.MaxPosition)
		}
	}
	return nil
}

func identitySteps(motor [standalone.NumAxis]int64) [standalone.NumAxis]float64 {
	var out [standalone.NumAxis]float64
	for i, v := range motor {
		out[i] = float64(v)
	}
	return out
}
