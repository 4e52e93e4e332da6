package kinematics

import (
	"gomotion/standalone"
)

// Cartesian implements basic Cartesian kinematics (XYZ 1:1 mapping)
type Cartesian struct {
	config *standalone.MachineConfig
}

// NewCartesian creates a new Cartesian kinematics instance
func NewCartesian(config *standalone.MachineConfig) (*Cartesian, error) {
	if err := requireAxes(config); err != nil {
		return nil, err
	}

	return &Cartesian{
		config: config,
	}, nil
}

// Name returns "cartesian"
func (k *Cartesian) Name() string {
	return "cartesian"
}

// ToMachine is the identity for Cartesian machines
func (k *Cartesian) ToMachine(cart standalone.Position) (standalone.Position, error) {
	return cart, nil
}

// ToCartesian is the identity for Cartesian machines
func (k *Cartesian) ToCartesian(machine standalone.Position) (standalone.Position, error) {
	return machine, nil
}

// MotorSteps returns the axis steps unchanged
func (k *Cartesian) MotorSteps(axis [standalone.NumAxis]int64) [standalone.NumAxis]int64 {
	return axis
}

// AxisSteps returns the motor counts unchanged
func (k *Cartesian) AxisSteps(motor [standalone.NumAxis]int64) [standalone.NumAxis]float64 {
	return identitySteps(motor)
}

// IsKinematic is false: the mapping is linear
func (k *Cartesian) IsKinematic() bool {
	return false
}

// GetAxisNames returns the axis names for Cartesian kinematics
func (k *Cartesian) GetAxisNames() []string {
	return []string{"x", "y", "z", "e"}
}

// CheckLimits validates that a position is within configured limits
func (k *Cartesian) CheckLimits(pos standalone.Position) error {
	return checkCartesianLimits(k.config, pos)
}
