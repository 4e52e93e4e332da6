package kinematics

import (
	"fmt"

	"gomotion/standalone"
)

// Core implements the CoreXY, CoreXZ and CoreYZ belt arrangements. Two
// motors drive the pair of coupled axes p and q:
//
//	motor_p = p + q
//	motor_q = p - q
//
// The planner position stays in axis space; only step counts and
// direction bits are taken from the motor terms.
type Core struct {
	config *standalone.MachineConfig
	p, q   standalone.Axis
}

// NewCore creates a core kinematics coupling axes p and q
func NewCore(config *standalone.MachineConfig, p, q standalone.Axis) (*Core, error) {
	if err := requireAxes(config); err != nil {
		return nil, err
	}
	ap, _ := config.Axis(p)
	aq, _ := config.Axis(q)
	if ap.StepsPerMM != aq.StepsPerMM {
		return nil, fmt.Errorf("core%s%s needs equal steps/mm on %s and %s", p, q, p, q)
	}
	return &Core{config: config, p: p, q: q}, nil
}

// Name returns "corexy", "corexz" or "coreyz"
func (k *Core) Name() string {
	return "core" + k.p.String() + k.q.String()
}

// ToMachine is the identity: coupling happens in step space
func (k *Core) ToMachine(cart standalone.Position) (standalone.Position, error) {
	return cart, nil
}

// ToCartesian is the identity
func (k *Core) ToCartesian(machine standalone.Position) (standalone.Position, error) {
	return machine, nil
}

// MotorSteps combines the coupled pair into motor terms
func (k *Core) MotorSteps(axis [standalone.NumAxis]int64) [standalone.NumAxis]int64 {
	motor := axis
	motor[k.p] = axis[k.p] + axis[k.q]
	motor[k.q] = axis[k.p] - axis[k.q]
	return motor
}

// AxisSteps splits motor counts back into the coupled axes
func (k *Core) AxisSteps(motor [standalone.NumAxis]int64) [standalone.NumAxis]float64 {
	out := identitySteps(motor)
	out[k.p] = 0.5 * float64(motor[k.p]+motor[k.q])
	out[k.q] = 0.5 * float64(motor[k.p]-motor[k.q])
	return out
}

// IsKinematic is false: the coupling is linear
func (k *Core) IsKinematic() bool {
	return false
}

// GetAxisNames returns motor slot names
func (k *Core) GetAxisNames() []string {
	names := []string{"x", "y", "z", "e"}
	names[k.p] = "a"
	names[k.q] = "b"
	return names
}

// CheckLimits validates the head position against configured travel
func (k *Core) CheckLimits(pos standalone.Position) error {
	return checkCartesianLimits(k.config, pos)
}
