package kinematics

import (
	"errors"
	"fmt"
	"math"

	"gomotion/standalone"
)

// Scara implements a two-arm SCARA. Machine A is the shoulder angle and
// machine B the absolute elbow angle, both in degrees; steps/mm on those
// axes is interpreted as steps per degree. Z and E are linear.
type Scara struct {
	config           *standalone.MachineConfig
	l1, l2           float64
	offsetX, offsetY float64
}

// NewScara creates a SCARA kinematics instance
func NewScara(config *standalone.MachineConfig) (*Scara, error) {
	if err := requireAxes(config); err != nil {
		return nil, err
	}
	s := config.Scara
	if s.Arm1 <= 0 || s.Arm2 <= 0 {
		return nil, errors.New("scara needs positive arm lengths")
	}
	return &Scara{
		config:  config,
		l1:      s.Arm1,
		l2:      s.Arm2,
		offsetX: s.OffsetX,
		offsetY: s.OffsetY,
	}, nil
}

// Name returns "scara"
func (k *Scara) Name() string {
	return "scara"
}

// ToMachine solves the arm angles for a tool position
func (k *Scara) ToMachine(cart standalone.Position) (standalone.Position, error) {
	sx := cart[standalone.AxisX] - k.offsetX
	sy := cart[standalone.AxisY] - k.offsetY

	c2 := (sx*sx + sy*sy - k.l1*k.l1 - k.l2*k.l2) / (2 * k.l1 * k.l2)
	if c2 > 1 || c2 < -1 {
		return cart, fmt.Errorf("%w: (%.3f, %.3f) outside arm reach", ErrUnreachable,
			cart[standalone.AxisX], cart[standalone.AxisY])
	}
	s2 := math.Sqrt(1 - c2*c2)

	sk1 := k.l1 + k.l2*c2
	sk2 := k.l2 * s2
	theta := math.Atan2(sk1*sy-sk2*sx, sk1*sx+sk2*sy)
	psi := math.Atan2(s2, c2)

	out := cart
	out[standalone.AxisA] = theta * 180 / math.Pi
	out[standalone.AxisB] = (theta + psi) * 180 / math.Pi
	return out, nil
}

// ToCartesian computes the tool position from the arm angles
func (k *Scara) ToCartesian(machine standalone.Position) (standalone.Position, error) {
	a := machine[standalone.AxisA] * math.Pi / 180
	b := machine[standalone.AxisB] * math.Pi / 180

	out := machine
	out[standalone.AxisX] = math.Cos(a)*k.l1 + math.Cos(b)*k.l2 + k.offsetX
	out[standalone.AxisY] = math.Sin(a)*k.l1 + math.Sin(b)*k.l2 + k.offsetY
	return out, nil
}

// MotorSteps returns the joint steps unchanged
func (k *Scara) MotorSteps(axis [standalone.NumAxis]int64) [standalone.NumAxis]int64 {
	return axis
}

// AxisSteps returns the joint counts unchanged
func (k *Scara) AxisSteps(motor [standalone.NumAxis]int64) [standalone.NumAxis]float64 {
	return identitySteps(motor)
}

// IsKinematic is true
func (k *Scara) IsKinematic() bool {
	return true
}

// GetAxisNames returns the joint names
func (k *Scara) GetAxisNames() []string {
	return []string{"a", "b", "z", "e"}
}

// CheckLimits checks reach and Z travel
func (k *Scara) CheckLimits(pos standalone.Position) error {
	r := math.Hypot(pos[standalone.AxisX]-k.offsetX, pos[standalone.AxisY]-k.offsetY)
	if r > k.l1+k.l2 || r < math.Abs(k.l1-k.l2) {
		return fmt.Errorf("%w: radius %.3f", ErrUnreachable, r)
	}
	if z, ok := k.config.Axis(standalone.AxisZ); ok && z.MaxPosition > z.MinPosition {
		if pos[standalone.AxisZ] < z.MinPosition || pos[standalone.AxisZ] > z.MaxPosition {
			return fmt.Errorf("z position %.3f out of limits", pos[standalone.AxisZ])
		}
	}
	return nil
}
