package kinematics

import (
	"errors"
	"fmt"
	"math"

	"gomotion/standalone"
)

// Delta implements linear delta kinematics. Machine A, B and C are the
// carriage heights on towers placed at 210°, 330° and 90° (plus trim)
// around a circle of the configured radius.
type Delta struct {
	config    *standalone.MachineConfig
	rodSq     float64
	rod       float64
	towerX    [3]float64
	towerY    [3]float64
	radius    float64
	maxRadius float64
}

// NewDelta creates a delta kinematics instance
func NewDelta(config *standalone.MachineConfig) (*Delta, error) {
	if err := requireAxes(config); err != nil {
		return nil, err
	}
	d := config.Delta
	if d.Radius <= 0 || d.DiagonalRod <= d.Radius {
		return nil, errors.New("delta needs radius > 0 and diagonal_rod > radius")
	}

	k := &Delta{
		config: config,
		rod:    d.DiagonalRod,
		rodSq:  d.DiagonalRod * d.DiagonalRod,
		radius: d.Radius,
	}
	base := [3]float64{210, 330, 90}
	for i := range base {
		angle := (base[i] + d.TowerAngleTrim[i]) * math.Pi / 180
		k.towerX[i] = math.Cos(angle) * d.Radius
		k.towerY[i] = math.Sin(angle) * d.Radius
	}
	if x, ok := config.Axis(standalone.AxisX); ok && x.MaxPosition > 0 {
		k.maxRadius = x.MaxPosition
	}
	return k, nil
}

// Name returns "delta"
func (k *Delta) Name() string {
	return "delta"
}

// ToMachine computes carriage heights for an effector position
func (k *Delta) ToMachine(cart standalone.Position) (standalone.Position, error) {
	out := cart
	for i := 0; i < 3; i++ {
		dx := k.towerX[i] - cart[standalone.AxisX]
		dy := k.towerY[i] - cart[standalone.AxisY]
		h := k.rodSq - dx*dx - dy*dy
		if h < 0 {
			return cart, fmt.Errorf("%w: tower %d cannot reach (%.3f, %.3f)",
				ErrUnreachable, i, cart[standalone.AxisX], cart[standalone.AxisY])
		}
		out[i] = cart[standalone.AxisZ] + math.Sqrt(h)
	}
	return out, nil
}

// ToCartesian trilaterates the effector position from carriage heights
func (k *Delta) ToCartesian(machine standalone.Position) (standalone.Position, error) {
	p1 := [3]float64{k.towerX[0], k.towerY[0], machine[0]}
	p2 := [3]float64{k.towerX[1], k.towerY[1], machine[1]}
	p3 := [3]float64{k.towerX[2], k.towerY[2], machine[2]}

	p12 := sub3(p2, p1)
	d := norm3(p12)
	ex := scale3(p12, 1/d)

	p13 := sub3(p3, p1)
	i := dot3(ex, p13)
	ey := sub3(p13, scale3(ex, i))
	ey = scale3(ey, 1/norm3(ey))
	j := dot3(ey, p13)
	ez := cross3(ex, ey)

	x := d / 2
	y := ((i*i+j*j)/2 - i*x) / j
	zSq := k.rodSq - x*x - y*y
	if zSq < 0 {
		return machine, fmt.Errorf("%w: carriage heights have no solution", ErrUnreachable)
	}
	z := math.Sqrt(zSq)

	out := machine
	for n := 0; n < 3; n++ {
		out[n] = p1[n] + ex[n]*x + ey[n]*y - ez[n]*z
	}
	return out, nil
}

// MotorSteps returns the carriage steps unchanged
func (k *Delta) MotorSteps(axis [standalone.NumAxis]int64) [standalone.NumAxis]int64 {
	return axis
}

// AxisSteps returns the carriage counts unchanged
func (k *Delta) AxisSteps(motor [standalone.NumAxis]int64) [standalone.NumAxis]float64 {
	return identitySteps(motor)
}

// IsKinematic is true
func (k *Delta) IsKinematic() bool {
	return true
}

// GetAxisNames returns the tower names
func (k *Delta) GetAxisNames() []string {
	return []string{"a", "b", "c", "e"}
}

// CheckLimits checks the printable radius and Z travel
func (k *Delta) CheckLimits(pos standalone.Position) error {
	if k.maxRadius > 0 {
		r := math.Hypot(pos[standalone.AxisX], pos[standalone.AxisY])
		if r > k.maxRadius {
			return fmt.Errorf("%w: radius %.3f exceeds %.3f", ErrUnreachable, r, k.maxRadius)
		}
	}
	if z, ok := k.config.Axis(standalone.AxisZ); ok && z.MaxPosition > z.MinPosition {
		if pos[standalone.AxisZ] < z.MinPosition || pos[standalone.AxisZ] > z.MaxPosition {
			return fmt.Errorf("z position %.3f out of limits", pos[standalone.AxisZ])
		}
	}
	return nil
}

func sub3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func scale3(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}

func dot3(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func norm3(a [3]float64) float64 {
	return math.Sqrt(dot3(a, a))
}

func cross3(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
