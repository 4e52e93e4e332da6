package compensation

import (
	"math"

	"gomotion/standalone"
)

// Backlash injects extra steps when an axis reverses. The slack is added to
// a residual error which is then taken up either at once or spread over
// the smoothing distance, and only by segments travelling the same way as
// the correction.
type Backlash struct {
	distance   [standalone.NumAxis]float64 // mm, E unused
	correction float64                     // 0..1
	smoothing  float64                     // mm

	lastDir  uint8
	residual [standalone.NumAxis]int32
}

// NewBacklash creates the backlash modifier from per-axis distances
func NewBacklash(cfg standalone.BacklashConfig, machine *standalone.MachineConfig) *Backlash {
	b := &Backlash{}
	b.SetCorrection(cfg.Correction)
	b.SetSmoothing(cfg.SmoothingMM)
	for _, a := range []standalone.Axis{standalone.AxisX, standalone.AxisY, standalone.AxisZ} {
		if ac, ok := machine.Axis(a); ok {
			b.distance[a] = ac.Backlash
		}
	}
	return b
}

// SetCorrection sets the fraction of the distance to correct (M425 F)
func (b *Backlash) SetCorrection(f float64) {
	b.correction = math.Min(math.Max(f, 0), 1)
}

// Correction returns the correction fraction
func (b *Backlash) Correction() float64 {
	return b.correction
}

// SetDistance sets an axis backlash distance in mm (M425 X/Y/Z)
func (b *Backlash) SetDistance(axis standalone.Axis, mm float64) {
	if axis < standalone.AxisE {
		b.distance[axis] = math.Max(mm, 0)
	}
}

// Distance returns an axis backlash distance in mm
func (b *Backlash) Distance(axis standalone.Axis) float64 {
	return b.distance[axis]
}

// SetSmoothing sets the distance over which a correction is spread (M425 S)
func (b *Backlash) SetSmoothing(mm float64) {
	b.smoothing = math.Max(mm, 0)
}

// Smoothing returns the smoothing distance
func (b *Backlash) Smoothing() float64 {
	return b.smoothing
}

// Residual returns the steps still owed on an axis
func (b *Backlash) Residual(axis standalone.Axis) int32 {
	return b.residual[axis]
}

// Reset forgets direction history and residual error
func (b *Backlash) Reset() {
	b.lastDir = 0
	b.residual = [standalone.NumAxis]int32{}
}

// AddSteps returns the extra steps to add to a block. motorDelta holds the
// motor step deltas, dirBits the block direction mask (bit set = negative),
// mm the block length and stepsPerMM the axis resolution.
func (b *Backlash) AddSteps(motorDelta [standalone.NumAxis]int64, dirBits uint8, mm float64,
	stepsPerMM [standalone.NumAxis]float64) [standalone.NumAxis]uint32 {

	var extra [standalone.NumAxis]uint32

	changed := b.lastDir ^ dirBits
	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		if motorDelta[a] == 0 {
			changed &^= a.Bit()
		}
	}
	b.lastDir ^= changed

	if b.correction == 0 {
		return extra
	}

	proportion := 0.0
	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		if b.distance[a] == 0 {
			continue
		}
		reversing := dirBits&a.Bit() != 0

		if changed&a.Bit() != 0 {
			c := b.correction
			if reversing {
				c = -c
			}
			b.residual[a] += int32(c * b.distance[a] * stepsPerMM[a])
		}

		fix := b.residual[a]
		if fix != 0 && b.smoothing != 0 {
			if reversing == (fix < 0) {
				if proportion == 0 {
					proportion = math.Min(1, mm/b.smoothing)
				}
				fix = int32(math.Ceil(proportion * float64(fix)))
			} else {
				fix = 0
			}
		}

		if fix != 0 {
			if fix < 0 {
				extra[a] = uint32(-fix)
			} else {
				extra[a] = uint32(fix)
			}
			b.residual[a] -= fix
		}
	}
	return extra
}
