package planner

import (
	"math"

	"gomotion/standalone"
)

// junctionInput is what both junction models need from the block being
// populated
type junctionInput struct {
	nominalSpeedSqr float64
	acceleration    float64
	millimeters     float64
	unitVec         [standalone.NumAxis]float64
	currentSpeed    [standalone.NumAxis]float64
	movesQueued     int
}

// junctionSpeedSqr returns the maximum entry speed^2 for the new block and
// updates the previous-block state used by the next call.
func (q *MotionQueue) junctionSpeedSqr(in *junctionInput) float64 {
	if q.settings.Junction == ClassicJerk {
		return q.jerkJunctionSqr(in)
	}
	return q.deviationJunctionSqr(in)
}

// limitByAxisMaximum reduces limit so that no axis component of the unit
// vector exceeds its configured maximum acceleration
func (q *MotionQueue) limitByAxisMaximum(limit float64, unit [standalone.NumAxis]float64) float64 {
	for a, u := range unit {
		if u == 0 {
			continue
		}
		if limit*math.Abs(u) > q.settings.MaxAcceleration[a] {
			limit = math.Abs(q.settings.MaxAcceleration[a] / u)
		}
	}
	return limit
}

func normalizeJunctionVector(v [standalone.NumAxis]float64) [standalone.NumAxis]float64 {
	var sum float64
	for _, c := range v {
		sum += c * c
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] *= inv
	}
	return v
}

func (q *MotionQueue) deviationJunctionSqr(in *junctionInput) float64 {
	minSqr := q.settings.MinimumPlannerSpeed * q.settings.MinimumPlannerSpeed
	var vmaxSqr float64

	if in.movesQueued > 0 && !nearZero(q.previousNominalSpeedSqr) {
		// Cosine of the angle between the reversed previous direction and
		// the new direction: 1 for a full reversal, -1 for straight on
		var cosTheta float64
		for a := range in.unitVec {
			cosTheta -= q.previousUnitVec[a] * in.unitVec[a]
		}

		if cosTheta > 0.999999 {
			// Reversal: stop at the corner
			vmaxSqr = minSqr
		} else {
			if cosTheta < -0.999999 {
				cosTheta = -0.999999
			}

			var ju [standalone.NumAxis]float64
			for a := range ju {
				ju[a] = in.unitVec[a] - q.previousUnitVec[a]
			}
			ju = normalizeJunctionVector(ju)

			ja := q.limitByAxisMaximum(in.acceleration, ju)
			sinHalf := math.Sqrt(0.5 * (1 - cosTheta))
			vmaxSqr = ja * q.settings.JunctionDeviationMM * sinHalf / (1 - sinHalf)

			// Short segments of a shallow curve: approximate the arc
			if in.millimeters < 1 && cosTheta < -0.7071067812 {
				theta := math.Acos(-cosTheta)
				vmaxSqr = math.Min(vmaxSqr, in.millimeters*ja/theta)
			}
		}

		vmaxSqr = math.Min(vmaxSqr, math.Min(in.nominalSpeedSqr, q.previousNominalSpeedSqr))
	}

	q.previousUnitVec = in.unitVec
	return vmaxSqr
}

func (q *MotionQueue) jerkJunctionSqr(in *junctionInput) float64 {
	nominalSpeed := math.Sqrt(in.nominalSpeedSqr)

	// Speed from which the machine could stop at once
	safeSpeed := nominalSpeed
	limited := false
	for a, cs := range in.currentSpeed {
		jerk := math.Abs(cs)
		maxj := q.settings.MaxJerk[a]
		if jerk > maxj {
			if limited {
				mjerk := nominalSpeed * maxj
				if jerk*safeSpeed > mjerk {
					safeSpeed = mjerk / jerk
				}
			} else {
				safeSpeed *= maxj / jerk
				limited = true
			}
		}
	}

	var vmax float64
	if in.movesQueued > 0 && !nearZero(q.previousNominalSpeedSqr) {
		previousNominalSpeed := math.Sqrt(q.previousNominalSpeedSqr)
		vmax = math.Min(nominalSpeed, previousNominalSpeed)
		smallerSpeedFactor := vmax / previousNominalSpeed

		vFactor := 1.0
		limited = false
		for a := range in.currentSpeed {
			vExit := q.previousSpeed[a] * smallerSpeedFactor
			vEntry := in.currentSpeed[a]
			if limited {
				vExit *= vFactor
				vEntry *= vFactor
			}

			// Coasting keeps the sign, a reversal takes the larger magnitude
			var jerk float64
			if vExit > vEntry {
				if vEntry > 0 || vExit < 0 {
					jerk = vExit - vEntry
				} else {
					jerk = math.Max(vExit, -vEntry)
				}
			} else {
				if vEntry < 0 || vExit > 0 {
					jerk = vEntry - vExit
				} else {
					jerk = math.Max(-vExit, vEntry)
				}
			}

			if jerk > q.settings.MaxJerk[a] {
				vFactor *= q.settings.MaxJerk[a] / jerk
				limited = true
			}
		}
		if limited {
			vmax *= vFactor
		}

		// Separate safe speeds may beat the shared junction speed
		threshold := vmax * 0.99
		if q.previousSafeSpeed > threshold && safeSpeed > threshold {
			vmax = safeSpeed
		}
	} else {
		vmax = safeSpeed
	}

	q.previousSafeSpeed = safeSpeed
	return vmax * vmax
}

func nearZero(v float64) bool {
	return math.Abs(v) < 1e-6
}
