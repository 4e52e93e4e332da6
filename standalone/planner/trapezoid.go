package planner

import (
	"math"

	"gomotion/core"
)

// estimateAccelerationDistance returns the distance (steps) needed to go
// from initialRate to targetRate at the given acceleration (steps/s^2)
func estimateAccelerationDistance(initialRate, targetRate, accel float64) float64 {
	if accel == 0 {
		return 0
	}
	return (targetRate*targetRate - initialRate*initialRate) / (accel * 2)
}

// intersectionDistance returns the step at which a block accelerating from
// initialRate must begin decelerating to end at finalRate within distance
func intersectionDistance(initialRate, finalRate, accel, distance float64) float64 {
	if accel == 0 {
		return 0
	}
	return (accel*2*distance - initialRate*initialRate + finalRate*finalRate) / (accel * 4)
}

// maxAllowableSpeedSqr returns the highest speed^2 from which targetSqr can
// be reached over distance. Called with a negative acceleration.
func maxAllowableSpeedSqr(accel, targetSqr, distance float64) float64 {
	return targetSqr - 2*accel*distance
}

// finalSpeed returns the speed after accelerating over distance
func finalSpeed(initial, accel, distance float64) float64 {
	return math.Sqrt(initial*initial + 2*accel*distance)
}

// periodInverse returns 2^32/d clamped for the step timing fast path
func periodInverse(d uint32) uint32 {
	if d == 0 {
		return 0xFFFFFFFF
	}
	return 0xFFFFFFFF / d
}

// calculateTrapezoid sets the accelerate/cruise/decelerate boundaries of b
// for entry and exit speeds given as fractions of its nominal speed. The
// caller holds q.mu and has checked that b is not busy.
func (q *MotionQueue) calculateTrapezoid(b *Block, entryFactor, exitFactor float64) {
	minRate := q.settings.MinimalStepRate

	initialRate := uint32(math.Ceil(float64(b.NominalRate) * entryFactor))
	finalRate := uint32(math.Ceil(float64(b.NominalRate) * exitFactor))
	if initialRate < minRate {
		initialRate = minRate
	}
	if finalRate < minRate {
		finalRate = minRate
	}

	accel := float64(b.AccelerationStepsPerS2)
	nominal := float64(b.NominalRate)
	events := int64(b.StepEventCount)

	accelerateSteps := int64(math.Ceil(estimateAccelerationDistance(float64(initialRate), nominal, accel)))
	decelerateSteps := int64(math.Floor(estimateAccelerationDistance(nominal, float64(finalRate), -accel)))
	if accelerateSteps < 0 {
		accelerateSteps = 0
	}
	if decelerateSteps < 0 {
		decelerateSteps = 0
	}

	plateauSteps := events - accelerateSteps - decelerateSteps
	cruiseRate := nominal

	// No room to reach nominal rate: meet in the middle
	if plateauSteps < 0 {
		d := math.Ceil(intersectionDistance(float64(initialRate), float64(finalRate), accel, float64(events)))
		accelerateSteps = int64(math.Min(math.Max(d, 0), float64(events)))
		plateauSteps = 0
		cruiseRate = finalSpeed(float64(initialRate), accel, float64(accelerateSteps))
	}

	if q.settings.SCurve && accel > 0 {
		rateFactor := float64(core.TimerFreq) / accel
		b.AccelerationTime = 0
		if cruiseRate > float64(initialRate) {
			b.AccelerationTime = uint32(math.Round((cruiseRate - float64(initialRate)) * rateFactor))
		}
		b.DecelerationTime = 0
		if cruiseRate > float64(finalRate) {
			b.DecelerationTime = uint32(math.Round((cruiseRate - float64(finalRate)) * rateFactor))
		}
		b.AccelerationTimeInverse = periodInverse(b.AccelerationTime)
		b.DecelerationTimeInverse = periodInverse(b.DecelerationTime)
	}

	b.AccelerateUntil = uint32(accelerateSteps)
	b.DecelerateAfter = uint32(accelerateSteps + plateauSteps)
	b.InitialRate = initialRate
	b.FinalRate = finalRate
	b.CruiseRate = uint32(cruiseRate)
}
