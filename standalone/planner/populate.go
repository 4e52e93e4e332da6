package planner

import (
	"math"

	"gomotion/standalone"
)

// moveRequest is one segment handed to the populator
type moveRequest struct {
	target     [standalone.NumAxis]int64 // axis steps
	feedrate   float64                   // mm/s
	extruder   uint8
	mmHint     float64 // exact travel, 0 to compute
	cartDist   standalone.Position
	useCart    bool // kinematic machines take the junction vector from cartDist
	position   [standalone.NumAxis]int64
	movesQueue int // nonbusy blocks already queued
}

// populateBlock fills b for the move from req.position to req.target. It
// returns false for a move too short to keep. req.position[E] may be
// updated when an extrusion is refused; the caller commits it either way.
func (q *MotionQueue) populateBlock(b *Block, req *moveRequest) bool {
	s := &q.settings

	var delta [standalone.NumAxis]int64
	for a := range delta {
		delta[a] = req.target[a] - req.position[a]
	}

	extruder := req.extruder
	if int(extruder) >= MaxExtruders {
		extruder = 0
	}
	eFactor := q.eFactor[extruder]

	if delta[standalone.AxisE] != 0 {
		if s.PreventColdExtrusion && q.thermal != nil && q.thermal.TooColdToExtrude(extruder) {
			req.position[standalone.AxisE] = req.target[standalone.AxisE]
			delta[standalone.AxisE] = 0
			q.echof("cold extrusion prevented")
		}
		if s.PreventLongExtrusion &&
			math.Abs(float64(delta[standalone.AxisE])*eFactor) > s.ExtrudeMaxLength*s.StepsPerMM[standalone.AxisE] {
			req.position[standalone.AxisE] = req.target[standalone.AxisE]
			delta[standalone.AxisE] = 0
			q.echof("too long extrusion prevented")
		}
	}

	motor := q.kin.MotorSteps(delta)

	*b = Block{}
	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		if motor[a] < 0 {
			b.DirectionBits |= a.Bit()
		}
		b.Steps[a] = uint32(absInt64(motor[a]))
	}
	eStepsFloat := float64(delta[standalone.AxisE]) * eFactor
	if eStepsFloat < 0 {
		b.DirectionBits |= standalone.AxisE.Bit()
	}
	esteps := uint32(math.Abs(eStepsFloat) + 0.5)
	b.Steps[standalone.AxisE] = esteps

	b.StepEventCount = maxSteps(b.Steps)
	if b.StepEventCount < s.MinStepsPerSegment {
		return false
	}

	b.Extruder = extruder
	for i := range b.FanSpeed {
		b.FanSpeed[i] = q.fanSpeed[i]
		if q.thermal != nil {
			b.FanSpeed[i] = q.thermal.ScaledFanSpeed(i, q.fanSpeed[i])
		}
	}
	b.LaserPower = q.laserPower

	// Head-space distances drive the travel length and junction vector,
	// motor-space distances the per-motor limits
	var headMM, motorMM [standalone.NumAxis]float64
	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		headMM[a] = float64(delta[a]) * q.stepsToMM[a]
		motorMM[a] = float64(motor[a]) * q.stepsToMM[a]
	}
	headMM[standalone.AxisE] = eStepsFloat * q.stepsToMM[standalone.AxisE]
	motorMM[standalone.AxisE] = headMM[standalone.AxisE]

	minSteps := s.MinStepsPerSegment
	if b.Steps[standalone.AxisX] < minSteps && b.Steps[standalone.AxisY] < minSteps && b.Steps[standalone.AxisZ] < minSteps {
		b.Millimeters = math.Abs(headMM[standalone.AxisE])
	} else if req.mmHint > 0 {
		b.Millimeters = req.mmHint
	} else {
		b.Millimeters = math.Sqrt(headMM[0]*headMM[0] + headMM[1]*headMM[1] + headMM[2]*headMM[2])
	}

	// Corrections may add steps, never remove them
	if q.backlash != nil {
		extra := q.backlash.AddSteps(motor, b.DirectionBits, b.Millimeters, s.StepsPerMM)
		for a := range extra {
			b.Steps[a] += extra[a]
			b.Backlash[a] = extra[a]
		}
		b.StepEventCount = maxSteps(b.Steps)
	}

	inverseMM := 1 / b.Millimeters

	fr := req.feedrate
	if esteps != 0 {
		fr = math.Max(fr, s.MinFeedrate)
	} else {
		fr = math.Max(fr, s.MinTravelFeedrate)
	}
	if fr <= 0 {
		fr = s.MinimumPlannerSpeed
	}
	inverseSecs := fr * inverseMM

	segmentTimeUS := uint32(math.Round(1000000 / inverseSecs))
	if s.Slowdown && req.movesQueue >= 2 && req.movesQueue < len(q.blocks)/2 {
		if segmentTimeUS < s.MinSegmentTimeUS {
			// Draining buffer: stretch the segment more the emptier it gets
			nst := segmentTimeUS + 2*(s.MinSegmentTimeUS-segmentTimeUS)/uint32(req.movesQueue)
			inverseSecs = 1000000 / float64(nst)
			segmentTimeUS = nst
		}
	}
	b.SegmentTimeUS = segmentTimeUS

	b.NominalSpeedSqr = sq(b.Millimeters * inverseSecs)
	b.NominalRate = uint32(math.Ceil(float64(b.StepEventCount) * inverseSecs))

	var currentSpeed [standalone.NumAxis]float64
	speedFactor := 1.0
	for a := range currentSpeed {
		currentSpeed[a] = motorMM[a] * inverseSecs
		cs := math.Abs(currentSpeed[a])
		maxFr := s.MaxFeedrate[a]
		if a == int(standalone.AxisE) {
			if v := q.volumetricMaxFeedrate(extruder); v > 0 && v < maxFr {
				maxFr = v
			}
		}
		if cs > maxFr {
			speedFactor = math.Min(speedFactor, maxFr/cs)
		}
	}
	if speedFactor < 1 {
		for a := range currentSpeed {
			currentSpeed[a] *= speedFactor
		}
		b.NominalRate = uint32(float64(b.NominalRate) * speedFactor)
		b.NominalSpeedSqr *= speedFactor * speedFactor
	}

	stepsPerMM := float64(b.StepEventCount) * inverseMM
	var accel uint32
	if b.Steps[standalone.AxisX] == 0 && b.Steps[standalone.AxisY] == 0 && b.Steps[standalone.AxisZ] == 0 {
		accel = uint32(math.Ceil(s.RetractAccel * stepsPerMM))
	} else {
		base := s.TravelAccel
		if esteps != 0 {
			base = s.PrintAccel
		}
		accel = uint32(math.Ceil(base * stepsPerMM))

		// Each axis may only take its share of the acceleration
		for a := range b.Steps {
			steps := uint64(b.Steps[a])
			if steps == 0 || q.maxAccelSteps[a] >= accel {
				continue
			}
			comp := uint64(q.maxAccelSteps[a]) * uint64(b.StepEventCount)
			if uint64(accel)*steps > comp {
				accel = uint32(comp / steps)
			}
		}
	}
	b.AccelerationStepsPerS2 = accel
	b.Acceleration = float64(accel) / stepsPerMM

	ji := junctionInput{
		nominalSpeedSqr: b.NominalSpeedSqr,
		acceleration:    b.Acceleration,
		millimeters:     b.Millimeters,
		currentSpeed:    currentSpeed,
		movesQueued:     req.movesQueue,
	}
	if req.useCart {
		for a := range ji.unitVec {
			ji.unitVec[a] = req.cartDist[a] * inverseMM
		}
	} else {
		for a := range ji.unitVec {
			ji.unitVec[a] = headMM[a] * inverseMM
		}
	}
	b.MaxEntrySpeedSqr = q.junctionSpeedSqr(&ji)

	minSqr := s.MinimumPlannerSpeed * s.MinimumPlannerSpeed
	vAllowableSqr := maxAllowableSpeedSqr(-b.Acceleration, minSqr, b.Millimeters)
	b.EntrySpeedSqr = math.Min(minSqr, b.MaxEntrySpeedSqr)

	b.Flags |= FlagRecalculate
	if b.NominalSpeedSqr <= vAllowableSqr {
		b.Flags |= FlagNominalLength
	}

	q.previousSpeed = currentSpeed
	q.previousNominalSpeedSqr = b.NominalSpeedSqr
	return true
}

// volumetricMaxFeedrate returns the E feedrate cap from the volumetric
// limit, or 0 when none applies
func (q *MotionQueue) volumetricMaxFeedrate(extruder uint8) float64 {
	d := q.filamentDiameter[extruder]
	if q.settings.VolumetricLimit <= 0 || d <= 0 {
		return 0
	}
	area := math.Pi * sq(d/2)
	return q.settings.VolumetricLimit / area
}

func maxSteps(steps [standalone.NumAxis]uint32) uint32 {
	var m uint32
	for _, s := range steps {
		if s > m {
			m = s
		}
	}
	return m
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sq(v float64) float64 {
	return v * v
}
