package planner

import (
	"math"

	"gomotion/standalone"
)

// Setters run on the producer side and apply to blocks buffered after the
// call; queued blocks keep the limits they were planned with.

// SetMaxAcceleration sets an axis acceleration limit in mm/s^2 (M201)
func (q *MotionQueue) SetMaxAcceleration(axis standalone.Axis, v float64) {
	if v <= 0 || int(axis) >= standalone.NumAxis {
		return
	}
	q.settings.MaxAcceleration[axis] = v
	q.refreshAccelerationRates()
}

// SetMaxFeedrate sets an axis feedrate limit in mm/s (M203)
func (q *MotionQueue) SetMaxFeedrate(axis standalone.Axis, v float64) {
	if v <= 0 || int(axis) >= standalone.NumAxis {
		return
	}
	q.settings.MaxFeedrate[axis] = v
}

// SetMaxJerk sets an axis jerk limit in mm/s (M205 XYZE)
func (q *MotionQueue) SetMaxJerk(axis standalone.Axis, v float64) {
	if v < 0 || int(axis) >= standalone.NumAxis {
		return
	}
	q.settings.MaxJerk[axis] = v
}

// SetJunctionDeviation sets the junction deviation in mm (M205 J)
func (q *MotionQueue) SetJunctionDeviation(mm float64) {
	if mm <= 0 {
		return
	}
	q.settings.JunctionDeviationMM = mm
}

// SetStepsPerMM sets an axis resolution (M92). The step position is
// re-derived so the logical position does not move.
func (q *MotionQueue) SetStepsPerMM(axis standalone.Axis, v float64) {
	if v <= 0 || int(axis) >= standalone.NumAxis {
		return
	}
	q.settings.StepsPerMM[axis] = v
	q.refreshAccelerationRates()
	q.refreshPositioning()
}

// SetPrintAccel sets the acceleration for extruding moves (M204 P)
func (q *MotionQueue) SetPrintAccel(v float64) {
	if v > 0 {
		q.settings.PrintAccel = v
	}
}

// SetRetractAccel sets the acceleration for E-only moves (M204 R)
func (q *MotionQueue) SetRetractAccel(v float64) {
	if v > 0 {
		q.settings.RetractAccel = v
	}
}

// SetTravelAccel sets the acceleration for non-extruding moves (M204 T)
func (q *MotionQueue) SetTravelAccel(v float64) {
	if v > 0 {
		q.settings.TravelAccel = v
	}
}

// SetMinFeedrate sets the floor for extruding moves (M205 S)
func (q *MotionQueue) SetMinFeedrate(v float64) {
	if v >= 0 {
		q.settings.MinFeedrate = v
	}
}

// SetMinTravelFeedrate sets the floor for travel moves (M205 T)
func (q *MotionQueue) SetMinTravelFeedrate(v float64) {
	if v >= 0 {
		q.settings.MinTravelFeedrate = v
	}
}

// SetMinSegmentTime sets the slowdown threshold in µs (M205 B)
func (q *MotionQueue) SetMinSegmentTime(us uint32) {
	q.settings.MinSegmentTimeUS = us
}

// SetFlow sets an extruder flow percentage (M221)
func (q *MotionQueue) SetFlow(extruder uint8, percent float64) {
	if int(extruder) >= MaxExtruders || percent < 0 {
		return
	}
	q.flowPercent[extruder] = percent
	q.refreshEFactors()
}

// Flow returns an extruder flow percentage
func (q *MotionQueue) Flow(extruder uint8) float64 {
	if int(extruder) >= MaxExtruders {
		return 0
	}
	return q.flowPercent[extruder]
}

// SetFilamentDiameter enables volumetric extrusion for an extruder. A
// diameter of 0 switches back to linear E units.
func (q *MotionQueue) SetFilamentDiameter(extruder uint8, d float64) {
	if int(extruder) >= MaxExtruders || d < 0 {
		return
	}
	q.filamentDiameter[extruder] = d
	q.refreshEFactors()
}

// SetVolumetricLimit caps volumetric flow in mm^3/s, 0 disables
func (q *MotionQueue) SetVolumetricLimit(v float64) {
	if v >= 0 {
		q.settings.VolumetricLimit = v
	}
}

// SetActiveExtruder selects the extruder used by subsequent moves
func (q *MotionQueue) SetActiveExtruder(extruder uint8) {
	if int(extruder) < MaxExtruders {
		q.activeExtruder = extruder
	}
}

// ActiveExtruder returns the selected extruder
func (q *MotionQueue) ActiveExtruder() uint8 {
	return q.activeExtruder
}

// SetFanSpeed sets a fan's speed, applied in order with queued motion
func (q *MotionQueue) SetFanSpeed(fan int, speed uint8) {
	if fan < 0 || fan >= MaxFans {
		return
	}
	q.fanSpeed[fan] = speed
	q.BufferSyncBlock(FlagSyncFans)
}

// FanSpeed returns the last requested speed of a fan
func (q *MotionQueue) FanSpeed(fan int) uint8 {
	if fan < 0 || fan >= MaxFans {
		return 0
	}
	return q.fanSpeed[fan]
}

// SetLaserPower sets the laser power, applied in order with queued motion
func (q *MotionQueue) SetLaserPower(power uint8) {
	q.laserPower = power
	q.BufferSyncBlock(FlagSyncLaser)
}

// refreshEFactors recomputes the E step multiplier of every extruder from
// its flow and filament cross-section
func (q *MotionQueue) refreshEFactors() {
	for i := range q.eFactor {
		mult := 1.0
		if d := q.filamentDiameter[i]; d > 0 {
			mult = 1 / (math.Pi * sq(d/2))
		}
		q.eFactor[i] = q.flowPercent[i] / 100 * mult
	}
}
