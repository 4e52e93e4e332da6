package planner

import (
	"math"

	"gomotion/core"
	"gomotion/standalone"
)

func (q *MotionQueue) applyModifiers(p standalone.Position) standalone.Position {
	if q.skew != nil {
		p = q.skew.Apply(p)
	}
	if q.leveling != nil {
		p = q.leveling.Apply(p)
	}
	if q.retract != nil {
		p = q.retract.Apply(p)
	}
	return p
}

func (q *MotionQueue) unapplyModifiers(p standalone.Position) standalone.Position {
	if q.retract != nil {
		p = q.retract.Unapply(p)
	}
	if q.leveling != nil {
		p = q.leveling.Unapply(p)
	}
	if q.skew != nil {
		p = q.skew.Unapply(p)
	}
	return p
}

// cartesianFromSteps maps axis steps back to a logical position
func (q *MotionQueue) cartesianFromSteps(steps [standalone.NumAxis]int64) standalone.Position {
	var m standalone.Position
	for a := range m {
		m[a] = float64(steps[a]) * q.stepsToMM[a]
	}
	cart, err := q.kin.ToCartesian(m)
	if err != nil {
		core.DebugPrintln("[PLANNER] " + err.Error())
		cart = m
	}
	return q.unapplyModifiers(cart)
}

// syncEpochLocked picks up a position resync made by the consumer after
// an endstop hit. Producer side only; caller holds q.mu.
func (q *MotionQueue) syncEpochLocked() {
	if q.epoch == q.seenEpoch {
		return
	}
	q.seenEpoch = q.epoch
	q.previousNominalSpeedSqr = 0
	q.previousSpeed = [standalone.NumAxis]float64{}
	q.previousSafeSpeed = 0
	q.previousUnitVec = [standalone.NumAxis]float64{}
	q.positionCart = q.cartesianFromSteps(q.position)
}

// SetPositionMM sets the logical cartesian position without moving. The
// modifiers and inverse kinematics give the machine position.
func (q *MotionQueue) SetPositionMM(cart standalone.Position) {
	q.mu.Lock()
	q.syncEpochLocked()
	q.mu.Unlock()

	machine := q.applyModifiers(cart)
	m, err := q.kin.ToMachine(machine)
	if err != nil {
		q.echof(err.Error())
		return
	}

	q.mu.Lock()
	q.positionCart = cart
	q.mu.Unlock()
	q.SetMachinePositionMM(m)
}

// SetMachinePositionMM sets the machine (ABCE) position without moving.
// With blocks queued the change is ordered through a sync block,
// otherwise the motor counts are set directly.
func (q *MotionQueue) SetMachinePositionMM(m standalone.Position) {
	q.mu.Lock()
	q.syncEpochLocked()
	for a := range q.position {
		q.position[a] = int64(math.Round(m[a] * q.settings.StepsPerMM[a]))
	}
	queued := q.head != q.tail
	motor := q.kin.MotorSteps(q.position)
	q.mu.Unlock()

	q.applyPosition(queued, motor)
}

// SetAxisPositionMM sets a single machine axis position
func (q *MotionQueue) SetAxisPositionMM(axis standalone.Axis, v float64) {
	if int(axis) >= standalone.NumAxis {
		return
	}
	q.mu.Lock()
	q.syncEpochLocked()
	q.position[axis] = int64(math.Round(v * q.settings.StepsPerMM[axis]))
	q.positionCart = q.cartesianFromSteps(q.position)
	queued := q.head != q.tail
	motor := q.kin.MotorSteps(q.position)
	q.mu.Unlock()

	q.applyPosition(queued, motor)
}

// SetEPositionMM sets the logical extruder position (G92 E)
func (q *MotionQueue) SetEPositionMM(e float64) {
	var p standalone.Position
	p[standalone.AxisE] = e
	if q.retract != nil {
		p = q.retract.Apply(p)
	}

	q.mu.Lock()
	q.syncEpochLocked()
	q.position[standalone.AxisE] = int64(math.Round(p[standalone.AxisE] * q.settings.StepsPerMM[standalone.AxisE]))
	q.positionCart[standalone.AxisE] = e
	queued := q.head != q.tail
	motor := q.kin.MotorSteps(q.position)
	q.mu.Unlock()

	q.applyPosition(queued, motor)
}

func (q *MotionQueue) applyPosition(queued bool, motor [standalone.NumAxis]int64) {
	if queued {
		q.BufferSyncBlock(FlagSyncPosition)
	} else if q.stepper != nil {
		q.stepper.SetPosition(motor)
	}
}

// SyncFromSteppers reloads the planner position from the motor counts
// and re-derives the logical position through the current modifiers.
// Without a stepper only the logical position is re-derived.
func (q *MotionQueue) SyncFromSteppers() {
	var axis [standalone.NumAxis]float64
	if q.stepper != nil {
		axis = q.kin.AxisSteps(q.stepper.Position())
	}

	q.mu.Lock()
	q.syncEpochLocked()
	if q.stepper != nil {
		for a := range q.position {
			q.position[a] = int64(math.Round(axis[a]))
		}
	}
	q.positionCart = q.cartesianFromSteps(q.position)
	q.mu.Unlock()
}

// GetAxisPositionMM returns where the steppers actually are on an axis.
// Without an attached stepper it returns the planner position.
func (q *MotionQueue) GetAxisPositionMM(axis standalone.Axis) float64 {
	if q.stepper == nil {
		q.mu.Lock()
		defer q.mu.Unlock()
		return float64(q.position[axis]) * q.stepsToMM[axis]
	}
	steps := q.kin.AxisSteps(q.stepper.Position())
	return steps[axis] * q.stepsToMM[axis]
}

// PositionCartesian returns the logical position of the last queued
// target. Producer side only.
func (q *MotionQueue) PositionCartesian() standalone.Position {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.syncEpochLocked()
	return q.positionCart
}

// PositionSteps returns the axis step position of the last queued target
func (q *MotionQueue) PositionSteps() [standalone.NumAxis]int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.position
}

// Snapshot is a consistent view of the queue for status reporting
type Snapshot struct {
	MovesPlanned    int
	MovesFree       int
	Capacity        int
	BufferRuntimeUS uint64
	Cleaning        bool
	Position        standalone.Position
	EndstopHit      uint8
}

// Snapshot reads the queue state. Safe to call from any goroutine.
func (q *MotionQueue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		MovesPlanned:    q.movesPlannedLocked(),
		MovesFree:       q.movesFreeLocked(),
		Capacity:        len(q.blocks),
		BufferRuntimeUS: q.runtimeUS,
		Cleaning:        q.cleaning.Load() != 0,
		Position:        q.positionCart,
		EndstopHit:      q.endstopHit,
	}
}
