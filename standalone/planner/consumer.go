package planner

import (
	"math"

	"gomotion/core"
	"gomotion/standalone"
)

// GetCurrentBlock claims the tail block for execution. It returns nil when
// the queue is empty, while the first-move delay holds a short queue back,
// or when the tail block is still being planned. The claimed block stays
// valid until ReleaseCurrentBlock.
func (q *MotionQueue) GetCurrentBlock() *Block {
	q.mu.Lock()
	defer q.mu.Unlock()

	moves := q.movesPlannedLocked()
	if moves == 0 {
		q.runtimeUS = 0
		return nil
	}

	if q.delayBeforeDelivering != 0 {
		q.delayBeforeDelivering--
		if q.delayBeforeDelivering != 0 && moves < 3 {
			return nil
		}
		q.delayBeforeDelivering = 0
	}

	b := &q.blocks[q.tail]
	if b.has(FlagRecalculate) {
		return nil
	}

	if q.runtimeUS > uint64(b.SegmentTimeUS) {
		q.runtimeUS -= uint64(b.SegmentTimeUS)
	} else {
		q.runtimeUS = 0
	}

	q.nonbusy = q.nextIndex(q.tail)
	if q.tail == q.planned {
		q.planned = q.nonbusy
	}

	core.RecordTiming(core.EvtBlockClaimed, uint8(q.tail), core.GetTime(), b.StepEventCount, b.InitialRate)
	return b
}

// ReleaseCurrentBlock frees the tail block once it has been executed
func (q *MotionQueue) ReleaseCurrentBlock() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == q.tail {
		return
	}
	core.RecordTiming(core.EvtBlockDone, uint8(q.tail), core.GetTime(), 0, 0)
	q.tail = q.nextIndex(q.tail)
}

// EndstopTriggered is called by the consumer when a homing or probing
// endstop fires. The queue is emptied and the planner position resynced to
// the motor counts; the producer picks the change up on its next call.
func (q *MotionQueue) EndstopTriggered(axis standalone.Axis) {
	var counts [standalone.NumAxis]int64
	if q.stepper != nil {
		counts = q.stepper.Position()
	}

	q.mu.Lock()
	if q.stepper == nil {
		counts = q.kin.MotorSteps(q.position)
	}
	q.triggeredSteps = counts
	q.endstopHit |= axis.Bit()

	q.tail = q.head
	q.nonbusy = q.head
	q.planned = q.head
	q.runtimeUS = 0
	q.delayBeforeDelivering = 0

	steps := q.kin.AxisSteps(counts)
	for a := range q.position {
		q.position[a] = int64(math.Round(steps[a]))
	}
	q.epoch++
	q.mu.Unlock()

	core.RecordTiming(core.EvtEndstopHit, uint8(axis), core.GetTime(), uint32(counts[axis]), 0)
}

// EndstopHit returns the mask of axes whose endstops fired
func (q *MotionQueue) EndstopHit() uint8 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.endstopHit
}

// ClearEndstopHit resets the endstop mask
func (q *MotionQueue) ClearEndstopHit() {
	q.mu.Lock()
	q.endstopHit = 0
	q.mu.Unlock()
}

// TriggeredPositionMM returns the machine position of an axis at the last
// endstop hit
func (q *MotionQueue) TriggeredPositionMM(axis standalone.Axis) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	steps := q.kin.AxisSteps(q.triggeredSteps)
	return steps[axis] * q.stepsToMM[axis]
}
