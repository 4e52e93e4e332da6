package planner

import (
	"math"

	"gomotion/core"
	"gomotion/standalone"
)

// BufferLine queues a move to a cartesian target (logical XYZE mm) at fr
// mm/s. mmHint is the exact travel length when the caller knows it (arc
// segments), otherwise 0. It returns false when the move was rejected: the
// queue is cleaning after a quick stop, the target is unreachable, or the
// move is shorter than the minimum step count.
func (q *MotionQueue) BufferLine(cart standalone.Position, fr float64, extruder uint8, mmHint float64) bool {
	q.mu.Lock()
	q.syncEpochLocked()
	from := q.positionCart
	q.mu.Unlock()

	machine := q.applyModifiers(cart)

	var cartDist standalone.Position
	mm := mmHint
	kinematic := q.kin.IsKinematic()
	if kinematic {
		cartDist = cart.Sub(from)
		if mm == 0 {
			dx, dy, dz := cartDist[standalone.AxisX], cartDist[standalone.AxisY], cartDist[standalone.AxisZ]
			if dx != 0 || dy != 0 {
				mm = math.Sqrt(dx*dx + dy*dy + dz*dz)
			} else {
				mm = math.Abs(dz)
			}
		}
	}

	m, err := q.kin.ToMachine(machine)
	if err != nil {
		q.echof(err.Error())
		return false
	}

	if !q.bufferSegment(m, cartDist, kinematic, fr, extruder, mm) {
		return false
	}

	q.mu.Lock()
	q.positionCart = cart
	q.mu.Unlock()
	return true
}

// BufferSegment queues a move to a machine target (ABCE mm)
func (q *MotionQueue) BufferSegment(machine standalone.Position, fr float64, extruder uint8, mm float64) bool {
	return q.bufferSegment(machine, standalone.Position{}, false, fr, extruder, mm)
}

func (q *MotionQueue) bufferSegment(machine, cartDist standalone.Position, useCart bool,
	fr float64, extruder uint8, mm float64) bool {

	// Moves are refused until the quick stop cooldown expires
	if q.cleaning.Load() != 0 {
		return false
	}

	var target [standalone.NumAxis]int64
	for a := range target {
		target[a] = int64(math.Round(machine[a] * q.settings.StepsPerMM[a]))
	}

	return q.bufferSteps(&moveRequest{
		target:   target,
		feedrate: fr,
		extruder: extruder,
		mmHint:   mm,
		cartDist: cartDist,
		useCart:  useCart,
	})
}

// waitForFreeSlot idles until the consumer frees a slot
func (q *MotionQueue) waitForFreeSlot() {
	for {
		q.mu.Lock()
		full := q.nextIndex(q.head) == q.tail
		q.mu.Unlock()
		if !full {
			return
		}
		q.runIdle()
	}
}

func (q *MotionQueue) bufferSteps(req *moveRequest) bool {
	q.waitForFreeSlot()

	q.mu.Lock()
	q.syncEpochLocked()
	idx := q.head
	epoch := q.epoch
	req.position = q.position
	req.movesQueue = (q.head - q.nonbusy) & q.mask
	q.mu.Unlock()

	// The head slot is invisible to the consumer until head advances
	b := &q.blocks[idx]
	ok := q.populateBlock(b, req)

	q.mu.Lock()
	if q.epoch != epoch || q.head != idx {
		// Truncated by an endstop while populating
		q.mu.Unlock()
		return false
	}
	q.position = req.position
	if !ok {
		q.mu.Unlock()
		core.RecordTiming(core.EvtRejected, uint8(idx), core.GetTime(), b.StepEventCount, 0)
		return false
	}
	if q.head == q.tail {
		q.delayBeforeDelivering = q.settings.FirstMoveDelayMS
	}
	q.position = req.target
	q.head = q.nextIndex(idx)
	q.runtimeUS += uint64(b.SegmentTimeUS)
	q.mu.Unlock()

	core.RecordTiming(core.EvtBlockQueued, uint8(idx), core.GetTime(), b.StepEventCount, b.NominalRate)

	q.Recalculate()
	if q.stepper != nil {
		q.stepper.WakeUp()
	}
	return true
}

// BufferSyncBlock queues a zero-motion block that applies the current
// position, fan speeds or laser power when the consumer reaches it
func (q *MotionQueue) BufferSyncBlock(flags BlockFlag) {
	flags &= FlagSync
	if flags == 0 {
		flags = FlagSyncPosition
	}

	q.waitForFreeSlot()

	q.mu.Lock()
	idx := q.head
	b := &q.blocks[idx]
	*b = Block{Flags: flags}
	b.Position = q.kin.MotorSteps(q.position)
	b.FanSpeed = q.fanSpeed
	if q.thermal != nil {
		for i := range b.FanSpeed {
			b.FanSpeed[i] = q.thermal.ScaledFanSpeed(i, q.fanSpeed[i])
		}
	}
	b.LaserPower = q.laserPower
	if q.head == q.tail {
		q.delayBeforeDelivering = q.settings.FirstMoveDelayMS
	}
	q.head = q.nextIndex(idx)
	q.mu.Unlock()

	core.RecordTiming(core.EvtSyncBlock, uint8(idx), core.GetTime(), uint32(flags), 0)

	if q.stepper != nil {
		q.stepper.WakeUp()
	}
}
