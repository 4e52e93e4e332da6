package planner

import (
	"math"
)

// Recalculate runs the lookahead over the unplanned part of the queue and
// refreshes the trapezoids of every block whose junction speeds moved.
func (q *MotionQueue) Recalculate() {
	q.mu.Lock()
	last := q.prevIndex(q.head)
	planned := q.planned
	q.mu.Unlock()

	// A single unplanned block has nothing to look ahead at
	if last != planned {
		q.reversePass()
		q.forwardPass()
	}
	q.recalculateTrapezoids()
}

// reverseKernel raises current's entry speed as far as it can still
// decelerate to next's entry. Caller holds q.mu.
func (q *MotionQueue) reverseKernel(idx int, next *Block) {
	cur := &q.blocks[idx]
	maxEntry := cur.MaxEntrySpeedSqr

	if cur.EntrySpeedSqr == maxEntry && (next == nil || !next.has(FlagRecalculate)) {
		return
	}

	newEntry := maxEntry
	if !cur.has(FlagNominalLength) {
		exitSqr := q.settings.MinimumPlannerSpeed * q.settings.MinimumPlannerSpeed
		if next != nil {
			exitSqr = next.EntrySpeedSqr
		}
		newEntry = math.Min(maxEntry, maxAllowableSpeedSqr(-cur.Acceleration, exitSqr, cur.Millimeters))
	}

	if cur.EntrySpeedSqr != newEntry {
		// A claimed block keeps its speed
		if q.busyLocked(idx) {
			return
		}
		cur.Flags |= FlagRecalculate
		cur.EntrySpeedSqr = newEntry
	}
}

func (q *MotionQueue) reversePass() {
	q.mu.Lock()
	idx := q.prevIndex(q.head)
	planned := q.planned
	head := q.head
	q.mu.Unlock()

	if planned == head {
		return
	}

	var next *Block
	for idx != planned {
		q.mu.Lock()
		cur := &q.blocks[idx]
		if !cur.IsSync() {
			q.reverseKernel(idx, next)
			next = cur
		}
		idx = q.prevIndex(idx)

		// Follow the planned index if the consumer advanced it
		for planned != q.planned {
			if idx == planned {
				q.mu.Unlock()
				return
			}
			planned = q.nextIndex(planned)
		}
		q.mu.Unlock()
	}
}

// forwardKernel caps current's entry speed to what prev can reach by
// accelerating over its length. Caller holds q.mu.
func (q *MotionQueue) forwardKernel(prev *Block, idx int) {
	cur := &q.blocks[idx]

	if !prev.has(FlagNominalLength) && prev.EntrySpeedSqr < cur.EntrySpeedSqr {
		newEntry := maxAllowableSpeedSqr(-prev.Acceleration, prev.EntrySpeedSqr, prev.Millimeters)
		if newEntry < cur.EntrySpeedSqr && !q.busyLocked(idx) {
			cur.Flags |= FlagRecalculate
			cur.EntrySpeedSqr = newEntry
			q.setPlannedLocked(idx)
		}
	}

	// Bracketed by maximum entry speeds, nothing before this can improve
	if cur.EntrySpeedSqr == cur.MaxEntrySpeedSqr {
		q.setPlannedLocked(idx)
	}
}

// setPlannedLocked moves planned to idx unless the consumer already
// claimed it
func (q *MotionQueue) setPlannedLocked(idx int) {
	if q.busyLocked(idx) {
		return
	}
	q.planned = idx
}

func (q *MotionQueue) forwardPass() {
	q.mu.Lock()
	idx := q.planned
	head := q.head
	q.mu.Unlock()

	var prev *Block
	prevIdx := -1
	for idx != head {
		q.mu.Lock()
		cur := &q.blocks[idx]
		if !cur.IsSync() {
			if prev != nil && !q.busyLocked(prevIdx) {
				q.forwardKernel(prev, idx)
			}
			prev = cur
			prevIdx = idx
		}
		q.mu.Unlock()
		idx = q.nextIndex(idx)
	}
}

// recalculateTrapezoids walks from the tail and recomputes the profile of
// every block whose entry or exit junction changed. The newest block
// always plans to stop at the minimum planner speed.
func (q *MotionQueue) recalculateTrapezoids() {
	q.mu.Lock()
	idx := q.tail
	head := q.head
	// Trailing sync blocks are not part of the motion chain
	for head != idx {
		p := q.prevIndex(head)
		if !q.blocks[p].IsSync() {
			break
		}
		head = p
	}
	q.mu.Unlock()

	var cur, next *Block
	curIdx, nextIdx := -1, -1
	var curEntry, nextEntry float64

	for idx != head {
		q.mu.Lock()
		next = &q.blocks[idx]
		nextIdx = idx
		if !next.IsSync() {
			nextEntry = math.Sqrt(next.EntrySpeedSqr)
			if cur != nil && (cur.has(FlagRecalculate) || next.has(FlagRecalculate)) {
				if !q.busyLocked(curIdx) {
					nomr := 1 / math.Sqrt(cur.NominalSpeedSqr)
					q.calculateTrapezoid(cur, curEntry*nomr, nextEntry*nomr)
				}
				cur.Flags &^= FlagRecalculate
			}
			cur = next
			curIdx = nextIdx
			curEntry = nextEntry
		}
		q.mu.Unlock()
		idx = q.nextIndex(idx)
	}

	if cur != nil {
		q.mu.Lock()
		if !q.busyLocked(curIdx) {
			nomr := 1 / math.Sqrt(cur.NominalSpeedSqr)
			q.calculateTrapezoid(cur, curEntry*nomr, q.settings.MinimumPlannerSpeed*nomr)
		}
		cur.Flags &^= FlagRecalculate
		q.mu.Unlock()
	}
}
