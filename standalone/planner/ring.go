package planner

// Ring index helpers. The buffer size is a power of two, so wrapping is a
// mask. Callers that cross the producer/consumer boundary hold q.mu.

func (q *MotionQueue) nextIndex(i int) int {
	return (i + 1) & q.mask
}

func (q *MotionQueue) prevIndex(i int) int {
	return (i - 1) & q.mask
}

func (q *MotionQueue) movesPlannedLocked() int {
	return (q.head - q.tail) & q.mask
}

// busyLocked reports whether index i lies in [tail, nonbusy)
func (q *MotionQueue) busyLocked(i int) bool {
	return (i-q.tail)&q.mask < (q.nonbusy-q.tail)&q.mask
}

// MovesPlanned returns the number of queued blocks
func (q *MotionQueue) MovesPlanned() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.movesPlannedLocked()
}

// NonbusyMovesPlanned returns the number of queued blocks not yet claimed
func (q *MotionQueue) NonbusyMovesPlanned() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return (q.head - q.nonbusy) & q.mask
}

// MovesFree returns the number of free slots
func (q *MotionQueue) MovesFree() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.movesFreeLocked()
}

func (q *MotionQueue) movesFreeLocked() int {
	return len(q.blocks) - 1 - q.movesPlannedLocked()
}

// IsFull reports whether no block can be added
func (q *MotionQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextIndex(q.head) == q.tail
}

// HasBlocksQueued reports whether any block is waiting or executing
func (q *MotionQueue) HasBlocksQueued() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head != q.tail
}

// Capacity returns the ring size; at most Capacity()-1 blocks are queued
func (q *MotionQueue) Capacity() int {
	return len(q.blocks)
}

// BufferRuntime returns the summed segment time of queued blocks in µs
func (q *MotionQueue) BufferRuntime() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.runtimeUS
}

// IsBlockBusy reports whether the consumer has claimed b
func (q *MotionQueue) IsBlockBusy(b *Block) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.blocks {
		if &q.blocks[i] == b {
			return q.busyLocked(i)
		}
	}
	return false
}
