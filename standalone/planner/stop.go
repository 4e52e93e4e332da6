package planner

import (
	"context"

	"gomotion/core"
	"gomotion/standalone"
)

// QuickStop discards every queued block and aborts the one executing.
// New moves are refused until Isr has been called CleaningTicks times.
// The caller resyncs the position with SyncFromSteppers.
func (q *MotionQueue) QuickStop() {
	wasEnabled := false
	if q.stepper != nil {
		wasEnabled = q.stepper.Suspend()
	}

	q.mu.Lock()
	discarded := q.movesPlannedLocked()
	q.nonbusy = q.tail
	q.planned = q.tail
	q.head = q.tail
	q.delayBeforeDelivering = q.settings.FirstMoveDelayMS
	q.runtimeUS = 0
	q.previousNominalSpeedSqr = 0
	q.previousSpeed = [standalone.NumAxis]float64{}
	q.previousSafeSpeed = 0
	q.mu.Unlock()

	q.cleaning.Store(q.settings.CleaningTicks)

	if q.stepper != nil {
		if wasEnabled {
			q.stepper.WakeUp()
		}
		q.stepper.QuickStop()
	}

	core.RecordTiming(core.EvtQuickStop, 0, core.GetTime(), uint32(discarded), 0)
}

// QuickPause suspends block consumption without discarding anything
func (q *MotionQueue) QuickPause() {
	if q.stepper != nil {
		q.stepper.Suspend()
	}
}

// QuickResume re-enables block consumption after QuickPause
func (q *MotionQueue) QuickResume() {
	if q.stepper != nil {
		q.stepper.WakeUp()
	}
}

// Isr is the periodic housekeeping tick. It counts down the cleaning
// period that follows a quick stop.
func (q *MotionQueue) Isr() {
	for {
		c := q.cleaning.Load()
		if c == 0 {
			return
		}
		if q.cleaning.CompareAndSwap(c, c-1) {
			if c == 1 {
				core.RecordTiming(core.EvtCleaningDone, 0, core.GetTime(), 0, 0)
			}
			return
		}
	}
}

// IsCleaning reports whether moves are being refused after a quick stop
func (q *MotionQueue) IsCleaning() bool {
	return q.cleaning.Load() != 0
}

// Synchronize idles until every queued block has executed and any
// cleaning period has expired
func (q *MotionQueue) Synchronize(ctx context.Context) error {
	for q.HasBlocksQueued() || q.IsCleaning() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		q.runIdle()
	}
	return nil
}

// Dwell idles for us microseconds of timer time without waiting for the
// queue. Blocks keep executing while it waits.
func (q *MotionQueue) Dwell(ctx context.Context, us uint32) error {
	remaining := uint64(us)
	last := core.GetTime()
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		q.runIdle()
		now := core.GetTime()
		elapsed := uint64(core.TimerToUS(now - last))
		last = now
		if elapsed >= remaining {
			return nil
		}
		remaining -= elapsed
	}
	return nil
}
