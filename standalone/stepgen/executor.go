// Package stepgen executes planner blocks as step pulses. A timer
// callback runs one Bresenham step event per invocation and reschedules
// itself at the interval given by the block's speed profile.
package stepgen

import (
	"sync/atomic"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/planner"
)

// Endstop reports whether a limit switch is pressed
type Endstop interface {
	Triggered() bool
}

// EndstopFunc adapts a function to Endstop
type EndstopFunc func() bool

// Triggered calls f
func (f EndstopFunc) Triggered() bool { return f() }

// Executor is the queue consumer. It implements planner.Stepper.
//
// Block state is only touched from timer callbacks. The enable, abort and
// endstop arming flags are written by the producer and are atomic.
type Executor struct {
	q      *planner.MotionQueue
	motors [standalone.NumAxis]*Motor
	scurve bool

	enabled atomic.Bool
	abort   atomic.Bool
	armed   atomic.Uint32

	endstops [standalone.NumAxis]Endstop
	onFans   func([planner.MaxFans]uint8)
	onLaser  func(uint8)

	stepTimer  core.Timer
	houseTimer core.Timer
	running    bool

	block           *planner.Block
	counter         [standalone.NumAxis]int64
	takeUp          [standalone.NumAxis]uint32
	eventsCompleted uint32
	accelTicks      uint32
	decelTicks      uint32
	interval        uint32
	rate            atomic.Uint32
}

// NewExecutor creates the consumer for q. Motors may be nil for unused
// slots.
func NewExecutor(q *planner.MotionQueue, motors [standalone.NumAxis]*Motor) *Executor {
	e := &Executor{
		q:      q,
		motors: motors,
		scurve: q.Settings().SCurve,
	}
	for i := range e.motors {
		if e.motors[i] == nil {
			e.motors[i] = NewMotor(standalone.Axis(i).String(), standalone.AxisConfig{}, nil)
		}
	}
	e.stepTimer.Handler = e.stepEvent
	e.houseTimer.Handler = e.housekeeping
	return e
}

// Start schedules the housekeeping tick
func (e *Executor) Start() {
	e.houseTimer.WakeTime = core.GetTime() + core.TimerFreq/core.HousekeepingHz
	core.ScheduleTimer(&e.houseTimer)
}

// Stop cancels both timers
func (e *Executor) Stop() {
	core.CancelTimer(&e.houseTimer)
	core.CancelTimer(&e.stepTimer)
	e.running = false
}

// SetEndstop attaches the endstop of an axis. Call before Start.
func (e *Executor) SetEndstop(axis standalone.Axis, es Endstop) {
	e.endstops[axis] = es
}

// ArmEndstop enables checking an axis endstop on every step event
func (e *Executor) ArmEndstop(axis standalone.Axis) {
	for {
		old := e.armed.Load()
		if e.armed.CompareAndSwap(old, old|uint32(axis.Bit())) {
			return
		}
	}
}

// DisarmEndstops stops all endstop checks
func (e *Executor) DisarmEndstops() {
	e.armed.Store(0)
}

// SetFanSink installs the function applying fan sync blocks
func (e *Executor) SetFanSink(fn func([planner.MaxFans]uint8)) { e.onFans = fn }

// SetLaserSink installs the function applying laser sync blocks
func (e *Executor) SetLaserSink(fn func(uint8)) { e.onLaser = fn }

// Motor returns the motor in a slot
func (e *Executor) Motor(axis standalone.Axis) *Motor {
	return e.motors[axis]
}

// WakeUp enables block consumption
func (e *Executor) WakeUp() {
	e.enabled.Store(true)
}

// Suspend disables block consumption and reports the previous state
func (e *Executor) Suspend() bool {
	return e.enabled.Swap(false)
}

// QuickStop drops the executing block at the next step event
func (e *Executor) QuickStop() {
	e.abort.Store(true)
}

// Position returns the motor step counts
func (e *Executor) Position() [standalone.NumAxis]int64 {
	var p [standalone.NumAxis]int64
	for i, m := range e.motors {
		p[i] = m.Position()
	}
	return p
}

// SetPosition overwrites the motor step counts
func (e *Executor) SetPosition(pos [standalone.NumAxis]int64) {
	for i, m := range e.motors {
		m.SetPosition(pos[i])
	}
}

// StepRate returns the current step rate in steps/s, 0 when idle
func (e *Executor) StepRate() uint32 {
	return e.rate.Load()
}

func (e *Executor) housekeeping(t *core.Timer) uint8 {
	e.q.Isr()
	if !e.running && e.enabled.Load() {
		e.running = true
		e.stepTimer.WakeTime = t.WakeTime + 1
		core.ScheduleTimer(&e.stepTimer)
	}
	t.WakeTime += core.TimerFreq / core.HousekeepingHz
	return core.SF_RESCHEDULE
}

func (e *Executor) stepEvent(t *core.Timer) uint8 {
	if e.abort.Swap(false) {
		if e.block != nil {
			e.block = nil
			e.q.ReleaseCurrentBlock()
		}
		e.stopMotors()
	}

	// Suspended: hold the block where it is until housekeeping restarts us
	if !e.enabled.Load() || (e.block == nil && !e.loadNext()) {
		e.running = false
		e.rate.Store(0)
		return core.SF_DONE
	}

	b := e.block
	for a, m := range e.motors {
		e.counter[a] += int64(b.Steps[a])
		if e.counter[a] > 0 {
			e.counter[a] -= int64(b.StepEventCount)
			if e.takeUp[a] > 0 {
				e.takeUp[a]--
				m.step(false)
			} else {
				m.step(true)
			}
		}
	}
	e.eventsCompleted++

	if armed := uint8(e.armed.Load()); armed != 0 && e.checkEndstops(armed) {
		t.WakeTime += e.interval
		return core.SF_RESCHEDULE
	}

	if e.eventsCompleted >= b.StepEventCount {
		e.block = nil
		e.rate.Store(0)
		e.q.ReleaseCurrentBlock()
		t.WakeTime += e.interval
		return core.SF_RESCHEDULE
	}

	e.interval = e.nextInterval()
	t.WakeTime += e.interval
	return core.SF_RESCHEDULE
}

// loadNext claims the next motion block, applying any sync blocks in
// front of it
func (e *Executor) loadNext() bool {
	for {
		b := e.q.GetCurrentBlock()
		if b == nil {
			return false
		}
		if b.IsSync() {
			e.applySync(b)
			e.q.ReleaseCurrentBlock()
			continue
		}
		if b.StepEventCount == 0 {
			e.q.ReleaseCurrentBlock()
			continue
		}
		e.startBlock(b)
		return true
	}
}

func (e *Executor) applySync(b *planner.Block) {
	if b.Flags&planner.FlagSyncPosition != 0 {
		e.SetPosition(b.Position)
	}
	if b.Flags&planner.FlagSyncFans != 0 && e.onFans != nil {
		e.onFans(b.FanSpeed)
	}
	if b.Flags&planner.FlagSyncLaser != 0 && e.onLaser != nil {
		e.onLaser(b.LaserPower)
	}
}

func (e *Executor) startBlock(b *planner.Block) {
	e.block = b
	e.eventsCompleted = 0
	e.accelTicks = 0
	e.decelTicks = 0
	e.takeUp = b.Backlash

	// Bresenham counters start at minus half the event count
	for a, m := range e.motors {
		e.counter[a] = -int64(b.StepEventCount >> 1)
		m.setDirection(b.DirectionBits&standalone.Axis(a).Bit() != 0)
	}

	e.interval = intervalForRate(b.InitialRate)
	e.rate.Store(b.InitialRate)
}

// checkEndstops reports whether an armed endstop fired. The block is
// dropped and the queue truncated at the trigger position.
func (e *Executor) checkEndstops(armed uint8) bool {
	for a := standalone.AxisX; a < standalone.NumAxis; a++ {
		if armed&a.Bit() == 0 || e.endstops[a] == nil || !e.endstops[a].Triggered() {
			continue
		}
		for {
			old := e.armed.Load()
			if e.armed.CompareAndSwap(old, old&^uint32(a.Bit())) {
				break
			}
		}
		e.block = nil
		e.stopMotors()
		e.q.EndstopTriggered(a)
		return true
	}
	return false
}

func (e *Executor) stopMotors() {
	for _, m := range e.motors {
		m.Stop()
	}
}

// nextInterval advances the speed profile by the previous interval and
// returns the timer ticks until the next step event
func (e *Executor) nextInterval() uint32 {
	b := e.block
	var rate uint32

	switch {
	case e.eventsCompleted <= b.AccelerateUntil:
		e.accelTicks += e.interval
		if e.scurve {
			rate = scurveRate(b.InitialRate, b.CruiseRate, e.accelTicks, b.AccelerationTime)
		} else {
			rate = b.InitialRate + rateDelta(b.AccelerationStepsPerS2, e.accelTicks)
			if rate > b.CruiseRate {
				rate = b.CruiseRate
			}
		}
	case e.eventsCompleted > b.DecelerateAfter:
		e.decelTicks += e.interval
		if e.scurve {
			rate = scurveRate(b.CruiseRate, b.FinalRate, e.decelTicks, b.DecelerationTime)
		} else {
			d := rateDelta(b.AccelerationStepsPerS2, e.decelTicks)
			if d < b.CruiseRate && b.CruiseRate-d > b.FinalRate {
				rate = b.CruiseRate - d
			} else {
				rate = b.FinalRate
			}
		}
	default:
		rate = b.CruiseRate
	}

	e.rate.Store(rate)
	return intervalForRate(rate)
}

// rateDelta returns the rate gained over ticks at accel steps/s^2
func rateDelta(accel, ticks uint32) uint32 {
	return uint32(uint64(accel) * uint64(ticks) / core.TimerFreq)
}

func intervalForRate(rate uint32) uint32 {
	if rate == 0 {
		rate = 1
	}
	iv := core.TimerFreq / rate
	if iv == 0 {
		iv = 1
	}
	return iv
}

// scurveRate blends from v0 to v1 along the quintic 6u^5 - 15u^4 + 10u^3,
// whose first and second derivatives vanish at both ends
func scurveRate(v0, v1, ticks, total uint32) uint32 {
	if total == 0 || ticks >= total {
		return v1
	}
	u := float64(ticks) / float64(total)
	s := u * u * u * (10 + u*(-15+6*u))
	return uint32(float64(v0) + (float64(v1)-float64(v0))*s)
}
