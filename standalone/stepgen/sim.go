package stepgen

import (
	"sync/atomic"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/kinematics"
)

// SimBackend is a backend without hardware. It counts pulses and records
// the direction line.
type SimBackend struct {
	steps    atomic.Uint64
	reverse  atomic.Bool
	stops    atomic.Uint32
	stepPin  uint8
	dirPin   uint8
	inverted bool
}

// NewSimBackend creates a simulated backend
func NewSimBackend() *SimBackend {
	return &SimBackend{}
}

func (b *SimBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error {
	b.stepPin = stepPin
	b.dirPin = dirPin
	b.inverted = invertDir
	return nil
}

func (b *SimBackend) Step() { b.steps.Add(1) }

func (b *SimBackend) SetDirection(dir bool) { b.reverse.Store(dir) }

func (b *SimBackend) Stop() { b.stops.Add(1) }

func (b *SimBackend) GetName() string { return "sim" }

// Steps returns the number of pulses emitted
func (b *SimBackend) Steps() uint64 { return b.steps.Load() }

// Reverse reports the last direction written
func (b *SimBackend) Reverse() bool { return b.reverse.Load() }

// GetInfo describes the simulated backend
func (b *SimBackend) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:        "sim",
		MaxStepRate: core.TimerFreq,
	}
}

// SimEndstop returns an endstop that fires once the given axis reaches
// limitMM, measured from the executor's motor counts. atMin selects whether
// the switch sits at the low or the high end of travel.
func SimEndstop(e *Executor, kin kinematics.Kinematics, axis standalone.Axis, limitMM, stepsPerMM float64, atMin bool) Endstop {
	limit := limitMM * stepsPerMM
	return EndstopFunc(func() bool {
		steps := kin.AxisSteps(e.Position())
		if atMin {
			return steps[axis] <= limit
		}
		return steps[axis] >= limit
	})
}

// SimClock returns an idle function that advances the simulated clock by
// one housekeeping period and runs the timers that became due
func SimClock() func() {
	period := uint32(core.TimerFreq / core.HousekeepingHz)
	return func() {
		core.AdvanceTime(period)
	}
}
