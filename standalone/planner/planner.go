// Package planner implements the motion queue: a fixed ring of blocks fed
// by a single producer (the command layer) and drained by a single
// consumer (the step generator). Every buffered block is re-planned with a
// reverse and forward lookahead pass and given a trapezoid profile.
package planner

import (
	"errors"
	"sync"
	"sync/atomic"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/kinematics"
)

var (
	// ErrNoKinematics is returned when a queue is created without kinematics
	ErrNoKinematics = errors.New("planner needs kinematics")
)

// Stepper is the consumer side the queue controls
type Stepper interface {
	// WakeUp enables block consumption
	WakeUp()
	// Suspend disables block consumption and reports whether it was enabled
	Suspend() bool
	// QuickStop aborts the block being executed
	QuickStop()
	// Position returns the motor step counts
	Position() [standalone.NumAxis]int64
	// SetPosition overwrites the motor step counts
	SetPosition(pos [standalone.NumAxis]int64)
}

// Thermal gates extrusion and scales fans
type Thermal interface {
	TooColdToExtrude(extruder uint8) bool
	ScaledFanSpeed(fan int, speed uint8) uint8
}

// PositionModifier transforms a cartesian target and back
type PositionModifier interface {
	Apply(p standalone.Position) standalone.Position
	Unapply(p standalone.Position) standalone.Position
}

// BacklashCompensator adds take-up steps when an axis reverses
type BacklashCompensator interface {
	AddSteps(motorDelta [standalone.NumAxis]int64, dirBits uint8, mm float64,
		stepsPerMM [standalone.NumAxis]float64) [standalone.NumAxis]uint32
}

// MotionQueue owns the block ring, the machine position and the motion
// settings.
//
// Ring indices partition the buffer as tail <= nonbusy <= planned <= head.
// Blocks in [tail, nonbusy) are claimed by the consumer and immutable.
// Blocks in [nonbusy, planned) have settled speeds. mu guards the indices,
// the runtime accumulator and every write to a block that the consumer may
// be about to claim.
type MotionQueue struct {
	mu sync.Mutex

	blocks  []Block
	mask    int
	head    int
	tail    int
	planned int
	nonbusy int

	delayBeforeDelivering uint16
	runtimeUS             uint64
	cleaning              atomic.Uint32

	settings      Settings
	stepsToMM     [standalone.NumAxis]float64
	maxAccelSteps [standalone.NumAxis]uint32

	kin kinematics.Kinematics

	// Producer-owned state
	position     [standalone.NumAxis]int64 // axis steps of the last queued target
	positionCart standalone.Position       // logical cartesian of the last queued target

	previousSpeed           [standalone.NumAxis]float64
	previousNominalSpeedSqr float64
	previousSafeSpeed       float64
	previousUnitVec         [standalone.NumAxis]float64

	flowPercent      [MaxExtruders]float64
	filamentDiameter [MaxExtruders]float64
	eFactor          [MaxExtruders]float64
	fanSpeed         [MaxFans]uint8
	laserPower       uint8
	activeExtruder   uint8

	// Endstop bookkeeping, guarded by mu
	endstopHit     uint8
	triggeredSteps [standalone.NumAxis]int64
	epoch          uint32
	seenEpoch      uint32

	stepper  Stepper
	thermal  Thermal
	skew     PositionModifier
	leveling PositionModifier
	retract  PositionModifier
	backlash BacklashCompensator
	idle     func()
	echo     func(string)
}

// NewMotionQueue creates a queue with the given settings and kinematics
func NewMotionQueue(settings Settings, kin kinematics.Kinematics) (*MotionQueue, error) {
	if kin == nil {
		return nil, ErrNoKinematics
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	q := &MotionQueue{
		blocks:   make([]Block, settings.BufferSize),
		mask:     settings.BufferSize - 1,
		settings: settings,
		kin:      kin,
	}
	for i := range q.flowPercent {
		q.flowPercent[i] = 100
	}
	q.refreshAccelerationRates()
	q.refreshPositioning()
	q.refreshEFactors()
	return q, nil
}

// SetStepper attaches the consumer
func (q *MotionQueue) SetStepper(s Stepper) { q.stepper = s }

// SetThermal attaches the temperature gate
func (q *MotionQueue) SetThermal(t Thermal) { q.thermal = t }

// SetSkew attaches skew correction
func (q *MotionQueue) SetSkew(m PositionModifier) { q.skew = m }

// SetLeveling attaches bed leveling
func (q *MotionQueue) SetLeveling(m PositionModifier) { q.leveling = m }

// SetRetraction attaches firmware retraction
func (q *MotionQueue) SetRetraction(m PositionModifier) { q.retract = m }

// SetBacklash attaches backlash compensation
func (q *MotionQueue) SetBacklash(b BacklashCompensator) { q.backlash = b }

// SetIdle installs the function run while the producer waits
func (q *MotionQueue) SetIdle(fn func()) { q.idle = fn }

// SetEcho installs the sink for operator warnings
func (q *MotionQueue) SetEcho(fn func(string)) { q.echo = fn }

// Kinematics returns the machine kinematics
func (q *MotionQueue) Kinematics() kinematics.Kinematics { return q.kin }

// Settings returns a copy of the current settings
func (q *MotionQueue) Settings() Settings { return q.settings }

func (q *MotionQueue) echof(msg string) {
	core.DebugPrintln("[PLANNER] " + msg)
	if q.echo != nil {
		q.echo(msg)
	}
}

func (q *MotionQueue) runIdle() {
	if q.idle != nil {
		q.idle()
		return
	}
	core.ProcessTimers()
}

// refreshAccelerationRates recomputes per-axis accelerations in steps/s^2
func (q *MotionQueue) refreshAccelerationRates() {
	for a := range q.maxAccelSteps {
		q.maxAccelSteps[a] = uint32(q.settings.MaxAcceleration[a] * q.settings.StepsPerMM[a])
	}
}

// refreshPositioning recomputes mm-per-step and re-derives the step
// position from the cartesian position
func (q *MotionQueue) refreshPositioning() {
	for a := range q.stepsToMM {
		if q.settings.StepsPerMM[a] != 0 {
			q.stepsToMM[a] = 1 / q.settings.StepsPerMM[a]
		} else {
			q.stepsToMM[a] = 0
		}
	}
	q.SetPositionMM(q.positionCart)
}
