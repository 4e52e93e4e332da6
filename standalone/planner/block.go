package planner

import (
	"gomotion/standalone"
)

// BlockFlag marks block state and the kind of sync block
type BlockFlag uint8

const (
	// FlagRecalculate means the trapezoid must be recomputed before the
	// block can be executed
	FlagRecalculate BlockFlag = 1 << iota
	// FlagNominalLength means the block can reach nominal speed from rest
	// and still stop within its length
	FlagNominalLength
	// FlagSyncPosition makes the block set the motor counts
	FlagSyncPosition
	// FlagSyncFans makes the block apply its fan speeds
	FlagSyncFans
	// FlagSyncLaser makes the block apply its laser power
	FlagSyncLaser
)

// FlagSync covers every sync block kind
const FlagSync = FlagSyncPosition | FlagSyncFans | FlagSyncLaser

// MaxFans is the number of fan speeds carried per block
const MaxFans = 4

// MaxExtruders is the number of extruders with flow settings
const MaxExtruders = 4

// Block is one straight-line segment in motor step space. Speeds are
// stored squared in mm/s, rates in steps/s.
type Block struct {
	Flags BlockFlag

	Steps          [standalone.NumAxis]uint32
	Backlash       [standalone.NumAxis]uint32 // take-up steps included in Steps
	StepEventCount uint32
	DirectionBits  uint8 // bit set = negative direction

	Extruder   uint8
	FanSpeed   [MaxFans]uint8
	LaserPower uint8

	Millimeters            float64
	Acceleration           float64 // mm/s^2
	AccelerationStepsPerS2 uint32

	NominalSpeedSqr  float64
	EntrySpeedSqr    float64
	MaxEntrySpeedSqr float64

	NominalRate uint32
	InitialRate uint32
	FinalRate   uint32
	CruiseRate  uint32

	AccelerateUntil uint32
	DecelerateAfter uint32

	// S-curve timing in timer ticks, with 2^32/ticks inverses
	AccelerationTime        uint32
	DecelerationTime        uint32
	AccelerationTimeInverse uint32
	DecelerationTimeInverse uint32

	SegmentTimeUS uint32

	// Motor step position carried by sync blocks
	Position [standalone.NumAxis]int64
}

// IsSync reports whether the block carries no motion
func (b *Block) IsSync() bool {
	return b.Flags&FlagSync != 0
}

func (b *Block) has(f BlockFlag) bool {
	return b.Flags&f != 0
}

// Direction returns -1 or 1 for an axis
func (b *Block) Direction(axis standalone.Axis) int {
	if b.DirectionBits&axis.Bit() != 0 {
		return -1
	}
	return 1
}
