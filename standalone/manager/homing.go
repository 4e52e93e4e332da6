package manager

import (
	"context"
	"errors"
	"fmt"

	"gomotion/standalone"
	"gomotion/standalone/gcode"
)

var (
	// ErrHomingFailed is returned when an axis travels its full homing
	// distance without reaching the endstop
	ErrHomingFailed = errors.New("homing failed")
)

// homingTravel is how far beyond the axis length a homing move may go
const homingTravel = 1.5

// homer drives cartesian and core machines onto their minimum endstops,
// one axis at a time
type homer struct {
	m *Manager
}

func (h *homer) Home(ctx context.Context, axes uint8) error {
	for _, a := range []standalone.Axis{standalone.AxisZ, standalone.AxisX, standalone.AxisY} {
		if axes&a.Bit() == 0 {
			continue
		}
		if err := h.homeAxis(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (h *homer) homeAxis(ctx context.Context, a standalone.Axis) error {
	m := h.m
	q := m.queue
	ac, _ := m.config.Axis(a)
	home := gcode.HomePosition(m.config, false, a)

	travel := (ac.MaxPosition - ac.MinPosition) * homingTravel
	if travel <= 0 {
		travel = 300
	}
	fr := ac.HomingFeedrate
	if fr <= 0 {
		fr = 5
	}

	q.ClearEndstopHit()
	m.executor.ArmEndstop(a)

	target := q.PositionCartesian()
	target[a] -= travel
	q.BufferLine(target, fr, q.ActiveExtruder(), 0)
	err := q.Synchronize(ctx)
	m.executor.DisarmEndstops()
	if err != nil {
		return err
	}

	if q.EndstopHit()&a.Bit() == 0 {
		return fmt.Errorf("%w: %s endstop not reached", ErrHomingFailed, a)
	}
	q.ClearEndstopHit()

	pos := q.PositionCartesian()
	pos[a] = home
	q.SetPositionMM(pos)
	return nil
}
