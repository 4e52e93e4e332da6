// Package compensation holds the coordinate modifiers applied to a target
// before it is turned into a block: skew correction, bed leveling,
// firmware retraction and backlash compensation.
package compensation

import (
	"gomotion/standalone"
)

// Skew corrects a non-square frame. Factors are the tangent of the
// measured skew angle per plane.
type Skew struct {
	xy, xz, yz float64
	minX, maxX float64
	minY, maxY float64
}

// NewSkew creates a skew modifier from configuration
func NewSkew(cfg standalone.SkewConfig) *Skew {
	return &Skew{
		xy:   cfg.XY,
		xz:   cfg.XZ,
		yz:   cfg.YZ,
		minX: cfg.MinX,
		maxX: cfg.MaxX,
		minY: cfg.MinY,
		maxY: cfg.MaxY,
	}
}

// Set replaces the skew factors (M852)
func (s *Skew) Set(xy, xz, yz float64) {
	s.xy, s.xz, s.yz = xy, xz, yz
}

// Factors returns the current xy, xz and yz factors
func (s *Skew) Factors() (xy, xz, yz float64) {
	return s.xy, s.xz, s.yz
}

// within reports whether a point lies on the bed. Unset bounds match
// everything.
func (s *Skew) within(x, y float64) bool {
	if s.maxX > s.minX && (x < s.minX || x > s.maxX) {
		return false
	}
	if s.maxY > s.minY && (y < s.minY || y > s.maxY) {
		return false
	}
	return true
}

// Apply maps a logical position to the skewed frame. Points off the bed
// pass through.
func (s *Skew) Apply(p standalone.Position) standalone.Position {
	x, y, z := p[standalone.AxisX], p[standalone.AxisY], p[standalone.AxisZ]
	if !s.within(x, y) {
		return p
	}
	p[standalone.AxisX] = x - y*s.xy - z*(s.xz-s.xy*s.yz)
	p[standalone.AxisY] = y - z*s.yz
	return p
}

// Unapply reverses Apply. The unskewed point is only taken when it lies on
// the bed, which is when Apply would have produced the input from it.
func (s *Skew) Unapply(p standalone.Position) standalone.Position {
	x, y, z := p[standalone.AxisX], p[standalone.AxisY], p[standalone.AxisZ]
	ux := x + y*s.xy + z*s.xz
	uy := y + z*s.yz
	if !s.within(ux, uy) {
		return p
	}
	p[standalone.AxisX] = ux
	p[standalone.AxisY] = uy
	return p
}
