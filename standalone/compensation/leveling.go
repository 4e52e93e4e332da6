package compensation

import (
	"errors"
	"fmt"
	"math"

	"gomotion/standalone"
)

var (
	// ErrLevelingData is returned when probe points or a mesh cannot
	// describe a bed surface
	ErrLevelingData = errors.New("invalid leveling data")
)

// Leveler adjusts a cartesian target for bed topography
type Leveler interface {
	Apply(p standalone.Position) standalone.Position
	Unapply(p standalone.Position) standalone.Position
	Enabled() bool
	SetEnabled(on bool)
	SetFadeHeight(h float64)
}

// NewLeveler builds the leveler selected in the configuration. Mode "none"
// (or empty) returns nil.
func NewLeveler(cfg standalone.LevelingConfig) (Leveler, error) {
	switch cfg.Mode {
	case "", "none":
		return nil, nil
	case "planar":
		l, err := NewPlaneLeveler(cfg.Points, cfg.Fulcrum)
		if err != nil {
			return nil, err
		}
		l.SetEnabled(cfg.Enabled)
		return l, nil
	case "mesh":
		l, err := NewMeshLeveler(cfg.MeshMin, cfg.MeshMax, cfg.Mesh)
		if err != nil {
			return nil, err
		}
		l.SetFadeHeight(cfg.FadeHeight)
		l.SetEnabled(cfg.Enabled)
		return l, nil
	}
	return nil, fmt.Errorf("%w: unknown mode %q", ErrLevelingData, cfg.Mode)
}

// PlaneLeveler rotates positions about a fulcrum so that a tilted bed
// plane becomes level. The rotation matrix is orthonormal, so the inverse
// is its transpose.
type PlaneLeveler struct {
	m       [3][3]float64
	fulcrum [2]float64
	enabled bool
}

// NewPlaneLeveler fits a plane through at least three probe points
// (x, y, measured z) by least squares.
func NewPlaneLeveler(points [][3]float64, fulcrum [2]float64) (*PlaneLeveler, error) {
	if len(points) < 3 {
		return nil, fmt.Errorf("%w: need 3 probe points, have %d", ErrLevelingData, len(points))
	}

	var sx, sy, sz, sxx, syy, sxy, sxz, syz float64
	n := float64(len(points))
	for _, p := range points {
		sx += p[0]
		sy += p[1]
		sz += p[2]
		sxx += p[0] * p[0]
		syy += p[1] * p[1]
		sxy += p[0] * p[1]
		sxz += p[0] * p[2]
		syz += p[1] * p[2]
	}

	// Solve for z = a*x + b*y + d
	det := det3(sxx, sxy, sx, sxy, syy, sy, sx, sy, n)
	if math.Abs(det) < 1e-12 {
		return nil, fmt.Errorf("%w: probe points are collinear", ErrLevelingData)
	}
	a := det3(sxz, sxy, sx, syz, syy, sy, sz, sy, n) / det
	b := det3(sxx, sxz, sx, sxy, syz, sy, sx, sz, n) / det

	l := &PlaneLeveler{fulcrum: fulcrum}
	l.m = lookAt([3]float64{-a, -b, 1})
	return l, nil
}

// NewPlaneLevelerFromMatrix wraps an existing rotation matrix
func NewPlaneLevelerFromMatrix(m [3][3]float64, fulcrum [2]float64) *PlaneLeveler {
	return &PlaneLeveler{m: m, fulcrum: fulcrum}
}

// Matrix returns the bed rotation matrix
func (l *PlaneLeveler) Matrix() [3][3]float64 {
	return l.m
}

// Enabled reports whether the plane correction is applied
func (l *PlaneLeveler) Enabled() bool { return l.enabled }

// SetEnabled switches the plane correction on or off (M420 S)
func (l *PlaneLeveler) SetEnabled(on bool) { l.enabled = on }

// SetFadeHeight is a no-op: planar correction applies at every height
func (l *PlaneLeveler) SetFadeHeight(float64) {}

// Apply rotates the target into the tilted bed frame
func (l *PlaneLeveler) Apply(p standalone.Position) standalone.Position {
	if !l.enabled {
		return p
	}
	v := [3]float64{p[0] - l.fulcrum[0], p[1] - l.fulcrum[1], p[2]}
	var r [3]float64
	for c := 0; c < 3; c++ {
		r[c] = v[0]*l.m[0][c] + v[1]*l.m[1][c] + v[2]*l.m[2][c]
	}
	p[0] = r[0] + l.fulcrum[0]
	p[1] = r[1] + l.fulcrum[1]
	p[2] = r[2]
	return p
}

// Unapply rotates back with the transposed matrix
func (l *PlaneLeveler) Unapply(p standalone.Position) standalone.Position {
	if !l.enabled {
		return p
	}
	v := [3]float64{p[0] - l.fulcrum[0], p[1] - l.fulcrum[1], p[2]}
	var r [3]float64
	for row := 0; row < 3; row++ {
		r[row] = v[0]*l.m[row][0] + v[1]*l.m[row][1] + v[2]*l.m[row][2]
	}
	p[0] = r[0] + l.fulcrum[0]
	p[1] = r[1] + l.fulcrum[1]
	p[2] = r[2]
	return p
}

// lookAt builds an orthonormal basis whose Z row is the given normal
func lookAt(normal [3]float64) [3][3]float64 {
	z := normalize(normal)
	x := normalize([3]float64{1, 0, -z[0] / z[2]})
	y := normalize([3]float64{
		z[1]*x[2] - z[2]*x[1],
		z[2]*x[0] - z[0]*x[2],
		z[0]*x[1] - z[1]*x[0],
	})
	return [3][3]float64{x, y, z}
}

func normalize(v [3]float64) [3]float64 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}

func det3(a, b, c, d, e, f, g, h, i float64) float64 {
	return a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
}

// MeshLeveler offsets Z by a bilinear interpolation of a probed grid.
// The correction fades out linearly up to the fade height.
type MeshLeveler struct {
	min, max [2]float64
	mesh     [][]float64 // mesh[y][x]
	nx, ny   int
	fade     float64
	enabled  bool
}

// NewMeshLeveler validates and wraps a rectangular grid of Z offsets
func NewMeshLeveler(min, max [2]float64, mesh [][]float64) (*MeshLeveler, error) {
	ny := len(mesh)
	if ny < 2 {
		return nil, fmt.Errorf("%w: mesh needs at least 2 rows", ErrLevelingData)
	}
	nx := len(mesh[0])
	if nx < 2 {
		return nil, fmt.Errorf("%w: mesh needs at least 2 columns", ErrLevelingData)
	}
	for j, row := range mesh {
		if len(row) != nx {
			return nil, fmt.Errorf("%w: mesh row %d has %d points, want %d", ErrLevelingData, j, len(row), nx)
		}
	}
	if max[0] <= min[0] || max[1] <= min[1] {
		return nil, fmt.Errorf("%w: empty mesh bounds", ErrLevelingData)
	}
	return &MeshLeveler{min: min, max: max, mesh: mesh, nx: nx, ny: ny}, nil
}

// Enabled reports whether the mesh correction is applied
func (l *MeshLeveler) Enabled() bool { return l.enabled }

// SetEnabled switches the mesh correction on or off (M420 S)
func (l *MeshLeveler) SetEnabled(on bool) { l.enabled = on }

// SetFadeHeight sets the height at which the correction reaches zero.
// Zero disables fading.
func (l *MeshLeveler) SetFadeHeight(h float64) {
	if h < 0 {
		h = 0
	}
	l.fade = h
}

// FadeHeight returns the configured fade height
func (l *MeshLeveler) FadeHeight() float64 {
	return l.fade
}

// ZOffset returns the interpolated mesh offset at (x, y). Outside the grid
// the edge cells are extrapolated.
func (l *MeshLeveler) ZOffset(x, y float64) float64 {
	gx := (x - l.min[0]) / (l.max[0] - l.min[0]) * float64(l.nx-1)
	gy := (y - l.min[1]) / (l.max[1] - l.min[1]) * float64(l.ny-1)

	cx := clampCell(int(math.Floor(gx)), l.nx)
	cy := clampCell(int(math.Floor(gy)), l.ny)
	fx := gx - float64(cx)
	fy := gy - float64(cy)

	z0 := l.mesh[cy][cx] + (l.mesh[cy][cx+1]-l.mesh[cy][cx])*fx
	z1 := l.mesh[cy+1][cx] + (l.mesh[cy+1][cx+1]-l.mesh[cy+1][cx])*fx
	return z0 + (z1-z0)*fy
}

func clampCell(c, n int) int {
	if c < 0 {
		return 0
	}
	if c > n-2 {
		return n - 2
	}
	return c
}

func (l *MeshLeveler) fadeFactor(z float64) float64 {
	if l.fade == 0 {
		return 1
	}
	if z >= l.fade {
		return 0
	}
	return 1 - z/l.fade
}

// Apply adds the faded mesh offset to Z
func (l *MeshLeveler) Apply(p standalone.Position) standalone.Position {
	if !l.enabled {
		return p
	}
	f := l.fadeFactor(p[standalone.AxisZ])
	if f == 0 {
		return p
	}
	p[standalone.AxisZ] += l.ZOffset(p[standalone.AxisX], p[standalone.AxisY]) * f
	return p
}

// Unapply solves z' = z + m*(1 - z/H) for z
func (l *MeshLeveler) Unapply(p standalone.Position) standalone.Position {
	if !l.enabled {
		return p
	}
	m := l.ZOffset(p[standalone.AxisX], p[standalone.AxisY])
	zl := p[standalone.AxisZ]
	if l.fade == 0 {
		p[standalone.AxisZ] = zl - m
		return p
	}
	div := 1 - m/l.fade
	if div != 0 {
		if z := (zl - m) / div; z < l.fade {
			p[standalone.AxisZ] = z
		}
	}
	return p
}
