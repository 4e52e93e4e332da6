package compensation

import (
	"math"
	"testing"

	"gomotion/standalone"
)

func approxPos(a, b standalone.Position, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

var samplePoints = []standalone.Position{
	{10, 10, 0.2, 0},
	{120, 80, 5, 12.5},
	{55.5, 190, 0, -1},
	{180, 20, 15, 3},
}

func TestSkewRoundTrip(t *testing.T) {
	s := NewSkew(standalone.SkewConfig{XY: 0.01, XZ: -0.005, YZ: 0.003, MinX: 0, MaxX: 200, MinY: 0, MaxY: 200})

	for _, p := range samplePoints {
		q := s.Apply(p)
		if q == p {
			t.Errorf("Skew.Apply(%v) did not change the point", p)
		}
		back := s.Unapply(q)
		if !approxPos(back, p, 1e-9) {
			t.Errorf("Skew round trip %v -> %v -> %v", p, q, back)
		}
	}

	// Points at the bed edge are skewed off the bed and must still come back
	edge := NewSkew(standalone.SkewConfig{XY: 0.01, MinX: 0, MaxX: 200, MinY: 0, MaxY: 200})
	for _, p := range []standalone.Position{
		{0.5, 100, 0, 0},
		{0, 200, 0, 0},
		{1.2, 150, 0, 0},
		{200, 0, 0, 0},
	} {
		q := edge.Apply(p)
		if back := edge.Unapply(q); !approxPos(back, p, 1e-9) {
			t.Errorf("Skew round trip at edge %v -> %v -> %v", p, q, back)
		}
	}
}

func TestSkewOutsideBounds(t *testing.T) {
	s := NewSkew(standalone.SkewConfig{XY: 0.01, MinX: 0, MaxX: 200, MinY: 0, MaxY: 200})
	p := standalone.Position{250, 10, 0, 0}
	if q := s.Apply(p); q != p {
		t.Errorf("Expected passthrough outside bed, got %v", q)
	}
}

func TestPlaneLevelerRoundTrip(t *testing.T) {
	points := [][3]float64{
		{20, 20, 0.10},
		{180, 20, -0.05},
		{100, 180, 0.20},
	}
	l, err := NewPlaneLeveler(points, [2]float64{100, 100})
	if err != nil {
		t.Fatal(err)
	}
	l.SetEnabled(true)

	for _, p := range samplePoints {
		back := l.Unapply(l.Apply(p))
		if !approxPos(back, p, 1e-9) {
			t.Errorf("Plane round trip %v -> %v", p, back)
		}
	}
}

func TestPlaneLevelerFollowsTilt(t *testing.T) {
	// Bed rising 0.001 mm per mm of X
	points := [][3]float64{
		{0, 0, 0},
		{100, 0, 0.1},
		{0, 100, 0},
	}
	l, err := NewPlaneLeveler(points, [2]float64{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	l.SetEnabled(true)

	q := l.Apply(standalone.Position{100, 0, 0, 0})
	if math.Abs(q[standalone.AxisZ]-0.1) > 1e-4 {
		t.Errorf("Leveled Z at x=100 = %v, want ~0.1", q[standalone.AxisZ])
	}
}

func TestPlaneLevelerCollinear(t *testing.T) {
	points := [][3]float64{{0, 0, 0}, {10, 10, 0}, {20, 20, 0}}
	if _, err := NewPlaneLeveler(points, [2]float64{}); err == nil {
		t.Error("Expected error for collinear points")
	}
}

func testMesh(t *testing.T) *MeshLeveler {
	mesh := [][]float64{
		{0.00, 0.05, 0.10},
		{-0.02, 0.03, 0.08},
		{-0.05, 0.00, 0.04},
	}
	l, err := NewMeshLeveler([2]float64{0, 0}, [2]float64{200, 200}, mesh)
	if err != nil {
		t.Fatal(err)
	}
	l.SetEnabled(true)
	return l
}

func TestMeshInterpolation(t *testing.T) {
	l := testMesh(t)

	tests := []struct {
		x, y float64
		want float64
	}{
		{0, 0, 0},
		{100, 0, 0.05},
		{200, 200, 0.04},
		{50, 0, 0.025},
		{100, 100, 0.03},
		{-100, 0, -0.05}, // extrapolated
	}
	for _, test := range tests {
		if got := l.ZOffset(test.x, test.y); math.Abs(got-test.want) > 1e-9 {
			t.Errorf("ZOffset(%v, %v) = %v, want %v", test.x, test.y, got, test.want)
		}
	}
}

func TestMeshFadeRoundTrip(t *testing.T) {
	for _, fade := range []float64{0, 10} {
		l := testMesh(t)
		l.SetFadeHeight(fade)
		for _, p := range samplePoints {
			back := l.Unapply(l.Apply(p))
			if !approxPos(back, p, 1e-9) {
				t.Errorf("fade=%v: mesh round trip %v -> %v", fade, p, back)
			}
		}
	}
}

func TestMeshFadeAboveHeight(t *testing.T) {
	l := testMesh(t)
	l.SetFadeHeight(10)
	p := standalone.Position{100, 0, 12, 0}
	if q := l.Apply(p); q != p {
		t.Errorf("Expected no correction above fade height, got %v", q)
	}
}

func TestMeshDisabled(t *testing.T) {
	l := testMesh(t)
	l.SetEnabled(false)
	p := standalone.Position{100, 0, 1, 0}
	if q := l.Apply(p); q != p {
		t.Errorf("Disabled mesh changed %v to %v", p, q)
	}
}

func TestRetractionCycle(t *testing.T) {
	r := NewRetraction(standalone.RetractConfig{Length: 2, ZHop: 0.4, Feedrate: 40, RecoverFeedrate: 30, RecoverExtra: 0.1})

	p := standalone.Position{10, 10, 1, 5}
	if _, ok := r.Retract(); !ok {
		t.Fatal("Retract rejected")
	}
	if _, ok := r.Retract(); ok {
		t.Error("Second retract should be rejected")
	}
	q := r.Apply(p)
	if !approxPos(q, standalone.Position{10, 10, 1.4, 3}, 1e-12) {
		t.Errorf("Retracted position = %v", q)
	}
	if back := r.Unapply(q); !approxPos(back, p, 1e-12) {
		t.Errorf("Retraction round trip %v -> %v", p, back)
	}

	fr, ok := r.Recover()
	if !ok || fr != 30 {
		t.Errorf("Recover = %v, %v", fr, ok)
	}
	q = r.Apply(p)
	if !approxPos(q, standalone.Position{10, 10, 1, 5.1}, 1e-12) {
		t.Errorf("Recovered position = %v", q)
	}
}

func TestBacklashReversal(t *testing.T) {
	machine := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{
		"x": {StepsPerMM: 80, Backlash: 0.1},
		"y": {StepsPerMM: 80},
		"z": {StepsPerMM: 400},
	}}
	b := NewBacklash(standalone.BacklashConfig{Correction: 1}, machine)
	spm := [standalone.NumAxis]float64{80, 80, 400, 93}

	// First move positive: no change from the initial direction
	extra := b.AddSteps([4]int64{800, 0, 0, 0}, 0, 10, spm)
	if extra[standalone.AxisX] != 0 {
		t.Errorf("Unexpected correction on first move: %v", extra)
	}

	// Reversal: 0.1mm * 80 = 8 steps
	extra = b.AddSteps([4]int64{-800, 0, 0, 0}, standalone.AxisX.Bit(), 10, spm)
	if extra[standalone.AxisX] != 8 {
		t.Errorf("Reversal correction = %d, want 8", extra[standalone.AxisX])
	}

	// Same direction: nothing more
	extra = b.AddSteps([4]int64{-800, 0, 0, 0}, standalone.AxisX.Bit(), 10, spm)
	if extra[standalone.AxisX] != 0 {
		t.Errorf("Correction without reversal = %d", extra[standalone.AxisX])
	}
	if b.Residual(standalone.AxisX) != 0 {
		t.Errorf("Residual = %d, want 0", b.Residual(standalone.AxisX))
	}
}

func TestBacklashSmoothing(t *testing.T) {
	machine := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{
		"x": {StepsPerMM: 100, Backlash: 0.2},
		"y": {StepsPerMM: 100},
		"z": {StepsPerMM: 400},
	}}
	b := NewBacklash(standalone.BacklashConfig{Correction: 1, SmoothingMM: 2}, machine)
	spm := [standalone.NumAxis]float64{100, 100, 400, 93}

	b.AddSteps([4]int64{100, 0, 0, 0}, 0, 1, spm)

	// Reversal owes 20 steps, spread over 2mm of 0.5mm segments
	var total uint32
	for i := 0; i < 12; i++ {
		extra := b.AddSteps([4]int64{-50, 0, 0, 0}, standalone.AxisX.Bit(), 0.5, spm)
		if extra[standalone.AxisX] > 5 {
			t.Errorf("Segment %d took %d steps, want at most 5", i, extra[standalone.AxisX])
		}
		total += extra[standalone.AxisX]
	}
	if total != 20 {
		t.Errorf("Total correction = %d, want 20", total)
	}
}

func TestBacklashSmoothingRoundsTowardPositive(t *testing.T) {
	machine := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{
		"x": {StepsPerMM: 100, Backlash: 0.23},
		"y": {StepsPerMM: 100},
		"z": {StepsPerMM: 400},
	}}
	spm := [standalone.NumAxis]float64{100, 100, 400, 93}

	tests := []struct {
		name      string
		first     int64
		firstDir  uint8
		second    int64
		secondDir uint8
		want      uint32
		residual  int32
	}{
		// 10% of -23 is -2.3, which rounds up to -2
		{"reversing negative", 100, 0, -50, standalone.AxisX.Bit(), 2, -21},
		// 10% of 23 is 2.3, which rounds up to 3
		{"reversing positive", -100, standalone.AxisX.Bit(), 50, 0, 3, 20},
	}

	for _, test := range tests {
		b := NewBacklash(standalone.BacklashConfig{Correction: 1, SmoothingMM: 5}, machine)
		// A long first move settles any take-up in full
		b.AddSteps([4]int64{test.first, 0, 0, 0}, test.firstDir, 10, spm)

		extra := b.AddSteps([4]int64{test.second, 0, 0, 0}, test.secondDir, 0.5, spm)
		if extra[standalone.AxisX] != test.want {
			t.Errorf("%s: correction = %d, want %d", test.name, extra[standalone.AxisX], test.want)
		}
		if r := b.Residual(standalone.AxisX); r != test.residual {
			t.Errorf("%s: residual = %d, want %d", test.name, r, test.residual)
		}
	}
}
