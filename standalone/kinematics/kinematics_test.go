package kinematics

import (
	"errors"
	"math"
	"testing"

	"gomotion/standalone"
)

func testConfig(kin string) *standalone.MachineConfig {
	axis := standalone.AxisConfig{StepsPerMM: 80, MaxFeedrate: 300, MaxAccel: 3000, MinPosition: 0, MaxPosition: 200}
	return &standalone.MachineConfig{
		Kinematics: kin,
		Axes: map[string]standalone.AxisConfig{
			"x": axis,
			"y": axis,
			"z": {StepsPerMM: 400, MaxFeedrate: 5, MaxAccel: 100, MaxPosition: 180},
			"e": {StepsPerMM: 93, MaxFeedrate: 25, MaxAccel: 10000},
		},
		Delta: standalone.DeltaConfig{Radius: 100, DiagonalRod: 215},
		Scara: standalone.ScaraConfig{Arm1: 150, Arm2: 150, OffsetX: -75, OffsetY: -50},
	}
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestNewDispatch(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"", "cartesian"},
		{"cartesian", "cartesian"},
		{"corexy", "corexy"},
		{"corexz", "corexz"},
		{"coreyz", "coreyz"},
		{"delta", "delta"},
		{"scara", "scara"},
	}

	for _, test := range tests {
		k, err := New(testConfig(test.name))
		if err != nil {
			t.Errorf("New(%q): %v", test.name, err)
			continue
		}
		if k.Name() != test.want {
			t.Errorf("New(%q).Name() = %q, want %q", test.name, k.Name(), test.want)
		}
	}

	if _, err := New(testConfig("polar")); !errors.Is(err, ErrUnknownKinematics) {
		t.Errorf("Expected ErrUnknownKinematics, got %v", err)
	}
}

func TestMissingAxis(t *testing.T) {
	cfg := testConfig("cartesian")
	delete(cfg.Axes, "z")
	if _, err := New(cfg); !errors.Is(err, ErrAxisNotConfigured) {
		t.Errorf("Expected ErrAxisNotConfigured, got %v", err)
	}
}

func TestCoreMotorSteps(t *testing.T) {
	tests := []struct {
		kin   string
		axis  [standalone.NumAxis]int64
		motor [standalone.NumAxis]int64
	}{
		{"corexy", [4]int64{100, 0, 0, 5}, [4]int64{100, 100, 0, 5}},
		{"corexy", [4]int64{0, 100, 0, 0}, [4]int64{100, -100, 0, 0}},
		{"corexy", [4]int64{30, -70, 10, 0}, [4]int64{-40, 100, 10, 0}},
		{"corexz", [4]int64{10, 20, 30, 0}, [4]int64{40, 20, -20, 0}},
		{"coreyz", [4]int64{10, 20, 30, 0}, [4]int64{10, 50, -10, 0}},
	}

	for _, test := range tests {
		k, err := New(testConfig(test.kin))
		if err != nil {
			t.Fatalf("New(%q): %v", test.kin, err)
		}
		motor := k.MotorSteps(test.axis)
		if motor != test.motor {
			t.Errorf("%s MotorSteps(%v) = %v, want %v", test.kin, test.axis, motor, test.motor)
		}
		back := k.AxisSteps(motor)
		for i := range back {
			if back[i] != float64(test.axis[i]) {
				t.Errorf("%s AxisSteps(%v)[%d] = %v, want %d", test.kin, motor, i, back[i], test.axis[i])
			}
		}
	}
}

func TestCoreNeedsEqualSteps(t *testing.T) {
	cfg := testConfig("corexy")
	y := cfg.Axes["y"]
	y.StepsPerMM = 100
	cfg.Axes["y"] = y
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for unequal steps/mm on coupled axes")
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	k, err := New(testConfig("delta"))
	if err != nil {
		t.Fatal(err)
	}

	points := []standalone.Position{
		{0, 0, 0, 0},
		{10, -20, 5, 1},
		{-50, 30, 100, 0},
		{60, 60, 20, 0},
	}
	for _, p := range points {
		m, err := k.ToMachine(p)
		if err != nil {
			t.Errorf("ToMachine(%v): %v", p, err)
			continue
		}
		back, err := k.ToCartesian(m)
		if err != nil {
			t.Errorf("ToCartesian(%v): %v", m, err)
			continue
		}
		for i := range p {
			if !approx(back[i], p[i], 1e-6) {
				t.Errorf("Delta round trip %v -> %v -> %v", p, m, back)
				break
			}
		}
	}
}

func TestDeltaCenterCarriagesEqual(t *testing.T) {
	k, _ := New(testConfig("delta"))
	m, err := k.ToMachine(standalone.Position{0, 0, 10, 0})
	if err != nil {
		t.Fatal(err)
	}
	want := 10 + math.Sqrt(215*215-100*100)
	for i := 0; i < 3; i++ {
		if !approx(m[i], want, 1e-9) {
			t.Errorf("Carriage %d = %v, want %v", i, m[i], want)
		}
	}
}

func TestDeltaUnreachable(t *testing.T) {
	k, _ := New(testConfig("delta"))
	if _, err := k.ToMachine(standalone.Position{400, 0, 0, 0}); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Expected ErrUnreachable, got %v", err)
	}
}

func TestScaraRoundTrip(t *testing.T) {
	k, err := New(testConfig("scara"))
	if err != nil {
		t.Fatal(err)
	}

	points := []standalone.Position{
		{50, 50, 0, 0},
		{100, 20, 3, 2},
		{0, 150, 10, 0},
	}
	for _, p := range points {
		m, err := k.ToMachine(p)
		if err != nil {
			t.Errorf("ToMachine(%v): %v", p, err)
			continue
		}
		back, _ := k.ToCartesian(m)
		for i := range p {
			if !approx(back[i], p[i], 1e-6) {
				t.Errorf("SCARA round trip %v -> %v -> %v", p, m, back)
				break
			}
		}
	}

	if _, err := k.ToMachine(standalone.Position{500, 500, 0, 0}); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Expected ErrUnreachable, got %v", err)
	}
}

func TestCartesianLimits(t *testing.T) {
	k, _ := New(testConfig("cartesian"))
	if err := k.CheckLimits(standalone.Position{10, 10, 10, 0}); err != nil {
		t.Errorf("Unexpected limit error: %v", err)
	}
	if err := k.CheckLimits(standalone.Position{-1, 10, 10, 0}); err == nil {
		t.Error("Expected limit error for negative X")
	}
	if k.IsKinematic() {
		t.Error("Cartesian should not be kinematic")
	}
}
