package manager

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/config"
	"gomotion/standalone/planner"
)

func newTestManager(t *testing.T, cfg *standalone.MachineConfig) *Manager {
	t.Helper()
	core.ResetTimers()
	core.SetTime(0)

	m, err := NewManagerWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}
	if err := m.Initialize(Options{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		m.Stop()
		core.ResetTimers()
	})
	m.GetOutput()
	return m
}

// send streams lines byte by byte and returns everything the manager wrote
func send(m *Manager, lines ...string) string {
	for _, line := range lines {
		for i := 0; i < len(line); i++ {
			m.ProcessByte(line[i])
		}
		m.ProcessByte('\n')
	}
	return string(m.GetOutput())
}

func TestStreamMoves(t *testing.T) {
	m := newTestManager(t, config.DefaultCartesianConfig())

	out := send(m, "G28", "G1 X10 Y20 F6000", "M400", "M114")
	if n := strings.Count(out, "ok\n"); n != 4 {
		t.Errorf("Got %d oks in %q, want 4", n, out)
	}
	if !strings.Contains(out, "X:10.00 Y:20.00 Z:0.00") {
		t.Errorf("M114 missing from %q", out)
	}

	pos := m.Executor().Position()
	if pos[standalone.AxisX] != 800 || pos[standalone.AxisY] != 1600 {
		t.Errorf("Motor position = %v", pos)
	}
}

func TestLifecycleErrors(t *testing.T) {
	m, err := NewManagerWithConfig(config.DefaultCartesianConfig())
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}
	if err := m.ProcessLine("G28"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ProcessLine before Initialize = %v", err)
	}
	if err := m.Start(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start before Initialize = %v", err)
	}

	core.ResetTimers()
	if err := m.Initialize(Options{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer core.ResetTimers()
	if err := m.Initialize(Options{}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Second Initialize = %v", err)
	}
	if err := m.ProcessLine("G28"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ProcessLine before Start = %v", err)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	if _, err := NewManager([]byte(`{"kinematics": "hexapod", "axes": {}}`)); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("NewManager = %v, want ErrInvalidConfig", err)
	}
}

func TestProtocolErrors(t *testing.T) {
	m := newTestManager(t, config.DefaultCartesianConfig())

	tests := []struct {
		line string
		want string
	}{
		{"N1 G1 X1*0", "Resend: 1\nok\n"},
		{"N2 G1 X1", "Resend: 1\nok\n"},
		{"M110 N10", "ok\n"},
		{"N11 G90", "ok\n"},
		{"G12", "echo:Unknown command: \"G12\"\nok\n"},
		{"T5", "Error:invalid extruder: T5\nok\n"},
	}

	for _, test := range tests {
		if got := send(m, test.line); !strings.HasSuffix(got, test.want) {
			t.Errorf("%q: output %q, want suffix %q", test.line, got, test.want)
		}
	}
}

func TestHomingWithEndstops(t *testing.T) {
	m := newTestManager(t, config.DefaultCartesianConfig())

	send(m, "G1 X50 Y30 Z2 F6000", "M400")
	out := send(m, "G28 X Y", "M114")
	if !strings.Contains(out, "X:0.00 Y:0.00 Z:2.00") {
		t.Errorf("Position after homing: %q", out)
	}

	pos := m.Executor().Position()
	if pos[standalone.AxisX] != 0 || pos[standalone.AxisY] != 0 || pos[standalone.AxisZ] != 800 {
		t.Errorf("Motor position after homing = %v", pos)
	}
	state := m.GetState()
	if !state.Homed[standalone.AxisX] || !state.Homed[standalone.AxisY] || state.Homed[standalone.AxisZ] {
		t.Errorf("Homed = %v", state.Homed)
	}
	if m.Queue().EndstopHit() != 0 {
		t.Errorf("Endstop mask not cleared: %b", m.Queue().EndstopHit())
	}
}

func TestColdExtrusionEcho(t *testing.T) {
	m := newTestManager(t, config.DefaultCartesianConfig())

	out := send(m, "G1 X10 E5", "M400")
	if !strings.Contains(out, "echo:cold extrusion prevented\n") {
		t.Errorf("Expected a cold extrusion warning in %q", out)
	}
	if e := m.Executor().Position()[standalone.AxisE]; e != 0 {
		t.Errorf("E moved %d steps while cold", e)
	}

	send(m, "M109 S210", "G1 X20 E10", "M400")
	if e := m.Executor().Position()[standalone.AxisE]; e != 465 {
		t.Errorf("E = %d steps once hot, want 465", e)
	}
}

func TestEmergencyStop(t *testing.T) {
	m := newTestManager(t, config.DefaultCartesianConfig())
	send(m, "M104 S200", "M140 S60", "G1 X200 F3000")

	if err := m.EmergencyStop(context.Background()); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	for _, name := range []string{"extruder", "bed"} {
		if target, _ := m.Thermal().Target(name); target != 0 {
			t.Errorf("%s target = %v after emergency stop", name, target)
		}
	}
	if m.Queue().HasBlocksQueued() {
		t.Errorf("Queue not empty after emergency stop")
	}
}

func TestStatus(t *testing.T) {
	m := newTestManager(t, config.DefaultCoreXYConfig())
	send(m, "G28", "M106 S200", "G1 X10 F6000", "M400")

	st := m.Status()
	if !st.Running || st.Capacity != 16 || st.MovesPlanned != 0 || st.MovesFree != 15 {
		t.Errorf("Status = %+v", st)
	}
	if st.Fans[0] != 200 {
		t.Errorf("Fan = %d, want 200", st.Fans[0])
	}
	// CoreXY: A = X + Y, B = X - Y
	if st.Motors[standalone.AxisA] != 800 || st.Motors[standalone.AxisB] != 800 {
		t.Errorf("Motors = %v", st.Motors)
	}
	if st.Backends[standalone.AxisX] != "sim" {
		t.Errorf("Backends = %v", st.Backends)
	}
	if _, ok := st.Temperatures["extruder"]; !ok {
		t.Errorf("Temperatures = %v", st.Temperatures)
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"moves_planned":0`) {
		t.Errorf("Status JSON = %s", data)
	}
}

func TestDeltaHomeSetsPosition(t *testing.T) {
	cfg := config.DefaultCartesianConfig()
	cfg.Kinematics = "delta"
	cfg.Delta = standalone.DeltaConfig{Radius: 100, DiagonalRod: 215}
	for _, name := range []string{"x", "y", "z"} {
		axis := cfg.Axes[name]
		axis.StepsPerMM = 80
		axis.MaxFeedrate = 300
		axis.MaxAccel = 3000
		axis.MaxPosition = 300
		cfg.Axes[name] = axis
	}
	cfg.Planner.PreventColdExtrusion = false

	m := newTestManager(t, cfg)
	out := send(m, "G28", "G1 Z290 F3000", "M400", "M114")
	if !strings.Contains(out, "X:0.00 Y:0.00 Z:290.00") {
		t.Errorf("Delta position: %q", out)
	}
	if !m.GetState().Homed[standalone.AxisZ] {
		t.Errorf("Delta not homed")
	}
}

func TestOutputOptions(t *testing.T) {
	core.ResetTimers()
	core.SetTime(0)
	defer core.ResetTimers()

	m, err := NewManagerWithConfig(config.DefaultCartesianConfig())
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}

	var fans []uint8
	var laser []uint8
	opts := Options{
		Fans:  func(f [planner.MaxFans]uint8) { fans = append(fans, f[0]) },
		Laser: func(p uint8) { laser = append(laser, p) },
	}
	if err := m.Initialize(opts); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	send(m, "M106 S128", "M107", "M400")
	if len(fans) != 2 || fans[0] != 128 || fans[1] != 0 {
		t.Errorf("Fan outputs = %v, want [128 0]", fans)
	}
	if len(laser) != 0 {
		t.Errorf("Laser outputs = %v, want none", laser)
	}
}
