package gcode

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/compensation"
	"gomotion/standalone/kinematics"
	"gomotion/standalone/planner"
	"gomotion/standalone/stepgen"
	"gomotion/standalone/thermal"
)

type machine struct {
	interp *Interpreter
	parser *Parser
	q      *planner.MotionQueue
	exec   *stepgen.Executor
	output []string
}

func testConfig() *standalone.MachineConfig {
	axis := standalone.AxisConfig{StepsPerMM: 80, MaxFeedrate: 300, MaxAccel: 3000, MinPosition: 0, MaxPosition: 200}
	return &standalone.MachineConfig{
		Kinematics: "cartesian",
		Axes: map[string]standalone.AxisConfig{
			"x": axis,
			"y": axis,
			"z": {StepsPerMM: 400, MaxFeedrate: 5, MaxAccel: 100, MaxPosition: 180},
			"e": {StepsPerMM: 93, MaxFeedrate: 25, MaxAccel: 10000},
		},
		Planner:         standalone.PlannerConfig{Extruders: 2},
		Retract:         standalone.RetractConfig{Length: 2, Feedrate: 25, RecoverFeedrate: 25},
		DefaultFeedrate: 50,
	}
}

func newMachine(t *testing.T, cfg *standalone.MachineConfig) *machine {
	t.Helper()
	core.ResetTimers()
	core.SetTime(0)

	kin, err := kinematics.New(cfg)
	if err != nil {
		t.Fatalf("kinematics: %v", err)
	}
	s, err := planner.SettingsFromConfig(cfg)
	if err != nil {
		t.Fatalf("SettingsFromConfig: %v", err)
	}
	q, err := planner.NewMotionQueue(s, kin)
	if err != nil {
		t.Fatalf("NewMotionQueue: %v", err)
	}

	m := &machine{q: q, parser: NewParser()}
	m.exec = stepgen.NewExecutor(q, [standalone.NumAxis]*stepgen.Motor{})
	q.SetStepper(m.exec)
	q.SetIdle(stepgen.SimClock())
	m.exec.Start()
	t.Cleanup(func() {
		m.exec.Stop()
		core.ResetTimers()
	})

	m.interp = NewInterpreter(cfg, q)
	m.interp.SetOutput(func(s string) { m.output = append(m.output, s) })
	return m
}

func (m *machine) run(t *testing.T, lines ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	for _, line := range lines {
		cmd, err := m.parser.ParseLine(line)
		if err != nil {
			t.Fatalf("ParseLine(%q): %v", line, err)
		}
		if err := m.interp.ExecuteContext(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (m *machine) mustRun(t *testing.T, lines ...string) {
	t.Helper()
	if err := m.run(t, lines...); err != nil {
		t.Fatalf("run %v: %v", lines, err)
	}
}

func (m *machine) lastOutput() string {
	if len(m.output) == 0 {
		return ""
	}
	return m.output[len(m.output)-1]
}

func TestMovesReachSteppers(t *testing.T) {
	m := newMachine(t, testConfig())
	m.mustRun(t, "G28", "G1 X10 Y5 F3000", "G1 Z1", "M400")

	want := [standalone.NumAxis]int64{800, 400, 400, 0}
	if got := m.exec.Position(); got != want {
		t.Errorf("Motor position = %v, want %v", got, want)
	}
	if got := m.interp.GetState().Position; got != (standalone.Position{10, 5, 1, 0}) {
		t.Errorf("Logical position = %v", got)
	}
	if got := m.interp.GetState().FeedRate; got != 50 {
		t.Errorf("FeedRate = %v, want 50 mm/s", got)
	}
}

func TestRelativeModes(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  standalone.Position
	}{
		{"relative", []string{"G91", "G1 X5 E1", "G1 X5 E1"}, standalone.Position{10, 0, 0, 2}},
		{"absolute", []string{"G90", "G1 X5 E1", "G1 X5 E1"}, standalone.Position{5, 0, 0, 1}},
		{"relative E only", []string{"M83", "G1 X5 E1", "G1 X5 E1"}, standalone.Position{5, 0, 0, 2}},
		{"G92 E", []string{"G1 X5 E4", "G92 E0", "G1 E1"}, standalone.Position{5, 0, 0, 1}},
	}

	for _, test := range tests {
		m := newMachine(t, testConfig())
		m.mustRun(t, test.lines...)
		if got := m.interp.GetState().Position; got != test.want {
			t.Errorf("%s: position = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestSoftLimits(t *testing.T) {
	m := newMachine(t, testConfig())
	m.mustRun(t, "G28", "G1 X-5", "G1 Y500", "M400")

	if got := m.interp.GetState().Position; got != (standalone.Position{0, 200, 0, 0}) {
		t.Errorf("Position = %v, want Y clamped to 200", got)
	}
	if got := m.exec.Position()[standalone.AxisY]; got != 16000 {
		t.Errorf("Y motor = %d, want 16000", got)
	}
}

func TestHomeSetsPosition(t *testing.T) {
	cfg := testConfig()
	x := cfg.Axes["x"]
	x.MinPosition = -5
	cfg.Axes["x"] = x

	m := newMachine(t, cfg)
	m.mustRun(t, "G1 X20 Y20", "G28 X")

	state := m.interp.GetState()
	if state.Position[standalone.AxisX] != -5 || state.Position[standalone.AxisY] != 20 {
		t.Errorf("Position = %v after G28 X", state.Position)
	}
	if !state.Homed[standalone.AxisX] || state.Homed[standalone.AxisY] {
		t.Errorf("Homed = %v, want only X", state.Homed)
	}
}

type recordingHomer struct {
	q    *planner.MotionQueue
	axes uint8
}

func (h *recordingHomer) Home(ctx context.Context, axes uint8) error {
	h.axes = axes
	h.q.SetPositionMM(standalone.Position{1, 2, 3, 0})
	return nil
}

func TestHomeUsesHomer(t *testing.T) {
	m := newMachine(t, testConfig())
	h := &recordingHomer{q: m.q}
	m.interp.SetHomer(h)

	m.mustRun(t, "G28 Y Z")

	if want := standalone.AxisY.Bit() | standalone.AxisZ.Bit(); h.axes != want {
		t.Errorf("Homer axes = %b, want %b", h.axes, want)
	}
	if got := m.interp.GetState().Position; got != (standalone.Position{1, 2, 3, 0}) {
		t.Errorf("Position = %v after homing", got)
	}
}

func TestFirmwareRetraction(t *testing.T) {
	m := newMachine(t, testConfig())
	r := compensation.NewRetraction(testConfig().Retract)
	m.q.SetRetraction(r)
	m.interp.SetRetraction(r)

	m.mustRun(t, "G10", "G10", "M400")
	if got := m.exec.Position()[standalone.AxisE]; got != -186 {
		t.Errorf("E motor after G10 = %d, want -186", got)
	}
	if got := m.interp.GetState().Position[standalone.AxisE]; got != 0 {
		t.Errorf("Logical E = %v, want 0", got)
	}

	m.mustRun(t, "G11", "M400")
	if got := m.exec.Position()[standalone.AxisE]; got != 0 {
		t.Errorf("E motor after G11 = %d, want 0", got)
	}
}

func TestReports(t *testing.T) {
	m := newMachine(t, testConfig())
	th := thermal.NewManager(170, 1)
	th.Attach("extruder", 0, thermal.NewSimulatedSensor(25, true))
	th.Attach("bed", -1, thermal.NewSimulatedSensor(25, true))
	m.interp.SetThermal(th)

	m.mustRun(t, "G1 X10", "M400", "M114")
	if got := m.lastOutput(); !strings.HasPrefix(got, "X:10.00 Y:0.00 Z:0.00 E:0.00 Count X:10.00") {
		t.Errorf("M114 = %q", got)
	}

	m.mustRun(t, "M104 S200", "M190 S60", "M105")
	if got := m.lastOutput(); got != "B:60.0 /60.0 T:200.0 /200.0" {
		t.Errorf("M105 = %q", got)
	}

	m.mustRun(t, "M302")
	if got := m.lastOutput(); got != "echo:Cold extrudes are disabled (min temp 170C)" {
		t.Errorf("M302 = %q", got)
	}
	m.mustRun(t, "M302 P1", "M302")
	if got := m.lastOutput(); !strings.Contains(got, "enabled") {
		t.Errorf("M302 after P1 = %q", got)
	}

	m.mustRun(t, "M420 S1")
	if got := m.lastOutput(); got != "echo:Bed leveling not configured" {
		t.Errorf("M420 = %q", got)
	}
}

func TestHeaterWaitCanceled(t *testing.T) {
	m := newMachine(t, testConfig())
	th := thermal.NewManager(170, 1)
	th.Attach("extruder", 0, thermal.NewSimulatedSensor(25, false))
	m.interp.SetThermal(th)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd, _ := m.parser.ParseLine("M109 S200")
	if err := m.interp.ExecuteContext(ctx, cmd); !errors.Is(err, context.Canceled) {
		t.Errorf("M109 on a cold heater = %v, want context.Canceled", err)
	}
}

func TestSettingsCommands(t *testing.T) {
	m := newMachine(t, testConfig())
	m.mustRun(t,
		"M201 X1000 E5000",
		"M203 Y100",
		"M204 P1500 R2000 T2500",
		"M205 J0.02 S1 T2 B10000",
		"M92 X100",
		"M220 S150",
		"M221 S90",
		"M106 S128",
		"T1",
	)

	s := m.q.Settings()
	tests := []struct {
		name      string
		got, want float64
	}{
		{"max accel X", s.MaxAcceleration[standalone.AxisX], 1000},
		{"max accel E", s.MaxAcceleration[standalone.AxisE], 5000},
		{"max feedrate Y", s.MaxFeedrate[standalone.AxisY], 100},
		{"print accel", s.PrintAccel, 1500},
		{"retract accel", s.RetractAccel, 2000},
		{"travel accel", s.TravelAccel, 2500},
		{"junction deviation", s.JunctionDeviationMM, 0.02},
		{"min feedrate", s.MinFeedrate, 1},
		{"min travel feedrate", s.MinTravelFeedrate, 2},
		{"min segment time", float64(s.MinSegmentTimeUS), 10000},
		{"steps per mm X", s.StepsPerMM[standalone.AxisX], 100},
		{"flow", m.q.Flow(0), 90},
		{"fan", float64(m.q.FanSpeed(0)), 128},
		{"feed percentage", float64(m.interp.GetState().FeedPercentage), 150},
		{"active extruder", float64(m.q.ActiveExtruder()), 1},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("%s = %v, want %v", test.name, test.got, test.want)
		}
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		line string
		err  error
	}{
		{"G5 X1", ErrUnknownCommand},
		{"M999", ErrUnknownCommand},
		{"T2", ErrInvalidExtruder},
		{"M104 T3 S200", nil}, // no thermal manager attached
		{"; comment only", nil},
	}

	for _, test := range tests {
		m := newMachine(t, testConfig())
		if err := m.run(t, test.line); !errors.Is(err, test.err) {
			t.Errorf("%q: error = %v, want %v", test.line, err, test.err)
		}
	}
}

func TestDwell(t *testing.T) {
	m := newMachine(t, testConfig())
	start := core.GetTime()
	m.mustRun(t, "G4 P50")
	if elapsed := core.GetTime() - start; elapsed < core.TimerFromUS(50000) {
		t.Errorf("G4 P50 waited %d ticks, want at least %d", elapsed, core.TimerFromUS(50000))
	}
}

func TestQuickStopResyncs(t *testing.T) {
	m := newMachine(t, testConfig())
	m.mustRun(t, "G1 X100 F3000")
	tick := stepgen.SimClock()
	for i := 0; i < 300; i++ {
		tick()
	}

	m.mustRun(t, "M410")
	x := m.interp.GetState().Position[standalone.AxisX]
	if x <= 0 || x >= 100 {
		t.Fatalf("X = %v after M410, want a point along the move", x)
	}
	if got := float64(m.exec.Position()[standalone.AxisX]) / 80; math.Abs(got-x) > 1e-9 {
		t.Errorf("Logical X %v does not match the motor position %v", x, got)
	}
}
