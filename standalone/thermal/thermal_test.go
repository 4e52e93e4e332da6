package thermal

import (
	"errors"
	"testing"
)

func TestColdExtrusionGate(t *testing.T) {
	m := NewManager(170, 1)
	s := NewSimulatedSensor(25, false)
	m.Attach("extruder", 0, s)

	if !m.TooColdToExtrude(0) {
		t.Error("Expected extruder at 25C to be too cold")
	}

	s.Set(200)
	if m.TooColdToExtrude(0) {
		t.Error("Expected extruder at 200C to be hot enough")
	}

	s.Set(25)
	m.SetAllowColdExtrude(true)
	if m.TooColdToExtrude(0) {
		t.Error("Cold extrusion allowed but still gated")
	}

	// No sensor for extruder 1
	m.SetAllowColdExtrude(false)
	if m.TooColdToExtrude(1) {
		t.Error("Extruder without sensor should never be cold")
	}
}

func TestTargetsAndFollow(t *testing.T) {
	m := NewManager(170, 0)
	m.Attach("extruder", 0, NewSimulatedSensor(20, true))
	m.Attach("bed", -1, NewSimulatedSensor(20, false))

	if err := m.SetTarget("extruder", 210); err != nil {
		t.Fatal(err)
	}
	if temp, _ := m.Temperature("extruder"); temp != 210 {
		t.Errorf("Following sensor = %v, want 210", temp)
	}

	if err := m.SetTarget("bed", 60); err != nil {
		t.Fatal(err)
	}
	if temp, _ := m.Temperature("bed"); temp != 20 {
		t.Errorf("Bed sensor = %v, want 20", temp)
	}
	if target, _ := m.Target("bed"); target != 60 {
		t.Errorf("Bed target = %v, want 60", target)
	}

	if err := m.SetTarget("chamber", 40); !errors.Is(err, ErrNoHeater) {
		t.Errorf("Expected ErrNoHeater, got %v", err)
	}

	names := m.Names()
	if len(names) != 2 || names[0] != "bed" || names[1] != "extruder" {
		t.Errorf("Names() = %v", names)
	}
}

func TestScaledFanSpeed(t *testing.T) {
	m := NewManager(170, 2)

	tests := []struct {
		fan   int
		scale uint8
		speed uint8
		want  uint8
	}{
		{0, FanScaleFull, 200, 200},
		{0, 64, 200, 100},
		{1, 255, 200, 255},
		{5, 64, 200, 200}, // unknown fan passes through
	}
	for _, test := range tests {
		m.SetFanScale(test.fan, test.scale)
		if got := m.ScaledFanSpeed(test.fan, test.speed); got != test.want {
			t.Errorf("ScaledFanSpeed(%d, %d) with scale %d = %d, want %d",
				test.fan, test.speed, test.scale, got, test.want)
		}
	}
}

func TestExtruderName(t *testing.T) {
	if ExtruderName(0) != "extruder" || ExtruderName(2) != "extruder2" {
		t.Errorf("ExtruderName: %q %q", ExtruderName(0), ExtruderName(2))
	}
}
