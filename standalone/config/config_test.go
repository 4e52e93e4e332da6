package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const minimalConfig = `{
	"axes": {
		"x": {"steps_per_mm": 80, "max_position": 200},
		"y": {"steps_per_mm": 80, "max_position": 200},
		"z": {"steps_per_mm": 400, "max_feedrate": 5, "max_position": 180},
		"e": {"steps_per_mm": 93}
	}
}`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Kinematics != "cartesian" {
		t.Errorf("Kinematics = %q, want cartesian", cfg.Kinematics)
	}
	if cfg.DefaultFeedrate != 50 {
		t.Errorf("DefaultFeedrate = %v, want 50", cfg.DefaultFeedrate)
	}
	if cfg.Planner.BufferSize != 16 || cfg.Planner.JunctionModel != "deviation" {
		t.Errorf("Planner defaults = %+v", cfg.Planner)
	}
	if z := cfg.Axes["z"]; z.MaxFeedrate != 5 || z.Jerk != 0.3 || z.MaxAccel != 1000 {
		t.Errorf("Z defaults = %+v", z)
	}
	if cfg.Leveling.Mode != "none" {
		t.Errorf("Leveling mode = %q, want none", cfg.Leveling.Mode)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate string
	}{
		{"unknown kinematics", `"kinematics": "hexapod"`},
		{"buffer size", `"planner": {"buffer_size": 12}`},
		{"junction model", `"planner": {"junction_model": "magic"}`},
		{"too many extruders", `"planner": {"extruders": 9}`},
		{"backlash correction", `"backlash": {"correction": 1.5}`},
		{"leveling mode", `"leveling": {"mode": "wavy"}`},
		{"planar points", `"leveling": {"mode": "planar", "points": [[0, 0, 0]]}`},
		{"heater extruder", `"heaters": {"extruder1": {"extruder": 1}}`},
		{"endstop axis", `"endstops": {"w": {"pin": "gpio1"}}`},
	}

	for _, test := range tests {
		doc := strings.Replace(minimalConfig, "{\n", "{\n\t"+test.mutate+",\n", 1)
		if _, err := LoadConfig([]byte(doc)); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: error = %v, want ErrInvalidConfig", test.name, err)
		}
	}
}

func TestLoadConfigBadJSON(t *testing.T) {
	if _, err := LoadConfig([]byte("{")); err == nil {
		t.Errorf("Expected a parse error")
	}
}

func TestDefaultConfigsValidate(t *testing.T) {
	for name, cfg := range map[string]func() error{
		"cartesian": func() error { return Validate(DefaultCartesianConfig()) },
		"corexy":    func() error { return Validate(DefaultCoreXYConfig()) },
	} {
		if err := cfg(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestDefaultConfigRoundTrip(t *testing.T) {
	data, err := json.Marshal(DefaultCoreXYConfig())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Kinematics != "corexy" || cfg.Axes["x"].MaxAccel != 5000 {
		t.Errorf("Reloaded config lost settings: %s %+v", cfg.Kinematics, cfg.Axes["x"])
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Schema is not JSON: %v", err)
	}
	for _, want := range []string{"junction_model", "steps_per_mm", "cleaning_ticks", "diagonal_rod"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Schema does not mention %q", want)
		}
	}
}
