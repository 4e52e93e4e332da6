package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gomotion/core"
	"gomotion/standalone/config"
	"gomotion/standalone/manager"
)

func newTestConsole(t *testing.T, input string) (*console, *bytes.Buffer) {
	t.Helper()
	core.ResetTimers()
	core.SetTime(0)

	m, err := manager.NewManagerWithConfig(config.DefaultCartesianConfig())
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}
	if err := m.Initialize(manager.Options{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		m.Stop()
		core.ResetTimers()
	})

	var out bytes.Buffer
	return newConsole(m, strings.NewReader(input), &out, log.New(io.Discard, "", 0)), &out
}

func TestConsoleCommands(t *testing.T) {
	c, out := newTestConsole(t, "G28\nG1 X12 F3000\nM400\nM114\nstatus\nhelp\nquit\nM114\n")
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	text := out.String()
	for _, want := range []string{"start\n", "X:12.00 Y:0.00 Z:0.00", `"capacity": 16`, "load <file>", "Goodbye!"} {
		if !strings.Contains(text, want) {
			t.Errorf("Console output missing %q:\n%s", want, text)
		}
	}
	if strings.Count(text, "Count ") != 1 {
		t.Errorf("Lines after quit were executed:\n%s", text)
	}
}

func TestConsoleLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part one.gcode")
	if err := os.WriteFile(path, []byte("G28\nG1 X5 Y5 F3000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, out := newTestConsole(t, `load "`+path+`"`+"\nM114\nload\n")
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "X:5.00 Y:5.00") {
		t.Errorf("File was not streamed:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Usage: load <file>") {
		t.Errorf("Missing usage message:\n%s", out.String())
	}
}

func TestConsoleStop(t *testing.T) {
	c, out := newTestConsole(t, "M104 S200\nG1 X100 F3000\nstop\n")
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "Motion stopped, heaters off") {
		t.Errorf("Missing stop message:\n%s", out.String())
	}
	if target, _ := c.m.Thermal().Target("extruder"); target != 0 {
		t.Errorf("Extruder target = %v after stop", target)
	}
	if c.m.Queue().HasBlocksQueued() {
		t.Errorf("Queue not empty after stop")
	}
}

func TestConsoleBadQuoting(t *testing.T) {
	c, out := newTestConsole(t, "load \"unterminated\n")
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "Error:") {
		t.Errorf("Expected a shlex error:\n%s", out.String())
	}
}

func TestWriteSchema(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSchema(&buf); err != nil {
		t.Fatalf("writeSchema: %v", err)
	}
	if !strings.Contains(buf.String(), "kinematics") {
		t.Errorf("Schema output: %s", buf.String())
	}
}
