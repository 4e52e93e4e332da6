package core

import (
	"strings"
	"testing"
)

func TestTimingRing(t *testing.T) {
	ClearTimingRing()
	defer ClearTimingRing()

	for i := 0; i < TimingRingSize+3; i++ {
		RecordTiming(EvtBlockQueued, uint8(i), uint32(i), 0, 0)
	}

	events := TimingEvents()
	if len(events) != TimingRingSize {
		t.Fatalf("Got %d events, want %d", len(events), TimingRingSize)
	}
	if events[0].Clock != 3 || events[len(events)-1].Clock != TimingRingSize+2 {
		t.Errorf("Ring order: first %d, last %d", events[0].Clock, events[len(events)-1].Clock)
	}
}

func TestDumpTimingRing(t *testing.T) {
	ClearTimingRing()
	defer ClearTimingRing()

	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})

	RecordTiming(EvtEndstopHit, 2, 1234, 56, 0)
	DumpTimingRing()

	out := strings.Join(lines, "\n")
	if !strings.Contains(out, "ENDSTOP slot=2 clock=1234 v1=56 v2=0") {
		t.Errorf("Dump output:\n%s", out)
	}
}

func TestDebugPrintlnGated(t *testing.T) {
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})

	SetDebugEnabled(false)
	DebugPrintln("hidden")
	SetDebugEnabled(true)
	DebugPrintln("shown")
	SetDebugEnabled(false)

	if len(lines) != 1 || lines[0] != "shown" {
		t.Errorf("Debug lines = %q", lines)
	}
}
