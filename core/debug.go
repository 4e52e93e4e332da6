package core

import (
	"sync"
	"sync/atomic"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures a motion event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	Slot      uint8  // Ring buffer slot or axis
	Clock     uint32 // System clock at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtBlockQueued  = 1 // block appended at head (v1=step events, v2=nominal rate)
	EvtBlockClaimed = 2 // consumer claimed the tail block
	EvtBlockDone    = 3 // consumer released the tail block
	EvtQuickStop    = 4 // queue flushed (v1=discarded blocks)
	EvtEndstopHit   = 5 // endstop truncated motion (slot=axis, v1=motor count)
	EvtSyncBlock    = 6 // sync block queued
	EvtCleaningDone = 7 // quick-stop cooldown expired
	EvtRejected     = 8 // move rejected (v1=reason)
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Timing capture ring buffer (non-blocking, for post-mortem)
	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8       // Next write position
	timingEnabled  bool = true // Always capture timing events

	ringMu     sync.Mutex
	totalSteps atomic.Uint64

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks if debug is enabled (use DebugAsync from the step path)
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if debugChan != nil && debugEnabled {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// AddSteps adds to the global executed step counter
func AddSteps(n uint32) {
	totalSteps.Add(uint64(n))
}

// GetTotalStepCount returns the number of step pulses issued since boot
func GetTotalStepCount() uint64 {
	return totalSteps.Load()
}

// RecordTiming captures an event in the ring buffer
func RecordTiming(eventType, slot uint8, clock, value1, value2 uint32) {
	if !timingEnabled {
		return
	}
	ringMu.Lock()
	idx := timingRingHead
	timingRing[idx] = TimingEvent{
		EventType: eventType,
		Slot:      slot,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	timingRingHead = (idx + 1) % TimingRingSize
	ringMu.Unlock()
}

// TimingEvents returns the recorded events from oldest to newest
func TimingEvents() []TimingEvent {
	ringMu.Lock()
	defer ringMu.Unlock()

	events := make([]TimingEvent, 0, TimingRingSize)
	start := timingRingHead
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(start+i)%TimingRingSize]
		if evt.EventType != 0 {
			events = append(events, evt)
		}
	}
	return events
}

func eventName(code uint8) string {
	switch code {
	case EvtBlockQueued:
		return "QUEUED"
	case EvtBlockClaimed:
		return "CLAIMED"
	case EvtBlockDone:
		return "DONE"
	case EvtQuickStop:
		return "QUICK_STOP!"
	case EvtEndstopHit:
		return "ENDSTOP"
	case EvtSyncBlock:
		return "SYNC"
	case EvtCleaningDone:
		return "CLEAN_DONE"
	case EvtRejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

// DumpTimingRing outputs the timing ring buffer (call on shutdown/error)
func DumpTimingRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TIMING] === Timing Ring Dump ===")
	debugPrintln("[TIMING] Total steps executed: " + utoa64(GetTotalStepCount()))
	for _, evt := range TimingEvents() {
		debugPrintln("[TIMING] " + eventName(evt.EventType) +
			" slot=" + itoa(int(evt.Slot)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the timing buffer
func ClearTimingRing() {
	ringMu.Lock()
	defer ringMu.Unlock()
	for i := range timingRing {
		timingRing[i] = TimingEvent{}
	}
	timingRingHead = 0
}
