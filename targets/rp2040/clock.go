//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"gomotion/core"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x08 // Raw timer high word
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word

	// core ticks per hardware microsecond
	ticksPerUS = core.TimerFreq / 1000000
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// GetHardwareUptime reads the full 64-bit RP2040 microsecond timer
func GetHardwareUptime() uint64 {
	// Read high, low, high again to detect rollover
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()

		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// UpdateSystemTime publishes the hardware time to the core timer in core
// ticks. The product wraps at 32 bits the same way the tick counter does.
func UpdateSystemTime() {
	core.SetTime(uint32(GetHardwareUptime() * ticksPerUS))
}

// pollTimers runs the timers that became due. It is the queue's idle
// function and the body of the main loop.
func pollTimers() {
	UpdateSystemTime()
	core.ProcessTimers()
}
