//go:build rp2040

package pio

import (
	"gomotion/core"
)

var (
	// RP2040 has 2 PIO blocks (PIO0, PIO1) with 4 state machines each
	pioAllocations = [2][4]bool{} // [pioNum][smNum]
	nextPIONum     = uint8(0)
	nextSMNum      = uint8(0)

	gpioFallbacks uint8
)

// InitSteppers registers the backend factory used for configured motors.
// Motors get a PIO state machine while one is free and fall back to
// direct GPIO stepping after that.
func InitSteppers() {
	core.SetStepperBackendFactory(createBackend)
}

func createBackend() core.StepperBackend {
	pioNum, smNum, ok := allocatePIO()
	if !ok {
		gpioFallbacks++
		core.DebugPrintln("[PIO] state machines exhausted, using GPIO stepping")
		return NewGPIOStepperBackend()
	}
	return NewPIOStepperBackend(pioNum, smNum)
}

// allocatePIO allocates a PIO state machine
// Returns (pioNum, smNum, ok)
func allocatePIO() (uint8, uint8, bool) {
	for i := 0; i < 8; i++ { // 2 PIO × 4 SM = 8 total
		pioNum := nextPIONum
		smNum := nextSMNum

		nextSMNum++
		if nextSMNum >= 4 {
			nextSMNum = 0
			nextPIONum = (nextPIONum + 1) % 2
		}

		if !pioAllocations[pioNum][smNum] {
			pioAllocations[pioNum][smNum] = true
			return pioNum, smNum, true
		}
	}
	return 0, 0, false
}

// AllocationStatus returns the claimed state machines and the number of
// motors that fell back to GPIO
func AllocationStatus() ([2][4]bool, uint8) {
	return pioAllocations, gpioFallbacks
}
