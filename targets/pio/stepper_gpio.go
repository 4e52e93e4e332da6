//go:build rp2040

package pio

import (
	"device/arm"
	"device/rp"
	"machine"

	"gomotion/core"
)

// GPIOStepperBackend pulses the step pin through SIO. Motors use it once
// every PIO state machine is taken.
type GPIOStepperBackend struct {
	stepMask uint32
	dirMask  uint32

	// Active-low lines idle high and pulse low
	stepActiveLow bool
	dirActiveLow  bool
}

// NewGPIOStepperBackend creates a new GPIO-based stepper backend
func NewGPIOStepperBackend() *GPIOStepperBackend {
	return &GPIOStepperBackend{}
}

// Init configures both pins as outputs at their idle level
func (b *GPIOStepperBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error {
	b.stepMask = 1 << stepPin
	b.dirMask = 1 << dirPin
	b.stepActiveLow = invertStep
	b.dirActiveLow = invertDir

	for _, pin := range []machine.Pin{machine.Pin(stepPin), machine.Pin(dirPin)} {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
	b.write(b.stepMask, false, b.stepActiveLow)
	b.write(b.dirMask, false, b.dirActiveLow)
	return nil
}

// write drives the masked pin to its logical level
func (b *GPIOStepperBackend) write(mask uint32, active, activeLow bool) {
	if active != activeLow {
		rp.SIO.GPIO_OUT_SET.Set(mask)
	} else {
		rp.SIO.GPIO_OUT_CLR.Set(mask)
	}
}

// Step emits one pulse of about 100ns at 125MHz, the minimum the
// Trinamic drivers accept
func (b *GPIOStepperBackend) Step() {
	b.write(b.stepMask, true, b.stepActiveLow)
	arm.Asm("nop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop")
	b.write(b.stepMask, false, b.stepActiveLow)
}

// SetDirection sets the direction line and waits out the dir-to-step
// setup time (20ns on TMC2209)
func (b *GPIOStepperBackend) SetDirection(reverse bool) {
	b.write(b.dirMask, reverse, b.dirActiveLow)
	arm.Asm("nop\nnop\nnop")
}

// Stop leaves the step line idle
func (b *GPIOStepperBackend) Stop() {
	b.write(b.stepMask, false, b.stepActiveLow)
}

func (b *GPIOStepperBackend) GetName() string {
	return "gpio"
}

// GetInfo reports limits for SIO stepping from the timer interrupt
func (b *GPIOStepperBackend) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:          "gpio",
		MaxStepRate:   200000,
		MinPulseNs:    100,
		TypicalJitter: 500,
		CPUOverhead:   15,
	}
}
