package core

// StepperBackend defines the hardware abstraction for stepper control
// Implementations can use GPIO, PIO, or a simulation
type StepperBackend interface {
	// Init initializes the stepper hardware
	Init(stepPin, dirPin uint8, invertStep, invertDir bool) error

	// Step generates a single step pulse
	// Must handle pulse width timing internally
	Step()

	// SetDirection sets the direction output
	// dir: true = reverse, false = forward
	SetDirection(dir bool)

	// Stop immediately halts stepping
	Stop()

	// GetName returns backend implementation name
	GetName() string

	// GetInfo reports the backend's timing limits
	GetInfo() StepperBackendInfo
}

// StepperBackendInfo provides information about available backends
type StepperBackendInfo struct {
	Name          string
	MaxStepRate   uint32 // Maximum steps/second per axis
	MinPulseNs    uint32 // Minimum step pulse width (ns)
	TypicalJitter uint32 // Typical timing jitter (ns)
	CPUOverhead   uint8  // CPU overhead percentage (0-100)
}

// LookupPin parses "gpioN" into a pin number
func LookupPin(name string) (uint8, bool) {
	const prefix = "gpio"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, false
	}
	n := 0
	for _, c := range name[len(prefix):] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > 255 {
			return 0, false
		}
	}
	return uint8(n), true
}

var stepperBackendFactory func() StepperBackend

// SetStepperBackendFactory sets the function used to create backends for
// configured motors. Platform code calls it during init.
func SetStepperBackendFactory(factory func() StepperBackend) {
	stepperBackendFactory = factory
}

// NewStepperBackend creates a backend from the registered factory, or
// returns nil when no platform backend is available
func NewStepperBackend() StepperBackend {
	if stepperBackendFactory == nil {
		return nil
	}
	return stepperBackendFactory()
}
