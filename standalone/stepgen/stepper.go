package stepgen

import (
	"fmt"
	"sync/atomic"

	"gomotion/core"
	"gomotion/standalone"
)

// Motor drives one stepper through a hardware backend and keeps its step
// count. The count is read by other goroutines, so it is atomic.
type Motor struct {
	name    string
	config  standalone.AxisConfig
	backend core.StepperBackend

	position atomic.Int64
	negative bool
}

// NewMotor creates a motor. A nil backend counts steps without output.
func NewMotor(name string, config standalone.AxisConfig, backend core.StepperBackend) *Motor {
	return &Motor{
		name:    name,
		config:  config,
		backend: backend,
	}
}

// InitPins resolves the configured step and direction pins and
// initializes the backend
func (m *Motor) InitPins() error {
	if m.backend == nil {
		return nil
	}

	stepPin, ok := core.LookupPin(m.config.StepPin)
	if !ok {
		return fmt.Errorf("%s: invalid step pin %q", m.name, m.config.StepPin)
	}
	dirPin, ok := core.LookupPin(m.config.DirPin)
	if !ok {
		return fmt.Errorf("%s: invalid dir pin %q", m.name, m.config.DirPin)
	}

	if err := m.backend.Init(stepPin, dirPin, false, m.config.InvertDir); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}

	info := m.backend.GetInfo()
	if rate := m.config.MaxFeedrate * m.config.StepsPerMM; info.MaxStepRate > 0 && rate > float64(info.MaxStepRate) {
		return fmt.Errorf("%s: max feedrate needs %.0f steps/s, %s backend stops at %d",
			m.name, rate, info.Name, info.MaxStepRate)
	}
	return nil
}

// BackendName returns the backend's name, "none" for a counting-only motor
func (m *Motor) BackendName() string {
	if m.backend == nil {
		return "none"
	}
	return m.backend.GetName()
}

// Name returns the motor name
func (m *Motor) Name() string {
	return m.name
}

// Backend returns the hardware backend, nil for a counting-only motor
func (m *Motor) Backend() core.StepperBackend {
	return m.backend
}

func (m *Motor) setDirection(negative bool) {
	if m.negative == negative {
		return
	}
	m.negative = negative
	if m.backend != nil {
		m.backend.SetDirection(negative)
	}
}

// step emits one pulse. count is false for backlash take-up, which moves
// the motor without changing its logical position.
func (m *Motor) step(count bool) {
	if m.backend != nil {
		m.backend.Step()
	}
	core.AddSteps(1)
	if !count {
		return
	}
	if m.negative {
		m.position.Add(-1)
	} else {
		m.position.Add(1)
	}
}

// Position returns the step count
func (m *Motor) Position() int64 {
	return m.position.Load()
}

// SetPosition overwrites the step count
func (m *Motor) SetPosition(steps int64) {
	m.position.Store(steps)
}

// Stop halts the backend
func (m *Motor) Stop() {
	if m.backend != nil {
		m.backend.Stop()
	}
}
