//go:build rp2040

// Firmware for RP2040 boards. It runs the motion core against the board's
// steppers and reads G-code from USB CDC.
package main

import (
	"machine"
	"strconv"
	"time"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/config"
	"gomotion/standalone/manager"
	"gomotion/standalone/planner"
	"gomotion/targets/pio"
)

func main() {
	InitUSB()
	core.SetDebugWriter(func(s string) {
		USBWriteBytes([]byte("// " + s + "\n"))
	})
	UpdateSystemTime()
	core.TimerInit()
	pio.InitSteppers()

	m, err := newMachine(config.DefaultCartesianConfig())
	if err != nil {
		core.DebugPrintln("[BOOT] " + err.Error())
		blinkForever(100 * time.Millisecond)
	}
	reportSteppers(m)
	if err := m.Start(); err != nil {
		blinkForever(100 * time.Millisecond)
	}
	blink(3, 200*time.Millisecond)

	for {
		for USBAvailable() > 0 {
			b, err := USBRead()
			if err != nil {
				break
			}
			// Errors have been answered on the output already
			m.ProcessByte(b)
			flushOutput(m)
		}
		flushOutput(m)
		pollTimers()
		time.Sleep(10 * time.Microsecond)
	}
}

// newMachine builds a manager with the board's steppers, endstops,
// thermistors and PWM outputs
func newMachine(cfg *standalone.MachineConfig) (*manager.Manager, error) {
	m, err := manager.NewManagerWithConfig(cfg)
	if err != nil {
		return nil, err
	}

	sensors, err := newSensors(cfg.Heaters)
	if err != nil {
		return nil, err
	}
	endstops, err := newEndstops(cfg.Endstops)
	if err != nil {
		return nil, err
	}
	outputs, err := newPWMOutputs(cfg.FanPins, cfg.LaserPin)
	if err != nil {
		return nil, err
	}

	err = m.Initialize(manager.Options{
		Backend:  func(standalone.Axis) core.StepperBackend { return core.NewStepperBackend() },
		Idle:     pollTimers,
		Endstops: endstops,
		Sensors:  sensors,
		Fans:     func(f [planner.MaxFans]uint8) { outputs.SetFans(f) },
		Laser:    outputs.SetLaser,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// reportSteppers logs which backend each motor got
func reportSteppers(m *manager.Manager) {
	claimed, fallbacks := pio.AllocationStatus()
	used := 0
	for _, block := range claimed {
		for _, sm := range block {
			if sm {
				used++
			}
		}
	}
	core.DebugPrintln("[BOOT] pio state machines " + strconv.Itoa(used) +
		"/8, gpio fallbacks " + strconv.Itoa(int(fallbacks)))
	for a := standalone.AxisX; a < standalone.NumAxis; a++ {
		core.DebugPrintln("[BOOT] " + a.String() + ": " + m.Executor().Motor(a).BackendName())
	}
}

func flushOutput(m *manager.Manager) {
	if out := m.GetOutput(); len(out) > 0 {
		USBWriteBytes(out)
	}
}

func blink(n int, period time.Duration) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for i := 0; i < n; i++ {
		led.High()
		time.Sleep(period)
		led.Low()
		time.Sleep(period)
	}
}

// blinkForever signals a boot failure
func blinkForever(period time.Duration) {
	for {
		blink(1, period)
	}
}
