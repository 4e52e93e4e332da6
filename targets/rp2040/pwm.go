//go:build rp2040

package main

import (
	"machine"

	"gomotion/core"
	"gomotion/standalone/planner"
)

// pwmMax is the full-scale fan and laser value
const pwmMax = 255

// outputPeriodNS is the PWM period for fans and the laser (25 kHz)
const outputPeriodNS = 40000

type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

type pwmOutput struct {
	pwm     pwmPeripheral
	channel uint8
}

func (o *pwmOutput) set(value uint8) {
	if o == nil {
		return
	}
	o.pwm.Set(o.channel, uint32(value)*o.pwm.Top()/pwmMax)
}

// pwmOutputs drives the fan and laser pins from sync blocks reaching the
// executor
type pwmOutputs struct {
	fans  [planner.MaxFans]*pwmOutput
	laser *pwmOutput
}

func newPWMOutputs(fanPins []string, laserPin string) (*pwmOutputs, error) {
	o := &pwmOutputs{}
	configured := make(map[uint8]bool)
	for i, name := range fanPins {
		if i >= planner.MaxFans {
			break
		}
		out, err := configurePWM(name, configured)
		if err != nil {
			return nil, err
		}
		o.fans[i] = out
	}
	if laserPin != "" {
		out, err := configurePWM(laserPin, configured)
		if err != nil {
			return nil, err
		}
		o.laser = out
	}
	return o, nil
}

// configurePWM sets up the slice of a pin once and returns its channel
func configurePWM(name string, configured map[uint8]bool) (*pwmOutput, error) {
	pin, ok := core.LookupPin(name)
	if !ok {
		return nil, errInvalidPin(name)
	}

	slice := (pin >> 1) & 0x7
	pwm := pwmPeripheralFor(slice)
	if !configured[slice] {
		if err := pwm.Configure(machine.PWMConfig{Period: outputPeriodNS}); err != nil {
			return nil, err
		}
		configured[slice] = true
	}

	channel, err := pwm.Channel(machine.Pin(pin))
	if err != nil {
		return nil, err
	}
	pwm.Set(channel, 0)
	return &pwmOutput{pwm: pwm, channel: channel}, nil
}

func (o *pwmOutputs) SetFans(speeds [planner.MaxFans]uint8) {
	for i, out := range o.fans {
		out.set(speeds[i])
	}
}

func (o *pwmOutputs) SetLaser(power uint8) {
	o.laser.set(power)
}

// pwmPeripheralFor returns the PWM slice. TinyGo's slice type is
// unexported, so slices are handled through pwmPeripheral.
func pwmPeripheralFor(slice uint8) pwmPeripheral {
	switch slice {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}
