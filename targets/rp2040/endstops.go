//go:build rp2040

package main

import (
	"machine"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/stepgen"
)

// newEndstops configures the endstop inputs with pull-ups. A switch reads
// triggered when the pin is low, or high when inverted.
func newEndstops(cfg map[string]standalone.EndstopConfig) (map[standalone.Axis]stepgen.Endstop, error) {
	endstops := make(map[standalone.Axis]stepgen.Endstop, len(cfg))
	for name, ec := range cfg {
		axis, ok := standalone.AxisFromName(name)
		if !ok {
			continue
		}
		n, ok := core.LookupPin(ec.Pin)
		if !ok {
			return nil, errInvalidPin(ec.Pin)
		}

		pin := machine.Pin(n)
		pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
		invert := ec.Invert
		endstops[axis] = stepgen.EndstopFunc(func() bool {
			return pin.Get() == invert
		})
	}
	return endstops, nil
}
