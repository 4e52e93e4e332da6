//go:build rp2040

package main

import (
	"errors"
	"machine"

	"tinygo.org/x/drivers/thermistor"

	"gomotion/standalone"
	"gomotion/standalone/thermal"
)

var errNoADC = errors.New("sensor pin is not an ADC input")

func errInvalidPin(name string) error {
	return errors.New("invalid pin " + name)
}

// adcPins maps the configured sensor pin names to ADC inputs
var adcPins = map[string]machine.Pin{
	"ADC0": machine.ADC0,
	"ADC1": machine.ADC1,
	"ADC2": machine.ADC2,
	"ADC3": machine.ADC3,
}

// newSensors creates a 100k NTC thermistor reader for every heater. The
// manager reads them to gate cold extrusion.
func newSensors(heaters map[string]standalone.HeaterConfig) (map[string]thermal.Sensor, error) {
	machine.InitADC()

	sensors := make(map[string]thermal.Sensor, len(heaters))
	for name, hc := range heaters {
		pin, ok := adcPins[hc.SensorPin]
		if !ok {
			return nil, errNoADC
		}
		dev := thermistor.New(pin)
		dev.NominalResistance = 100000
		dev.SeriesResistor = 4700
		dev.BCoefficient = 3950
		dev.Configure()
		sensors[name] = &dev
	}
	return sensors, nil
}
