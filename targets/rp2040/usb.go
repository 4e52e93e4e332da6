//go:build rp2040

package main

import (
	"machine"
)

// InitUSB configures machine.Serial, which is USB CDC on the RP2040
func InitUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes available to read from USB
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte from USB
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes all of data, retrying short writes
func USBWriteBytes(data []byte) error {
	for len(data) > 0 {
		n, err := machine.Serial.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
