// Package thermal tracks heater temperatures for the motion core. It gates
// extrusion on nozzle temperature and scales part-cooling fan speeds.
// Heater regulation itself is left to the platform.
package thermal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNoHeater is returned for an unknown heater name
	ErrNoHeater = errors.New("no such heater")
)

// Sensor reads a temperature in millidegrees Celsius.
// tinygo.org/x/drivers/thermistor.Device satisfies it.
type Sensor interface {
	ReadTemperature() (int32, error)
}

// targetFollower is implemented by simulated sensors that settle on the
// requested target immediately
type targetFollower interface {
	FollowTarget(celsius float64)
}

// FanScaleFull is the scale value for 100% fan output
const FanScaleFull = 128

type heater struct {
	sensor   Sensor
	extruder int // -1 for the bed
	target   float64
	last     float64
}

// Manager holds the heaters known to the machine
type Manager struct {
	mu sync.Mutex

	heaters    map[string]*heater
	minExtrude float64
	allowCold  bool
	fanScale   []uint8
}

// NewManager creates a manager. Extrusion below minExtrudeTemp is refused
// unless cold extrusion is allowed.
func NewManager(minExtrudeTemp float64, fans int) *Manager {
	m := &Manager{
		heaters:    make(map[string]*heater),
		minExtrude: minExtrudeTemp,
		fanScale:   make([]uint8, fans),
	}
	for i := range m.fanScale {
		m.fanScale[i] = FanScaleFull
	}
	return m
}

// ExtruderName returns the heater name for an extruder index
func ExtruderName(extruder uint8) string {
	if extruder == 0 {
		return "extruder"
	}
	return fmt.Sprintf("extruder%d", extruder)
}

// Attach registers a heater sensor. extruder is -1 for non-extruder heaters.
func (m *Manager) Attach(name string, extruder int, s Sensor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heaters[strings.ToLower(name)] = &heater{sensor: s, extruder: extruder}
}

// Names returns the registered heater names in sorted order
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.heaters))
	for n := range m.heaters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) read(h *heater) (float64, error) {
	mc, err := h.sensor.ReadTemperature()
	if err != nil {
		return h.last, err
	}
	h.last = float64(mc) / 1000
	return h.last, nil
}

// Temperature reads the current temperature of a heater
func (m *Manager) Temperature(name string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.heaters[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoHeater, name)
	}
	return m.read(h)
}

// SetTarget sets a heater's target temperature (M104/M140)
func (m *Manager) SetTarget(name string, celsius float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.heaters[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHeater, name)
	}
	h.target = celsius
	if f, ok := h.sensor.(targetFollower); ok {
		f.FollowTarget(celsius)
	}
	return nil
}

// Target returns a heater's target temperature
func (m *Manager) Target(name string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.heaters[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoHeater, name)
	}
	return h.target, nil
}

// SetAllowColdExtrude disables the extrusion temperature gate (M302 P1)
func (m *Manager) SetAllowColdExtrude(allow bool) {
	m.mu.Lock()
	m.allowCold = allow
	m.mu.Unlock()
}

// SetMinExtrudeTemp changes the minimum extrusion temperature (M302 S)
func (m *Manager) SetMinExtrudeTemp(celsius float64) {
	m.mu.Lock()
	m.minExtrude = celsius
	m.mu.Unlock()
}

// MinExtrudeTemp returns the minimum extrusion temperature and whether the
// gate is active
func (m *Manager) MinExtrudeTemp() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minExtrude, !m.allowCold
}

// TooColdToExtrude reports whether the extruder's nozzle is below the
// minimum extrusion temperature. Extruders without a sensor are never cold.
func (m *Manager) TooColdToExtrude(extruder uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowCold {
		return false
	}
	h, ok := m.heaters[ExtruderName(extruder)]
	if !ok {
		return false
	}
	t, err := m.read(h)
	if err != nil {
		return true
	}
	return t < m.minExtrude
}

// SetFanScale sets the output scale for a fan; FanScaleFull is 100%
func (m *Manager) SetFanScale(fan int, scale uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fan >= 0 && fan < len(m.fanScale) {
		m.fanScale[fan] = scale
	}
}

// ScaledFanSpeed applies the fan's scale to a requested speed
func (m *Manager) ScaledFanSpeed(fan int, speed uint8) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fan < 0 || fan >= len(m.fanScale) {
		return speed
	}
	v := (uint32(speed) * uint32(m.fanScale[fan])) >> 7
	if v > 255 {
		v = 255
	}
	return uint8(v)
}
