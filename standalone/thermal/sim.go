package thermal

import (
	"math"
	"sync/atomic"
)

// SimulatedSensor is a Sensor whose reading is set directly. With Follow
// enabled it jumps to every new target.
type SimulatedSensor struct {
	milli  atomic.Int32
	Follow bool
}

// NewSimulatedSensor creates a sensor reading the given temperature
func NewSimulatedSensor(celsius float64, follow bool) *SimulatedSensor {
	s := &SimulatedSensor{Follow: follow}
	s.Set(celsius)
	return s
}

// Set changes the reported temperature
func (s *SimulatedSensor) Set(celsius float64) {
	s.milli.Store(int32(math.Round(celsius * 1000)))
}

// ReadTemperature returns the reported temperature in millidegrees
func (s *SimulatedSensor) ReadTemperature() (int32, error) {
	return s.milli.Load(), nil
}

// FollowTarget implements targetFollower
func (s *SimulatedSensor) FollowTarget(celsius float64) {
	if s.Follow {
		s.Set(celsius)
	}
}
