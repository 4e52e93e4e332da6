package manager

import (
	"gomotion/standalone"
	"gomotion/standalone/planner"
)

// Status is a point-in-time view of the machine for status feeds
type Status struct {
	Running         bool                       `json:"running"`
	MovesPlanned    int                        `json:"moves_planned"`
	MovesFree       int                        `json:"moves_free"`
	Capacity        int                        `json:"capacity"`
	BufferRuntimeUS uint64                     `json:"buffer_runtime_us"`
	Cleaning        bool                       `json:"cleaning"`
	EndstopHit      uint8                      `json:"endstop_hit"`
	Position        standalone.Position        `json:"position"`
	Motors          [standalone.NumAxis]int64  `json:"motors"`
	Backends        [standalone.NumAxis]string `json:"backends"`
	StepRate        uint32                     `json:"step_rate"`
	Fans            [planner.MaxFans]uint8     `json:"fans"`
	Laser           uint8                      `json:"laser"`
	Temperatures    map[string]float64         `json:"temperatures,omitempty"`
}

// Status reads the machine state. Safe to call from any goroutine.
func (m *Manager) Status() Status {
	if !m.initialized {
		return Status{}
	}

	snap := m.queue.Snapshot()
	st := Status{
		Running:         m.running.Load(),
		MovesPlanned:    snap.MovesPlanned,
		MovesFree:       snap.MovesFree,
		Capacity:        snap.Capacity,
		BufferRuntimeUS: snap.BufferRuntimeUS,
		Cleaning:        snap.Cleaning,
		EndstopHit:      snap.EndstopHit,
		Position:        snap.Position,
		Motors:          m.executor.Position(),
		StepRate:        m.executor.StepRate(),
	}

	for a := range st.Backends {
		st.Backends[a] = m.executor.Motor(standalone.Axis(a)).BackendName()
	}

	m.stateMu.Lock()
	st.Fans = m.fans
	st.Laser = m.laser
	m.stateMu.Unlock()

	names := m.thermal.Names()
	if len(names) > 0 {
		st.Temperatures = make(map[string]float64, len(names))
		for _, name := range names {
			if t, err := m.thermal.Temperature(name); err == nil {
				st.Temperatures[name] = t
			}
		}
	}
	return st
}
