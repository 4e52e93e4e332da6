// Package manager wires a machine configuration into a running motion
// core: kinematics, coordinate modifiers, the motion queue, the step
// executor and the G-code interpreter.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"gomotion/core"
	"gomotion/standalone"
	"gomotion/standalone/compensation"
	"gomotion/standalone/config"
	"gomotion/standalone/gcode"
	"gomotion/standalone/kinematics"
	"gomotion/standalone/planner"
	"gomotion/standalone/stepgen"
	"gomotion/standalone/thermal"
)

var (
	// ErrNotInitialized is returned before Initialize has run
	ErrNotInitialized = errors.New("manager not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize
	ErrAlreadyInitialized = errors.New("already initialized")
	// ErrNotRunning is returned for input received before Start
	ErrNotRunning = errors.New("manager not running")
)

// Options supplies the platform side of a machine. Nil fields fall back to
// simulation, which is what hosted builds use.
type Options struct {
	// Backend returns the step backend for an axis
	Backend func(axis standalone.Axis) core.StepperBackend
	// Idle runs while the producer waits; nil advances the simulated clock
	Idle func()
	// Endstops overrides the endstop of an axis
	Endstops map[standalone.Axis]stepgen.Endstop
	// Sensors overrides the sensor of a heater by name
	Sensors map[string]thermal.Sensor
	// Fans and Laser receive output changes as they reach the executor
	Fans  func(speeds [planner.MaxFans]uint8)
	Laser func(power uint8)
}

// Manager coordinates all standalone mode components
type Manager struct {
	config      *standalone.MachineConfig
	parser      *gcode.Parser
	interpreter *gcode.Interpreter
	queue       *planner.MotionQueue
	executor    *stepgen.Executor
	kinematics  kinematics.Kinematics
	thermal     *thermal.Manager

	leveling compensation.Leveler
	skew     *compensation.Skew
	retract  *compensation.Retraction
	backlash *compensation.Backlash

	// Serial interface
	inputBuffer []byte
	outMu       sync.Mutex
	output      []byte

	stateMu sync.Mutex
	fans    [planner.MaxFans]uint8
	laser   uint8

	// Status
	initialized bool
	running     atomic.Bool
}

// NewManager creates a new standalone mode manager
func NewManager(configData []byte) (*Manager, error) {
	cfg, err := config.LoadConfig(configData)
	if err != nil {
		return nil, err
	}

	return NewManagerWithConfig(cfg)
}

// NewManagerWithConfig creates a manager with an existing config
func NewManagerWithConfig(cfg *standalone.MachineConfig) (*Manager, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	return &Manager{
		config:      cfg,
		parser:      gcode.NewParser(),
		inputBuffer: make([]byte, 0, 256),
		output:      make([]byte, 0, 256),
	}, nil
}

// Initialize sets up all components
func (m *Manager) Initialize(opts Options) error {
	if m.initialized {
		return ErrAlreadyInitialized
	}

	kin, err := kinematics.New(m.config)
	if err != nil {
		return err
	}
	m.kinematics = kin

	settings, err := planner.SettingsFromConfig(m.config)
	if err != nil {
		return err
	}
	q, err := planner.NewMotionQueue(settings, kin)
	if err != nil {
		return err
	}
	m.queue = q
	q.SetEcho(func(msg string) { m.SendResponse("echo:" + msg + "\n") })
	if opts.Idle != nil {
		q.SetIdle(opts.Idle)
	} else {
		q.SetIdle(stepgen.SimClock())
	}

	if err := m.initModifiers(); err != nil {
		return err
	}
	m.initThermal(opts.Sensors)

	if err := m.initExecutor(opts); err != nil {
		return err
	}

	m.interpreter = gcode.NewInterpreter(m.config, q)
	m.interpreter.SetThermal(m.thermal)
	m.interpreter.SetLeveling(m.leveling)
	m.interpreter.SetRetraction(m.retract)
	m.interpreter.SetSkew(m.skew)
	m.interpreter.SetBacklash(m.backlash)
	m.interpreter.SetOutput(func(s string) { m.SendResponse(s + "\n") })
	if !kin.IsKinematic() {
		m.interpreter.SetHomer(&homer{m: m})
	}

	m.initialized = true
	return nil
}

func (m *Manager) initModifiers() error {
	leveling, err := compensation.NewLeveler(m.config.Leveling)
	if err != nil {
		return err
	}
	m.leveling = leveling
	m.skew = compensation.NewSkew(m.config.Skew)
	m.retract = compensation.NewRetraction(m.config.Retract)
	m.backlash = compensation.NewBacklash(m.config.Backlash, m.config)

	m.queue.SetSkew(m.skew)
	if leveling != nil {
		m.queue.SetLeveling(leveling)
	}
	m.queue.SetRetraction(m.retract)
	m.queue.SetBacklash(m.backlash)
	return nil
}

func (m *Manager) initThermal(sensors map[string]thermal.Sensor) {
	p := m.config.Planner
	m.thermal = thermal.NewManager(p.ExtrudeMinTemp, p.Fans)
	for name, hc := range m.config.Heaters {
		sensor, ok := sensors[name]
		if !ok {
			sensor = thermal.NewSimulatedSensor(25, true)
		}
		m.thermal.Attach(name, hc.Extruder, sensor)
	}
	m.queue.SetThermal(m.thermal)
}

func (m *Manager) initExecutor(opts Options) error {
	var motors [standalone.NumAxis]*stepgen.Motor
	for a := standalone.AxisX; a < standalone.NumAxis; a++ {
		ac, ok := m.config.Axis(a)
		if !ok {
			continue
		}
		var backend core.StepperBackend
		if opts.Backend != nil {
			backend = opts.Backend(a)
		} else {
			backend = stepgen.NewSimBackend()
		}
		motors[a] = stepgen.NewMotor(a.String(), ac, backend)
		if err := motors[a].InitPins(); err != nil {
			return err
		}
	}

	m.executor = stepgen.NewExecutor(m.queue, motors)
	m.queue.SetStepper(m.executor)
	m.executor.SetFanSink(func(f [planner.MaxFans]uint8) {
		m.stateMu.Lock()
		m.fans = f
		m.stateMu.Unlock()
		if opts.Fans != nil {
			opts.Fans(f)
		}
	})
	m.executor.SetLaserSink(func(p uint8) {
		m.stateMu.Lock()
		m.laser = p
		m.stateMu.Unlock()
		if opts.Laser != nil {
			opts.Laser(p)
		}
	})

	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		if es, ok := opts.Endstops[a]; ok {
			m.executor.SetEndstop(a, es)
			continue
		}
		if opts.Endstops != nil || m.kinematics.IsKinematic() {
			continue
		}
		ac, _ := m.config.Axis(a)
		home := gcode.HomePosition(m.config, false, a)
		m.executor.SetEndstop(a, stepgen.SimEndstop(m.executor, m.kinematics, a, home, ac.StepsPerMM, true))
	}
	return nil
}

// ProcessLine processes a line of G-code
func (m *Manager) ProcessLine(line string) error {
	return m.ProcessLineContext(context.Background(), line)
}

// ProcessLineContext processes a line of G-code. ctx bounds commands that
// wait for motion or heaters.
func (m *Manager) ProcessLineContext(ctx context.Context, line string) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if !m.running.Load() {
		return ErrNotRunning
	}

	cmd, err := m.parser.ParseLine(line)
	if err != nil {
		return err
	}
	if cmd == nil {
		return nil
	}

	// M110 without an N prefix sets the line counter from its parameter
	if cmd.Type == 'M' && cmd.Number == 110 && cmd.HasParameter('N') {
		m.parser.SetLastLine(int(cmd.GetParameter('N', 0)))
	}

	return m.interpreter.ExecuteContext(ctx, cmd)
}

// ProcessByte processes a single byte of input (for serial streaming)
func (m *Manager) ProcessByte(b byte) error {
	return m.ProcessByteContext(context.Background(), b)
}

// ProcessByteContext processes a single byte of input. A complete line is
// executed and answered with "ok"; errors are reported to the host before
// the "ok" and returned.
func (m *Manager) ProcessByteContext(ctx context.Context, b byte) error {
	if b != '\n' && b != '\r' {
		m.inputBuffer = append(m.inputBuffer, b)
		return nil
	}

	line := strings.TrimSpace(string(m.inputBuffer))
	m.inputBuffer = m.inputBuffer[:0]
	if len(line) == 0 {
		return nil
	}

	err := m.ProcessLineContext(ctx, line)
	switch {
	case err == nil:
	case errors.Is(err, gcode.ErrChecksum), errors.Is(err, gcode.ErrLineNumber):
		m.SendResponse(fmt.Sprintf("Error:%v\nResend: %d\n", err, m.parser.LastLine()+1))
	case errors.Is(err, gcode.ErrUnknownCommand):
		m.SendResponse(fmt.Sprintf("echo:Unknown command: %q\n", line))
	default:
		m.SendResponse(fmt.Sprintf("Error:%v\n", err))
	}
	m.SendResponse("ok\n")
	return err
}

// SendResponse queues a response to be sent to the host
func (m *Manager) SendResponse(response string) {
	m.outMu.Lock()
	m.output = append(m.output, response...)
	m.outMu.Unlock()
}

// GetOutput returns any pending output and clears the buffer
func (m *Manager) GetOutput() []byte {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	if len(m.output) == 0 {
		return nil
	}

	output := make([]byte, len(m.output))
	copy(output, m.output)
	m.output = m.output[:0]
	return output
}

// Start begins standalone operation
func (m *Manager) Start() error {
	if !m.initialized {
		return ErrNotInitialized
	}

	m.executor.Start()
	m.running.Store(true)
	m.SendResponse("start\n")
	return nil
}

// Stop halts all operation. Queued motion is discarded.
func (m *Manager) Stop() {
	if !m.running.Swap(false) {
		return
	}
	m.queue.QuickStop()
	m.executor.Stop()
}

// IsRunning returns whether the manager is running
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// EmergencyStop aborts motion and switches every heater off. The machine
// keeps running so the host can resync.
func (m *Manager) EmergencyStop(ctx context.Context) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	for _, name := range m.thermal.Names() {
		_ = m.thermal.SetTarget(name, 0)
	}
	return m.interpreter.QuickStop(ctx)
}

// GetState returns the current machine state
func (m *Manager) GetState() *standalone.MachineState {
	if m.interpreter != nil {
		return m.interpreter.GetState()
	}
	return nil
}

// Queue returns the motion queue
func (m *Manager) Queue() *planner.MotionQueue { return m.queue }

// Executor returns the step executor
func (m *Manager) Executor() *stepgen.Executor { return m.executor }

// Thermal returns the heater manager
func (m *Manager) Thermal() *thermal.Manager { return m.thermal }

// Config returns the machine configuration
func (m *Manager) Config() *standalone.MachineConfig { return m.config }
