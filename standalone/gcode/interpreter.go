package gcode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gomotion/standalone"
	"gomotion/standalone/compensation"
	"gomotion/standalone/planner"
	"gomotion/standalone/thermal"
)

var (
	// ErrUnknownCommand is returned for a G/M/T code the interpreter does
	// not implement
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidExtruder is returned by T and M104 for an extruder index
	// the machine does not have
	ErrInvalidExtruder = errors.New("invalid extruder")
)

const (
	// tempWindow is how close a heater must get to its target for M109/M190
	tempWindow = 1.0
	// tempPollUS is the M109/M190 polling interval
	tempPollUS = 100000
)

// Homer drives the axes in a mask onto their endstops and leaves the
// planner position set to the home position
type Homer interface {
	Home(ctx context.Context, axes uint8) error
}

// Interpreter executes G-code commands against the motion queue
type Interpreter struct {
	state  *standalone.MachineState
	config *standalone.MachineConfig
	q      *planner.MotionQueue

	thermal  *thermal.Manager
	leveling compensation.Leveler
	retract  *compensation.Retraction
	skew     *compensation.Skew
	backlash *compensation.Backlash
	homer    Homer

	output func(string)
}

// NewInterpreter creates a new G-code interpreter
func NewInterpreter(config *standalone.MachineConfig, q *planner.MotionQueue) *Interpreter {
	feed := config.DefaultFeedrate
	if feed <= 0 {
		feed = 50
	}
	return &Interpreter{
		state: &standalone.MachineState{
			Position:       q.PositionCartesian(),
			AbsoluteMode:   true,
			FeedRate:       feed,
			FeedPercentage: 100,
			Temperature:    make(map[string]float64),
			TargetTemp:     make(map[string]float64),
		},
		config: config,
		q:      q,
	}
}

// SetThermal attaches the heater manager used by M104/M109/M140/M190/M105
func (interp *Interpreter) SetThermal(m *thermal.Manager) { interp.thermal = m }

// SetLeveling attaches the bed leveler toggled by M420
func (interp *Interpreter) SetLeveling(l compensation.Leveler) { interp.leveling = l }

// SetRetraction attaches the firmware retraction used by G10/G11
func (interp *Interpreter) SetRetraction(r *compensation.Retraction) { interp.retract = r }

// SetSkew attaches the skew modifier configured by M852
func (interp *Interpreter) SetSkew(s *compensation.Skew) { interp.skew = s }

// SetBacklash attaches the backlash compensator configured by M425
func (interp *Interpreter) SetBacklash(b *compensation.Backlash) { interp.backlash = b }

// SetHomer installs physical homing. Without one, G28 sets the position.
func (interp *Interpreter) SetHomer(h Homer) { interp.homer = h }

// SetOutput installs the function receiving report lines (M105, M114, ...)
func (interp *Interpreter) SetOutput(fn func(string)) { interp.output = fn }

func (interp *Interpreter) respond(format string, args ...interface{}) {
	if interp.output != nil {
		interp.output(fmt.Sprintf(format, args...))
	}
}

// Execute executes a parsed G-code command
func (interp *Interpreter) Execute(cmd *standalone.GCodeCommand) error {
	return interp.ExecuteContext(context.Background(), cmd)
}

// ExecuteContext executes a command. ctx bounds the commands that wait:
// G4, G28, M109, M190 and M400.
func (interp *Interpreter) ExecuteContext(ctx context.Context, cmd *standalone.GCodeCommand) error {
	if cmd == nil {
		return nil
	}

	switch cmd.Type {
	case 'G':
		return interp.executeG(ctx, cmd)
	case 'M':
		return interp.executeM(ctx, cmd)
	case 'T':
		return interp.executeT(cmd)
	case 0:
		return nil // comment
	}

	return fmt.Errorf("%w: %c%d", ErrUnknownCommand, cmd.Type, cmd.Number)
}

// executeG handles G-codes
func (interp *Interpreter) executeG(ctx context.Context, cmd *standalone.GCodeCommand) error {
	switch cmd.Number {
	case 0, 1: // G0/G1 - Linear move
		interp.doMove(cmd)
	case 4: // G4 - Dwell
		return interp.doDwell(ctx, cmd)
	case 10: // G10 - Retract
		interp.doRetract(true)
	case 11: // G11 - Recover
		interp.doRetract(false)
	case 28: // G28 - Home
		return interp.doHome(ctx, cmd)
	case 90: // G90 - Absolute positioning
		interp.state.AbsoluteMode = true
		interp.state.RelativeE = false
	case 91: // G91 - Relative positioning
		interp.state.AbsoluteMode = false
		interp.state.RelativeE = true
	case 92: // G92 - Set position
		interp.doSetPosition(cmd)
	default:
		return fmt.Errorf("%w: G%d", ErrUnknownCommand, cmd.Number)
	}

	return nil
}

// executeM handles M-codes
func (interp *Interpreter) executeM(ctx context.Context, cmd *standalone.GCodeCommand) error {
	switch cmd.Number {
	case 82: // M82 - Absolute extrusion
		interp.state.RelativeE = false
	case 83: // M83 - Relative extrusion
		interp.state.RelativeE = true
	case 92: // M92 - Set steps per mm
		interp.forEachAxis(cmd, interp.q.SetStepsPerMM)
	case 104, 109: // M104/M109 - Set extruder temperature (and wait)
		return interp.doHeater(ctx, cmd, true, cmd.Number == 109)
	case 140, 190: // M140/M190 - Set bed temperature (and wait)
		return interp.doHeater(ctx, cmd, false, cmd.Number == 190)
	case 105: // M105 - Report temperatures
		interp.reportTemperatures()
	case 106: // M106 - Fan on
		speed := cmd.GetParameter('S', 255)
		interp.q.SetFanSpeed(int(cmd.GetParameter('P', 0)), uint8(math.Min(math.Max(speed, 0), 255)))
	case 107: // M107 - Fan off
		interp.q.SetFanSpeed(int(cmd.GetParameter('P', 0)), 0)
	case 110: // M110 - Line number, consumed by the parser
	case 114: // M114 - Report position
		interp.reportPosition()
	case 201: // M201 - Max acceleration
		interp.forEachAxis(cmd, interp.q.SetMaxAcceleration)
	case 203: // M203 - Max feedrate
		interp.forEachAxis(cmd, interp.q.SetMaxFeedrate)
	case 204: // M204 - Default accelerations
		interp.doAccelerations(cmd)
	case 205: // M205 - Advanced settings
		interp.doAdvanced(cmd)
	case 220: // M220 - Feedrate percentage
		if cmd.HasParameter('S') {
			interp.state.FeedPercentage = int(math.Max(cmd.GetParameter('S', 100), 1))
		} else {
			interp.respond("FR:%d%%", interp.state.FeedPercentage)
		}
	case 221: // M221 - Flow percentage
		ext := uint8(cmd.GetParameter('T', float64(interp.state.ActiveExtruder)))
		if cmd.HasParameter('S') {
			interp.q.SetFlow(ext, cmd.GetParameter('S', 100))
		} else {
			interp.respond("echo:E%d Flow: %.0f%%", ext, interp.q.Flow(ext))
		}
	case 302: // M302 - Cold extrusion
		interp.doColdExtrude(cmd)
	case 400: // M400 - Finish moves
		return interp.q.Synchronize(ctx)
	case 410: // M410 - Quick stop
		return interp.QuickStop(ctx)
	case 420: // M420 - Leveling state
		return interp.doLeveling(ctx, cmd)
	case 425: // M425 - Backlash
		interp.doBacklash(cmd)
	case 852: // M852 - Skew factors
		return interp.doSkew(ctx, cmd)
	default:
		return fmt.Errorf("%w: M%d", ErrUnknownCommand, cmd.Number)
	}

	return nil
}

// executeT handles tool changes
func (interp *Interpreter) executeT(cmd *standalone.GCodeCommand) error {
	if err := interp.checkExtruder(cmd.Number); err != nil {
		return err
	}
	interp.state.ActiveExtruder = uint8(cmd.Number)
	interp.q.SetActiveExtruder(uint8(cmd.Number))
	return nil
}

func (interp *Interpreter) checkExtruder(n int) error {
	extruders := interp.config.Planner.Extruders
	if extruders < 1 {
		extruders = 1
	}
	if n < 0 || n >= extruders || n >= planner.MaxExtruders {
		return fmt.Errorf("%w: T%d", ErrInvalidExtruder, n)
	}
	return nil
}

var axisLetters = [standalone.NumAxis]byte{'X', 'Y', 'Z', 'E'}

// forEachAxis calls set for every axis letter present in cmd
func (interp *Interpreter) forEachAxis(cmd *standalone.GCodeCommand, set func(standalone.Axis, float64)) {
	for a, letter := range axisLetters {
		if cmd.HasParameter(letter) {
			set(standalone.Axis(a), cmd.GetParameter(letter, 0))
		}
	}
}

// doMove executes a linear move (G0/G1)
func (interp *Interpreter) doMove(cmd *standalone.GCodeCommand) {
	if cmd.HasParameter('F') {
		if f := cmd.GetParameter('F', 0); f > 0 {
			interp.state.FeedRate = f / 60.0 // mm/min to mm/s
		}
	}

	current := interp.state.Position
	target := current
	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		if !cmd.HasParameter(axisLetters[a]) {
			continue
		}
		v := cmd.GetParameter(axisLetters[a], 0)
		if interp.state.AbsoluteMode {
			target[a] = v
		} else {
			target[a] = current[a] + v
		}
	}
	if cmd.HasParameter('E') {
		v := cmd.GetParameter('E', 0)
		if interp.state.RelativeE {
			target[standalone.AxisE] = current[standalone.AxisE] + v
		} else {
			target[standalone.AxisE] = v
		}
	}
	interp.clampToLimits(&target)

	if target == current {
		return
	}

	fr := interp.state.FeedRate * float64(interp.state.FeedPercentage) / 100
	interp.q.BufferLine(target, fr, interp.state.ActiveExtruder, 0)
	// A rejected move still advances the logical position; the next
	// accepted move covers the difference.
	interp.state.Position = target
}

// clampToLimits applies software endstops to homed axes of non-kinematic
// machines
func (interp *Interpreter) clampToLimits(p *standalone.Position) {
	if interp.q.Kinematics().IsKinematic() {
		return
	}
	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		ac, ok := interp.config.Axis(a)
		if !ok || !interp.state.Homed[a] || ac.MaxPosition <= ac.MinPosition {
			continue
		}
		p[a] = math.Min(math.Max(p[a], ac.MinPosition), ac.MaxPosition)
	}
}

// doDwell waits for the queue to drain and then for P milliseconds or S
// seconds (G4)
func (interp *Interpreter) doDwell(ctx context.Context, cmd *standalone.GCodeCommand) error {
	if err := interp.q.Synchronize(ctx); err != nil {
		return err
	}
	ms := cmd.GetParameter('P', 0)
	if cmd.HasParameter('S') {
		ms = cmd.GetParameter('S', 0) * 1000
	}
	if ms <= 0 {
		return nil
	}
	return interp.q.Dwell(ctx, uint32(ms*1000))
}

// doRetract runs a firmware retract (G10) or recover (G11). The modifier
// shifts the target, so the move is buffered to the unchanged logical
// position.
func (interp *Interpreter) doRetract(retract bool) {
	if interp.retract == nil {
		return
	}
	var fr float64
	var ok bool
	if retract {
		fr, ok = interp.retract.Retract()
	} else {
		fr, ok = interp.retract.Recover()
	}
	if !ok {
		return
	}
	interp.q.BufferLine(interp.state.Position, fr, interp.state.ActiveExtruder, 0)
}

// doHome executes homing (G28). Without a homer the selected axes are
// declared to be at their home position.
func (interp *Interpreter) doHome(ctx context.Context, cmd *standalone.GCodeCommand) error {
	var mask uint8
	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		if cmd.HasParameter(axisLetters[a]) {
			mask |= a.Bit()
		}
	}
	// Delta towers home together
	if mask == 0 || interp.q.Kinematics().IsKinematic() {
		mask = standalone.AxisX.Bit() | standalone.AxisY.Bit() | standalone.AxisZ.Bit()
	}

	if err := interp.q.Synchronize(ctx); err != nil {
		return err
	}
	if interp.retract != nil {
		interp.retract.Reset()
	}

	if interp.homer != nil {
		if err := interp.homer.Home(ctx, mask); err != nil {
			return err
		}
		interp.state.Position = interp.q.PositionCartesian()
	} else {
		pos := interp.state.Position
		for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
			if mask&a.Bit() != 0 {
				pos[a] = HomePosition(interp.config, interp.q.Kinematics().IsKinematic(), a)
			}
		}
		interp.q.SetPositionMM(pos)
		interp.state.Position = pos
	}

	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		if mask&a.Bit() != 0 {
			interp.state.Homed[a] = true
		}
	}
	return nil
}

// HomePosition returns where an axis sits after homing: the minimum of a
// cartesian axis, or the top centre of a delta
func HomePosition(cfg *standalone.MachineConfig, kinematic bool, a standalone.Axis) float64 {
	ac, _ := cfg.Axis(a)
	if !kinematic {
		return ac.MinPosition
	}
	if a == standalone.AxisZ {
		return ac.MaxPosition
	}
	return 0
}

// doSetPosition sets the current position (G92)
func (interp *Interpreter) doSetPosition(cmd *standalone.GCodeCommand) {
	pos := interp.state.Position
	linear := false
	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		if cmd.HasParameter(axisLetters[a]) {
			pos[a] = cmd.GetParameter(axisLetters[a], 0)
			linear = true
		}
	}
	if cmd.HasParameter('E') {
		pos[standalone.AxisE] = cmd.GetParameter('E', 0)
	}
	if !linear && !cmd.HasParameter('E') {
		// Bare G92 zeroes every axis
		pos = standalone.Position{}
		linear = true
	}

	if linear {
		interp.q.SetPositionMM(pos)
	} else {
		interp.q.SetEPositionMM(pos[standalone.AxisE])
	}
	interp.state.Position = pos
}

// doHeater handles M104/M109/M140/M190
func (interp *Interpreter) doHeater(ctx context.Context, cmd *standalone.GCodeCommand, extruder, wait bool) error {
	if interp.thermal == nil {
		return nil
	}

	name := "bed"
	if extruder {
		n := int(cmd.GetParameter('T', float64(interp.state.ActiveExtruder)))
		if err := interp.checkExtruder(n); err != nil {
			return err
		}
		name = thermal.ExtruderName(uint8(n))
	}

	// R waits for cooling as well as heating
	both := cmd.HasParameter('R')
	if cmd.HasParameter('S') || both {
		target := cmd.GetParameter('S', 0)
		if both {
			target = cmd.GetParameter('R', 0)
		}
		if err := interp.thermal.SetTarget(name, target); err != nil {
			return err
		}
		interp.state.TargetTemp[name] = target
	}

	if !wait {
		return nil
	}
	return interp.waitForHeater(ctx, name, both)
}

func (interp *Interpreter) waitForHeater(ctx context.Context, name string, both bool) error {
	target, err := interp.thermal.Target(name)
	if err != nil {
		return err
	}
	for {
		t, err := interp.thermal.Temperature(name)
		if err != nil {
			return err
		}
		interp.state.Temperature[name] = t
		if t >= target-tempWindow && (!both || t <= target+tempWindow) {
			return nil
		}
		if err := interp.q.Dwell(ctx, tempPollUS); err != nil {
			return err
		}
	}
}

// reportTemperatures prints "T:cur /target B:cur /target" (M105)
func (interp *Interpreter) reportTemperatures() {
	if interp.thermal == nil {
		interp.respond("T:0.0 /0.0")
		return
	}

	var sb strings.Builder
	for _, name := range interp.thermal.Names() {
		cur, err := interp.thermal.Temperature(name)
		if err != nil {
			continue
		}
		target, _ := interp.thermal.Target(name)
		interp.state.Temperature[name] = cur

		label := strings.ToUpper(name)
		switch {
		case name == "bed":
			label = "B"
		case strings.HasPrefix(name, "extruder"):
			label = "T" + strings.TrimPrefix(name, "extruder")
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s:%.1f /%.1f", label, cur, target)
	}
	interp.respond("%s", sb.String())
}

// reportPosition prints the logical position and the stepper position (M114)
func (interp *Interpreter) reportPosition() {
	p := interp.state.Position
	interp.respond("X:%.2f Y:%.2f Z:%.2f E:%.2f Count X:%.2f Y:%.2f Z:%.2f",
		p[standalone.AxisX], p[standalone.AxisY], p[standalone.AxisZ], p[standalone.AxisE],
		interp.q.GetAxisPositionMM(standalone.AxisX),
		interp.q.GetAxisPositionMM(standalone.AxisY),
		interp.q.GetAxisPositionMM(standalone.AxisZ))
}

// doAccelerations handles M204 S P R T
func (interp *Interpreter) doAccelerations(cmd *standalone.GCodeCommand) {
	if cmd.HasParameter('S') {
		s := cmd.GetParameter('S', 0)
		interp.q.SetPrintAccel(s)
		interp.q.SetTravelAccel(s)
	}
	if cmd.HasParameter('P') {
		interp.q.SetPrintAccel(cmd.GetParameter('P', 0))
	}
	if cmd.HasParameter('R') {
		interp.q.SetRetractAccel(cmd.GetParameter('R', 0))
	}
	if cmd.HasParameter('T') {
		interp.q.SetTravelAccel(cmd.GetParameter('T', 0))
	}
}

// doAdvanced handles M205 B S T J X Y Z E
func (interp *Interpreter) doAdvanced(cmd *standalone.GCodeCommand) {
	if cmd.HasParameter('B') {
		interp.q.SetMinSegmentTime(uint32(math.Max(cmd.GetParameter('B', 0), 0)))
	}
	if cmd.HasParameter('S') {
		interp.q.SetMinFeedrate(cmd.GetParameter('S', 0))
	}
	if cmd.HasParameter('T') {
		interp.q.SetMinTravelFeedrate(cmd.GetParameter('T', 0))
	}
	if cmd.HasParameter('J') {
		interp.q.SetJunctionDeviation(cmd.GetParameter('J', 0))
	}
	interp.forEachAxis(cmd, interp.q.SetMaxJerk)
}

// doColdExtrude handles M302. P1 or S0 allows cold extrusion, S sets the
// minimum temperature, no parameters reports.
func (interp *Interpreter) doColdExtrude(cmd *standalone.GCodeCommand) {
	if interp.thermal == nil {
		return
	}
	if !cmd.HasParameter('S') && !cmd.HasParameter('P') {
		minTemp, active := interp.thermal.MinExtrudeTemp()
		state := "enabled"
		if active {
			state = "disabled"
		}
		interp.respond("echo:Cold extrudes are %s (min temp %.0fC)", state, minTemp)
		return
	}
	if cmd.HasParameter('S') {
		s := cmd.GetParameter('S', 0)
		interp.thermal.SetMinExtrudeTemp(s)
		interp.thermal.SetAllowColdExtrude(s == 0)
	}
	if cmd.HasParameter('P') {
		interp.thermal.SetAllowColdExtrude(cmd.GetParameter('P', 0) != 0)
	}
}

// QuickStop discards all queued motion (M410) and resyncs the logical
// position from where the steppers stopped
func (interp *Interpreter) QuickStop(ctx context.Context) error {
	interp.q.QuickStop()
	err := interp.q.Synchronize(ctx)
	interp.resyncPosition()
	return err
}

// resyncPosition re-derives the logical position from the stepper counts,
// after a stop or a modifier change
func (interp *Interpreter) resyncPosition() {
	interp.q.SyncFromSteppers()
	interp.state.Position = interp.q.PositionCartesian()
}

// doLeveling handles M420 S Z
func (interp *Interpreter) doLeveling(ctx context.Context, cmd *standalone.GCodeCommand) error {
	if interp.leveling == nil {
		interp.respond("echo:Bed leveling not configured")
		return nil
	}

	if cmd.HasParameter('Z') {
		interp.leveling.SetFadeHeight(cmd.GetParameter('Z', 0))
	}
	if cmd.HasParameter('S') {
		on := cmd.GetParameter('S', 0) != 0
		if on != interp.leveling.Enabled() {
			if err := interp.q.Synchronize(ctx); err != nil {
				return err
			}
			interp.leveling.SetEnabled(on)
			interp.resyncPosition()
		}
	}

	state := "OFF"
	if interp.leveling.Enabled() {
		state = "ON"
	}
	interp.respond("echo:Bed Leveling %s", state)
	return nil
}

// doBacklash handles M425 F S X Y Z
func (interp *Interpreter) doBacklash(cmd *standalone.GCodeCommand) {
	if interp.backlash == nil {
		return
	}

	changed := false
	if cmd.HasParameter('F') {
		interp.backlash.SetCorrection(cmd.GetParameter('F', 0))
		changed = true
	}
	if cmd.HasParameter('S') {
		interp.backlash.SetSmoothing(cmd.GetParameter('S', 0))
		changed = true
	}
	for a := standalone.AxisX; a <= standalone.AxisZ; a++ {
		if cmd.HasParameter(axisLetters[a]) {
			interp.backlash.SetDistance(a, cmd.GetParameter(axisLetters[a], 0))
			changed = true
		}
	}
	if changed {
		return
	}

	b := interp.backlash
	interp.respond("echo:Backlash correction F%.2f smoothing %.2fmm X%.3f Y%.3f Z%.3f",
		b.Correction(), b.Smoothing(),
		b.Distance(standalone.AxisX), b.Distance(standalone.AxisY), b.Distance(standalone.AxisZ))
}

// doSkew handles M852 I J K (xy, xz, yz)
func (interp *Interpreter) doSkew(ctx context.Context, cmd *standalone.GCodeCommand) error {
	if interp.skew == nil {
		return nil
	}

	xy, xz, yz := interp.skew.Factors()
	if !cmd.HasParameter('I') && !cmd.HasParameter('J') && !cmd.HasParameter('K') {
		interp.respond("echo:Skew Factor XY: %.6f XZ: %.6f YZ: %.6f", xy, xz, yz)
		return nil
	}

	if err := interp.q.Synchronize(ctx); err != nil {
		return err
	}
	interp.skew.Set(cmd.GetParameter('I', xy), cmd.GetParameter('J', xz), cmd.GetParameter('K', yz))
	interp.resyncPosition()
	return nil
}

// GetState returns the current machine state
func (interp *Interpreter) GetState() *standalone.MachineState {
	return interp.state
}
