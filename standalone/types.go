package standalone

import "strings"

// Axis identifies a logical axis (X, Y, Z, E) or, after kinematic
// coupling, the motor driving that slot (A, B, C, E).
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisE
)

// NumAxis is the number of planner axes (three linear axes and one extruder)
const NumAxis = 4

// Machine axis aliases used after inverse kinematics
const (
	AxisA = AxisX
	AxisB = AxisY
	AxisC = AxisZ
)

var axisNames = [NumAxis]string{"x", "y", "z", "e"}

// String returns the lower-case axis name
func (a Axis) String() string {
	if int(a) < NumAxis {
		return axisNames[a]
	}
	return "?"
}

// Bit returns the axis bit used in direction and endstop masks
func (a Axis) Bit() uint8 {
	return 1 << a
}

// AxisFromName resolves "x", "Y", "e", ... to an Axis
func AxisFromName(name string) (Axis, bool) {
	name = strings.ToLower(name)
	for i, n := range axisNames {
		if n == name {
			return Axis(i), true
		}
	}
	return 0, false
}

// Position is a per-axis vector in millimeters. Depending on context it
// holds cartesian XYZE or machine ABCE coordinates.
type Position [NumAxis]float64

// Sub returns p - o
func (p Position) Sub(o Position) Position {
	var r Position
	for i := range p {
		r[i] = p[i] - o[i]
	}
	return r
}

// AxisConfig represents configuration for a single axis
type AxisConfig struct {
	StepPin        string  `json:"step_pin,omitempty"`
	DirPin         string  `json:"dir_pin,omitempty"`
	EnablePin      string  `json:"enable_pin,omitempty"`
	StepsPerMM     float64 `json:"steps_per_mm"`
	MaxFeedrate    float64 `json:"max_feedrate"` // mm/s
	MaxAccel       float64 `json:"max_accel"`    // mm/s^2
	Jerk           float64 `json:"jerk"`         // mm/s, classic jerk model only
	HomingFeedrate float64 `json:"homing_feedrate,omitempty"`
	MinPosition    float64 `json:"min_position"`
	MaxPosition    float64 `json:"max_position"`
	InvertDir      bool    `json:"invert_dir,omitempty"`
	InvertEnable   bool    `json:"invert_enable,omitempty"`
	Backlash       float64 `json:"backlash,omitempty"` // mm of slack taken up on reversal
}

// PlannerConfig holds the motion queue options
type PlannerConfig struct {
	BufferSize           int     `json:"buffer_size"`
	JunctionModel        string  `json:"junction_model" jsonschema:"enum=deviation,enum=jerk"`
	JunctionDeviation    float64 `json:"junction_deviation"`
	PrintAccel           float64 `json:"print_accel"`
	RetractAccel         float64 `json:"retract_accel"`
	TravelAccel          float64 `json:"travel_accel"`
	MinFeedrate          float64 `json:"min_feedrate"`
	MinTravelFeedrate    float64 `json:"min_travel_feedrate"`
	MinSegmentTimeUS     uint32  `json:"min_segment_time_us"`
	Slowdown             bool    `json:"slowdown"`
	MinimumPlannerSpeed  float64 `json:"minimum_planner_speed"`
	MinStepsPerSegment   uint32  `json:"min_steps_per_segment"`
	MinimalStepRate      uint32  `json:"minimal_step_rate"`
	SCurve               bool    `json:"s_curve"`
	PreventColdExtrusion bool    `json:"prevent_cold_extrusion"`
	ExtrudeMinTemp       float64 `json:"extrude_min_temp"`
	PreventLongExtrusion bool    `json:"prevent_long_extrusion"`
	ExtrudeMaxLength     float64 `json:"extrude_max_length"`
	FilamentDiameter     float64 `json:"filament_diameter,omitempty"` // 0 disables volumetric extrusion
	VolumetricLimit      float64 `json:"volumetric_limit,omitempty"`  // mm^3/s, 0 disables
	FirstMoveDelayMS     uint16  `json:"first_move_delay_ms"`
	CleaningTicks        uint32  `json:"cleaning_ticks"`
	Extruders            int     `json:"extruders"`
	Fans                 int     `json:"fans"`
}

// LevelingConfig selects and parameterizes bed leveling
type LevelingConfig struct {
	Mode       string       `json:"mode" jsonschema:"enum=none,enum=planar,enum=mesh"`
	Enabled    bool         `json:"enabled"`
	FadeHeight float64      `json:"fade_height,omitempty"`
	Fulcrum    [2]float64   `json:"fulcrum,omitempty"`
	Points     [][3]float64 `json:"points,omitempty"` // planar probe points
	MeshMin    [2]float64   `json:"mesh_min,omitempty"`
	MeshMax    [2]float64   `json:"mesh_max,omitempty"`
	Mesh       [][]float64  `json:"mesh,omitempty"` // Z offsets, rows along Y
}

// SkewConfig holds skew correction factors
type SkewConfig struct {
	XY   float64 `json:"xy"`
	XZ   float64 `json:"xz"`
	YZ   float64 `json:"yz"`
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

// RetractConfig holds firmware retraction settings
type RetractConfig struct {
	Length          float64 `json:"length"`
	ZHop            float64 `json:"z_hop"`
	Feedrate        float64 `json:"feedrate"`
	RecoverFeedrate float64 `json:"recover_feedrate"`
	RecoverExtra    float64 `json:"recover_extra,omitempty"`
}

// BacklashConfig holds backlash compensation settings. Per-axis distances
// live in AxisConfig.Backlash.
type BacklashConfig struct {
	Correction  float64 `json:"correction"` // 0..1
	SmoothingMM float64 `json:"smoothing_mm,omitempty"`
}

// DeltaConfig describes a linear delta machine
type DeltaConfig struct {
	Radius         float64    `json:"radius"`
	DiagonalRod    float64    `json:"diagonal_rod"`
	TowerAngleTrim [3]float64 `json:"tower_angle_trim,omitempty"`
}

// ScaraConfig describes a two-arm SCARA machine
type ScaraConfig struct {
	Arm1    float64 `json:"arm1"`
	Arm2    float64 `json:"arm2"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// EndstopConfig represents configuration for an endstop
type EndstopConfig struct {
	Pin    string `json:"pin"`
	Invert bool   `json:"invert,omitempty"`
}

// HeaterConfig represents configuration for a heater
type HeaterConfig struct {
	SensorPin string     `json:"sensor_pin"`
	HeaterPin string     `json:"heater_pin"`
	Extruder  int        `json:"extruder"` // -1 for the bed
	PID       [3]float64 `json:"pid"`
	MinTemp   float64    `json:"min_temp"`
	MaxTemp   float64    `json:"max_temp"`
	MaxPower  float64    `json:"max_power"`
}

// HostConfig holds host-side connection settings
type HostConfig struct {
	Device       string `json:"device,omitempty"`
	Baud         int    `json:"baud,omitempty"`
	StatusListen string `json:"status_listen,omitempty"`
}

// MachineConfig represents the complete machine configuration
type MachineConfig struct {
	Kinematics string                   `json:"kinematics" jsonschema:"enum=cartesian,enum=corexy,enum=corexz,enum=coreyz,enum=delta,enum=scara"`
	Axes       map[string]AxisConfig    `json:"axes"`
	Endstops   map[string]EndstopConfig `json:"endstops,omitempty"`
	Heaters    map[string]HeaterConfig  `json:"heaters,omitempty"`

	Planner  PlannerConfig  `json:"planner"`
	Leveling LevelingConfig `json:"leveling,omitempty"`
	Skew     SkewConfig     `json:"skew,omitempty"`
	Retract  RetractConfig  `json:"retract,omitempty"`
	Backlash BacklashConfig `json:"backlash,omitempty"`
	Delta    DeltaConfig    `json:"delta,omitempty"`
	Scara    ScaraConfig    `json:"scara,omitempty"`
	Host     HostConfig     `json:"host,omitempty"`

	FanPins  []string `json:"fan_pins,omitempty"`
	LaserPin string   `json:"laser_pin,omitempty"`

	DefaultFeedrate float64 `json:"default_feedrate"` // mm/s
}

// Axis returns the configuration of a planner axis
func (c *MachineConfig) Axis(a Axis) (AxisConfig, bool) {
	cfg, ok := c.Axes[a.String()]
	return cfg, ok
}

// MachineState represents the interpreter's view of the machine
type MachineState struct {
	Position       Position           // Logical (G-code) position
	Homed          [NumAxis]bool      // Homing status per axis
	AbsoluteMode   bool               // Absolute (G90) vs relative (G91) positioning
	FeedRate       float64            // Current feedrate (mm/s)
	RelativeE      bool               // Relative extrusion (M83)
	FeedPercentage int                // M220
	ActiveExtruder uint8              // T<n>
	Temperature    map[string]float64 // Current temperatures
	TargetTemp     map[string]float64 // Target temperatures
}

// GCodeCommand represents a parsed G-code command
type GCodeCommand struct {
	Type       byte             // 'G', 'M', 'T'
	Number     int              // Command number (e.g., 0 for G0, 28 for G28)
	Parameters map[byte]float64 // Parameters (X, Y, Z, E, F, S, etc.)
	Comment    string           // Comment text
}

// HasParameter checks if a parameter exists in the command
func (cmd *GCodeCommand) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *GCodeCommand) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}
