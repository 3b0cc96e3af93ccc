package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/a8m/envsubst"
)

const DefaultConfigFile = "relaybot.json"

// Config holds everything that differs between robots of the family: wiring,
// geometry, speeds and thresholds. One Config replaces the per-robot sketches.
type Config struct {
	Port      string          `json:"port"`
	Geometry  Geometry        `json:"geometry"`
	Encoder   EncoderConfig   `json:"encoder"`
	Speeds    Speeds          `json:"speeds"`
	Line      LineConfig      `json:"line"`
	Maze      MazeConfig      `json:"maze"`
	Race      RaceConfig      `json:"race"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Gripper   GripperConfig   `json:"gripper"`
	Pins      Pins            `json:"pins"`
}

// Geometry describes the drive train.
type Geometry struct {
	WheelCircumferenceCm float64 `json:"wheel_circumference_cm"`
	TrackWidthCm         float64 `json:"track_width_cm"`
	PulsesPerRotation    int     `json:"pulses_per_rotation"`
}

// WheelDiameterCm derives the wheel diameter from its circumference.
func (g Geometry) WheelDiameterCm() float64 {
	return g.WheelCircumferenceCm / math.Pi
}

// EdgeMode selects which encoder transitions count as a tick.
type EdgeMode string

const (
	EdgeRising EdgeMode = "rising"
	EdgeAny    EdgeMode = "any"
)

// StopRule selects when a tick-counted maneuver is complete.
type StopRule string

const (
	StopBoth   StopRule = "both"   // both wheels reached the target
	StopEither StopRule = "either" // the first wheel to reach the target ends it
)

// EncoderConfig describes how wheel encoders are read.
type EncoderConfig struct {
	Edge     EdgeMode `json:"edge"`
	StopRule StopRule `json:"stop_rule"`
	// Analog encoders are sampled with ReadAnalog and compared against Threshold.
	Analog    bool `json:"analog"`
	Threshold int  `json:"threshold"`
	// Debounce is the minimum spacing between interrupt-counted ticks.
	Debounce Duration `json:"debounce"`
	// SafetyTimeout aborts a maneuver whose encoders stop advancing. Zero
	// disables it and a stalled wheel blocks forever.
	SafetyTimeout Duration `json:"safety_timeout"`
}

// Speeds holds PWM values in [0, 255].
type Speeds struct {
	Base        int     `json:"base"`
	Turn        int     `json:"turn"`
	Calibration int     `json:"calibration"`
	Min         int     `json:"min"`
	Max         int     `json:"max"`
	RightTrim   int     `json:"right_trim"`
	Curve       float64 `json:"curve"`    // inner wheel factor for curves
	Recovery    float64 `json:"recovery"` // speed factor while searching for a lost line
}

// LineConfig configures the line sensor array and its follower.
type LineConfig struct {
	Channels []int `json:"channels"`
	// FixedThresholds are used when no calibration maneuver has been run.
	FixedThresholds     []int    `json:"fixed_thresholds,omitempty"`
	CalibrationDuration Duration `json:"calibration_duration"`
	Kp                  float64  `json:"kp"`
	Ki                  float64  `json:"ki"`
	Kd                  float64  `json:"kd"`
	Deadband            float64  `json:"deadband"`
}

// MazeConfig holds the wall follower thresholds in centimeters.
type MazeConfig struct {
	CriticalCm  int      `json:"critical_cm"`
	GapCm       int      `json:"gap_cm"`
	WallStopCm  int      `json:"wall_stop_cm"`
	TooCloseCm  int      `json:"too_close_cm"`
	AlignGain   float64  `json:"align_gain"` // PWM per centimeter inside the too-close band
	Reverse     Duration `json:"reverse"`
	Approach    Duration `json:"approach"` // drive before turning into an opening
	Corridor    Duration `json:"corridor"` // drive after turning into an opening
	Drive       Duration `json:"drive"`    // one wall-centering run
	Sample      Duration `json:"sample"`
	EchoTimeout Duration `json:"echo_timeout"`
}

// RaceConfig holds the race controller parameters.
type RaceConfig struct {
	ObstacleCm        int      `json:"obstacle_cm"`
	BaseToConeTicks   int      `json:"base_to_cone_ticks"`
	JunctionFraction  float64  `json:"junction_fraction"` // of a wheel rotation
	ApproachCm        float64  `json:"approach_cm"`       // drive past a branch before turning into it
	FinishReverseTick int      `json:"finish_reverse_ticks"`
	LineLostTimeout   Duration `json:"line_lost_timeout"`
	Loop              Duration `json:"loop"`
	ObstacleCheck     Duration `json:"obstacle_check"`
	EchoTimeout       Duration `json:"echo_timeout"`
}

// TelemetryConfig configures the radio link.
type TelemetryConfig struct {
	RobotID       string   `json:"robot_id"`
	Port          string   `json:"port,omitempty"`
	Baud          int      `json:"baud"`
	StatsInterval Duration `json:"stats_interval"`
	CommandPoll   Duration `json:"command_poll"`
}

// GripperConfig configures the cone gripper.
type GripperConfig struct {
	OpenUs  int      `json:"open_us"`
	CloseUs int      `json:"close_us"`
	Refresh Duration `json:"refresh"`
	// ServoID selects a Feetech bus servo on Port instead of a pulse servo
	// when non-zero.
	ServoID int    `json:"servo_id,omitempty"`
	Port    string `json:"port,omitempty"`
}

// Sonar is the pin pair of one HC-SR04.
type Sonar struct {
	Trigger int `json:"trigger"`
	Echo    int `json:"echo"`
}

// Pins maps board pins to roles.
type Pins struct {
	LeftForward   int   `json:"left_forward"`
	LeftBackward  int   `json:"left_backward"`
	RightForward  int   `json:"right_forward"`
	RightBackward int   `json:"right_backward"`
	LeftEncoder   int   `json:"left_encoder"`
	RightEncoder  int   `json:"right_encoder"`
	Front         Sonar `json:"front"`
	LeftSonar     Sonar `json:"left_sonar"`
	RightSonar    Sonar `json:"right_sonar"`
	Gripper       int   `json:"gripper"`
	LED           int   `json:"led"`
}

// DefaultConfig returns the RelayBot "R2" configuration.
func DefaultConfig() *Config {
	return &Config{
		Geometry: Geometry{
			WheelCircumferenceCm: 20.4,
			TrackWidthCm:         22.75,
			PulsesPerRotation:    20,
		},
		Encoder: EncoderConfig{
			Edge:      EdgeRising,
			StopRule:  StopBoth,
			Analog:    false,
			Threshold: 512,
			Debounce:  Duration(20 * time.Millisecond),
		},
		Speeds: Speeds{
			Base:        180,
			Turn:        150,
			Calibration: 150,
			Min:         0,
			Max:         255,
			RightTrim:   0,
			Curve:       0.6,
			Recovery:    0.6,
		},
		Line: LineConfig{
			Channels:            []int{0, 1, 2, 3, 4, 5, 6, 7},
			CalibrationDuration: Duration(2 * time.Second),
			Kp:                  12,
			Deadband:            20,
		},
		Maze: MazeConfig{
			CriticalCm:  5,
			GapCm:       30,
			WallStopCm:  13,
			TooCloseCm:  8,
			AlignGain:   6,
			Reverse:     Duration(300 * time.Millisecond),
			Approach:    Duration(250 * time.Millisecond),
			Corridor:    Duration(600 * time.Millisecond),
			Drive:       Duration(400 * time.Millisecond),
			Sample:      Duration(40 * time.Millisecond),
			EchoTimeout: Duration(30 * time.Millisecond),
		},
		Race: RaceConfig{
			ObstacleCm:        15,
			BaseToConeTicks:   33,
			JunctionFraction:  0.25,
			ApproachCm:        8,
			FinishReverseTick: 20,
			LineLostTimeout:   Duration(600 * time.Millisecond),
			Loop:              Duration(5 * time.Millisecond),
			ObstacleCheck:     Duration(100 * time.Millisecond),
			EchoTimeout:       Duration(30 * time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			RobotID:       "R2",
			Baud:          9600,
			StatsInterval: Duration(2 * time.Second),
			CommandPoll:   Duration(100 * time.Millisecond),
		},
		Gripper: GripperConfig{
			OpenUs:  1750,
			CloseUs: 1000,
			Refresh: Duration(20 * time.Millisecond),
		},
		Pins: Pins{
			LeftForward:   10,
			LeftBackward:  11,
			RightForward:  5,
			RightBackward: 6,
			LeftEncoder:   2,
			RightEncoder:  3,
			Front:         Sonar{Trigger: 7, Echo: 8},
			LeftSonar:     Sonar{Trigger: 12, Echo: 13},
			RightSonar:    Sonar{Trigger: 14, Echo: 15},
			Gripper:       4,
			LED:           9,
		},
	}
}

// TicksPerRotation is the number of counted ticks in one wheel revolution.
// Counting every transition doubles the resolution of the slotted disc.
func (c *Config) TicksPerRotation() int {
	if c.Encoder.Edge == EdgeAny {
		return 2 * c.Geometry.PulsesPerRotation
	}
	return c.Geometry.PulsesPerRotation
}

// TicksPerDegree converts a tank-turn angle to ticks per wheel.
func (c *Config) TicksPerDegree() float64 {
	return c.Geometry.TrackWidthCm / c.Geometry.WheelDiameterCm() * float64(c.TicksPerRotation()) / 360
}

// TicksForDistance converts a straight-line distance to ticks per wheel.
func (c *Config) TicksForDistance(cm float64) int {
	return int(math.Round(cm / c.Geometry.WheelCircumferenceCm * float64(c.TicksPerRotation())))
}

// Validate reports configuration mistakes that would make the robot misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Geometry.WheelCircumferenceCm <= 0 || c.Geometry.TrackWidthCm <= 0 {
		errs = append(errs, errors.New("geometry must be positive"))
	}
	if c.Geometry.PulsesPerRotation <= 0 {
		errs = append(errs, errors.New("pulses_per_rotation must be positive"))
	}
	switch c.Encoder.Edge {
	case EdgeRising, EdgeAny:
	default:
		errs = append(errs, fmt.Errorf("unknown encoder edge %q", c.Encoder.Edge))
	}
	switch c.Encoder.StopRule {
	case StopBoth, StopEither:
	default:
		errs = append(errs, fmt.Errorf("unknown stop rule %q", c.Encoder.StopRule))
	}
	if len(c.Line.Channels) < 3 {
		errs = append(errs, errors.New("at least 3 line sensors are required"))
	}
	if n := len(c.Line.FixedThresholds); n != 0 && n != len(c.Line.Channels) {
		errs = append(errs, fmt.Errorf("fixed_thresholds has %d entries, want %d", n, len(c.Line.Channels)))
	}
	if c.Speeds.Min > c.Speeds.Max {
		errs = append(errs, errors.New("speeds.min exceeds speeds.max"))
	}
	if c.Gripper.ServoID != 0 && c.Gripper.Port == "" {
		errs = append(errs, errors.New("gripper.servo_id needs gripper.port"))
	}
	return errors.Join(errs...)
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. ${VAR} references
// are expanded from the environment and missing keys keep their defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err = envsubst.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("expand config: %w", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// Duration is a time.Duration written as "250ms" in JSON.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var ms int64
		if err := json.Unmarshal(b, &ms); err != nil {
			return fmt.Errorf("duration must be a string or milliseconds: %s", b)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
