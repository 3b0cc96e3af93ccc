// Package robot holds the shared vocabulary of the motion engine: configuration,
// robot and line states, calibration profiles, the differential drive base and
// the per-run context that replaces global state.
package robot

import "fmt"

// State is the race controller's current behavior.
type State int

const (
	FollowLine State = iota
	TurningLeft
	TurningRight
	TurningAround
	ObstacleDetected
	AvoidingObstacle
	CheckingForPathAhead
)

var stateNames = [...]struct{ long, short string }{
	FollowLine:           {"FOLLOW_LINE", "FOLLOW"},
	TurningLeft:          {"TURNING_LEFT", "TURN_L"},
	TurningRight:         {"TURNING_RIGHT", "TURN_R"},
	TurningAround:        {"TURNING_AROUND", "TURN180"},
	ObstacleDetected:     {"OBSTACLE_DETECTED", "OBSTACLE"},
	AvoidingObstacle:     {"AVOIDING_OBSTACLE", "AVOIDING"},
	CheckingForPathAhead: {"CHECKING_FOR_PATH_AHEAD", "CHECKING"},
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s].long
}

// Short returns the abbreviated name used in telemetry frames.
func (s State) Short() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s].short
}

// ParseState accepts either the long or the abbreviated name.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n.long == name || n.short == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}

// MarshalText encodes the abbreviated name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.Short()), nil }

// UnmarshalText accepts either name.
func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// LinePosition classifies one line sensor reading.
type LinePosition int

const (
	TJunction LinePosition = iota
	LeftLine
	RightLine
	NoLine
	CenterLine
)

var linePositionNames = [...]struct{ long, short string }{
	TJunction:  {"T_JUNCTION", "T_JUNC"},
	LeftLine:   {"LEFT_LINE", "LEFT"},
	RightLine:  {"RIGHT_LINE", "RIGHT"},
	NoLine:     {"NO_LINE", "NONE"},
	CenterLine: {"CENTER_LINE", "CENTER"},
}

func (p LinePosition) String() string {
	if p < 0 || int(p) >= len(linePositionNames) {
		return fmt.Sprintf("LinePosition(%d)", int(p))
	}
	return linePositionNames[p].long
}

// Short returns the abbreviated name used in telemetry frames.
func (p LinePosition) Short() string {
	if p < 0 || int(p) >= len(linePositionNames) {
		return "UNKNOWN"
	}
	return linePositionNames[p].short
}

// ParseLinePosition accepts either the long or the abbreviated name.
func ParseLinePosition(name string) (LinePosition, error) {
	for i, n := range linePositionNames {
		if n.long == name || n.short == name {
			return LinePosition(i), nil
		}
	}
	return 0, fmt.Errorf("unknown line position %q", name)
}

// MarshalText encodes the abbreviated name.
func (p LinePosition) MarshalText() ([]byte, error) { return []byte(p.Short()), nil }

// UnmarshalText accepts either name.
func (p *LinePosition) UnmarshalText(b []byte) error {
	v, err := ParseLinePosition(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// SentinelCm is reported when an ultrasonic ping gets no echo. It means open
// space, not a fault.
const SentinelCm = 999

// DistanceSample is the result of one ultrasonic ping.
type DistanceSample struct {
	Cm    int  `json:"cm"`
	Valid bool `json:"valid"`
}

// NoEcho is the sample produced by a timed out ping.
func NoEcho() DistanceSample {
	return DistanceSample{Cm: SentinelCm}
}

// Within reports whether the sample is a real echo closer than cm.
func (d DistanceSample) Within(cm int) bool {
	return d.Valid && d.Cm > 0 && d.Cm < cm
}
