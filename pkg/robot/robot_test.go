package robot

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaybot/relaybot/pkg/hal"
)

type recordingMotors struct {
	speed map[hal.Wheel]int
}

func (m *recordingMotors) SetMotorPwm(w hal.Wheel, speed int) error {
	if m.speed == nil {
		m.speed = make(map[hal.Wheel]int)
	}
	m.speed[w] = speed
	return nil
}

func TestBaseDrive(t *testing.T) {
	m := &recordingMotors{}
	b := NewBase(m, Speeds{RightTrim: 5, Curve: 0.6})

	tests := []struct {
		name        string
		do          func() error
		left, right int
	}{
		{"forward", func() error { return b.Forward(180) }, 180, 185},
		{"backward", func() error { return b.Backward(100) }, -100, -105},
		{"spin left", func() error { return b.SpinLeft(150) }, -150, 150},
		{"spin right", func() error { return b.SpinRight(150) }, 150, -150},
		{"curve left", func() error { return b.CurveLeft(200) }, 120, 200},
		{"curve right", func() error { return b.CurveRight(200) }, 200, 120},
		{"clamped", func() error { return b.SetWheels(400, -300) }, 255, -255},
		{"stop", b.Stop, 0, 0},
	}
	for _, tt := range tests {
		if err := tt.do(); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if m.speed[hal.Left] != tt.left || m.speed[hal.Right] != tt.right {
			t.Errorf("%s: wheels = %d/%d, want %d/%d", tt.name, m.speed[hal.Left], m.speed[hal.Right], tt.left, tt.right)
		}
		if l, r := b.Speeds(); l != tt.left || r != tt.right {
			t.Errorf("%s: Speeds() = %d/%d, want %d/%d", tt.name, l, r, tt.left, tt.right)
		}
	}
}

func TestTicksPerDegree(t *testing.T) {
	cfg := DefaultConfig()

	// 22.75cm track on 20.4cm wheels with 20 slots: a 180 degree tank turn
	// is 35 ticks per wheel.
	if got := int(math.Round(180 * cfg.TicksPerDegree())); got != 35 {
		t.Errorf("ticks for 180 = %d, want 35", got)
	}

	cfg.Encoder.Edge = EdgeAny
	if got := cfg.TicksPerRotation(); got != 40 {
		t.Errorf("TicksPerRotation() with any-edge = %d, want 40", got)
	}
	if got := int(math.Round(180 * cfg.TicksPerDegree())); got != 70 {
		t.Errorf("ticks for 180 with any-edge = %d, want 70", got)
	}
}

func TestTicksForDistance(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		cm   float64
		want int
	}{
		{20.4, 20},
		{10.2, 10},
		{0, 0},
		{40.8, 40},
	}
	for _, tt := range tests {
		if got := cfg.TicksForDistance(tt.cm); got != tt.want {
			t.Errorf("TicksForDistance(%f) = %d, want %d", tt.cm, got, tt.want)
		}
	}
}

func TestConfigRoundTripWithEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relaybot.json")

	cfg := DefaultConfig()
	cfg.Port = "${RELAYBOT_TEST_PORT}"
	cfg.Line.FixedThresholds = []int{750, 750, 750, 750, 750, 750, 750, 750}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	t.Setenv("RELAYBOT_TEST_PORT", "/dev/ttyACM7")
	got, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if got.Port != "/dev/ttyACM7" {
		t.Errorf("Port = %q, want /dev/ttyACM7", got.Port)
	}
	if got.Race.LineLostTimeout != cfg.Race.LineLostTimeout {
		t.Errorf("LineLostTimeout = %v, want %v", got.Race.LineLostTimeout.D(), cfg.Race.LineLostTimeout.D())
	}
	if len(got.Line.FixedThresholds) != 8 {
		t.Errorf("FixedThresholds = %v", got.Line.FixedThresholds)
	}
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	if err := os.WriteFile(path, []byte(`{"speeds": {"base": 200}, "race": {"loop": 10}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if cfg.Speeds.Base != 200 {
		t.Errorf("Speeds.Base = %d, want 200", cfg.Speeds.Base)
	}
	if cfg.Speeds.Turn != 150 {
		t.Errorf("Speeds.Turn = %d, want default 150", cfg.Speeds.Turn)
	}
	if cfg.Race.Loop.D() != 10*time.Millisecond {
		t.Errorf("Race.Loop = %v, want 10ms", cfg.Race.Loop.D())
	}
	if cfg.Telemetry.RobotID != "R2" {
		t.Errorf("RobotID = %q, want R2", cfg.Telemetry.RobotID)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.Encoder.StopRule = "sometimes"
	cfg.Line.FixedThresholds = []int{1, 2}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted unknown stop rule and short thresholds")
	}

	cfg = DefaultConfig()
	cfg.Gripper.ServoID = 7
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted a bus servo without a port")
	}
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"250ms"`), &d); err != nil || d.D() != 250*time.Millisecond {
		t.Errorf("Unmarshal(\"250ms\") = %v, %v", d.D(), err)
	}
	b, err := json.Marshal(Duration(2 * time.Second))
	if err != nil || string(b) != `"2s"` {
		t.Errorf("Marshal(2s) = %s, %v", b, err)
	}
}

func TestStateNames(t *testing.T) {
	tests := []struct {
		s     State
		long  string
		short string
	}{
		{FollowLine, "FOLLOW_LINE", "FOLLOW"},
		{TurningLeft, "TURNING_LEFT", "TURN_L"},
		{TurningRight, "TURNING_RIGHT", "TURN_R"},
		{TurningAround, "TURNING_AROUND", "TURN180"},
		{ObstacleDetected, "OBSTACLE_DETECTED", "OBSTACLE"},
		{AvoidingObstacle, "AVOIDING_OBSTACLE", "AVOIDING"},
		{CheckingForPathAhead, "CHECKING_FOR_PATH_AHEAD", "CHECKING"},
	}
	for _, tt := range tests {
		if tt.s.String() != tt.long || tt.s.Short() != tt.short {
			t.Errorf("State %v: short %s, want %s/%s", tt.s, tt.s.Short(), tt.long, tt.short)
		}
		if got, err := ParseState(tt.short); err != nil || got != tt.s {
			t.Errorf("ParseState(%q) = %v, %v", tt.short, got, err)
		}
	}
	if _, err := ParseLinePosition("T_JUNC"); err != nil {
		t.Errorf("ParseLinePosition(T_JUNC): %v", err)
	}
}

func TestDistanceSampleWithin(t *testing.T) {
	tests := []struct {
		d    DistanceSample
		want bool
	}{
		{DistanceSample{Cm: 10, Valid: true}, true},
		{DistanceSample{Cm: 15, Valid: true}, false},
		{DistanceSample{Cm: 0, Valid: true}, false},
		{NoEcho(), false},
	}
	for _, tt := range tests {
		if got := tt.d.Within(15); got != tt.want {
			t.Errorf("%+v.Within(15) = %v, want %v", tt.d, got, tt.want)
		}
	}
}
