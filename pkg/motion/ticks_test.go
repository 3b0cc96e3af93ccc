package motion

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/hal/sim"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
)

type rig struct {
	cfg  *robot.Config
	sim  *sim.Robot
	base *robot.Base
	ctrl *TickController
}

func newRig(t *testing.T, tweak func(*robot.Config)) *rig {
	t.Helper()
	cfg := robot.DefaultConfig()
	if tweak != nil {
		tweak(cfg)
	}
	s := sim.New(cfg, nil, sim.DefaultOptions())
	base := robot.NewBase(s, cfg.Speeds)
	ctrl := NewTickController(base, sensor.EncodersFor(s, cfg), s, cfg, nil)
	return &rig{cfg: cfg, sim: s, base: base, ctrl: ctrl}
}

func headingDegrees(s *sim.Robot) float64 {
	_, h := s.Pose()
	return h * 180 / math.Pi
}

func TestTurnByDegrees_Direction(t *testing.T) {
	tests := []struct {
		degrees float64
		sign    float64
	}{
		{90, -1}, // clockwise lowers the heading
		{-90, 1}, // counter-clockwise raises it
		{180, -1},
	}
	for _, tt := range tests {
		r := newRig(t, nil)
		if _, err := r.ctrl.TurnByDegrees(tt.degrees, 150); err != nil {
			t.Fatalf("TurnByDegrees(%v): %v", tt.degrees, err)
		}
		got := headingDegrees(r.sim)
		resolution := 1 / r.cfg.TicksPerDegree()
		if math.Abs(got-tt.sign*math.Abs(tt.degrees)) > resolution {
			t.Errorf("TurnByDegrees(%v): heading %.1f, want %.1f within %.1f", tt.degrees, got, tt.sign*math.Abs(tt.degrees), resolution)
		}
	}
}

func TestTurnByDegrees_ReturnsHeading(t *testing.T) {
	for _, edge := range []robot.EdgeMode{robot.EdgeRising, robot.EdgeAny} {
		for _, d := range []float64{30, 90, 135, 180} {
			r := newRig(t, func(c *robot.Config) { c.Encoder.Edge = edge })
			if _, err := r.ctrl.TurnByDegrees(d, 150); err != nil {
				t.Fatal(err)
			}
			if _, err := r.ctrl.TurnByDegrees(-d, 150); err != nil {
				t.Fatal(err)
			}
			resolution := 1 / r.cfg.TicksPerDegree()
			if got := headingDegrees(r.sim); math.Abs(got) > resolution {
				t.Errorf("%s: turn %v and back left heading %.2f, want within %.2f", edge, d, got, resolution)
			}
		}
	}
}

func TestRunUntilTicks_StopsMotors(t *testing.T) {
	r := newRig(t, nil)
	res, err := r.ctrl.RunUntilTicks(robot.Forward, 200, 15)
	if err != nil {
		t.Fatal(err)
	}
	if res.Left < 15 || res.Right < 15 {
		t.Errorf("ticks = %d/%d, want both >= 15", res.Left, res.Right)
	}
	if l, rt := r.sim.PWM(hal.Left), r.sim.PWM(hal.Right); l != 0 || rt != 0 {
		t.Errorf("motors = %d/%d after maneuver, want stopped", l, rt)
	}
	// 15 slots of a 20-slot, 20.4cm wheel.
	p, _ := r.sim.Pose()
	if math.Abs(p.X-15.3) > 1.1 {
		t.Errorf("moved %.2fcm, want about 15.3", p.X)
	}
}

func TestRunUntilTicks_ZeroTarget(t *testing.T) {
	r := newRig(t, nil)
	r.base.Forward(100)
	res, err := r.ctrl.RunUntilTicks(robot.Forward, 200, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Left != 0 || res.Right != 0 || r.sim.PWM(hal.Left) != 0 {
		t.Errorf("zero target moved or left motors running: %+v", res)
	}
}

func TestMoveTicks_Backward(t *testing.T) {
	r := newRig(t, nil)
	if _, err := r.ctrl.MoveTicks(-10, 180); err != nil {
		t.Fatal(err)
	}
	p, _ := r.sim.Pose()
	if p.X > -9 {
		t.Errorf("position %.2f after moving back 10 ticks, want about -10", p.X)
	}
}

func TestMove(t *testing.T) {
	r := newRig(t, nil)
	if _, err := r.ctrl.Move(20.4, 180); err != nil {
		t.Fatal(err)
	}
	p, _ := r.sim.Pose()
	if math.Abs(p.X-20.4) > 1.1 {
		t.Errorf("Move(20.4) reached %.2f", p.X)
	}
}

func TestStopRule(t *testing.T) {
	tests := []struct {
		rule    robot.StopRule
		wantErr error
	}{
		// The stalled wheel never reaches the target.
		{robot.StopBoth, ErrStalled},
		// The free wheel alone completes the maneuver.
		{robot.StopEither, nil},
	}
	for _, tt := range tests {
		r := newRig(t, func(c *robot.Config) {
			c.Encoder.StopRule = tt.rule
			c.Encoder.SafetyTimeout = robot.Duration(200 * time.Millisecond)
		})
		r.sim.Stall(hal.Right, true)

		res, err := r.ctrl.RunUntilTicks(robot.Forward, 200, 10)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: err = %v, want %v", tt.rule, err, tt.wantErr)
		}
		if res.Right != 0 {
			t.Errorf("%s: stalled wheel counted %d ticks", tt.rule, res.Right)
		}
		if r.sim.PWM(hal.Left) != 0 || r.sim.PWM(hal.Right) != 0 {
			t.Errorf("%s: motors left running", tt.rule)
		}
	}
}

func TestInterruptTicks(t *testing.T) {
	cfg := robot.DefaultConfig()
	cfg.Encoder.Debounce = 0
	s := sim.New(cfg, nil, sim.DefaultOptions())
	counter := sensor.NewInterruptCounter(cfg.Encoder.Edge, cfg.Encoder.Debounce.D(), s)
	s.OnEdge(cfg.Pins.LeftEncoder, func(up bool) { counter.Edge(hal.Left, up) })
	s.OnEdge(cfg.Pins.RightEncoder, func(up bool) { counter.Edge(hal.Right, up) })

	ctrl := NewTickController(robot.NewBase(s, cfg.Speeds), counter, s, cfg, nil)
	ctrl.SetPollInterval(200 * time.Microsecond)
	if _, err := ctrl.TurnByDegrees(180, 150); err != nil {
		t.Fatal(err)
	}
	if got := headingDegrees(s); math.Abs(got+180) > 1/cfg.TicksPerDegree() {
		t.Errorf("heading after interrupt-counted 180 = %.1f, want -180", got)
	}
}
