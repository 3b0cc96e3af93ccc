package main

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/relaybot/relaybot/pkg/hal/sim"
	"github.com/relaybot/relaybot/pkg/race"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
)

func TestSimRig_Race(t *testing.T) {
	cfg := robot.DefaultConfig()
	cfg.Line.FixedThresholds = []int{550, 550, 550, 550, 550, 550, 550, 550}
	world := &sim.World{
		Lines:     []sim.Segment{{A: sim.Point{X: -10}, B: sim.Point{X: 60}}},
		LineWidth: tapeWidth,
		Blocks:    []sim.Rect{{Min: sim.Point{X: 60, Y: -15}, Max: sim.Point{X: 100, Y: 15}}},
	}
	r := openSim(cfg, world, sim.DefaultOptions(), zap.NewNop().Sugar())
	defer r.Close()

	if err := r.openRadio(context.Background()); err != nil || r.radio != nil {
		t.Fatalf("openRadio without a port = %v, %v", r.radio, err)
	}
	hw, err := r.raceHardware()
	if err != nil {
		t.Fatal(err)
	}
	if hw.Radio != nil {
		t.Error("race hardware has a radio without a port")
	}

	ctrl := race.NewController(hw, cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start = %v", err)
	}
	if got := ctrl.Snapshot().Phase; got != race.Finished {
		t.Errorf("phase = %v, want finished", got)
	}
	if r.sim.PulseWidth(cfg.Pins.Gripper) < time.Duration(cfg.Gripper.OpenUs)*time.Microsecond {
		t.Error("gripper not left open at the finish")
	}
}

func TestDemoWorld(t *testing.T) {
	tests := []struct {
		mode  string
		dark  bool // the robot starts on tape
		walls bool
	}{
		{"race", true, true},
		{"follow", true, false},
		{"maze", false, true},
	}
	for _, tt := range tests {
		w := demoWorld(tt.mode)
		if got := w.Dark(sim.Point{X: 8}); got != tt.dark {
			t.Errorf("%s: tape under the sensors = %v, want %v", tt.mode, got, tt.dark)
		}
		if got := len(w.Walls) > 0; got != tt.walls {
			t.Errorf("%s: has walls = %v, want %v", tt.mode, got, tt.walls)
		}
	}
}

func TestSensorModel(t *testing.T) {
	cfg := robot.DefaultConfig()
	world := &sim.World{Lines: []sim.Segment{{A: sim.Point{X: 8, Y: -20}, B: sim.Point{X: 8, Y: 20}}}, LineWidth: tapeWidth}
	s := sim.New(cfg, world, sim.DefaultOptions())
	var m tea.Model = newSensorModel(sensor.NewLineArray(s, cfg.Line))

	// Every sensor sits on the crossing tape, then on paper.
	m, _ = m.Update(tickMsg(t0))
	s.SetPose(sim.Point{X: -20}, 0)
	m, _ = m.Update(tickMsg(t0))

	thresholds, weak := thresholdsFrom(m.(sensorModel).rec)
	if len(weak) != 0 {
		t.Errorf("weak sensors = %v", weak)
	}
	for i, th := range thresholds {
		if th != 550 {
			t.Errorf("threshold[%d] = %d, want 550", i, th)
		}
	}
}

func TestThresholdsFrom_Weak(t *testing.T) {
	rec := robot.NewCalibrationRecorder(3)
	rec.Observe([]int{100, 100, 100})
	rec.Observe([]int{900, 250, 900})
	thresholds, weak := thresholdsFrom(rec)
	if len(weak) != 1 || weak[0] != 1 {
		t.Errorf("weak = %v, want [1]", weak)
	}
	if thresholds[0] != 500 || thresholds[1] != 175 {
		t.Errorf("thresholds = %v", thresholds)
	}
}

// reportingBoard is a simulated board whose pin values arrive as reports.
type reportingBoard struct{ *sim.Robot }

func (reportingBoard) TimesPulses() bool { return false }

func TestRig_NoEchoTiming(t *testing.T) {
	cfg := robot.DefaultConfig()
	s := sim.New(cfg, &sim.World{}, sim.DefaultOptions())
	r := newRig(cfg, reportingBoard{s}, s, zap.NewNop().Sugar())
	r.sim = s

	hw, err := r.raceHardware()
	if err != nil {
		t.Fatal(err)
	}
	if hw.Front != nil {
		t.Error("race hardware has a front sonar the board cannot time")
	}
	if err := r.runMaze(context.Background()); !errors.Is(err, errNoEchoTiming) {
		t.Errorf("runMaze = %v, want errNoEchoTiming", err)
	}
}
