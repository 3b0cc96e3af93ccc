// Package maze drives a left-hand-rule wall follower from three ultrasonic
// rangers. It keeps no map: every cycle re-decides from a fresh scan.
package maze

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/motion"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
)

// Action is the outcome of one scan.
type Action int

const (
	Reverse Action = iota
	TurnLeft
	Forward
	TurnRight
	TurnAround
)

func (a Action) String() string {
	switch a {
	case Reverse:
		return "reverse"
	case TurnLeft:
		return "turn left"
	case Forward:
		return "forward"
	case TurnRight:
		return "turn right"
	case TurnAround:
		return "turn around"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Decide picks the action for one scan in priority order: back off when
// nearly touching, prefer the left opening, continue straight, take the
// right opening, else turn around.
func Decide(left, front, right int, cfg robot.MazeConfig) Action {
	switch {
	case front < cfg.CriticalCm:
		return Reverse
	case left > cfg.GapCm:
		return TurnLeft
	case front > cfg.WallStopCm:
		return Forward
	case right > cfg.GapCm:
		return TurnRight
	default:
		return TurnAround
	}
}

// Align returns wheel speeds that steer away from a wall inside the
// too-close band, proportional to how far inside it the robot is.
func Align(left, right robot.DistanceSample, speed, trim int, cfg robot.MazeConfig) (int, int) {
	switch {
	case left.Within(cfg.TooCloseCm):
		bias := int(cfg.AlignGain * float64(cfg.TooCloseCm-left.Cm))
		return speed + bias, speed - bias
	case right.Within(cfg.TooCloseCm):
		bias := int(cfg.AlignGain * float64(cfg.TooCloseCm-right.Cm))
		return speed - bias, speed + bias
	}
	return speed, speed + trim
}

// Wheels is the drive the navigator steers.
type Wheels interface {
	SetWheels(left, right int) error
	Forward(speed int) error
	Backward(speed int) error
	Stop() error
}

// Turner performs encoder-counted turns.
type Turner interface {
	TurnByDegrees(degrees float64, speed int) (motion.Result, error)
}

// Scan is one set of readings.
type Scan struct {
	Left, Front, Right robot.DistanceSample
}

func (s Scan) String() string {
	return fmt.Sprintf("L:%dcm F:%dcm R:%dcm", s.Left.Cm, s.Front.Cm, s.Right.Cm)
}

// Rangers are the three wall sensors.
type Rangers struct {
	Left, Front, Right sensor.Ranger
}

// Navigator runs the wall follower.
type Navigator struct {
	wheels  Wheels
	turner  Turner
	rangers Rangers
	clock   hal.Clock
	cfg     robot.MazeConfig
	speeds  robot.Speeds
	log     *zap.SugaredLogger
}

// NewNavigator creates a navigator. log may be nil.
func NewNavigator(w Wheels, t Turner, r Rangers, clock hal.Clock, cfg *robot.Config, log *zap.SugaredLogger) *Navigator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Navigator{
		wheels:  w,
		turner:  t,
		rangers: r,
		clock:   clock,
		cfg:     cfg.Maze,
		speeds:  cfg.Speeds,
		log:     log,
	}
}

// Scan reads the three rangers. A missing echo reads as open space.
func (n *Navigator) Scan() Scan {
	timeout := n.cfg.EchoTimeout.D()
	return Scan{
		Front: n.rangers.Front.Measure(timeout),
		Left:  n.rangers.Left.Measure(timeout),
		Right: n.rangers.Right.Measure(timeout),
	}
}

// Step scans, decides and executes one action.
func (n *Navigator) Step() (Action, error) {
	s := n.Scan()
	a := Decide(s.Left.Cm, s.Front.Cm, s.Right.Cm, n.cfg)
	n.log.Debugw("maze step", "scan", s.String(), "action", a.String())
	if err := n.Execute(a); err != nil {
		n.wheels.Stop()
		return a, fmt.Errorf("%v: %w", a, err)
	}
	return a, nil
}

// Execute runs the motion sequence for a.
func (n *Navigator) Execute(a Action) error {
	switch a {
	case Reverse:
		if err := n.wheels.Backward(n.speeds.Base); err != nil {
			return err
		}
		n.clock.Sleep(n.cfg.Reverse.D())
		return n.wheels.Stop()
	case TurnLeft:
		return n.takeOpening(-90)
	case TurnRight:
		return n.takeOpening(90)
	case Forward:
		return n.DriveAndAlign(n.cfg.Drive.D())
	case TurnAround:
		_, err := n.turner.TurnByDegrees(180, n.speeds.Turn)
		return err
	}
	return fmt.Errorf("unknown action %v", a)
}

// takeOpening pulls forward so the body clears the corner, turns, then drives
// into the new corridor.
func (n *Navigator) takeOpening(degrees float64) error {
	if err := n.wheels.Forward(n.speeds.Base); err != nil {
		return err
	}
	n.clock.Sleep(n.cfg.Approach.D())
	if err := n.wheels.Stop(); err != nil {
		return err
	}
	if _, err := n.turner.TurnByDegrees(degrees, n.speeds.Turn); err != nil {
		return err
	}
	return n.DriveAndAlign(n.cfg.Corridor.D())
}

// DriveAndAlign drives forward for d while centering between the walls. It
// stops early when the front wall is closer than the wall-stop distance.
func (n *Navigator) DriveAndAlign(d time.Duration) error {
	timeout := n.cfg.EchoTimeout.D()
	start := n.clock.Now()
	for n.clock.Now().Sub(start) < d {
		if front := n.rangers.Front.Measure(timeout); front.Within(n.cfg.WallStopCm) {
			n.log.Debugw("wall ahead", "cm", front.Cm)
			break
		}
		left := n.rangers.Left.Measure(timeout)
		right := n.rangers.Right.Measure(timeout)
		l, r := Align(left, right, n.speeds.Base, n.speeds.RightTrim, n.cfg)
		if err := n.wheels.SetWheels(l, r); err != nil {
			return err
		}
		n.clock.Sleep(n.cfg.Sample.D())
	}
	return n.wheels.Stop()
}

// Run steps until ctx is done or a step fails. The motors are stopped on
// return.
func (n *Navigator) Run(ctx context.Context) error {
	defer n.wheels.Stop()
	n.log.Infow("maze run started", "gap_cm", n.cfg.GapCm, "wall_stop_cm", n.cfg.WallStopCm)
	for {
		select {
		case <-ctx.Done():
			n.log.Infow("maze run stopped")
			return ctx.Err()
		default:
		}
		if _, err := n.Step(); err != nil {
			return err
		}
	}
}
