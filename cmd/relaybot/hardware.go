package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relaybot/relaybot/pkg/gripper"
	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/hal/firmata"
	"github.com/relaybot/relaybot/pkg/hal/sim"
	"github.com/relaybot/relaybot/pkg/motion"
	"github.com/relaybot/relaybot/pkg/race"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
	"github.com/relaybot/relaybot/pkg/status"
	"github.com/relaybot/relaybot/pkg/telemetry"
)

const ledFlash = 250 * time.Millisecond

// rig is the robot the commands drive: the Arduino over Firmata, or the
// simulator.
type rig struct {
	cfg    *robot.Config
	board  hal.Board
	clock  hal.Clock
	base   *robot.Base
	motion *motion.TickController
	array  *sensor.LineArray
	line   *hal.SharedLine
	radio  *telemetry.Radio
	log    *zap.SugaredLogger

	sim    *sim.Robot
	servo  firmata.Servo
	closer []func() error
}

// openBoard connects to the Arduino on cfg.Port.
func openBoard(cfg *robot.Config, log *zap.SugaredLogger) (*rig, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("no board port configured, run 'relaybot setup' or pass --sim")
	}
	b, err := firmata.Open(cfg.Port, cfg.Pins)
	if err != nil {
		return nil, err
	}
	r := newRig(cfg, b, clock.New(), log)
	r.servo = b.Servo(cfg.Pins.Gripper)
	r.closer = append(r.closer, b.Close)
	log.Infow("board connected", "port", cfg.Port)
	return r, nil
}

// openSim places a simulated robot at the origin of world.
func openSim(cfg *robot.Config, world *sim.World, o sim.Options, log *zap.SugaredLogger) *rig {
	s := sim.New(cfg, world, o)
	r := newRig(cfg, s, s, log)
	r.sim = s
	return r
}

func newRig(cfg *robot.Config, b hal.Board, clk hal.Clock, log *zap.SugaredLogger) *rig {
	base := robot.NewBase(b, cfg.Speeds)
	return &rig{
		cfg:    cfg,
		board:  b,
		clock:  clk,
		base:   base,
		motion: motion.NewTickController(base, sensor.EncodersFor(b, cfg), clk, cfg, log),
		array:  sensor.NewLineArray(b, cfg.Line),
		line:   &hal.SharedLine{},
		log:    log,
	}
}

// openRadio starts the telemetry radio when a port is configured.
func (r *rig) openRadio(ctx context.Context) error {
	t := r.cfg.Telemetry
	if t.Port == "" {
		return nil
	}
	rw, err := telemetry.Open(t.Port, t.Baud)
	if err != nil {
		return err
	}
	r.radio = telemetry.NewRadio(rw, t.RobotID, r.line, r.log)
	r.closer = append(r.closer, r.radio.Close)
	go func() {
		if err := r.radio.Run(ctx); err != nil && ctx.Err() == nil {
			r.log.Warnw("radio stopped", "error", err)
		}
	}()
	return r.radio.Message("Wireless Online")
}

// gripper picks the actuator: a Feetech bus servo when configured, else the
// board's servo pin.
func (r *rig) gripper() (*gripper.Gripper, error) {
	var act gripper.Actuator
	switch {
	case r.cfg.Gripper.ServoID != 0:
		f, err := gripper.OpenFeetech(r.cfg.Gripper.Port, r.cfg.Gripper.ServoID)
		if err != nil {
			return nil, err
		}
		r.closer = append(r.closer, f.Close)
		act = f
	case r.sim != nil:
		act = gripper.Pulse{Pins: r.sim, Clock: r.sim, Pin: r.cfg.Pins.Gripper}
	default:
		act = r.servo
	}
	return gripper.New(act, r.clock, r.cfg.Gripper), nil
}

// errNoEchoTiming means the board cannot time an ultrasonic echo by polling.
var errNoEchoTiming = errors.New("board cannot time ultrasonic echoes; use --sim or the on-board firmware")

func (r *rig) sonar(s robot.Sonar) (sensor.Ranger, error) {
	if !hal.CanTimePulses(r.board) {
		return nil, errNoEchoTiming
	}
	return sensor.NewUltrasonic(r.board, r.clock, s), nil
}

func (r *rig) indicator() *status.Indicator {
	return status.NewIndicator(status.PinLED{Pins: r.board, Pin: r.cfg.Pins.LED}, r.line, r.clock, ledFlash)
}

func (r *rig) raceHardware() (race.Hardware, error) {
	g, err := r.gripper()
	if err != nil {
		return race.Hardware{}, err
	}
	hw := race.Hardware{
		Base:    r.base,
		Motion:  r.motion,
		Array:   r.array,
		Clock:   r.clock,
		Gripper: g,
		LED:     r.indicator(),
	}
	if front, err := r.sonar(r.cfg.Pins.Front); err == nil {
		hw.Front = front
	} else {
		r.log.Warnw("obstacle checks disabled", "error", err)
	}
	if r.radio != nil {
		hw.Radio = r.radio
	}
	return hw, nil
}

// Close stops the motors and releases every port, newest first.
func (r *rig) Close() error {
	err := r.base.Stop()
	for i := len(r.closer) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closer[i]())
	}
	return err
}
