// Package race runs the relay race: calibrate the line array, pick up the
// cone, follow the line through turns and around obstacles, and drop the cone
// at the finish square.
package race

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relaybot/relaybot/pkg/gripper"
	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/linefollow"
	"github.com/relaybot/relaybot/pkg/motion"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
	"github.com/relaybot/relaybot/pkg/status"
	"github.com/relaybot/relaybot/pkg/telemetry"
)

var (
	// ErrFinished ends a race that reached the finish square.
	ErrFinished = errors.New("race finished")
	// ErrEmergencyStop ends a race stopped by command.
	ErrEmergencyStop = errors.New("emergency stop")
)

// settle is how long the gripper is given to reach a new position.
const settle = 500 * time.Millisecond

// Phase is the race progress around the line-following state machine.
type Phase int

const (
	Calibrating Phase = iota
	PickingUp
	Racing
	Finished
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Calibrating:
		return "calibrating"
	case PickingUp:
		return "picking up"
	case Racing:
		return "racing"
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Radio is the robot's telemetry link.
type Radio interface {
	Commands() <-chan telemetry.Command
	Send(f telemetry.Frame) error
	Message(msg string) error
}

// Hardware is everything the controller drives. Front, Gripper, LED and Radio
// are optional; without Front there are no obstacle checks.
type Hardware struct {
	Base    *robot.Base
	Motion  *motion.TickController
	Array   *sensor.LineArray
	Front   sensor.Ranger
	Clock   hal.Clock
	Gripper *gripper.Gripper
	LED     *status.Indicator
	Radio   Radio
}

// Status is one update for the UI.
type Status struct {
	Context   robot.Context
	Phase     Phase
	Output    linefollow.Output
	Timestamp time.Time
	Error     error
}

// Controller owns the race state and runs the control loop.
type Controller struct {
	hw     Hardware
	cfg    *robot.Config
	id     string
	follow *linefollow.Loop
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	snap    Status
	running bool
	stateCh chan Status
	logCh   chan string

	stopReq  atomic.Bool
	speedReq atomic.Int64

	// Owned by the control loop.
	run          robot.Context
	phase        Phase
	out          linefollow.Output
	pending      robot.LinePosition
	advanced     int64
	lostSince    time.Time
	lastPoll     time.Time
	lastStats    time.Time
	lastObstacle time.Time
}

// NewController creates a race controller. log may be nil.
func NewController(hw Hardware, cfg *robot.Config, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	f := linefollow.NewFollower(cfg)
	c := &Controller{
		hw:      hw,
		cfg:     cfg,
		id:      cfg.Telemetry.RobotID,
		follow:  linefollow.NewLoop(f, hw.Array, hw.Base, hw.Clock, cfg.Race.Loop.D(), log),
		logger:  log,
		stateCh: make(chan Status, 1),
		logCh:   make(chan string, 10),
		run:     *robot.NewContext(cfg.Speeds.Base, hw.Clock.Now()),
	}
	c.speedReq.Store(-1)
	c.snap = Status{Context: c.run, Phase: Calibrating, Timestamp: c.run.Started}
	return c
}

// Close stops the motors and closes the radio.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	err := c.hw.Base.Stop()
	if closer, ok := c.hw.Radio.(interface{ Close() error }); ok {
		err = multierr.Append(err, closer.Close())
	}
	return err
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan Status {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Snapshot returns the latest published status.
func (c *Controller) Snapshot() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// EmergencyStop stops the robot at the next loop iteration.
func (c *Controller) EmergencyStop() {
	c.stopReq.Store(true)
}

// SetBaseSpeed changes the line-following speed at the next loop iteration.
func (c *Controller) SetBaseSpeed(speed int) {
	c.speedReq.Store(int64(speed))
}

func (c *Controller) log(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	c.logger.Info(text)
	msg := fmt.Sprintf("[%s] %s", c.hw.Clock.Now().Format("15:04:05"), text)
	select {
	case c.logCh <- msg:
	default:
	}
}

// Start runs the whole race. It returns nil when the cone was delivered,
// ErrEmergencyStop when stopped by command, or ctx.Err().
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()
	defer c.shutdown()

	c.log("Race started as %s", c.id)
	if err := c.Calibrate(); err != nil {
		return err
	}
	if err := c.PickUp(); err != nil {
		return err
	}
	c.phase = Racing
	c.log("Following the line at speed %d", c.run.BaseSpeed)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		err := c.Step()
		switch {
		case errors.Is(err, ErrFinished):
			c.phase = Finished
		case errors.Is(err, ErrEmergencyStop):
			c.phase = Stopped
		case err != nil:
			c.log("Error: %v", err)
		}
		c.publish(err)
		if c.phase == Finished {
			return nil
		}
		if err != nil {
			return err
		}
		c.hw.Clock.Sleep(c.cfg.Race.Loop.D())
	}
}

// Calibrate spins over the line to build the sensor profile, unless fixed
// thresholds are configured.
func (c *Controller) Calibrate() error {
	c.phase = Calibrating
	c.publish(nil)
	if len(c.cfg.Line.FixedThresholds) > 0 {
		c.log("Using fixed thresholds %v", c.cfg.Line.FixedThresholds)
	} else {
		c.log("Calibrating... spin in place")
		p, err := c.hw.Array.Calibrate(c.hw.Base, c.hw.Clock, c.cfg.Line.CalibrationDuration.D(), c.cfg.Speeds.Calibration)
		if err != nil {
			return fmt.Errorf("calibrate line array: %w", err)
		}
		c.logger.Infow("calibration complete", "thresholds", p.Thresholds())
		c.log("Calibration complete")
	}
	c.run.Flags.Calibrated = true
	return nil
}

// PickUp drives from the start square to the cone and grips it.
func (c *Controller) PickUp() error {
	c.phase = PickingUp
	c.publish(nil)
	if err := c.grip(true); err != nil {
		return err
	}
	res, err := c.hw.Motion.MoveTicks(int64(c.cfg.Race.BaseToConeTicks), c.cfg.Speeds.Turn)
	c.record(res)
	if err != nil {
		return fmt.Errorf("drive to cone: %w", err)
	}
	if err := c.grip(false); err != nil {
		return err
	}
	c.run.Flags.ConePickedUp = true
	c.run.Flags.ConeInSquare = false
	c.run.Flags.GameStarted = true
	c.log("Cone picked up")
	return nil
}

// Step runs one loop iteration: service the radio, refresh the gripper and
// LED, then act on the current state. Turns and avoidance block until their
// encoder targets are met.
func (c *Controller) Step() error {
	if err := c.service(); err != nil {
		return err
	}
	if c.hw.Gripper != nil {
		if err := c.hw.Gripper.Update(); err != nil {
			return err
		}
	}
	if c.hw.LED != nil {
		if _, err := c.hw.LED.Update(c.run.State); err != nil {
			c.logger.Warnw("status LED", "error", err)
		}
	}

	switch c.run.State {
	case robot.FollowLine:
		return c.followLine()
	case robot.TurningLeft:
		return c.branch(-90)
	case robot.TurningRight:
		return c.branch(90)
	case robot.TurningAround:
		return c.turn(180)
	case robot.ObstacleDetected:
		return c.halt()
	case robot.AvoidingObstacle:
		return c.turn(180)
	case robot.CheckingForPathAhead:
		return c.checkPath()
	}
	return fmt.Errorf("unknown state %v", c.run.State)
}

// service applies commands and sends the periodic stats frame.
func (c *Controller) service() error {
	now := c.hw.Clock.Now()
	if c.hw.Radio != nil && now.Sub(c.lastPoll) >= c.cfg.Telemetry.CommandPoll.D() {
		c.lastPoll = now
		c.drain()
	}
	if s := c.speedReq.Swap(-1); s >= 0 {
		c.setBase(int(s))
	}
	if c.stopReq.Load() {
		c.run.Flags.GameEnded = true
		c.log("Emergency stop")
		return multierr.Append(ErrEmergencyStop, c.hw.Base.Stop())
	}
	if c.hw.Radio != nil && now.Sub(c.lastStats) >= c.cfg.Telemetry.StatsInterval.D() {
		c.lastStats = now
		c.sendFrame()
	}
	return nil
}

func (c *Controller) drain() {
	for {
		select {
		case cmd := <-c.hw.Radio.Commands():
			c.apply(cmd)
		default:
			return
		}
	}
}

func (c *Controller) apply(cmd telemetry.Command) {
	c.logger.Debugw("command", "command", cmd.String())
	switch cmd.Kind {
	case telemetry.SetSpeed:
		c.setBase(cmd.Speed)
	case telemetry.Stop:
		c.stopReq.Store(true)
	case telemetry.Status:
		c.sendFrame()
		return
	}
	if err := c.hw.Radio.Message(telemetry.Reply(cmd)); err != nil {
		c.logger.Debugw("reply not sent", "error", err)
	}
}

func (c *Controller) setBase(speed int) {
	c.follow.SetBase(speed)
	c.run.BaseSpeed = c.follow.Base()
	c.log("Speed set to %d", c.run.BaseSpeed)
}

func (c *Controller) sendFrame() {
	f := telemetry.FrameFrom(c.id, c.run, c.hw.Clock.Now())
	if err := c.hw.Radio.Send(f); err != nil {
		c.logger.Debugw("frame not sent", "error", err)
	}
}

// followLine checks for obstacles, steers one step along the line and picks
// the next state from the line position.
func (c *Controller) followLine() error {
	now := c.hw.Clock.Now()
	if c.hw.Front != nil && now.Sub(c.lastObstacle) >= c.cfg.Race.ObstacleCheck.D() {
		c.lastObstacle = now
		c.run.Distance = c.hw.Front.Measure(c.cfg.Race.EchoTimeout.D())
		if c.run.Distance.Within(c.cfg.Race.ObstacleCm) {
			c.log("Obstacle at %dcm", c.run.Distance.Cm)
			c.run.Transition(robot.ObstacleDetected)
			return nil
		}
	}

	out, r, err := c.follow.Step()
	if err != nil {
		return err
	}
	c.out = out
	c.run.Line = r.Position
	if l, rt, err := c.hw.Motion.Ticks().Poll(); err == nil {
		c.run.LeftTicks, c.run.RightTicks = l, rt
	}

	if r.Position != robot.NoLine {
		c.lostSince = time.Time{}
	}
	switch r.Position {
	case robot.TJunction, robot.RightLine:
		c.pending = r.Position
		c.run.Transition(robot.CheckingForPathAhead)
	case robot.LeftLine:
		c.advanced = 0
		c.run.Transition(robot.TurningLeft)
	case robot.NoLine:
		if c.lostSince.IsZero() {
			c.lostSince = now
		} else if now.Sub(c.lostSince) >= c.cfg.Race.LineLostTimeout.D() {
			c.log("Line lost, turning around")
			c.run.Transition(robot.TurningAround)
		}
	}
	return nil
}

// JunctionTicks is the advance used to tell a crossing from the finish.
func JunctionTicks(cfg *robot.Config) int64 {
	return int64(math.Round(cfg.Race.JunctionFraction * float64(cfg.TicksPerRotation())))
}

// checkPath advances a little past a junction or right branch and reads the
// array again. A junction that is still saturated is the finish square. A
// right branch is only taken when the line does not continue ahead.
func (c *Controller) checkPath() error {
	ticks := JunctionTicks(c.cfg)
	res, err := c.hw.Motion.MoveTicks(ticks, c.cfg.Speeds.Turn)
	c.record(res)
	if err != nil {
		return fmt.Errorf("check path ahead: %w", err)
	}
	c.advanced = ticks
	r, err := c.hw.Array.Read()
	if err != nil {
		return err
	}
	c.run.Line = r.Position

	if c.pending == robot.TJunction {
		if r.Position == robot.TJunction {
			return c.finish()
		}
		c.log("Crossing, turning left")
		c.run.Transition(robot.TurningLeft)
		return nil
	}
	if r.Position != robot.NoLine {
		c.log("Path ahead, skipping right branch")
		c.resume()
		return nil
	}
	c.run.Transition(robot.TurningRight)
	return nil
}

// branch drives the axle over the branch and turns into it.
func (c *Controller) branch(degrees float64) error {
	ticks := int64(c.cfg.TicksForDistance(c.cfg.Race.ApproachCm)) - c.advanced
	c.advanced = 0
	if ticks > 0 {
		res, err := c.hw.Motion.MoveTicks(ticks, c.cfg.Speeds.Turn)
		c.record(res)
		if err != nil {
			return fmt.Errorf("approach branch: %w", err)
		}
	}
	return c.turn(degrees)
}

func (c *Controller) turn(degrees float64) error {
	res, err := c.hw.Motion.TurnByDegrees(degrees, c.cfg.Speeds.Turn)
	c.record(res)
	if err != nil {
		return fmt.Errorf("turn %.0f degrees: %w", degrees, err)
	}
	c.resume()
	return nil
}

// halt stops for an obstacle and prepares the turn-around.
func (c *Controller) halt() error {
	if err := c.hw.Base.Stop(); err != nil {
		return err
	}
	c.hw.Motion.Ticks().Reset()
	c.run.LeftTicks, c.run.RightTicks = 0, 0
	c.run.Transition(robot.AvoidingObstacle)
	c.log("Avoiding obstacle, %d ticks to turn around", c.hw.Motion.TicksForDegrees(180))
	return nil
}

func (c *Controller) resume() {
	c.follow.Reset()
	c.lostSince = time.Time{}
	c.run.Transition(robot.FollowLine)
}

// finish drops the cone and backs away from it.
func (c *Controller) finish() error {
	c.log("Finish line")
	if err := c.grip(true); err != nil {
		return err
	}
	res, err := c.hw.Motion.MoveTicks(-int64(c.cfg.Race.FinishReverseTick), c.cfg.Speeds.Turn)
	c.record(res)
	if err != nil {
		return fmt.Errorf("reverse from cone: %w", err)
	}
	c.run.Flags.ConeDroppedOff = true
	c.run.Flags.ConeInSquare = true
	c.run.Flags.GameEnded = true
	if c.hw.Radio != nil {
		c.sendFrame()
	}
	c.log("Cone dropped off")
	return ErrFinished
}

func (c *Controller) grip(open bool) error {
	if c.hw.Gripper == nil {
		return nil
	}
	if open {
		c.hw.Gripper.Open()
	} else {
		c.hw.Gripper.Close()
	}
	if err := c.hw.Gripper.Hold(settle); err != nil {
		return fmt.Errorf("move gripper: %w", err)
	}
	return nil
}

func (c *Controller) record(res motion.Result) {
	c.run.LeftTicks, c.run.RightTicks = res.Left, res.Right
}

func (c *Controller) publish(err error) {
	s := Status{
		Context:   c.run,
		Phase:     c.phase,
		Output:    c.out,
		Timestamp: c.hw.Clock.Now(),
		Error:     err,
	}
	if errors.Is(err, ErrFinished) {
		s.Error = nil
	}
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
	c.sendState(s)
}

func (c *Controller) sendState(s Status) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if err := c.hw.Base.Stop(); err != nil {
		c.log("Warning: failed to stop motors: %v", err)
	}
	c.log("Race stopped")
}
