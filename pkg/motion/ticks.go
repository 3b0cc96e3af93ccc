// Package motion closes the loop between the drive base and the wheel
// encoders: turns and moves are counted in encoder ticks, not timed.
package motion

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
)

// ErrStalled is returned when the encoders stop advancing for longer than the
// configured safety timeout.
var ErrStalled = errors.New("encoders stopped advancing")

// Drive is the open-loop motion primitive the controller commands.
type Drive interface {
	Drive(d robot.Direction, speed int) error
	Stop() error
}

// Result describes a finished maneuver.
type Result struct {
	Left, Right int64
	Elapsed     time.Duration
}

// TickController executes blocking, encoder-counted maneuvers. Nothing else
// runs on the control loop while a maneuver is in progress.
type TickController struct {
	drive          Drive
	ticks          sensor.TickSource
	clock          hal.Clock
	rule           robot.StopRule
	ticksPerDegree float64
	cfg            *robot.Config
	safety         time.Duration
	poll           time.Duration
	log            *zap.SugaredLogger
}

// NewTickController creates a controller. log may be nil.
func NewTickController(drive Drive, ticks sensor.TickSource, clock hal.Clock, cfg *robot.Config, log *zap.SugaredLogger) *TickController {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &TickController{
		drive:          drive,
		ticks:          ticks,
		clock:          clock,
		rule:           cfg.Encoder.StopRule,
		ticksPerDegree: cfg.TicksPerDegree(),
		cfg:            cfg,
		safety:         cfg.Encoder.SafetyTimeout.D(),
		log:            log,
	}
}

// SetPollInterval makes the maneuver loop sleep between encoder polls. Use it
// with interrupt-fed tick sources that need no reads to advance.
func (c *TickController) SetPollInterval(d time.Duration) {
	c.poll = d
}

// Ticks exposes the tick source for telemetry.
func (c *TickController) Ticks() sensor.TickSource {
	return c.ticks
}

// TicksForDegrees converts a tank-turn angle to a per-wheel tick target.
func (c *TickController) TicksForDegrees(degrees float64) int64 {
	return int64(math.Round(math.Abs(degrees) * c.ticksPerDegree))
}

// RunUntilTicks drives in dir until the stop rule is met for target ticks,
// then stops the motors. Both wheels keep turning until the rule holds.
func (c *TickController) RunUntilTicks(dir robot.Direction, speed int, target int64) (Result, error) {
	c.ticks.Reset()
	start := c.clock.Now()
	res := Result{}

	if target <= 0 {
		return res, c.stop()
	}
	if err := c.drive.Drive(dir, speed); err != nil {
		c.stop()
		return res, fmt.Errorf("start %v: %w", dir, err)
	}

	lastProgress := start
	for !c.done(res.Left, res.Right, target) {
		l, r, err := c.ticks.Poll()
		now := c.clock.Now()
		if err != nil {
			c.stop()
			return res, fmt.Errorf("poll encoders: %w", err)
		}
		// Only a wheel still short of the target counts as progress.
		if (l != res.Left && res.Left < target) || (r != res.Right && res.Right < target) {
			lastProgress = now
		}
		res.Left, res.Right = l, r
		res.Elapsed = now.Sub(start)

		if c.safety > 0 && now.Sub(lastProgress) > c.safety {
			c.stop()
			c.log.Warnw("maneuver stalled", "dir", dir, "target", target, "left", l, "right", r)
			return res, fmt.Errorf("%v to %d ticks: %w", dir, target, ErrStalled)
		}
		if c.poll > 0 {
			c.clock.Sleep(c.poll)
		}
	}

	if err := c.stop(); err != nil {
		return res, err
	}
	c.log.Debugw("maneuver done", "dir", dir, "target", target, "left", res.Left, "right", res.Right, "elapsed", res.Elapsed)
	return res, nil
}

// TurnByDegrees spins in place. Positive degrees turn clockwise (right),
// negative counter-clockwise (left).
func (c *TickController) TurnByDegrees(degrees float64, speed int) (Result, error) {
	dir := robot.SpinRight
	if degrees < 0 {
		dir = robot.SpinLeft
	}
	return c.RunUntilTicks(dir, speed, c.TicksForDegrees(degrees))
}

// MoveTicks drives straight; negative ticks drive backwards.
func (c *TickController) MoveTicks(ticks int64, speed int) (Result, error) {
	dir := robot.Forward
	if ticks < 0 {
		dir, ticks = robot.Backward, -ticks
	}
	return c.RunUntilTicks(dir, speed, ticks)
}

// Move drives straight for cm centimeters; negative values drive backwards.
func (c *TickController) Move(cm float64, speed int) (Result, error) {
	return c.MoveTicks(int64(c.cfg.TicksForDistance(cm)), speed)
}

func (c *TickController) done(l, r, target int64) bool {
	if c.rule == robot.StopEither {
		return l >= target || r >= target
	}
	return l >= target && r >= target
}

func (c *TickController) stop() error {
	if err := c.drive.Stop(); err != nil {
		return fmt.Errorf("stop motors: %w", err)
	}
	return nil
}
