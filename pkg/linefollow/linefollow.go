// Package linefollow steers the robot along a tape line with a PID controller
// over the weighted line-array error.
package linefollow

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/felixge/pidctrl"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
)

// Steer is the remembered turn direction.
type Steer int

const (
	Straight Steer = iota
	Left
	Right
)

func (s Steer) String() string {
	switch s {
	case Straight:
		return "straight"
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("Steer(%d)", int(s))
}

// Output is one steering decision.
type Output struct {
	Left, Right int
	Error       float64
	Adjustment  float64
	Lost        bool
}

// Weights returns per-sensor weights growing with distance from the center:
// 7 5 3 1 1 3 5 7 for eight sensors.
func Weights(n int) []float64 {
	mid := float64(n-1) / 2
	return lo.Times(n, func(i int) float64 {
		return 2 * math.Abs(float64(i)-mid)
	})
}

// WeightedError is the weighted activation left of center minus the weighted
// activation right of center. Positive means the line is to the left.
func WeightedError(act, weights []float64) float64 {
	mid := float64(len(act)-1) / 2
	var e float64
	for i, a := range act {
		switch {
		case float64(i) < mid:
			e += weights[i] * a
		case float64(i) > mid:
			e -= weights[i] * a
		}
	}
	return e
}

// Follower turns line activations into wheel speeds.
type Follower struct {
	pid      *pidctrl.PIDController
	gains    [3]float64
	speeds   robot.Speeds
	base     int
	deadband float64
	weights  []float64
	last     Steer
}

// NewFollower creates a follower for the configured array and gains.
func NewFollower(cfg *robot.Config) *Follower {
	f := &Follower{
		gains:    [3]float64{cfg.Line.Kp, cfg.Line.Ki, cfg.Line.Kd},
		speeds:   cfg.Speeds,
		base:     cfg.Speeds.Base,
		deadband: cfg.Line.Deadband,
		weights:  Weights(len(cfg.Line.Channels)),
	}
	f.Reset()
	return f
}

// SetBase changes the base speed.
func (f *Follower) SetBase(speed int) {
	f.base = lo.Clamp(speed, 0, hal.MaxPwm)
}

// Base returns the base speed.
func (f *Follower) Base() int { return f.base }

// LastDirection returns the remembered turn direction.
func (f *Follower) LastDirection() Steer { return f.last }

// Reset clears the controller state and the direction memory.
func (f *Follower) Reset() {
	f.pid = pidctrl.NewPIDController(f.gains[0], f.gains[1], f.gains[2]).
		SetOutputLimits(-hal.MaxPwm, hal.MaxPwm).
		Set(0)
	f.last = Straight
}

// Compute returns wheel speeds for one sample. act holds per-sensor
// activations in [0, 1]; seen reports whether any sensor is over its
// threshold. dt is the time since the previous sample.
func (f *Follower) Compute(act []float64, seen bool, dt time.Duration) Output {
	if !seen {
		return f.search()
	}

	e := WeightedError(act, f.weights)
	// The controller works on setpoint minus value, so its output has the
	// opposite sign of the error.
	adj := -f.pid.UpdateDuration(e, dt)
	switch {
	case adj > f.deadband:
		f.last = Left
	case adj < -f.deadband:
		f.last = Right
	}

	return Output{
		Left:       f.clamp(float64(f.base) - adj),
		Right:      f.clamp(float64(f.base) + adj),
		Error:      e,
		Adjustment: adj,
	}
}

// search keeps turning toward the side the line was last seen on.
func (f *Follower) search() Output {
	s := int(float64(f.base) * f.speeds.Recovery)
	out := Output{Left: s, Right: s, Lost: true}
	switch f.last {
	case Left:
		out.Left = -s
	case Right:
		out.Right = -s
	}
	return out
}

func (f *Follower) clamp(v float64) int {
	return lo.Clamp(int(math.Round(v)), f.speeds.Min, f.speeds.Max)
}

// Wheels is the drive the follower commands.
type Wheels interface {
	SetWheels(left, right int) error
	Stop() error
}

// Loop reads the array and drives the wheels.
type Loop struct {
	*Follower
	array  *sensor.LineArray
	wheels Wheels
	clock  hal.Clock
	period time.Duration
	log    *zap.SugaredLogger

	prev time.Time
	lost bool
}

// NewLoop creates a follow loop. log may be nil.
func NewLoop(f *Follower, array *sensor.LineArray, wheels Wheels, clock hal.Clock, period time.Duration, log *zap.SugaredLogger) *Loop {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loop{Follower: f, array: array, wheels: wheels, clock: clock, period: period, log: log}
}

// Reset clears the follower and forgets the previous sample time, so the
// first step after a blocking maneuver does not integrate over it.
func (l *Loop) Reset() {
	l.Follower.Reset()
	l.prev = time.Time{}
	l.lost = false
}

// Step samples the array once and applies the steering output.
func (l *Loop) Step() (Output, sensor.Reading, error) {
	r, err := l.array.Read()
	if err != nil {
		return Output{}, r, err
	}
	now := l.clock.Now()
	var dt time.Duration
	if !l.prev.IsZero() {
		dt = now.Sub(l.prev)
	}
	l.prev = now

	out := l.Compute(l.array.Activations(r.Raw), lo.Contains(r.OnLine, true), dt)
	if out.Lost != l.lost {
		l.lost = out.Lost
		l.log.Debugw("line seen changed", "lost", out.Lost, "last_direction", l.LastDirection().String())
	}
	if err := l.wheels.SetWheels(out.Left, out.Right); err != nil {
		return out, r, fmt.Errorf("set wheels: %w", err)
	}
	return out, r, nil
}

// Run follows the line until ctx is done. The motors are stopped on return.
func (l *Loop) Run(ctx context.Context) error {
	defer l.wheels.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, _, err := l.Step(); err != nil {
			return err
		}
		l.clock.Sleep(l.period)
	}
}
