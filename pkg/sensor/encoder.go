package sensor

import (
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
)

// TickSource accumulates wheel ticks for the running maneuver.
type TickSource interface {
	// Reset zeroes both counters at the start of a maneuver.
	Reset()
	// Poll samples the encoders if needed and returns the counts since Reset.
	Poll() (left, right int64, err error)
}

// Input is one encoder channel.
type Input interface {
	Read() (bool, error)
}

// DigitalInput reads an encoder wired to a digital pin.
type DigitalInput struct {
	Pins hal.Digital
	Pin  int
}

func (d DigitalInput) Read() (bool, error) {
	return d.Pins.ReadDigital(d.Pin)
}

// ThresholdInput reads an encoder wired to an analog channel; the signal is
// high above Threshold.
type ThresholdInput struct {
	In        hal.Analog
	Channel   int
	Threshold int
}

func (t ThresholdInput) Read() (bool, error) {
	v, err := t.In.ReadAnalog(t.Channel)
	if err != nil {
		return false, err
	}
	return v > t.Threshold, nil
}

// EdgeCounter counts encoder transitions by polling both inputs. It is only
// advanced by Poll, so it belongs to whichever maneuver is polling it.
type EdgeCounter struct {
	left, right Input
	mode        robot.EdgeMode

	leftTicks, rightTicks int64
	prevLeft, prevRight   bool
	primed                bool
}

// NewEdgeCounter counts transitions on two inputs.
func NewEdgeCounter(left, right Input, mode robot.EdgeMode) *EdgeCounter {
	return &EdgeCounter{left: left, right: right, mode: mode}
}

// EncodersFor builds the polled counter described by cfg.
func EncodersFor(b hal.Board, cfg *robot.Config) *EdgeCounter {
	var left, right Input
	if cfg.Encoder.Analog {
		left = ThresholdInput{In: b, Channel: cfg.Pins.LeftEncoder, Threshold: cfg.Encoder.Threshold}
		right = ThresholdInput{In: b, Channel: cfg.Pins.RightEncoder, Threshold: cfg.Encoder.Threshold}
	} else {
		left = DigitalInput{Pins: b, Pin: cfg.Pins.LeftEncoder}
		right = DigitalInput{Pins: b, Pin: cfg.Pins.RightEncoder}
	}
	return NewEdgeCounter(left, right, cfg.Encoder.Edge)
}

// Reset zeroes the counts. The next Poll re-reads the inputs as the reference
// state, so a wheel resting on an edge does not produce a tick.
func (c *EdgeCounter) Reset() {
	c.leftTicks, c.rightTicks = 0, 0
	c.primed = false
}

// Poll reads both inputs once and counts any edge since the previous Poll.
func (c *EdgeCounter) Poll() (int64, int64, error) {
	l, err := c.left.Read()
	if err != nil {
		return c.leftTicks, c.rightTicks, fmt.Errorf("read left encoder: %w", err)
	}
	r, err := c.right.Read()
	if err != nil {
		return c.leftTicks, c.rightTicks, fmt.Errorf("read right encoder: %w", err)
	}
	if !c.primed {
		c.prevLeft, c.prevRight, c.primed = l, r, true
		return c.leftTicks, c.rightTicks, nil
	}
	if c.counts(c.prevLeft, l) {
		c.leftTicks++
	}
	if c.counts(c.prevRight, r) {
		c.rightTicks++
	}
	c.prevLeft, c.prevRight = l, r
	return c.leftTicks, c.rightTicks, nil
}

func (c *EdgeCounter) counts(prev, cur bool) bool {
	if prev == cur {
		return false
	}
	return c.mode == robot.EdgeAny || cur
}

// InterruptCounter is fed by pin-change interrupts. Edge runs in interrupt
// context and the control loop reads with Poll; both sides use atomics only.
type InterruptCounter struct {
	mode     robot.EdgeMode
	debounce time.Duration
	clock    hal.Clock

	ticks [2]atomic.Int64
	last  [2]atomic.Int64 // unix nanos of the last counted edge
	seen  [2]atomic.Bool
}

// NewInterruptCounter creates a counter that ignores edges closer together
// than debounce. A debounce longer than the slot period at full speed drops
// ticks.
func NewInterruptCounter(mode robot.EdgeMode, debounce time.Duration, clock hal.Clock) *InterruptCounter {
	return &InterruptCounter{mode: mode, debounce: debounce, clock: clock}
}

// Edge records one transition on a wheel's encoder.
func (c *InterruptCounter) Edge(w hal.Wheel, rising bool) {
	if !rising && c.mode != robot.EdgeAny {
		return
	}
	now := c.clock.Now().UnixNano()
	if c.debounce > 0 && c.seen[w].Load() && now-c.last[w].Load() < int64(c.debounce) {
		return
	}
	c.last[w].Store(now)
	c.seen[w].Store(true)
	c.ticks[w].Inc()
}

// Reset zeroes both counters.
func (c *InterruptCounter) Reset() {
	c.ticks[hal.Left].Store(0)
	c.ticks[hal.Right].Store(0)
}

// Poll returns the current counts.
func (c *InterruptCounter) Poll() (int64, int64, error) {
	return c.ticks[hal.Left].Load(), c.ticks[hal.Right].Load(), nil
}

var (
	_ TickSource = (*EdgeCounter)(nil)
	_ TickSource = (*InterruptCounter)(nil)
)
