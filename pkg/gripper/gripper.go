// Package gripper holds the cone gripper: a servo refreshed toward an open or
// closed pulse width every cycle.
package gripper

import (
	"fmt"
	"time"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
)

// Actuator moves the servo to a pulse width in microseconds.
type Actuator interface {
	Command(us int) error
}

// Gripper tracks the target position and refreshes the actuator no more than
// once per refresh interval.
type Gripper struct {
	act     Actuator
	clock   hal.Clock
	openUs  int
	closeUs int
	refresh time.Duration

	target int
	last   time.Time
	sent   bool
}

// New creates a gripper that starts closed.
func New(act Actuator, clock hal.Clock, cfg robot.GripperConfig) *Gripper {
	return &Gripper{
		act:     act,
		clock:   clock,
		openUs:  cfg.OpenUs,
		closeUs: cfg.CloseUs,
		refresh: cfg.Refresh.D(),
		target:  cfg.CloseUs,
	}
}

// Open sets the open target.
func (g *Gripper) Open() { g.target = g.openUs }

// Close sets the closed target.
func (g *Gripper) Close() { g.target = g.closeUs }

// IsOpen reports the current target.
func (g *Gripper) IsOpen() bool { return g.target == g.openUs }

// Target returns the target pulse width.
func (g *Gripper) Target() int { return g.target }

// Update sends the target when the refresh interval has passed.
func (g *Gripper) Update() error {
	now := g.clock.Now()
	if g.sent && now.Sub(g.last) < g.refresh {
		return nil
	}
	g.last, g.sent = now, true
	if err := g.act.Command(g.target); err != nil {
		return fmt.Errorf("gripper to %dus: %w", g.target, err)
	}
	return nil
}

// Hold keeps refreshing the target for d so the servo can reach it.
func (g *Gripper) Hold(d time.Duration) error {
	start := g.clock.Now()
	for g.clock.Now().Sub(start) < d {
		if err := g.Update(); err != nil {
			return err
		}
		g.clock.Sleep(time.Millisecond)
	}
	return nil
}

// Pulse bit-bangs one servo pulse on a digital pin.
type Pulse struct {
	Pins  hal.Digital
	Clock hal.Clock
	Pin   int
}

// Command implements Actuator.
func (p Pulse) Command(us int) error {
	if err := p.Pins.WriteDigital(p.Pin, true); err != nil {
		return err
	}
	p.Clock.Sleep(time.Duration(us) * time.Microsecond)
	return p.Pins.WriteDigital(p.Pin, false)
}
