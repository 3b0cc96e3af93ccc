package robot

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/relaybot/relaybot/pkg/hal"
)

// Direction is an open-loop drive command.
type Direction int

const (
	Forward Direction = iota
	Backward
	SpinLeft  // counter-clockwise in place
	SpinRight // clockwise in place
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case SpinLeft:
		return "spin-left"
	case SpinRight:
		return "spin-right"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Base is the differential drive. It issues open-loop wheel speeds and
// remembers the last command.
type Base struct {
	motors hal.Motors
	trim   int
	curve  float64

	left, right int
}

// NewBase creates a drive base. trim is added to the right wheel when driving
// straight; curve is the inner wheel factor for curves.
func NewBase(m hal.Motors, s Speeds) *Base {
	curve := s.Curve
	if curve <= 0 || curve > 1 {
		curve = 0.6
	}
	return &Base{motors: m, trim: s.RightTrim, curve: curve}
}

// SetWheels commands both wheels with signed PWM values.
func (b *Base) SetWheels(left, right int) error {
	left = lo.Clamp(left, -hal.MaxPwm, hal.MaxPwm)
	right = lo.Clamp(right, -hal.MaxPwm, hal.MaxPwm)
	if err := b.motors.SetMotorPwm(hal.Left, left); err != nil {
		return fmt.Errorf("set left motor: %w", err)
	}
	if err := b.motors.SetMotorPwm(hal.Right, right); err != nil {
		return fmt.Errorf("set right motor: %w", err)
	}
	b.left, b.right = left, right
	return nil
}

// Drive runs the base in the given direction at speed.
func (b *Base) Drive(d Direction, speed int) error {
	switch d {
	case Forward:
		return b.SetWheels(speed, speed+b.trim)
	case Backward:
		return b.SetWheels(-speed, -(speed + b.trim))
	case SpinLeft:
		return b.SetWheels(-speed, speed)
	case SpinRight:
		return b.SetWheels(speed, -speed)
	}
	return fmt.Errorf("unknown direction %v", d)
}

// Forward drives straight ahead with the right wheel trim applied.
func (b *Base) Forward(speed int) error { return b.Drive(Forward, speed) }

// Backward drives straight back.
func (b *Base) Backward(speed int) error { return b.Drive(Backward, speed) }

// SpinLeft turns counter-clockwise in place.
func (b *Base) SpinLeft(speed int) error { return b.Drive(SpinLeft, speed) }

// SpinRight turns clockwise in place.
func (b *Base) SpinRight(speed int) error { return b.Drive(SpinRight, speed) }

// CurveLeft drives forward while the left wheel runs slower.
func (b *Base) CurveLeft(speed int) error {
	return b.SetWheels(int(float64(speed)*b.curve), speed)
}

// CurveRight drives forward while the right wheel runs slower.
func (b *Base) CurveRight(speed int) error {
	return b.SetWheels(speed, int(float64(speed)*b.curve))
}

// Stop commands both wheels to zero.
func (b *Base) Stop() error {
	return b.SetWheels(0, 0)
}

// Speeds returns the last commanded wheel speeds.
func (b *Base) Speeds() (left, right int) {
	return b.left, b.right
}
