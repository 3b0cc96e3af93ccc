// Package status shows the robot state on a status LED.
package status

import (
	"image/color"
	"time"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
)

var (
	Off    = color.RGBA{}
	Green  = color.RGBA{G: 255}
	Amber  = color.RGBA{R: 255, G: 120}
	Purple = color.RGBA{R: 160, B: 255}
	Red    = color.RGBA{R: 255}
	Blue   = color.RGBA{B: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255}
)

// Strip is anything that can display one color.
type Strip interface {
	Show(c color.RGBA) error
}

// Pattern is the color for a state and whether it blinks.
func Pattern(s robot.State) (color.RGBA, bool) {
	switch s {
	case robot.FollowLine:
		return Green, false
	case robot.TurningLeft, robot.TurningRight:
		return Amber, true
	case robot.TurningAround:
		return Purple, false
	case robot.ObstacleDetected:
		return Red, false
	case robot.AvoidingObstacle:
		return Red, true
	case robot.CheckingForPathAhead:
		return Blue, false
	}
	return White, false
}

// Indicator drives a strip from the robot state. It never writes while the
// shared line is held by the radio.
type Indicator struct {
	strip Strip
	line  *hal.SharedLine
	clock hal.Clock
	flash time.Duration

	lastFlash time.Time
	lit       bool
	shown     color.RGBA
	valid     bool
}

// NewIndicator creates an indicator blinking at the flash interval. line may
// be nil.
func NewIndicator(strip Strip, line *hal.SharedLine, clock hal.Clock, flash time.Duration) *Indicator {
	return &Indicator{strip: strip, line: line, clock: clock, flash: flash, lit: true}
}

// Update shows the pattern for s. It reports whether the strip was written.
func (i *Indicator) Update(s robot.State) (bool, error) {
	c, blink := Pattern(s)
	if blink {
		now := i.clock.Now()
		if now.Sub(i.lastFlash) >= i.flash {
			i.lastFlash = now
			i.lit = !i.lit
		}
		if !i.lit {
			c = Off
		}
	}
	return i.Show(c)
}

// Show writes c unless it is already shown or the line is busy.
func (i *Indicator) Show(c color.RGBA) (bool, error) {
	if i.valid && c == i.shown {
		return false, nil
	}
	if i.line != nil && i.line.Busy() {
		return false, nil
	}
	if err := i.strip.Show(c); err != nil {
		return false, err
	}
	i.shown, i.valid = c, true
	return true, nil
}

// PinLED is a single LED on a digital pin; any color but Off lights it.
type PinLED struct {
	Pins hal.Digital
	Pin  int
}

// Show implements Strip.
func (p PinLED) Show(c color.RGBA) error {
	return p.Pins.WriteDigital(p.Pin, c != Off)
}

// Discard is a strip for robots without an LED.
type Discard struct{}

// Show implements Strip.
func (Discard) Show(color.RGBA) error { return nil }
