// Package hal defines the hardware capabilities the motion engine depends on.
//
// Backends live in sub-packages: sim (a deterministic simulator used by tests
// and demo mode), firmata (an Arduino driven from a host over USB) and pico
// (on-board firmware built with TinyGo).
package hal

import (
	"time"

	"go.uber.org/atomic"
)

// Wheel identifies one side of the differential drive.
type Wheel int

const (
	Left Wheel = iota
	Right
)

func (w Wheel) String() string {
	if w == Left {
		return "left"
	}
	return "right"
}

// MaxPwm is the largest magnitude accepted by SetMotorPwm.
const MaxPwm = 255

// MaxAnalog is the largest value returned by ReadAnalog.
const MaxAnalog = 1023

// Motors commands wheel speed. speed is signed PWM in [-MaxPwm, MaxPwm];
// negative values drive the wheel backwards.
type Motors interface {
	SetMotorPwm(w Wheel, speed int) error
}

// Analog reads a 10-bit analog channel.
type Analog interface {
	ReadAnalog(channel int) (int, error)
}

// Digital reads and drives digital pins.
type Digital interface {
	ReadDigital(pin int) (bool, error)
	WriteDigital(pin int, high bool) error
}

// Board bundles every capability a complete robot provides.
type Board interface {
	Motors
	Analog
	Digital
}

// PulseTimer is implemented by boards that know whether polling ReadDigital
// is fast enough to time a microsecond pulse such as an ultrasonic echo.
type PulseTimer interface {
	TimesPulses() bool
}

// CanTimePulses reports whether pulses on b can be timed by polling. Boards
// that do not implement PulseTimer read their pins directly and can.
func CanTimePulses(b Digital) bool {
	if p, ok := b.(PulseTimer); ok {
		return p.TimesPulses()
	}
	return true
}

// Clock is the subset of a clock used by control loops. Both
// clock.New() and clock.NewMock() from github.com/benbjohnson/clock satisfy it.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SharedLine guards a signal line that two peripherals use. The radio holds it
// while transmitting; LED refreshes are skipped while it is held.
type SharedLine struct {
	busy atomic.Bool
}

// TryAcquire claims the line. It returns false if the line is already held.
func (l *SharedLine) TryAcquire() bool {
	return l.busy.CompareAndSwap(false, true)
}

// Release frees the line.
func (l *SharedLine) Release() {
	l.busy.Store(false)
}

// Busy reports whether the line is held.
func (l *SharedLine) Busy() bool {
	return l.busy.Load()
}
