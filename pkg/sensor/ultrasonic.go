package sensor

import (
	"time"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
)

// Ranger measures the distance to the nearest obstacle.
type Ranger interface {
	// Measure pings once and reports robot.NoEcho when nothing answered
	// within timeout. It never blocks much longer than timeout, except on
	// drivers with a fixed echo wait (about 23ms for the TinyGo HC-SR04
	// driver), which may block for that wait but still apply Limit.
	Measure(timeout time.Duration) robot.DistanceSample
}

// speedOfSound in centimeters per microsecond.
const speedOfSound = 0.0343

// Ultrasonic is an HC-SR04 driven by polling two digital pins.
type Ultrasonic struct {
	pins    hal.Digital
	clock   hal.Clock
	trigger int
	echo    int
}

// NewUltrasonic creates a sensor on the given trigger and echo pins.
func NewUltrasonic(pins hal.Digital, clock hal.Clock, s robot.Sonar) *Ultrasonic {
	return &Ultrasonic{pins: pins, clock: clock, trigger: s.Trigger, echo: s.Echo}
}

// Measure implements Ranger.
func (u *Ultrasonic) Measure(timeout time.Duration) robot.DistanceSample {
	if err := u.ping(); err != nil {
		return robot.NoEcho()
	}

	deadline := u.clock.Now().Add(timeout)
	rise, ok := u.waitEcho(true, deadline)
	if !ok {
		return robot.NoEcho()
	}
	fall, ok := u.waitEcho(false, deadline)
	if !ok {
		return robot.NoEcho()
	}
	return FromEcho(fall.Sub(rise))
}

// FromEcho converts an echo pulse width to a sample. A width too short to
// round to a whole centimeter is treated as no reading.
func FromEcho(width time.Duration) robot.DistanceSample {
	cm := int(float64(width.Microseconds()) * speedOfSound / 2)
	if cm <= 0 {
		return robot.NoEcho()
	}
	return robot.DistanceSample{Cm: cm, Valid: true}
}

// EchoWidth is the echo pulse produced by an obstacle cm away.
func EchoWidth(cm int) time.Duration {
	return time.Duration(float64(cm)*2/speedOfSound) * time.Microsecond
}

// Limit reports s as no echo when its echo would have arrived after timeout.
// A zero timeout leaves s unchanged.
func Limit(s robot.DistanceSample, timeout time.Duration) robot.DistanceSample {
	if s.Valid && timeout > 0 && EchoWidth(s.Cm) > timeout {
		return robot.NoEcho()
	}
	return s
}

func (u *Ultrasonic) ping() error {
	if err := u.pins.WriteDigital(u.trigger, false); err != nil {
		return err
	}
	u.clock.Sleep(2 * time.Microsecond)
	if err := u.pins.WriteDigital(u.trigger, true); err != nil {
		return err
	}
	u.clock.Sleep(10 * time.Microsecond)
	return u.pins.WriteDigital(u.trigger, false)
}

// waitEcho polls the echo pin until it reads level or the deadline passes.
func (u *Ultrasonic) waitEcho(level bool, deadline time.Time) (time.Time, bool) {
	for {
		v, err := u.pins.ReadDigital(u.echo)
		now := u.clock.Now()
		if err != nil {
			return now, false
		}
		if v == level {
			return now, true
		}
		if !now.Before(deadline) {
			return now, false
		}
	}
}
