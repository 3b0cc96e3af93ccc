// Package firmata drives an Arduino running StandardFirmata from the host
// over USB, using the gobot firmata adaptor.
package firmata

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"
	"gobot.io/x/gobot/platforms/firmata"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
)

// Pins is the part of the gobot adaptor the board uses.
type Pins interface {
	DigitalRead(pin string) (int, error)
	DigitalWrite(pin string, level byte) error
	PwmWrite(pin string, level byte) error
	AnalogRead(pin string) (int, error)
	ServoWrite(pin string, angle byte) error
}

// Board implements hal.Board. Each motor is an H-bridge with one PWM pin per
// direction.
type Board struct {
	pins   Pins
	wiring robot.Pins
	conn   *firmata.Adaptor
}

// Open connects to the Arduino on port.
func Open(port string, wiring robot.Pins) (*Board, error) {
	a := firmata.NewAdaptor(port)
	if err := a.Connect(); err != nil {
		return nil, fmt.Errorf("connect firmata on %s: %w", port, err)
	}
	b := New(a, wiring)
	b.conn = a
	return b, nil
}

// New wraps an already connected adaptor.
func New(p Pins, wiring robot.Pins) *Board {
	return &Board{pins: p, wiring: wiring}
}

// Close stops both motors and disconnects.
func (b *Board) Close() error {
	b.SetMotorPwm(hal.Left, 0)
	b.SetMotorPwm(hal.Right, 0)
	if b.conn == nil {
		return nil
	}
	return b.conn.Finalize()
}

// SetMotorPwm implements hal.Motors.
func (b *Board) SetMotorPwm(w hal.Wheel, speed int) error {
	fwd, bwd := b.wiring.LeftForward, b.wiring.LeftBackward
	if w == hal.Right {
		fwd, bwd = b.wiring.RightForward, b.wiring.RightBackward
	}
	speed = lo.Clamp(speed, -hal.MaxPwm, hal.MaxPwm)
	high, low := fwd, bwd
	if speed < 0 {
		high, low, speed = bwd, fwd, -speed
	}
	// Release the opposite side first so both are never driven.
	if err := b.pins.PwmWrite(pin(low), 0); err != nil {
		return fmt.Errorf("%v motor: %w", w, err)
	}
	if err := b.pins.PwmWrite(pin(high), byte(speed)); err != nil {
		return fmt.Errorf("%v motor: %w", w, err)
	}
	return nil
}

// ReadAnalog implements hal.Analog. Channels are analog pin numbers.
func (b *Board) ReadAnalog(channel int) (int, error) {
	return b.pins.AnalogRead(pin(channel))
}

// ReadDigital implements hal.Digital.
func (b *Board) ReadDigital(p int) (bool, error) {
	v, err := b.pins.DigitalRead(pin(p))
	return v == 1, err
}

// TimesPulses implements hal.PulseTimer. Firmata reports pin changes
// asynchronously with serial latency in the milliseconds, far coarser than
// an ultrasonic echo.
func (b *Board) TimesPulses() bool { return false }

// WriteDigital implements hal.Digital.
func (b *Board) WriteDigital(p int, high bool) error {
	var level byte
	if high {
		level = 1
	}
	return b.pins.DigitalWrite(pin(p), level)
}

// Servo returns a gripper actuator on a Firmata servo pin.
func (b *Board) Servo(p int) Servo {
	return Servo{pins: b.pins, pin: p}
}

// Servo positions a hobby servo with the Firmata servo extension.
type Servo struct {
	pins Pins
	pin  int
}

// Arduino Servo library pulse range.
const (
	servoMinUs = 544
	servoMaxUs = 2400
)

// Angle maps a pulse width onto the 0..180 degree servo command.
func Angle(us int) byte {
	a := (us - servoMinUs) * 180 / (servoMaxUs - servoMinUs)
	return byte(lo.Clamp(a, 0, 180))
}

// Command implements gripper.Actuator.
func (s Servo) Command(us int) error {
	return s.pins.ServoWrite(pin(s.pin), Angle(us))
}

func pin(n int) string {
	return strconv.Itoa(n)
}

var _ hal.Board = (*Board)(nil)
