//go:build rp2040

// Package pico runs the engine on board a Raspberry Pi Pico built with TinyGo.
// Motors use the hardware PWM slices, line sensors the ADC inputs and the
// wheel encoders pin interrupts.
package pico

import (
	"errors"
	"image/color"
	"machine"
	"time"

	"tinygo.org/x/drivers/hcsr04"
	"tinygo.org/x/drivers/servo"
	"tinygo.org/x/drivers/ws2812"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
)

const pwmPeriod = 1e9 / 1000 // 1kHz motor PWM, in ns

// Config is the default robot rewired for the Pico: three ADC line sensors
// on GP26..GP28 and GPIO pin numbers everywhere else.
func Config() *robot.Config {
	cfg := robot.DefaultConfig()
	cfg.Line.Channels = []int{26, 27, 28}
	cfg.Pins = robot.Pins{
		LeftForward:   2,
		LeftBackward:  3,
		RightForward:  4,
		RightBackward: 5,
		LeftEncoder:   6,
		RightEncoder:  7,
		Front:         robot.Sonar{Trigger: 8, Echo: 9},
		LeftSonar:     robot.Sonar{Trigger: 10, Echo: 11},
		RightSonar:    robot.Sonar{Trigger: 12, Echo: 13},
		Gripper:       14,
		LED:           16,
	}
	return cfg
}

type pwmGroup interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

type pwmOut struct {
	group   pwmGroup
	channel uint8
}

// Board implements hal.Board on the Pico pins.
type Board struct {
	wiring robot.Pins
	motors map[int]pwmOut
	adc    map[int]machine.ADC
	output map[int]bool
	input  map[int]bool
}

// New configures the motor and line sensor pins.
func New(cfg *robot.Config) (*Board, error) {
	b := &Board{
		wiring: cfg.Pins,
		motors: make(map[int]pwmOut),
		adc:    make(map[int]machine.ADC),
		output: make(map[int]bool),
		input:  make(map[int]bool),
	}
	for _, p := range []int{cfg.Pins.LeftForward, cfg.Pins.LeftBackward, cfg.Pins.RightForward, cfg.Pins.RightBackward} {
		g := slice(machine.Pin(p))
		if err := g.Configure(machine.PWMConfig{Period: pwmPeriod}); err != nil {
			return nil, err
		}
		ch, err := g.Channel(machine.Pin(p))
		if err != nil {
			return nil, err
		}
		b.motors[p] = pwmOut{group: g, channel: ch}
	}
	machine.InitADC()
	for _, ch := range cfg.Line.Channels {
		a := machine.ADC{Pin: machine.Pin(ch)}
		a.Configure(machine.ADCConfig{})
		b.adc[ch] = a
	}
	return b, nil
}

// slice returns the PWM slice driving pin: GPIO n belongs to slice (n/2)%8.
func slice(p machine.Pin) pwmGroup {
	switch (p >> 1) & 7 {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	}
	return machine.PWM7
}

// SetMotorPwm implements hal.Motors.
func (b *Board) SetMotorPwm(w hal.Wheel, speed int) error {
	fwd, bwd := b.wiring.LeftForward, b.wiring.LeftBackward
	if w == hal.Right {
		fwd, bwd = b.wiring.RightForward, b.wiring.RightBackward
	}
	if speed < 0 {
		fwd, bwd, speed = bwd, fwd, -speed
	}
	speed = min(speed, hal.MaxPwm)
	b.duty(bwd, 0)
	b.duty(fwd, speed)
	return nil
}

func (b *Board) duty(pin, speed int) {
	o := b.motors[pin]
	o.group.Set(o.channel, o.group.Top()*uint32(speed)/hal.MaxPwm)
}

// ReadAnalog implements hal.Analog, scaled to 10 bits.
func (b *Board) ReadAnalog(channel int) (int, error) {
	a, ok := b.adc[channel]
	if !ok {
		return 0, errors.New("not an ADC channel")
	}
	return int(a.Get() >> 6), nil
}

// ReadDigital implements hal.Digital.
func (b *Board) ReadDigital(pin int) (bool, error) {
	p := machine.Pin(pin)
	if !b.input[pin] {
		p.Configure(machine.PinConfig{Mode: machine.PinInput})
		b.input[pin] = true
	}
	return p.Get(), nil
}

// WriteDigital implements hal.Digital.
func (b *Board) WriteDigital(pin int, high bool) error {
	p := machine.Pin(pin)
	if !b.output[pin] {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		b.output[pin] = true
	}
	p.Set(high)
	return nil
}

// Encoders counts wheel ticks from pin interrupts.
func Encoders(cfg *robot.Config, clock hal.Clock) (*sensor.InterruptCounter, error) {
	c := sensor.NewInterruptCounter(cfg.Encoder.Edge, cfg.Encoder.Debounce.D(), clock)
	for w, pin := range map[hal.Wheel]int{hal.Left: cfg.Pins.LeftEncoder, hal.Right: cfg.Pins.RightEncoder} {
		p := machine.Pin(pin)
		p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
		err := p.SetInterrupt(machine.PinRising|machine.PinFalling, func(p machine.Pin) {
			c.Edge(w, p.Get())
		})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Sonar is an HC-SR04 read with the TinyGo driver.
type Sonar struct {
	dev hcsr04.Device
}

// NewSonar configures the trigger and echo pins.
func NewSonar(s robot.Sonar) *Sonar {
	d := hcsr04.New(machine.Pin(s.Trigger), machine.Pin(s.Echo))
	d.Configure()
	return &Sonar{dev: d}
}

// Measure implements sensor.Ranger. The driver waits up to its own echo
// limit; echoes later than timeout are reported as no echo.
func (s *Sonar) Measure(timeout time.Duration) robot.DistanceSample {
	mm := s.dev.ReadDistance()
	if mm <= 0 {
		return robot.NoEcho()
	}
	return sensor.Limit(robot.DistanceSample{Cm: int(mm / 10), Valid: true}, timeout)
}

// Pixel is a single WS2812 status LED.
type Pixel struct {
	dev ws2812.Device
}

// NewPixel configures the data pin.
func NewPixel(pin int) *Pixel {
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &Pixel{dev: ws2812.New(p)}
}

// Show implements status.Strip.
func (p *Pixel) Show(c color.RGBA) error {
	return p.dev.WriteColors([]color.RGBA{c})
}

// Servo is the gripper on a hardware PWM slice.
type Servo struct {
	s servo.Servo
}

// NewServo configures the gripper pin for 50Hz servo pulses.
func NewServo(pin int) (*Servo, error) {
	p := machine.Pin(pin)
	s, err := servo.New(slice(p), p)
	if err != nil {
		return nil, err
	}
	return &Servo{s: s}, nil
}

// Command implements gripper.Actuator. The PWM slice repeats the pulse on
// its own, so refreshing only changes the width.
func (s *Servo) Command(us int) error {
	s.s.SetMicroseconds(int16(us))
	return nil
}

var _ hal.Board = (*Board)(nil)
