// Package sim is a deterministic differential-drive robot for tests and demo
// mode. It implements hal.Board and hal.Clock: every hardware access advances
// virtual time by a small quantum, so polling loops make progress without a
// wall clock.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
)

const (
	darkReading  = 980
	lightReading = 120

	speedOfSoundCmPerUs = 0.0343
	echoDelay           = 200 * time.Microsecond
	maxSubstep          = time.Millisecond
)

// Sonar mounts an HC-SR04 on the robot.
type Sonar struct {
	Pins  robot.Sonar
	Angle float64 // radians, counter-clockwise from straight ahead
	Ahead float64 // cm in front of the axle
}

// Options tune the simulated hardware.
type Options struct {
	MaxSpeedCmS   float64       // wheel surface speed at full PWM
	Quantum       time.Duration // virtual time per hardware access
	SensorAhead   float64       // line array distance in front of the axle
	SensorSpacing float64
	MaxRangeCm    float64
	// RealTime makes Sleep also wait on the wall clock, for demo mode.
	RealTime bool
}

// DefaultOptions returns a small hobby robot.
func DefaultOptions() Options {
	return Options{
		MaxSpeedCmS:   60,
		Quantum:       20 * time.Microsecond,
		SensorAhead:   8,
		SensorSpacing: 1.0,
		MaxRangeCm:    400,
	}
}

type echo struct {
	trigHigh   bool
	trigAt     time.Time
	start, end time.Time
}

// Robot is the simulated robot.
type Robot struct {
	mu sync.Mutex

	cfg    *robot.Config
	opts   Options
	world  *World
	sonars []Sonar

	now     time.Time
	pos     Point
	heading float64

	pwm     [2]int
	stalled [2]bool
	travel  [2]float64 // signed wheel surface travel in cm

	echoes []echo
	pins   map[int]bool
	highAt map[int]time.Time
	pulses map[int]time.Duration
	onEdge map[int]func(rising bool)
	reads  int
}

// New places a robot at the origin facing +X.
func New(cfg *robot.Config, world *World, opts Options) *Robot {
	if world == nil {
		world = &World{}
	}
	r := &Robot{
		cfg:    cfg,
		opts:   opts,
		world:  world,
		now:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		pins:   make(map[int]bool),
		highAt: make(map[int]time.Time),
		pulses: make(map[int]time.Duration),
		onEdge: make(map[int]func(bool)),
	}
	r.sonars = []Sonar{
		{Pins: cfg.Pins.Front, Angle: 0, Ahead: 5},
		{Pins: cfg.Pins.LeftSonar, Angle: math.Pi / 2},
		{Pins: cfg.Pins.RightSonar, Angle: -math.Pi / 2},
	}
	r.echoes = make([]echo, len(r.sonars))
	return r
}

// SetPose moves the robot. heading is in radians, counter-clockwise from +X.
func (r *Robot) SetPose(p Point, heading float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos, r.heading = p, heading
}

// Pose returns the position and heading.
func (r *Robot) Pose() (Point, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos, r.heading
}

// Travel returns the signed distance each wheel has rolled.
func (r *Robot) Travel() (left, right float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.travel[hal.Left], r.travel[hal.Right]
}

// Stall blocks a wheel: it stops turning whatever PWM it is given.
func (r *Robot) Stall(w hal.Wheel, stalled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stalled[w] = stalled
}

// PWM returns the last speed commanded to a wheel.
func (r *Robot) PWM(w hal.Wheel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pwm[w]
}

// PulseWidth returns the last high pulse seen on an output pin.
func (r *Robot) PulseWidth(pin int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pulses[pin]
}

// OnEdge registers an interrupt handler for an encoder pin.
func (r *Robot) OnEdge(pin int, fn func(rising bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEdge[pin] = fn
}

// Now implements hal.Clock.
func (r *Robot) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now
}

// Sleep implements hal.Clock by advancing virtual time.
func (r *Robot) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	handlers := r.advanceLocked(d)
	for _, h := range handlers {
		h()
	}
	if r.opts.RealTime {
		time.Sleep(d)
	}
}

// SetMotorPwm implements hal.Motors. Motor writes take no virtual time so
// both wheels change speed at the same instant.
func (r *Robot) SetMotorPwm(w hal.Wheel, speed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pwm[w] = speed
	return nil
}

// ReadAnalog implements hal.Analog. Line sensor channels see the floor and
// analog encoders report 0 or 1023.
func (r *Robot) ReadAnalog(channel int) (int, error) {
	r.tick()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++

	if r.cfg.Encoder.Analog {
		if w, ok := r.encoderWheel(channel); ok {
			if r.slotHigh(w) {
				return hal.MaxAnalog, nil
			}
			return 0, nil
		}
	}
	for i, ch := range r.cfg.Line.Channels {
		if ch == channel {
			if r.world.Dark(r.sensorPos(i)) {
				return darkReading, nil
			}
			return lightReading, nil
		}
	}
	return 0, nil
}

// ReadDigital implements hal.Digital for encoder and echo pins.
func (r *Robot) ReadDigital(pin int) (bool, error) {
	r.tick()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++

	if !r.cfg.Encoder.Analog {
		if w, ok := r.encoderWheel(pin); ok {
			return r.slotHigh(w), nil
		}
	}
	for i, s := range r.sonars {
		if s.Pins.Echo == pin {
			e := r.echoes[i]
			return !r.now.Before(e.start) && r.now.Before(e.end), nil
		}
	}
	return r.pins[pin], nil
}

// WriteDigital implements hal.Digital. Trigger pins fire pings; other pins
// record pulse widths.
func (r *Robot) WriteDigital(pin int, high bool) error {
	r.mu.Lock()
	was := r.pins[pin]
	r.pins[pin] = high
	switch {
	case high && !was:
		r.highAt[pin] = r.now
	case !high && was:
		r.pulses[pin] = r.now.Sub(r.highAt[pin])
	}
	for i, s := range r.sonars {
		if s.Pins.Trigger == pin {
			r.trigger(i, high)
		}
	}
	r.mu.Unlock()
	r.tick()
	return nil
}

// Reads returns the number of sensor reads served, for tests.
func (r *Robot) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

func (r *Robot) trigger(i int, high bool) {
	e := &r.echoes[i]
	if high {
		e.trigHigh, e.trigAt = true, r.now
		return
	}
	if !e.trigHigh {
		return
	}
	e.trigHigh = false
	if r.now.Sub(e.trigAt) < 10*time.Microsecond {
		return
	}
	s := r.sonars[i]
	origin := r.pos.add(unit(r.heading).scale(s.Ahead))
	d := r.world.Ray(origin, r.heading+s.Angle)
	if d > r.opts.MaxRangeCm {
		e.start, e.end = time.Time{}, time.Time{}
		return
	}
	width := time.Duration(d * 2 / speedOfSoundCmPerUs * float64(time.Microsecond))
	e.start = r.now.Add(echoDelay)
	e.end = e.start.Add(width)
}

func (r *Robot) encoderWheel(pin int) (hal.Wheel, bool) {
	switch pin {
	case r.cfg.Pins.LeftEncoder:
		return hal.Left, true
	case r.cfg.Pins.RightEncoder:
		return hal.Right, true
	}
	return 0, false
}

// slotHigh reports the encoder signal: high over the first half of each slot.
func (r *Robot) slotHigh(w hal.Wheel) bool {
	return encoderSignal(r.travel[w], r.cfg.Geometry)
}

func encoderSignal(travel float64, g robot.Geometry) bool {
	phase := travel / g.WheelCircumferenceCm * float64(g.PulsesPerRotation)
	frac := phase - math.Floor(phase)
	return frac < 0.5
}

func (r *Robot) sensorPos(i int) Point {
	n := len(r.cfg.Line.Channels)
	lateral := (float64(n-1)/2 - float64(i)) * r.opts.SensorSpacing
	local := Point{r.opts.SensorAhead, lateral}
	return r.pos.add(local.rotate(r.heading))
}

func (r *Robot) wheelSpeed(w hal.Wheel) float64 {
	if r.stalled[w] {
		return 0
	}
	return float64(r.pwm[w]) / hal.MaxPwm * r.opts.MaxSpeedCmS
}

func (r *Robot) tick() {
	for _, h := range r.advanceLocked(r.opts.Quantum) {
		h()
	}
}

// advanceLocked integrates the pose over d and returns the interrupt handlers
// to run once the lock is released.
func (r *Robot) advanceLocked(d time.Duration) []func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fired []func()
	for d > 0 {
		step := min(d, maxSubstep)
		d -= step
		dt := step.Seconds()

		vl, vr := r.wheelSpeed(hal.Left), r.wheelSpeed(hal.Right)
		v := (vl + vr) / 2
		omega := (vr - vl) / r.cfg.Geometry.TrackWidthCm
		mid := r.heading + omega*dt/2
		r.pos = r.pos.add(unit(mid).scale(v * dt))
		r.heading += omega * dt

		for _, w := range []hal.Wheel{hal.Left, hal.Right} {
			before := r.slotHigh(w)
			r.travel[w] += r.wheelSpeed(w) * dt
			after := r.slotHigh(w)
			if before == after {
				continue
			}
			pin := r.cfg.Pins.LeftEncoder
			if w == hal.Right {
				pin = r.cfg.Pins.RightEncoder
			}
			if fn := r.onEdge[pin]; fn != nil {
				rising := after
				fired = append(fired, func() { fn(rising) })
			}
		}
		r.now = r.now.Add(step)
	}
	return fired
}

var (
	_ hal.Board = (*Robot)(nil)
	_ hal.Clock = (*Robot)(nil)
)
