package sensor

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/hal/sim"
	"github.com/relaybot/relaybot/pkg/robot"
)

// scriptedInput replays a fixed signal.
type scriptedInput struct {
	levels []bool
	i      int
}

func (s *scriptedInput) Read() (bool, error) {
	if s.i >= len(s.levels) {
		return s.levels[len(s.levels)-1], nil
	}
	v := s.levels[s.i]
	s.i++
	return v, nil
}

type failingInput struct{}

func (failingInput) Read() (bool, error) { return false, errors.New("bus error") }

func square(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = i%2 == 1
	}
	return out
}

func TestEdgeCounter(t *testing.T) {
	tests := []struct {
		mode robot.EdgeMode
		want int64
	}{
		{robot.EdgeRising, 5}, // 0101010101: five rising edges
		{robot.EdgeAny, 9},
	}
	for _, tt := range tests {
		c := NewEdgeCounter(&scriptedInput{levels: square(10)}, &scriptedInput{levels: square(10)}, tt.mode)
		var l, r int64
		for i := 0; i < 10; i++ {
			var err error
			l, r, err = c.Poll()
			if err != nil {
				t.Fatal(err)
			}
		}
		if l != tt.want || r != tt.want {
			t.Errorf("%s: ticks = %d/%d, want %d", tt.mode, l, r, tt.want)
		}
	}
}

func TestEdgeCounter_ResetPrimes(t *testing.T) {
	// The wheel rests high across the reset: no tick is counted for it.
	left := &scriptedInput{levels: []bool{false, true, true, true}}
	c := NewEdgeCounter(left, &scriptedInput{levels: []bool{false}}, robot.EdgeRising)
	c.Poll()
	if l, _, _ := c.Poll(); l != 1 {
		t.Fatalf("ticks before reset = %d, want 1", l)
	}
	c.Reset()
	c.Poll()
	if l, _, _ := c.Poll(); l != 0 {
		t.Errorf("ticks after reset on a steady input = %d, want 0", l)
	}
}

func TestEdgeCounter_Monotonic(t *testing.T) {
	c := NewEdgeCounter(&scriptedInput{levels: square(50)}, &scriptedInput{levels: square(50)}, robot.EdgeAny)
	var prev int64
	for i := 0; i < 50; i++ {
		l, _, _ := c.Poll()
		if l < prev {
			t.Fatalf("tick count decreased from %d to %d", prev, l)
		}
		prev = l
	}
}

func TestEdgeCounter_Error(t *testing.T) {
	c := NewEdgeCounter(failingInput{}, &scriptedInput{levels: []bool{false}}, robot.EdgeRising)
	if _, _, err := c.Poll(); err == nil {
		t.Error("Poll with failing input returned nil error")
	}
}

func TestThresholdInput(t *testing.T) {
	r := sim.New(analogEncoderConfig(), nil, sim.DefaultOptions())
	in := ThresholdInput{In: r, Channel: 10, Threshold: 512}
	high, err := in.Read()
	if err != nil || !high {
		t.Errorf("Read() at slot start = %v, %v, want true", high, err)
	}
}

func analogEncoderConfig() *robot.Config {
	cfg := robot.DefaultConfig()
	cfg.Encoder.Analog = true
	cfg.Pins.LeftEncoder = 10 // analog channels past the line array
	cfg.Pins.RightEncoder = 11
	return cfg
}

func TestEncodersFor_Sim(t *testing.T) {
	for _, analog := range []bool{false, true} {
		cfg := robot.DefaultConfig()
		if analog {
			cfg = analogEncoderConfig()
		}
		r := sim.New(cfg, nil, sim.DefaultOptions())
		enc := EncodersFor(r, cfg)
		enc.Reset()

		r.SetMotorPwm(hal.Left, 255)
		r.SetMotorPwm(hal.Right, 255)
		var l, rt int64
		for l < 20 {
			var err error
			l, rt, err = enc.Poll()
			if err != nil {
				t.Fatal(err)
			}
		}
		left, _ := r.Travel()
		// 20 rising edges is one revolution of a 20-slot disc.
		if left < 19*1.02 || left > 20.4+0.1 {
			t.Errorf("analog=%v: travel after 20 ticks = %.2fcm, want about 20.4", analog, left)
		}
		if rt < 19 {
			t.Errorf("analog=%v: right ticks = %d, want about 20", analog, rt)
		}
	}
}

func TestInterruptCounter(t *testing.T) {
	mock := clock.NewMock()
	c := NewInterruptCounter(robot.EdgeRising, 20*time.Millisecond, mock)

	c.Edge(hal.Left, true)
	c.Edge(hal.Left, false) // falling edges are ignored in rising mode
	mock.Add(5 * time.Millisecond)
	c.Edge(hal.Left, true) // bounce
	mock.Add(30 * time.Millisecond)
	c.Edge(hal.Left, true)
	c.Edge(hal.Right, true)

	l, r, err := c.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if l != 2 || r != 1 {
		t.Errorf("ticks = %d/%d, want 2/1", l, r)
	}

	c.Reset()
	if l, r, _ := c.Poll(); l != 0 || r != 0 {
		t.Errorf("ticks after Reset = %d/%d, want 0/0", l, r)
	}
}

func TestInterruptCounter_AnyEdge(t *testing.T) {
	mock := clock.NewMock()
	c := NewInterruptCounter(robot.EdgeAny, 0, mock)
	for i := 0; i < 6; i++ {
		c.Edge(hal.Right, i%2 == 0)
	}
	if _, r, _ := c.Poll(); r != 6 {
		t.Errorf("right ticks = %d, want 6", r)
	}
}

func TestInterruptCounter_Sim(t *testing.T) {
	cfg := robot.DefaultConfig()
	r := sim.New(cfg, nil, sim.DefaultOptions())
	c := NewInterruptCounter(robot.EdgeRising, 0, r)
	r.OnEdge(cfg.Pins.LeftEncoder, func(rising bool) { c.Edge(hal.Left, rising) })
	r.OnEdge(cfg.Pins.RightEncoder, func(rising bool) { c.Edge(hal.Right, rising) })

	r.SetMotorPwm(hal.Left, 255)
	r.SetMotorPwm(hal.Right, 255)
	r.Sleep(170 * time.Millisecond) // half a revolution at 60cm/s

	l, rt, _ := c.Poll()
	if l < 9 || l > 10 || rt < 9 || rt > 10 {
		t.Errorf("ticks after half a revolution = %d/%d, want 10", l, rt)
	}
}

func TestFromEcho(t *testing.T) {
	tests := []struct {
		width time.Duration
		want  robot.DistanceSample
	}{
		{0, robot.NoEcho()},
		{20 * time.Microsecond, robot.NoEcho()},
		{1200 * time.Microsecond, robot.DistanceSample{Cm: 20, Valid: true}},
		{2915 * time.Microsecond, robot.DistanceSample{Cm: 49, Valid: true}},
	}
	for _, tt := range tests {
		if got := FromEcho(tt.width); got != tt.want {
			t.Errorf("FromEcho(%v) = %+v, want %+v", tt.width, got, tt.want)
		}
	}
}

func TestLimit(t *testing.T) {
	if got := EchoWidth(15); got != 874*time.Microsecond {
		t.Errorf("EchoWidth(15) = %v, want 874µs", got)
	}
	near := robot.DistanceSample{Cm: 15, Valid: true}
	far := robot.DistanceSample{Cm: 50, Valid: true}
	tests := []struct {
		in      robot.DistanceSample
		timeout time.Duration
		want    robot.DistanceSample
	}{
		{near, time.Millisecond, near},
		{far, time.Millisecond, robot.NoEcho()},
		{far, 0, far},
		{robot.NoEcho(), time.Millisecond, robot.NoEcho()},
	}
	for _, tt := range tests {
		if got := Limit(tt.in, tt.timeout); got != tt.want {
			t.Errorf("Limit(%+v, %v) = %+v, want %+v", tt.in, tt.timeout, got, tt.want)
		}
	}
}

func TestUltrasonic_Distance(t *testing.T) {
	cfg := robot.DefaultConfig()
	world := &sim.World{Walls: []sim.Segment{{A: sim.Point{X: 35, Y: -50}, B: sim.Point{X: 35, Y: 50}}}}
	r := sim.New(cfg, world, sim.DefaultOptions())
	u := NewUltrasonic(r, r, cfg.Pins.Front)

	d := u.Measure(30 * time.Millisecond)
	if !d.Valid || d.Cm < 29 || d.Cm > 30 {
		t.Errorf("Measure() = %+v, want about 30cm", d)
	}
}

func TestUltrasonic_TimeoutBounded(t *testing.T) {
	cfg := robot.DefaultConfig()
	r := sim.New(cfg, &sim.World{}, sim.DefaultOptions())
	u := NewUltrasonic(r, r, cfg.Pins.Front)

	const timeout = 5 * time.Millisecond
	start := r.Now()
	d := u.Measure(timeout)
	elapsed := r.Now().Sub(start)

	if d != robot.NoEcho() {
		t.Errorf("Measure() without echo = %+v, want sentinel", d)
	}
	if d.Cm != robot.SentinelCm {
		t.Errorf("sentinel = %d, want %d", d.Cm, robot.SentinelCm)
	}
	// Trigger pulse plus a few polling quanta of slack.
	if overhead := 200 * time.Microsecond; elapsed > timeout+overhead {
		t.Errorf("Measure blocked %v, want at most %v", elapsed, timeout+overhead)
	}
}

// fakeAnalog serves fixed channel values.
type fakeAnalog map[int]int

func (f fakeAnalog) ReadAnalog(ch int) (int, error) { return f[ch], nil }

func readingOf(levels ...int) fakeAnalog {
	f := fakeAnalog{}
	for i, v := range levels {
		f[i] = v
	}
	return f
}

func TestLineArray_Classify(t *testing.T) {
	const B, W = 980, 120
	tests := []struct {
		name string
		raw  fakeAnalog
		want robot.LinePosition
	}{
		{"centered", readingOf(W, W, W, B, B, W, W, W), robot.CenterLine},
		{"drifted left", readingOf(W, B, B, W, W, W, W, W), robot.CenterLine},
		{"lost", readingOf(W, W, W, W, W, W, W, W), robot.NoLine},
		{"all black", readingOf(B, B, B, B, B, B, B, B), robot.TJunction},
		{"branch left", readingOf(B, B, B, B, B, W, W, W), robot.LeftLine},
		{"branch right", readingOf(W, W, W, B, B, B, B, B), robot.RightLine},
		{"both outer", readingOf(B, W, W, B, B, W, W, B), robot.CenterLine},
	}
	for _, tt := range tests {
		a := NewLineArray(tt.raw, robot.DefaultConfig().Line)
		r, err := a.Read()
		if err != nil {
			t.Fatal(err)
		}
		if r.Position != tt.want {
			t.Errorf("%s: Position = %v, want %v", tt.name, r.Position, tt.want)
		}
	}
}

func TestLineArray_DegenerateSensorNeverTriggers(t *testing.T) {
	a := NewLineArray(readingOf(1023, 1023, 1023, 1023, 1023, 1023, 1023, 1023), robot.DefaultConfig().Line)
	p := a.Profile()
	p[0] = robot.SensorCalibration{Min: 400, Max: 400, Threshold: 400}
	if err := a.SetProfile(p); err != nil {
		t.Fatal(err)
	}
	r, _ := a.Read()
	if r.OnLine[0] {
		t.Error("degenerate sensor reported the line")
	}
	// With one sensor blind, full saturation no longer reads as a junction.
	if r.Position == robot.TJunction {
		t.Errorf("Position = %v with a blind sensor", r.Position)
	}
	if got := a.Activations(r.Raw)[0]; got != 0 {
		t.Errorf("activation of degenerate sensor = %f, want 0", got)
	}
}

func TestLineArray_FixedThresholds(t *testing.T) {
	cfg := robot.DefaultConfig().Line
	cfg.FixedThresholds = []int{500, 500, 500, 500, 500, 500, 500, 500}
	a := NewLineArray(readingOf(0, 0, 0, 600, 0, 0, 0, 0), cfg)
	r, _ := a.Read()
	if !r.OnLine[3] {
		t.Error("sensor 3 at 600 not on line with threshold 500")
	}
}

func TestLineArray_Calibrate(t *testing.T) {
	cfg := robot.DefaultConfig()
	world := &sim.World{
		Lines:     []sim.Segment{{A: sim.Point{X: -50}, B: sim.Point{X: 50}}},
		LineWidth: 1.8,
	}
	r := sim.New(cfg, world, sim.DefaultOptions())
	a := NewLineArray(r, cfg.Line)
	base := robot.NewBase(r, cfg.Speeds)

	p, err := a.Calibrate(base, r, cfg.Line.CalibrationDuration.D(), cfg.Speeds.Calibration)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	for i, c := range p {
		if c.Degenerate() {
			t.Errorf("sensor %d never saw the line: %+v", i, c)
			continue
		}
		if c.Threshold <= float64(c.Min) || c.Threshold >= float64(c.Max) {
			t.Errorf("sensor %d threshold %f outside (%d, %d)", i, c.Threshold, c.Min, c.Max)
		}
	}
	if l, rt := r.PWM(hal.Left), r.PWM(hal.Right); l != 0 || rt != 0 {
		t.Errorf("wheels = %d/%d after calibration", l, rt)
	}
}
