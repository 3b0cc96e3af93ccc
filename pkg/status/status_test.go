package status

import (
	"image/color"
	"testing"
	"time"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

type strip struct{ shown []color.RGBA }

func (s *strip) Show(c color.RGBA) error {
	s.shown = append(s.shown, c)
	return nil
}

func TestPattern(t *testing.T) {
	tests := []struct {
		state robot.State
		color color.RGBA
		blink bool
	}{
		{robot.FollowLine, Green, false},
		{robot.TurningLeft, Amber, true},
		{robot.TurningRight, Amber, true},
		{robot.ObstacleDetected, Red, false},
		{robot.AvoidingObstacle, Red, true},
	}
	for _, tt := range tests {
		c, blink := Pattern(tt.state)
		if c != tt.color || blink != tt.blink {
			t.Errorf("Pattern(%v) = %v, %v, want %v, %v", tt.state, c, blink, tt.color, tt.blink)
		}
	}
}

func TestIndicator_SkipsUnchanged(t *testing.T) {
	s := &strip{}
	ind := NewIndicator(s, nil, &fakeClock{}, 100*time.Millisecond)
	ind.Update(robot.FollowLine)
	ind.Update(robot.FollowLine)
	ind.Update(robot.CheckingForPathAhead)
	if len(s.shown) != 2 || s.shown[0] != Green || s.shown[1] != Blue {
		t.Errorf("shown = %v", s.shown)
	}
}

func TestIndicator_Blinks(t *testing.T) {
	s := &strip{}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	ind := NewIndicator(s, nil, clock, 100*time.Millisecond)
	for range 4 {
		ind.Update(robot.TurningLeft)
		clock.Sleep(100 * time.Millisecond)
	}
	want := []color.RGBA{Off, Amber, Off, Amber}
	if len(s.shown) != len(want) {
		t.Fatalf("shown = %v, want %v", s.shown, want)
	}
	for i := range want {
		if s.shown[i] != want[i] {
			t.Errorf("flash %d = %v, want %v", i, s.shown[i], want[i])
		}
	}
}

func TestIndicator_PausedWhileLineBusy(t *testing.T) {
	s := &strip{}
	line := &hal.SharedLine{}
	ind := NewIndicator(s, line, &fakeClock{}, 100*time.Millisecond)

	line.TryAcquire()
	if wrote, _ := ind.Update(robot.ObstacleDetected); wrote || len(s.shown) != 0 {
		t.Error("strip written while the radio held the line")
	}
	line.Release()
	if wrote, _ := ind.Update(robot.ObstacleDetected); !wrote || s.shown[0] != Red {
		t.Errorf("strip not updated after release: %v", s.shown)
	}
}

type pins struct{ level map[int]bool }

func (p *pins) ReadDigital(pin int) (bool, error) { return p.level[pin], nil }
func (p *pins) WriteDigital(pin int, high bool) error {
	p.level[pin] = high
	return nil
}

func TestPinLED(t *testing.T) {
	p := &pins{level: map[int]bool{}}
	led := PinLED{Pins: p, Pin: 9}
	led.Show(Red)
	if !p.level[9] {
		t.Error("LED off after Show(Red)")
	}
	led.Show(Off)
	if p.level[9] {
		t.Error("LED on after Show(Off)")
	}
}
