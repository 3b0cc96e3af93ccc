// Package sensor reads the robot's line array, wheel encoders and ultrasonic
// rangers.
package sensor

import (
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/robot"
)

// DefaultLineThreshold separates white paper from black tape on an
// uncalibrated array.
const DefaultLineThreshold = 750

// Reading is one sample of the whole array.
type Reading struct {
	Raw      []int
	OnLine   []bool
	Position robot.LinePosition
}

// Spinner turns the robot in place.
type Spinner interface {
	SpinRight(speed int) error
	Stop() error
}

// LineArray reads N analog reflectance sensors ordered left to right.
type LineArray struct {
	in       hal.Analog
	channels []int
	profile  robot.CalibrationProfile
}

// NewLineArray creates an array using the configured fixed thresholds, or
// DefaultLineThreshold until Calibrate runs.
func NewLineArray(in hal.Analog, cfg robot.LineConfig) *LineArray {
	profile := robot.UniformProfile(len(cfg.Channels), DefaultLineThreshold)
	if len(cfg.FixedThresholds) == len(cfg.Channels) {
		profile = robot.FixedProfile(cfg.FixedThresholds)
	}
	return &LineArray{in: in, channels: cfg.Channels, profile: profile}
}

// Len returns the number of sensors.
func (a *LineArray) Len() int { return len(a.channels) }

// Profile returns the active calibration.
func (a *LineArray) Profile() robot.CalibrationProfile { return a.profile }

// SetProfile replaces the active calibration.
func (a *LineArray) SetProfile(p robot.CalibrationProfile) error {
	if len(p) != len(a.channels) {
		return fmt.Errorf("profile has %d sensors, array has %d", len(p), len(a.channels))
	}
	a.profile = p
	return nil
}

// ReadRaw samples every sensor in order.
func (a *LineArray) ReadRaw() ([]int, error) {
	raw := make([]int, len(a.channels))
	for i, ch := range a.channels {
		v, err := a.in.ReadAnalog(ch)
		if err != nil {
			return nil, fmt.Errorf("read line sensor %d: %w", i, err)
		}
		raw[i] = v
	}
	return raw, nil
}

// Read samples and classifies the array.
func (a *LineArray) Read() (Reading, error) {
	raw, err := a.ReadRaw()
	if err != nil {
		return Reading{}, err
	}
	on := a.Detect(raw)
	return Reading{Raw: raw, OnLine: on, Position: classify(on)}, nil
}

// Calibrate spins the robot in place for d, tracking each sensor's range, and
// installs the resulting profile.
func (a *LineArray) Calibrate(base Spinner, clock hal.Clock, d time.Duration, speed int) (robot.CalibrationProfile, error) {
	rec := robot.NewCalibrationRecorder(len(a.channels))
	if err := base.SpinRight(speed); err != nil {
		return nil, fmt.Errorf("start calibration spin: %w", err)
	}
	start := clock.Now()
	for clock.Now().Sub(start) < d {
		raw, err := a.ReadRaw()
		if err != nil {
			base.Stop()
			return nil, err
		}
		rec.Observe(raw)
		clock.Sleep(time.Millisecond)
	}
	if err := base.Stop(); err != nil {
		return nil, fmt.Errorf("stop calibration spin: %w", err)
	}
	a.profile = rec.Profile()
	return a.profile, nil
}

// Detect applies the thresholds. A degenerate sensor is never on the line.
func (a *LineArray) Detect(raw []int) []bool {
	return lo.Map(raw, func(v int, i int) bool {
		return i < len(a.profile) && a.profile[i].OnLine(v)
	})
}

// Activations normalizes each reading to [0, 1] across its calibrated range.
func (a *LineArray) Activations(raw []int) []float64 {
	return lo.Map(raw, func(v int, i int) float64 {
		if i >= len(a.profile) {
			return 0
		}
		return a.profile[i].Normalize(v)
	})
}

// Classify maps one reading to a line position.
func (a *LineArray) Classify(raw []int) robot.LinePosition {
	return classify(a.Detect(raw))
}

// classify decides the line position from per-sensor detections. All sensors
// on is a junction. A branch is an outer sensor together with the center.
func classify(on []bool) robot.LinePosition {
	n := len(on)
	count := lo.Count(on, true)
	switch {
	case n == 0 || count == 0:
		return robot.NoLine
	case count == n:
		return robot.TJunction
	}

	outer := max(1, n/4)
	left := lo.Contains(on[:outer], true)
	right := lo.Contains(on[n-outer:], true)
	center := false
	mid := float64(n-1) / 2
	for i, v := range on {
		if v && math.Abs(float64(i)-mid) < 1 {
			center = true
		}
	}

	switch {
	case left && center && !right:
		return robot.LeftLine
	case right && center && !left:
		return robot.RightLine
	default:
		return robot.CenterLine
	}
}
