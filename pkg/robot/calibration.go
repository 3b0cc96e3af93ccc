package robot

import (
	"fmt"

	"github.com/samber/lo"
)

// SensorCalibration holds the observed range of one line sensor.
type SensorCalibration struct {
	Min       int     `json:"min"`
	Max       int     `json:"max"`
	Threshold float64 `json:"threshold"`
}

// CalibrationProfile holds one entry per line sensor, in array order.
type CalibrationProfile []SensorCalibration

// Degenerate reports whether the sensor never saw any contrast. A degenerate
// sensor never reports the line.
func (c SensorCalibration) Degenerate() bool {
	return c.Max <= c.Min
}

// OnLine reports whether raw is above the sensor's threshold.
func (c SensorCalibration) OnLine(raw int) bool {
	return !c.Degenerate() && float64(raw) > c.Threshold
}

// Normalize maps a raw reading to [0, 1] across the observed range.
func (c SensorCalibration) Normalize(raw int) float64 {
	if c.Degenerate() {
		return 0
	}
	v := float64(raw-c.Min) / float64(c.Max-c.Min)
	return lo.Clamp(v, 0, 1)
}

// FixedProfile builds a profile from hand-tuned thresholds over the full
// analog range.
func FixedProfile(thresholds []int) CalibrationProfile {
	p := make(CalibrationProfile, len(thresholds))
	for i, t := range thresholds {
		p[i] = SensorCalibration{Min: 0, Max: 1023, Threshold: float64(t)}
	}
	return p
}

// UniformProfile builds a fixed profile with the same threshold on n sensors.
func UniformProfile(n, threshold int) CalibrationProfile {
	return FixedProfile(lo.Times(n, func(int) int { return threshold }))
}

// CalibrationRecorder tracks running min and max values while the array is
// swept over line and background.
type CalibrationRecorder struct {
	min, max []int
	samples  int
}

// NewCalibrationRecorder creates a recorder for n sensors.
func NewCalibrationRecorder(n int) *CalibrationRecorder {
	r := &CalibrationRecorder{min: make([]int, n), max: make([]int, n)}
	for i := range r.min {
		r.min[i] = 1023
		r.max[i] = 0
	}
	return r
}

// Observe folds one reading of every sensor into the running range.
func (r *CalibrationRecorder) Observe(raw []int) error {
	if len(raw) != len(r.min) {
		return fmt.Errorf("observe: got %d readings, want %d", len(raw), len(r.min))
	}
	for i, v := range raw {
		r.min[i] = min(r.min[i], v)
		r.max[i] = max(r.max[i], v)
	}
	r.samples++
	return nil
}

// Samples returns the number of readings observed.
func (r *CalibrationRecorder) Samples() int {
	return r.samples
}

// Min returns the running minimum of sensor i.
func (r *CalibrationRecorder) Min(i int) int { return r.min[i] }

// Max returns the running maximum of sensor i.
func (r *CalibrationRecorder) Max(i int) int { return r.max[i] }

// Profile derives thresholds at the midpoint of each sensor's range.
func (r *CalibrationRecorder) Profile() CalibrationProfile {
	p := make(CalibrationProfile, len(r.min))
	for i := range p {
		low, high := r.min[i], r.max[i]
		if r.samples == 0 {
			low, high = 0, 0
		}
		p[i] = SensorCalibration{
			Min:       low,
			Max:       high,
			Threshold: float64(low+high) / 2,
		}
	}
	return p
}

// Thresholds returns the thresholds rounded to integers, as stored in the
// config file.
func (p CalibrationProfile) Thresholds() []int {
	return lo.Map(p, func(c SensorCalibration, _ int) int { return int(c.Threshold + 0.5) })
}
