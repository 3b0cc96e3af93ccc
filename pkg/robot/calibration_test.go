package robot

import (
	"math"
	"testing"
)

func TestSensorCalibration_Normalize(t *testing.T) {
	cal := SensorCalibration{Min: 200, Max: 1000, Threshold: 600}

	tests := []struct {
		raw      int
		expected float64
	}{
		{200, 0.0},  // min -> 0
		{1000, 1.0}, // max -> 1
		{600, 0.5},  // mid
		{400, 0.25}, // quarter
		{100, 0.0},  // below range clamps
		{1023, 1.0}, // above range clamps
	}

	for _, tt := range tests {
		got := cal.Normalize(tt.raw)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("Normalize(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestCalibrationRecorder_Profile(t *testing.T) {
	r := NewCalibrationRecorder(3)
	readings := [][]int{
		{300, 500, 700},
		{900, 510, 100},
		{600, 505, 400},
	}
	for _, raw := range readings {
		if err := r.Observe(raw); err != nil {
			t.Fatalf("Observe(%v): %v", raw, err)
		}
	}

	p := r.Profile()
	want := CalibrationProfile{
		{Min: 300, Max: 900, Threshold: 600},
		{Min: 500, Max: 510, Threshold: 505},
		{Min: 100, Max: 700, Threshold: 400},
	}
	for i := range want {
		if p[i] != want[i] {
			t.Errorf("Profile()[%d] = %+v, want %+v", i, p[i], want[i])
		}
	}
}

func TestCalibrationRecorder_ThresholdStrictlyInside(t *testing.T) {
	ranges := [][2]int{{0, 1}, {10, 11}, {700, 950}, {0, 1023}, {511, 512}}
	for _, rg := range ranges {
		r := NewCalibrationRecorder(1)
		r.Observe([]int{rg[0]})
		r.Observe([]int{rg[1]})
		c := r.Profile()[0]
		if !(c.Threshold > float64(c.Min) && c.Threshold < float64(c.Max)) {
			t.Errorf("range %v: threshold %f not strictly inside (%d, %d)", rg, c.Threshold, c.Min, c.Max)
		}
	}
}

func TestCalibration_DegenerateNeverTriggers(t *testing.T) {
	r := NewCalibrationRecorder(1)
	for i := 0; i < 5; i++ {
		r.Observe([]int{640})
	}
	c := r.Profile()[0]
	if !c.Degenerate() {
		t.Fatalf("Degenerate() = false for %+v", c)
	}
	for raw := 0; raw <= 1023; raw++ {
		if c.OnLine(raw) {
			t.Fatalf("OnLine(%d) = true for degenerate sensor", raw)
		}
	}
	if got := c.Normalize(1023); got != 0 {
		t.Errorf("Normalize(1023) = %f on degenerate sensor, want 0", got)
	}
}

func TestCalibrationRecorder_NoSamples(t *testing.T) {
	p := NewCalibrationRecorder(2).Profile()
	for i, c := range p {
		if !c.Degenerate() {
			t.Errorf("Profile()[%d] = %+v without samples, want degenerate", i, c)
		}
	}
}

func TestCalibrationRecorder_WrongLength(t *testing.T) {
	r := NewCalibrationRecorder(4)
	if err := r.Observe([]int{1, 2}); err == nil {
		t.Error("Observe with 2 readings on 4 sensors should fail")
	}
}

func TestFixedProfile(t *testing.T) {
	p := FixedProfile([]int{750, 760})
	if !p[0].OnLine(751) || p[0].OnLine(750) {
		t.Errorf("fixed threshold 750 misclassifies 750/751")
	}
	got := p.Thresholds()
	if got[0] != 750 || got[1] != 760 {
		t.Errorf("Thresholds() = %v, want [750 760]", got)
	}
	if u := UniformProfile(8, 750); len(u) != 8 || u[7].Threshold != 750 {
		t.Errorf("UniformProfile(8, 750) = %+v", u)
	}
}
