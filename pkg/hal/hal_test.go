package hal

import "testing"

func TestSharedLine(t *testing.T) {
	var l SharedLine

	if l.Busy() {
		t.Fatal("new line should be free")
	}
	if !l.TryAcquire() {
		t.Fatal("TryAcquire() on free line = false, want true")
	}
	if l.TryAcquire() {
		t.Error("TryAcquire() on held line = true, want false")
	}
	if !l.Busy() {
		t.Error("Busy() while held = false, want true")
	}

	l.Release()
	if l.Busy() {
		t.Error("Busy() after Release = true, want false")
	}
	if !l.TryAcquire() {
		t.Error("TryAcquire() after Release = false, want true")
	}
}

func TestWheelString(t *testing.T) {
	if Left.String() != "left" || Right.String() != "right" {
		t.Errorf("Wheel names = %s/%s, want left/right", Left, Right)
	}
}

type pins struct{}

func (pins) ReadDigital(int) (bool, error) { return false, nil }
func (pins) WriteDigital(int, bool) error { return nil }

type reportedPins struct{ pins }

func (reportedPins) TimesPulses() bool { return false }

func TestCanTimePulses(t *testing.T) {
	if !CanTimePulses(pins{}) {
		t.Error("direct pins cannot time pulses")
	}
	if CanTimePulses(reportedPins{}) {
		t.Error("reported pins claim to time pulses")
	}
}
