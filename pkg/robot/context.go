package robot

import "time"

// Flags are the race progress markers reported in telemetry.
type Flags struct {
	Calibrated     bool `json:"calibrated"`
	ConeInSquare   bool `json:"cone_in_square"`
	ConePickedUp   bool `json:"cone_picked_up"`
	GameStarted    bool `json:"game_started"`
	ConeDroppedOff bool `json:"cone_dropped_off"`
	GameEnded      bool `json:"game_ended"`
}

// Context is the state of one run. It is owned by the control loop and passed
// to each component explicitly; copies are safe to hand to other goroutines.
type Context struct {
	Started    time.Time
	State      State
	Line       LinePosition
	LeftTicks  int64
	RightTicks int64
	BaseSpeed  int
	Distance   DistanceSample
	Flags      Flags
}

// NewContext returns the boot state: following the line at base speed with
// the cone still in its square.
func NewContext(baseSpeed int, now time.Time) *Context {
	return &Context{
		Started:   now,
		State:     FollowLine,
		Line:      CenterLine,
		BaseSpeed: baseSpeed,
		Distance:  NoEcho(),
		Flags:     Flags{ConeInSquare: true},
	}
}

// Transition moves to s and reports whether the state changed.
func (c *Context) Transition(s State) bool {
	if c.State == s {
		return false
	}
	c.State = s
	return true
}

// Elapsed returns the run time at now.
func (c *Context) Elapsed(now time.Time) time.Duration {
	return now.Sub(c.Started)
}
