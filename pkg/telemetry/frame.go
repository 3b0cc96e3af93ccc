// Package telemetry encodes the robot's radio frames and commands and moves
// them over a serial link.
package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/relaybot/relaybot/pkg/robot"
)

// ErrMalformed is wrapped by every parse error.
var ErrMalformed = errors.New("malformed telemetry")

const (
	fieldSep = "|"
	noDist   = "--"
	flagSet  = "CPGDE"
)

// Frame is one status report:
//
//	R2|12s|FOLLOW|CENTER|SPD:180|L:40,R:41|D:25cm|CPGde
type Frame struct {
	ID       string               `json:"id"`
	Elapsed  time.Duration        `json:"elapsed"`
	State    robot.State          `json:"state"`
	Line     robot.LinePosition   `json:"line"`
	Speed    int                  `json:"speed"`
	Left     int64                `json:"left_ticks"`
	Right    int64                `json:"right_ticks"`
	Distance robot.DistanceSample `json:"distance"`
	Flags    robot.Flags          `json:"flags"`
}

// FrameFrom snapshots a run context.
func FrameFrom(id string, c robot.Context, now time.Time) Frame {
	return Frame{
		ID:       id,
		Elapsed:  c.Elapsed(now),
		State:    c.State,
		Line:     c.Line,
		Speed:    c.BaseSpeed,
		Left:     c.LeftTicks,
		Right:    c.RightTicks,
		Distance: c.Distance,
		Flags:    c.Flags,
	}
}

// String encodes the frame without a line terminator.
func (f Frame) String() string {
	dist := noDist
	if f.Distance.Valid {
		dist = fmt.Sprintf("%dcm", f.Distance.Cm)
	}
	return strings.Join([]string{
		f.ID,
		fmt.Sprintf("%ds", int64(f.Elapsed/time.Second)),
		f.State.Short(),
		f.Line.Short(),
		fmt.Sprintf("SPD:%d", f.Speed),
		fmt.Sprintf("L:%d,R:%d", f.Left, f.Right),
		"D:" + dist,
		encodeFlags(f.Flags),
	}, fieldSep)
}

func encodeFlags(fl robot.Flags) string {
	set := []bool{fl.Calibrated, fl.ConePickedUp, fl.GameStarted, fl.ConeDroppedOff, fl.GameEnded}
	var b strings.Builder
	for i, on := range set {
		c := flagSet[i]
		if !on {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

func decodeFlags(s string) (robot.Flags, error) {
	if len(s) != len(flagSet) {
		return robot.Flags{}, fmt.Errorf("flags %q: %w", s, ErrMalformed)
	}
	set := make([]bool, len(flagSet))
	for i := range flagSet {
		switch s[i] {
		case flagSet[i]:
			set[i] = true
		case flagSet[i] + ('a' - 'A'):
		default:
			return robot.Flags{}, fmt.Errorf("flag %q: %w", s[i], ErrMalformed)
		}
	}
	return robot.Flags{
		Calibrated:     set[0],
		ConePickedUp:   set[1],
		GameStarted:    set[2],
		ConeDroppedOff: set[3],
		GameEnded:      set[4],
	}, nil
}

// ParseFrame decodes one frame line. Surrounding whitespace is ignored.
func ParseFrame(line string) (Frame, error) {
	parts := strings.Split(strings.TrimSpace(line), fieldSep)
	if len(parts) != 8 {
		return Frame{}, fmt.Errorf("%d fields: %w", len(parts), ErrMalformed)
	}
	f := Frame{ID: parts[0]}
	if f.ID == "" {
		return Frame{}, fmt.Errorf("empty robot id: %w", ErrMalformed)
	}

	secs, err := strconv.ParseInt(strings.TrimSuffix(parts[1], "s"), 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("time %q: %w", parts[1], ErrMalformed)
	}
	f.Elapsed = time.Duration(secs) * time.Second

	if f.State, err = robot.ParseState(parts[2]); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Line, err = robot.ParseLinePosition(parts[3]); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	spd, ok := strings.CutPrefix(parts[4], "SPD:")
	if !ok {
		return Frame{}, fmt.Errorf("speed %q: %w", parts[4], ErrMalformed)
	}
	if f.Speed, err = strconv.Atoi(spd); err != nil {
		return Frame{}, fmt.Errorf("speed %q: %w", parts[4], ErrMalformed)
	}

	if _, err := fmt.Sscanf(parts[5], "L:%d,R:%d", &f.Left, &f.Right); err != nil {
		return Frame{}, fmt.Errorf("ticks %q: %w", parts[5], ErrMalformed)
	}

	dist, ok := strings.CutPrefix(parts[6], "D:")
	if !ok {
		return Frame{}, fmt.Errorf("distance %q: %w", parts[6], ErrMalformed)
	}
	if dist == noDist {
		f.Distance = robot.NoEcho()
	} else {
		cm, err := strconv.Atoi(strings.TrimSuffix(dist, "cm"))
		if err != nil {
			return Frame{}, fmt.Errorf("distance %q: %w", parts[6], ErrMalformed)
		}
		f.Distance = robot.DistanceSample{Cm: cm, Valid: true}
	}

	if f.Flags, err = decodeFlags(parts[7]); err != nil {
		return Frame{}, err
	}
	return f, nil
}
