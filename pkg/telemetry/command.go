package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relaybot/relaybot/pkg/hal"
)

// MaxCommandLen is the longest command line the robot buffers; longer lines
// are truncated.
const MaxCommandLen = 31

// CommandKind is what a command asks for.
type CommandKind int

const (
	SetSpeed CommandKind = iota
	Stop
	Status
)

func (k CommandKind) String() string {
	switch k {
	case SetSpeed:
		return "SPD"
	case Stop:
		return "STOP"
	case Status:
		return "STATUS"
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Command is addressed to one robot: R2:SPD:200, R2:STOP or R2:STATUS.
type Command struct {
	Target string
	Kind   CommandKind
	Speed  int
}

func (c Command) String() string {
	if c.Kind == SetSpeed {
		return fmt.Sprintf("%s:%s:%d", c.Target, c.Kind, c.Speed)
	}
	return c.Target + ":" + c.Kind.String()
}

// ParseCommand decodes a command line. Speeds outside 0..255 are rejected.
func ParseCommand(line string) (Command, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) < 2 || parts[0] == "" {
		return Command{}, fmt.Errorf("command %q: %w", line, ErrMalformed)
	}
	c := Command{Target: parts[0]}
	switch {
	case parts[1] == "SPD" && len(parts) == 3:
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 0 || n > hal.MaxPwm {
			return Command{}, fmt.Errorf("speed %q: %w", parts[2], ErrMalformed)
		}
		c.Kind, c.Speed = SetSpeed, n
	case parts[1] == "STOP" && len(parts) == 2:
		c.Kind = Stop
	case parts[1] == "STATUS" && len(parts) == 2:
		c.Kind = Status
	default:
		return Command{}, fmt.Errorf("command %q: %w", line, ErrMalformed)
	}
	return c, nil
}

// Reply is the acknowledgement for c, sent with Radio.Message. STATUS is
// answered with a frame instead.
func Reply(c Command) string {
	switch c.Kind {
	case SetSpeed:
		return fmt.Sprintf("Speed set to %d", c.Speed)
	case Stop:
		return "Emergency Stop!"
	}
	return ""
}

// lineBuffer assembles newline-terminated lines from a byte stream, keeping at
// most maxLen bytes per line.
type lineBuffer struct {
	maxLen int
	buf    []byte
}

// feed appends b and returns every line it completed. Empty lines are
// dropped.
func (l *lineBuffer) feed(b []byte) []string {
	var lines []string
	for _, c := range b {
		switch c {
		case '\n', '\r':
			if len(l.buf) > 0 {
				lines = append(lines, string(l.buf))
				l.buf = l.buf[:0]
			}
		default:
			if l.maxLen <= 0 || len(l.buf) < l.maxLen {
				l.buf = append(l.buf, c)
			}
		}
	}
	return lines
}
