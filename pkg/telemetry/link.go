package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/relaybot/relaybot/pkg/hal"
)

// ErrLineBusy is returned when another writer holds the shared line.
var ErrLineBusy = errors.New("shared line busy")

// DefaultIdle is how long Run waits after a read that returned nothing.
const DefaultIdle = 10 * time.Millisecond

// Open opens a serial port. It is a variable so tests can replace it.
var Open = func(port string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	return p, nil
}

// Link exchanges newline-terminated text lines over a byte stream such as an
// HC-12 radio on a serial port.
type Link struct {
	rw     io.ReadWriter
	maxLen int
	guard  *hal.SharedLine
	idle   time.Duration
	log    *zap.SugaredLogger

	mu sync.Mutex
}

// NewLink wraps rw. Incoming lines longer than maxLen are truncated; maxLen <= 0
// disables the limit. guard, if set, is held while writing. log may be nil.
func NewLink(rw io.ReadWriter, maxLen int, guard *hal.SharedLine, log *zap.SugaredLogger) *Link {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Link{rw: rw, maxLen: maxLen, guard: guard, idle: DefaultIdle, log: log}
}

// SetIdle sets the pause after an empty read. Non-blocking streams such as a
// microcontroller UART return no bytes and no error while their buffer is
// empty. Call it before Run.
func (l *Link) SetIdle(d time.Duration) {
	l.idle = d
}

// WriteLine sends s followed by a newline.
func (l *Link) WriteLine(s string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.guard != nil {
		if !l.guard.TryAcquire() {
			return ErrLineBusy
		}
		defer l.guard.Release()
	}
	if _, err := io.WriteString(l.rw, s+"\n"); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

// Run reads until ctx is done or the stream fails, calling handle for each
// complete line. Closing the underlying stream unblocks a pending read.
func (l *Link) Run(ctx context.Context, handle func(line string)) error {
	lb := &lineBuffer{maxLen: l.maxLen}
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := l.rw.Read(buf)
		for _, line := range lb.feed(buf[:n]) {
			handle(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read line: %w", err)
		}
		if n == 0 {
			if err := l.wait(ctx); err != nil {
				return err
			}
		}
	}
}

func (l *Link) wait(ctx context.Context) error {
	d := l.idle
	if d <= 0 {
		d = DefaultIdle
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close closes the stream when it is closable.
func (l *Link) Close() error {
	if c, ok := l.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Radio is the robot's end of the link: it filters commands addressed to its
// ID and sends frames and messages.
type Radio struct {
	*Link
	id   string
	cmds chan Command
}

// NewRadio creates a radio for robot id.
func NewRadio(rw io.ReadWriter, id string, guard *hal.SharedLine, log *zap.SugaredLogger) *Radio {
	return &Radio{
		Link: NewLink(rw, MaxCommandLen, guard, log),
		id:   id,
		cmds: make(chan Command, 8),
	}
}

// Commands delivers commands addressed to this robot.
func (r *Radio) Commands() <-chan Command {
	return r.cmds
}

// Run reads commands until ctx is done.
func (r *Radio) Run(ctx context.Context) error {
	return r.Link.Run(ctx, r.handle)
}

func (r *Radio) handle(line string) {
	c, err := ParseCommand(line)
	if err != nil {
		r.log.Debugw("ignored line", "line", line, "error", err)
		return
	}
	if c.Target != r.id {
		return
	}
	select {
	case r.cmds <- c:
	default:
		r.log.Warnw("command dropped", "command", c.String())
	}
}

// Send transmits one frame.
func (r *Radio) Send(f Frame) error {
	return r.WriteLine(f.String())
}

// Message transmits a free-form line prefixed with the robot ID.
func (r *Radio) Message(msg string) error {
	return r.WriteLine(r.id + " " + msg)
}
