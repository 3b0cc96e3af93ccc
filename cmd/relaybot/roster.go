package main

import (
	"strings"
	"time"

	"github.com/relaybot/relaybot/pkg/telemetry"
)

const maxMessages = 6

// staleAfter marks a robot whose frames stopped arriving.
const staleAfter = 5 * time.Second

type entry struct {
	frame telemetry.Frame
	seen  time.Time
}

// roster tracks the robots heard on the radio, in the order they were first
// heard, and the free-form messages they sent.
type roster struct {
	ids      []string
	robots   map[string]*entry
	messages []string
}

func newRoster() *roster {
	return &roster{robots: make(map[string]*entry)}
}

// ingest records one received line. It returns the frame when the line was a
// status frame.
func (r *roster) ingest(line string, now time.Time) (telemetry.Frame, bool) {
	f, err := telemetry.ParseFrame(line)
	if err != nil {
		r.addMessage(now, line)
		return telemetry.Frame{}, false
	}
	e, ok := r.robots[f.ID]
	if !ok {
		e = &entry{}
		r.robots[f.ID] = e
		r.ids = append(r.ids, f.ID)
	}
	e.frame, e.seen = f, now
	return f, true
}

func (r *roster) addMessage(now time.Time, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	r.messages = append(r.messages, "["+now.Format("15:04:05")+"] "+line)
	if len(r.messages) > maxMessages {
		r.messages = r.messages[len(r.messages)-maxMessages:]
	}
}

// get returns the latest frame from id.
func (r *roster) get(id string) (telemetry.Frame, time.Time, bool) {
	e, ok := r.robots[id]
	if !ok {
		return telemetry.Frame{}, time.Time{}, false
	}
	return e.frame, e.seen, true
}

// next returns the robot after id, wrapping around. An unknown id selects the
// first robot.
func (r *roster) next(id string) string {
	if len(r.ids) == 0 {
		return id
	}
	for i, v := range r.ids {
		if v == id {
			return r.ids[(i+1)%len(r.ids)]
		}
	}
	return r.ids[0]
}

func (r *roster) stale(id string, now time.Time) bool {
	_, seen, ok := r.get(id)
	return !ok || now.Sub(seen) > staleAfter
}
