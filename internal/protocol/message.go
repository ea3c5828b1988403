package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyLine is returned when a blank line is parsed.
var ErrEmptyLine = errors.New("empty line")

// Message is a decoded server-to-client line.
type Message struct {
	// Kind is the first word: TELEMETRY, EVENT, ACK, PONG or NACK.
	Kind string
	// Event is the event name for EVENT lines.
	Event string
	// Reason is the NACK reason.
	Reason string
	// Fields holds every key=value pair on the line.
	Fields map[string]string
	Raw    string
}

// Telemetry is the typed view of a TELEMETRY line.
type Telemetry struct {
	Timestamp int64
	Speed     int
	Battery   int
	Station   int
	Direction string
}

// ParseServerLine splits a server line into its kind and key=value fields.
func ParseServerLine(line string) (Message, error) {
	line = strings.TrimSpace(TrimLine(line))
	if line == "" {
		return Message{}, ErrEmptyLine
	}
	parts := strings.Fields(line)
	msg := Message{Kind: parts[0], Fields: make(map[string]string), Raw: line}
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(p, "=")
		if ok {
			msg.Fields[key] = value
			continue
		}
		switch msg.Kind {
		case KindEvent:
			if msg.Event == "" {
				msg.Event = p
			}
		case "NACK":
			if msg.Reason == "" {
				msg.Reason = p
			}
		}
	}
	return msg, nil
}

// Telemetry decodes the fields of a TELEMETRY message.
func (m Message) Telemetry() (Telemetry, error) {
	if m.Kind != KindTelemetry {
		return Telemetry{}, fmt.Errorf("not a telemetry line: %q", m.Raw)
	}
	var t Telemetry
	var err error
	if t.Timestamp, err = strconv.ParseInt(m.Fields["ts"], 10, 64); err != nil {
		return Telemetry{}, fmt.Errorf("parse ts: %w", err)
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"speed", &t.Speed},
		{"battery", &t.Battery},
		{"station", &t.Station},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(m.Fields[f.key])
		if err != nil {
			return Telemetry{}, fmt.Errorf("parse %s: %w", f.key, err)
		}
		*f.dst = v
	}
	t.Direction = m.Fields["direction"]
	return t, nil
}
