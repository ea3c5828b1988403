// Package protocol implements the newline-terminated ASCII protocol spoken
// between the metro server and its observers.
//
//	Client -> Server:  CMD SPEED_UP | CMD SLOW_DOWN | CMD STOPNOW | CMD STARTNOW | PING
//	Server -> Client:  ACK | PONG | NACK <reason>
//	                   TELEMETRY ts=<int> speed=<int> battery=<int> station=<int> direction=<OUTBOUND|INBOUND>
//	                   EVENT STATION_ARRIVAL id=<int>
//	                   EVENT TURNAROUND
package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Command prefixes accepted from clients. Matching is case-sensitive and by prefix.
const (
	PrefixSpeedUp  = "CMD SPEED_UP"
	PrefixSlowDown = "CMD SLOW_DOWN"
	PrefixStopNow  = "CMD STOPNOW"
	PrefixStartNow = "CMD STARTNOW"
	PrefixPing     = "PING"
)

// Replies sent to the issuing client.
const (
	ReplyAck            = "ACK"
	ReplyPong           = "PONG"
	ReplyUnknownCommand = "NACK unknown_command"
	ReplyServerFull     = "NACK server_full"
)

// Server message kinds.
const (
	KindTelemetry = "TELEMETRY"
	KindEvent     = "EVENT"

	EventStationArrival = "STATION_ARRIVAL"
	EventTurnaround     = "TURNAROUND"
)

// MaxLineLength bounds a single inbound line, terminator included.
const MaxLineLength = 2048

// Command identifies a parsed client request.
type Command int

const (
	CommandUnknown Command = iota
	CommandSpeedUp
	CommandSlowDown
	CommandStopNow
	CommandStartNow
	CommandPing
)

var commandNames = map[Command]string{
	CommandUnknown:  "unknown",
	CommandSpeedUp:  "speed_up",
	CommandSlowDown: "slow_down",
	CommandStopNow:  "stop_now",
	CommandStartNow: "start_now",
	CommandPing:     "ping",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// prefixes is evaluated in order; the first match wins.
var prefixes = []struct {
	prefix  string
	command Command
}{
	{PrefixSpeedUp, CommandSpeedUp},
	{PrefixSlowDown, CommandSlowDown},
	{PrefixStopNow, CommandStopNow},
	{PrefixStartNow, CommandStartNow},
	{PrefixPing, CommandPing},
}

// TrimLine cuts the line at its first CR or LF.
func TrimLine(line string) string {
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		return line[:i]
	}
	return line
}

// ParseCommand maps a raw inbound line to a Command.
func ParseCommand(line string) Command {
	line = TrimLine(line)
	for _, p := range prefixes {
		if strings.HasPrefix(line, p.prefix) {
			return p.command
		}
	}
	return CommandUnknown
}

// TelemetryLine formats a periodic status line.
func TelemetryLine(ts int64, speed, battery, station int, direction string) string {
	return fmt.Sprintf("%s ts=%d speed=%d battery=%d station=%d direction=%s",
		KindTelemetry, ts, speed, battery, station, direction)
}

// StationArrivalLine formats the arrival event for station id.
func StationArrivalLine(id int) string {
	return fmt.Sprintf("%s %s id=%d", KindEvent, EventStationArrival, id)
}

// TurnaroundLine formats the direction reversal event.
func TurnaroundLine() string {
	return KindEvent + " " + EventTurnaround
}

// WriteLine writes line followed by a single LF.
func WriteLine(w io.Writer, line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}

// NewScanner returns a line scanner bounded by MaxLineLength.
// A longer line makes Scan fail with bufio.ErrTooLong.
func NewScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 512), MaxLineLength)
	return s
}
