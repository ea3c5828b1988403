package protocol

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// Line round trip over net.Pipe.
func TestWriteLineScan(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() {
		if err := WriteLine(c1, "CMD SPEED_UP"); err != nil {
			t.Errorf("write: %v", err)
		}
	}()

	c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	s := NewScanner(c2)
	if !s.Scan() {
		t.Fatalf("scan: %v", s.Err())
	}
	if got := s.Text(); got != "CMD SPEED_UP" {
		t.Fatalf("mismatch: %q", got)
	}
}

func TestScannerRejectsOverlongLine(t *testing.T) {
	s := NewScanner(strings.NewReader(strings.Repeat("x", MaxLineLength+10) + "\n"))
	if s.Scan() {
		t.Fatal("expected scan to fail")
	}
	if !errors.Is(s.Err(), bufio.ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", s.Err())
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"CMD SPEED_UP", CommandSpeedUp},
		{"CMD SPEED_UP\r\n", CommandSpeedUp},
		{"CMD SPEED_UP now please", CommandSpeedUp},
		{"CMD SLOW_DOWN\n", CommandSlowDown},
		{"CMD STOPNOW", CommandStopNow},
		{"CMD STARTNOW", CommandStartNow},
		{"PING", CommandPing},
		{"PINGPONG", CommandPing},
		{"ping", CommandUnknown},
		{"cmd speed_up", CommandUnknown},
		{" CMD SPEED_UP", CommandUnknown},
		{"BOGUS", CommandUnknown},
		{"", CommandUnknown},
		{"\r\nCMD SPEED_UP", CommandUnknown},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.line); got != tt.want {
			t.Errorf("ParseCommand(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestServerLines(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"telemetry", TelemetryLine(1700000000, 30, 99, 2, "INBOUND"),
			"TELEMETRY ts=1700000000 speed=30 battery=99 station=2 direction=INBOUND"},
		{"arrival", StationArrivalLine(4), "EVENT STATION_ARRIVAL id=4"},
		{"turnaround", TurnaroundLine(), "EVENT TURNAROUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
