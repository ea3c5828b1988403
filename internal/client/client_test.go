package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExpand(t *testing.T) {
	tests := map[string]string{
		"up":             "CMD SPEED_UP",
		"  Down ":        "CMD SLOW_DOWN",
		"stop":           "CMD STOPNOW",
		"START":          "CMD STARTNOW",
		"ping":           "PING",
		"CMD SPEED_UP":   "CMD SPEED_UP",
		" hello world  ": "hello world",
		"upward":         "upward",
	}
	for in, want := range tests {
		if got := Expand(in); got != want {
			t.Errorf("Expand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"EVENT STATION_ARRIVAL id=3", "arrived at station 3"},
		{"EVENT TURNAROUND", "turnaround"},
		{"NACK unknown_command", "rejected: unknown_command"},
		{"ACK", "ACK"},
		{"PONG", "PONG"},
		{"TELEMETRY ts=oops", "TELEMETRY ts=oops"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Describe(tt.line); got != tt.want {
			t.Errorf("Describe(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}

	got := Describe("TELEMETRY ts=1700000000 speed=35 battery=97 station=2 direction=INBOUND")
	if !strings.HasSuffix(got, "speed=35 km/h battery=97% station=2 INBOUND") {
		t.Fatalf("telemetry rendered as %q", got)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New("127.0.0.1:1", Options{})
	if c.Connected() {
		t.Fatal("new client reports connected")
	}
	if err := c.Send("PING"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send error = %v, want ErrNotConnected", err)
	}
}

type scriptReader struct {
	lines []string
}

func (r *scriptReader) GetLine(string) (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func TestReplSendsExpandedLines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 8)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			received <- scanner.Text()
			conn.Write([]byte("ACK\n"))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	c := New(ln.Addr().String(), Options{Out: out, ReconnectDelay: 20 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitFor(t, "connection", c.Connected)

	in := &scriptReader{lines: []string{"up", "", "  ping ", ".quit", "never sent"}}
	if err := Repl(ctx, c, in, out); err != nil {
		t.Fatalf("Repl: %v", err)
	}
	for _, want := range []string{"CMD SPEED_UP", "PING"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("server received %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("server never received %q", want)
		}
	}
	if len(in.lines) != 1 {
		t.Fatalf("Repl kept reading after .quit: %v", in.lines)
	}
	waitFor(t, "two ACKs", func() bool { return strings.Count(out.String(), "ACK\n") == 2 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReconnectAfterServerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	c := New(ln.Addr().String(), Options{Out: out, ReconnectDelay: 20 * time.Millisecond})
	go c.Run(ctx)

	first := <-accepted
	first.Write([]byte("EVENT TURNAROUND\n"))
	waitFor(t, "first event", func() bool { return strings.Contains(out.String(), "turnaround") })
	first.Close()

	select {
	case second := <-accepted:
		defer second.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("client did not reconnect")
	}
	waitFor(t, "reconnected client", c.Connected)
	if got := out.String(); !strings.Contains(got, "server closed the connection") || !strings.Contains(got, "reconnecting in") {
		t.Fatalf("missing reconnect status in output:\n%s", got)
	}
}

func TestScannerEditor(t *testing.T) {
	var out bytes.Buffer
	le := newScannerEditor(strings.NewReader("up\nping\n"), &out)
	defer le.Close()
	if le.IsInteractive() {
		t.Fatal("scanner editor reports interactive")
	}
	for _, want := range []string{"up", "ping"} {
		got, err := le.GetLine(Prompt)
		if err != nil {
			t.Fatalf("GetLine: %v", err)
		}
		if got != want {
			t.Fatalf("GetLine = %q, want %q", got, want)
		}
	}
	if _, err := le.GetLine(Prompt); !errors.Is(err, io.EOF) {
		t.Fatalf("GetLine at end = %v, want io.EOF", err)
	}
	if got := strings.Count(out.String(), Prompt); got != 3 {
		t.Fatalf("prompt printed %d times, want 3", got)
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := ParseConfig(flag.NewFlagSet("test", flag.ContinueOnError), nil)
		if err != nil {
			t.Fatalf("ParseConfig: %v", err)
		}
		if cfg.Addr != "127.0.0.1:5000" || cfg.ReconnectDelay != DefaultReconnectDelay {
			t.Fatalf("defaults = %+v", cfg)
		}
	})
	t.Run("env then flags then positional", func(t *testing.T) {
		t.Setenv("METRO_SERVER_ADDR", "10.0.0.1:7000")
		t.Setenv("METRO_RECONNECT_DELAY", "3s")
		cfg, err := ParseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-reconnect", "250ms", "metro.local", "6000"})
		if err != nil {
			t.Fatalf("ParseConfig: %v", err)
		}
		if cfg.Addr != "metro.local:6000" {
			t.Fatalf("Addr = %q", cfg.Addr)
		}
		if cfg.ReconnectDelay != 250*time.Millisecond {
			t.Fatalf("ReconnectDelay = %v", cfg.ReconnectDelay)
		}
	})
	t.Run("rejects a lone positional", func(t *testing.T) {
		if _, err := ParseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{"metro.local"}); err == nil {
			t.Fatal("expected usage error")
		}
	})
}
