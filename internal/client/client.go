// Package client is the terminal observer and controller of a metro server.
// It keeps a connection open, prints every server line in readable form and
// sends whatever the user types.
package client

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Svillamizar05/metro/internal/protocol"
	"github.com/caarlos0/env/v11"
)

// DefaultReconnectDelay is the pause between a lost connection and the next dial.
const DefaultReconnectDelay = 1500 * time.Millisecond

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 2 * time.Second
)

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("not connected")

// Options configures a Client.
type Options struct {
	ReconnectDelay time.Duration
	// Out receives status and decoded server lines; nil discards them.
	Out io.Writer
}

// Client owns at most one connection at a time and redials when it drops.
type Client struct {
	addr  string
	delay time.Duration

	outMu sync.Mutex
	out   io.Writer

	mu   sync.Mutex
	conn net.Conn
}

// New returns a client for the server at addr. Nothing is dialed until Run.
func New(addr string, opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Client{addr: addr, delay: opts.ReconnectDelay, out: opts.Out}
}

// Run connects, reads until the connection drops, waits and reconnects,
// until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	var d net.Dialer
	for {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := d.DialContext(dialCtx, "tcp", c.addr)
		cancel()
		if err == nil {
			c.setConn(conn)
			c.printf("connected to %s", c.addr)
			err = c.readLoop(ctx, conn)
			c.setConn(nil)
			conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				c.printf("server closed the connection")
			} else {
				c.printf("connection lost: %v", err)
			}
		} else {
			if ctx.Err() != nil {
				return nil
			}
			c.printf("connect %s: %v", c.addr, err)
		}

		c.printf("reconnecting in %v", c.delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.delay):
		}
	}
}

// readLoop prints server lines until EOF (nil) or a read error.
func (c *Client) readLoop(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	scanner := protocol.NewScanner(conn)
	for scanner.Scan() {
		c.printf("%s", Describe(scanner.Text()))
	}
	return scanner.Err()
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one line on the current connection.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return protocol.WriteLine(c.conn, line)
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// shortcuts typed at the prompt, matched case-insensitively.
var shortcuts = map[string]string{
	"up":    protocol.PrefixSpeedUp,
	"down":  protocol.PrefixSlowDown,
	"stop":  protocol.PrefixStopNow,
	"start": protocol.PrefixStartNow,
	"ping":  protocol.PrefixPing,
}

// Expand turns a shortcut into its protocol command. Anything else is sent
// as typed, minus surrounding whitespace.
func Expand(input string) string {
	input = strings.TrimSpace(input)
	if cmd, ok := shortcuts[strings.ToLower(input)]; ok {
		return cmd
	}
	return input
}

// Describe renders a server line for the terminal. Lines it cannot decode
// are returned unchanged.
func Describe(line string) string {
	msg, err := protocol.ParseServerLine(line)
	if err != nil {
		return line
	}
	switch msg.Kind {
	case protocol.KindTelemetry:
		t, err := msg.Telemetry()
		if err != nil {
			return msg.Raw
		}
		return fmt.Sprintf("[%s] speed=%d km/h battery=%d%% station=%d %s",
			time.Unix(t.Timestamp, 0).Format("15:04:05"), t.Speed, t.Battery, t.Station, t.Direction)
	case protocol.KindEvent:
		switch msg.Event {
		case protocol.EventStationArrival:
			return "arrived at station " + msg.Fields["id"]
		case protocol.EventTurnaround:
			return "turnaround"
		}
	case "NACK":
		if msg.Reason != "" {
			return "rejected: " + msg.Reason
		}
	}
	return msg.Raw
}

// Config holds the client settings.
type Config struct {
	Addr           string        `env:"METRO_SERVER_ADDR" envDefault:"127.0.0.1:5000"`
	ReconnectDelay time.Duration `env:"METRO_RECONNECT_DELAY" envDefault:"1500ms"`
}

// ParseConfig reads the environment, then flags, then an optional
// "<host> <port>" pair of positional arguments.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "server address host:port")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect", cfg.ReconnectDelay, "delay before redialing a lost connection")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	switch rest := fs.Args(); len(rest) {
	case 0:
	case 2:
		cfg.Addr = net.JoinHostPort(rest[0], rest[1])
	default:
		return Config{}, fmt.Errorf("usage: metro-client [flags] [<host> <port>]")
	}
	if cfg.ReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("reconnect delay must be positive, got %v", cfg.ReconnectDelay)
	}
	return cfg, nil
}
