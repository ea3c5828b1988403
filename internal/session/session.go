// Package session runs the command interpreter of one client connection.
//
// A session has two states: connected, while it loops reading one command
// line per iteration, and closed, once a read fails or the peer hangs up.
// Any session may issue any command; there is no observer/controller split.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Svillamizar05/metro/internal/journal"
	"github.com/Svillamizar05/metro/internal/protocol"
	"github.com/Svillamizar05/metro/internal/train"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultWriteTimeout bounds a single write to the peer.
	DefaultWriteTimeout = 2 * time.Second
	// DefaultQueueSize is how many outbound lines may wait for the writer.
	DefaultQueueSize = 64
)

var (
	// ErrQueueFull is returned by Send when the peer is not keeping up and
	// the line was dropped.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrClosed is returned by Send once the session is closed.
	ErrClosed = errors.New("session closed")
)

// Options configures a Session.
type Options struct {
	WriteTimeout time.Duration
	QueueSize    int
	Journal      journal.Hook
}

// Session is one accepted connection. It owns conn; the registry only keeps
// a reference for broadcasting.
//
// Every line to the peer goes through a bounded queue drained by a single
// writer goroutine, started by Serve. A write that fails or times out closes
// the session, which ends the read loop.
type Session struct {
	id           string
	conn         net.Conn
	remote       string
	state        *train.State
	journal      journal.Hook
	writeTimeout time.Duration
	tracer       trace.Tracer

	out        chan string
	flush      chan struct{}
	writerDone chan struct{}
	done       chan struct{}

	closeOnce sync.Once
	closeErr  error

	errMu    sync.Mutex
	writeErr error
}

// New wraps conn in a session operating on state.
func New(conn net.Conn, state *train.State, opts Options) *Session {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Session{
		id:           uuid.NewString(),
		conn:         conn,
		remote:       conn.RemoteAddr().String(),
		state:        state,
		journal:      opts.Journal,
		writeTimeout: opts.WriteTimeout,
		tracer:       otel.Tracer("github.com/Svillamizar05/metro/internal/session"),
		out:          make(chan string, opts.QueueSize),
		flush:        make(chan struct{}),
		writerDone:   make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// ID returns the session's stable identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.remote }

// Send queues line for the writer and never blocks. It returns ErrQueueFull
// when the line is dropped and ErrClosed after Close.
func (s *Session) Send(line string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.out <- line:
		return nil
	default:
		return ErrQueueFull
	}
}

// Reject writes line directly and closes the session. It is for connections
// that are turned away before Serve.
func (s *Session) Reject(line string) error {
	err := s.write(line)
	s.Close()
	return err
}

// Close closes the connection and stops the writer. Safe to call more than
// once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) write(line string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return protocol.WriteLine(s.conn, line)
}

// writeLoop drains the queue until the session closes, or until flush is
// closed and the queue is empty. Lines still queued at close are discarded.
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case <-s.done:
			return
		case line := <-s.out:
			if !s.writeOrClose(line) {
				return
			}
		case <-s.flush:
			for {
				select {
				case line := <-s.out:
					if !s.writeOrClose(line) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) writeOrClose(line string) bool {
	if err := s.write(line); err != nil {
		s.errMu.Lock()
		s.writeErr = fmt.Errorf("write to %s: %w", s.remote, err)
		s.errMu.Unlock()
		s.Close()
		return false
	}
	return true
}

func (s *Session) writeError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.writeErr
}

// reply queues a command reply. Unlike Send it waits for room, so replies are
// never dropped; only a closed session stops it.
func (s *Session) reply(line string) error {
	select {
	case s.out <- line:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Serve reads and answers commands until the peer disconnects, a read or
// write fails, or ctx is done. A clean hang-up returns nil. Serve closes the
// connection before returning.
func (s *Session) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	defer s.Close()

	go s.writeLoop()

	scanner := protocol.NewScanner(s.conn)
	for scanner.Scan() {
		line := protocol.TrimLine(scanner.Text())
		s.journal.Emit(journal.Entry{
			Direction: journal.Inbound,
			Peer:      s.remote,
			SessionID: s.id,
			Line:      line,
		})

		reply := s.handle(ctx, line)
		if err := s.reply(reply); err != nil {
			break
		}
		s.journal.Emit(journal.Entry{
			Direction: journal.Outbound,
			Peer:      s.remote,
			SessionID: s.id,
			Line:      reply,
		})
	}
	if scanner.Err() == nil && ctx.Err() == nil {
		// Peer hung up: deliver replies still queued before closing.
		close(s.flush)
		<-s.writerDone
	}
	if err := s.writeError(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case <-s.done:
			return nil
		default:
		}
		return fmt.Errorf("read from %s: %w", s.remote, err)
	}
	return nil
}

func (s *Session) handle(ctx context.Context, line string) string {
	_, span := s.tracer.Start(ctx, "metro.command")
	defer span.End()

	reply, cmd := Dispatch(s.state, line)
	span.SetAttributes(
		attribute.String("metro.session_id", s.id),
		attribute.String("metro.command", cmd.String()),
		attribute.String("metro.reply", reply),
	)
	return reply
}

// Dispatch applies one command line to state and returns the reply.
func Dispatch(state *train.State, line string) (string, protocol.Command) {
	cmd := protocol.ParseCommand(line)
	switch cmd {
	case protocol.CommandSpeedUp:
		state.SpeedUp()
	case protocol.CommandSlowDown:
		state.SlowDown()
	case protocol.CommandStopNow:
		state.StopNow()
	case protocol.CommandStartNow:
		state.StartNow()
	case protocol.CommandPing:
		return protocol.ReplyPong, cmd
	default:
		return protocol.ReplyUnknownCommand, cmd
	}
	return protocol.ReplyAck, cmd
}
