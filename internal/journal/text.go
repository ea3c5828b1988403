package journal

import (
	"fmt"
	"io"
	"sync"
)

const textTimeLayout = "2006-01-02 15:04:05"

// TextSink writes entries as human readable lines:
//
//	[2024-03-01 08:00:00] RX 10.0.0.7:51544 :: CMD SPEED_UP
//	[2024-03-01 08:00:10] TX :: TELEMETRY ts=... speed=35 ...
type TextSink struct {
	mu      sync.Mutex
	writers []io.Writer
}

// NewTextSink returns a sink that copies every line to each writer.
func NewTextSink(writers ...io.Writer) *TextSink {
	return &TextSink{writers: writers}
}

// Record writes e to every writer. Write errors are ignored: the journal is
// an audit copy and must never take a session down.
func (s *TextSink) Record(e Entry) {
	line := FormatText(e) + "\n"
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.writers {
		_, _ = io.WriteString(w, line)
	}
}

// FormatText renders e without a trailing newline.
func FormatText(e Entry) string {
	ts := e.Time.Format(textTimeLayout)
	if e.Peer == "" || e.Peer == BroadcastPeer {
		return fmt.Sprintf("[%s] %s :: %s", ts, e.Direction, e.Line)
	}
	return fmt.Sprintf("[%s] %s %s :: %s", ts, e.Direction, e.Peer, e.Line)
}
