// Package journal records a timestamped copy of every protocol line the
// server receives or sends. Sinks are plain hooks so the caller decides where
// the copy goes: stdout, an append-only file, the sqlite store, or several.
package journal

import (
	"time"
)

// Direction tells whether a line was received or sent.
type Direction string

const (
	Inbound  Direction = "RX"
	Outbound Direction = "TX"
)

// BroadcastPeer is the peer recorded for lines sent to every session.
const BroadcastPeer = "*"

// Entry is one journaled protocol line.
type Entry struct {
	Time      time.Time `json:"time"`
	Direction Direction `json:"direction"`
	Peer      string    `json:"peer"`
	SessionID string    `json:"session_id,omitempty"`
	Line      string    `json:"line"`
}

// Hook receives journal entries. A nil Hook discards them.
type Hook func(Entry)

// Emit stamps e with the current time when unset and hands it to h.
func (h Hook) Emit(e Entry) {
	if h == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h(e)
}

// Multi fans an entry out to every non-nil hook, in order.
func Multi(hooks ...Hook) Hook {
	var live []Hook
	for _, h := range hooks {
		if h != nil {
			live = append(live, h)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(e Entry) {
		for _, h := range live {
			h(e)
		}
	}
}
