package registry

import (
	"context"
	"log"

	"github.com/Svillamizar05/metro/internal/journal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Broadcaster delivers server lines to every registered peer. Delivery is
// best effort: a line a peer cannot take right now is logged and dropped,
// never retried, and never reported to the caller. A peer that stops reading
// is closed by its own writer, and its read loop unregisters it.
type Broadcaster struct {
	reg     *Registry
	journal journal.Hook
	tracer  trace.Tracer
}

// NewBroadcaster returns a broadcaster over reg. hook may be nil.
func NewBroadcaster(reg *Registry, hook journal.Hook) *Broadcaster {
	return &Broadcaster{
		reg:     reg,
		journal: hook,
		tracer:  otel.Tracer("github.com/Svillamizar05/metro/internal/registry"),
	}
}

// Broadcast hands line to every peer and returns how many accepted it.
func (b *Broadcaster) Broadcast(line string) int {
	_, span := b.tracer.Start(context.Background(), "metro.broadcast")
	defer span.End()

	b.journal.Emit(journal.Entry{
		Direction: journal.Outbound,
		Peer:      journal.BroadcastPeer,
		Line:      line,
	})

	delivered, failed := 0, 0
	b.reg.ForEach(func(p Peer) {
		if err := p.Send(line); err != nil {
			failed++
			log.Printf("broadcast to %s: %v", p.RemoteAddr(), err)
			return
		}
		delivered++
	})
	span.SetAttributes(
		attribute.Int("metro.delivered", delivered),
		attribute.Int("metro.failed", failed),
	)
	return delivered
}
