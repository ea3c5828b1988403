package app

import (
	"time"

	"github.com/Svillamizar05/metro/internal/journal"
	"github.com/Svillamizar05/metro/internal/registry"
	"github.com/Svillamizar05/metro/internal/train"
)

// state is the runtime shared by the acceptor, the sessions, the simulation
// and the status endpoints.
type state struct {
	train       *train.State
	registry    *registry.Registry
	broadcaster *registry.Broadcaster
	sim         *train.Simulation
	journal     journal.Hook
	// nil when no journal database is configured
	store   *journal.Store
	started time.Time
}

// status is the read-only view served over HTTP.
type status struct {
	train.Snapshot
	Dwelling      bool  `json:"dwelling"`
	Clients       int   `json:"clients"`
	MaxClients    int   `json:"max_clients"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func (s *state) status(now time.Time) status {
	return status{
		Snapshot:      s.train.Snapshot(),
		Dwelling:      s.sim.Dwelling(),
		Clients:       s.registry.Len(),
		MaxClients:    s.registry.Capacity(),
		UptimeSeconds: int64(now.Sub(s.started) / time.Second),
	}
}
