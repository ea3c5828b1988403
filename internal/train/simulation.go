package train

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/Svillamizar05/metro/internal/protocol"
)

// Timing of the simulated line. Durations are in simulated time.
const (
	StationSpacingKm         = 1.0
	DefaultDwell             = 20 * time.Second
	DefaultTelemetryInterval = 10 * time.Second
	DefaultTickInterval      = 50 * time.Millisecond
)

// Broadcaster receives every line the simulation produces.
type Broadcaster interface {
	Broadcast(line string) int
}

// Clock supplies the current time. time.Now carries a monotonic reading, so
// intervals measured with it are immune to wall-clock jumps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options tunes a Simulation. Zero values select the defaults.
type Options struct {
	// TimeScale multiplies real elapsed time into simulated time.
	TimeScale         float64
	TickInterval      time.Duration
	Dwell             time.Duration
	TelemetryInterval time.Duration
	Clock             Clock
}

// Simulation advances the train over time. Station dwells and telemetry are
// tracked as deadlines on a simulated clock, so no step ever sleeps through an
// event. A Simulation is driven by a single goroutine.
type Simulation struct {
	state *State
	out   Broadcaster
	clock Clock

	scale          float64
	tick           time.Duration
	dwell          time.Duration
	telemetryEvery time.Duration

	started       bool
	last          time.Time
	simNow        time.Duration
	nextTelemetry time.Duration
	stopUntil     time.Duration // zero when not stopped
	distance      float64

	dwelling atomic.Bool
}

// NewSimulation builds a simulation over state that reports through out.
func NewSimulation(state *State, out Broadcaster, opts Options) *Simulation {
	s := &Simulation{
		state:          state,
		out:            out,
		clock:          opts.Clock,
		scale:          opts.TimeScale,
		tick:           opts.TickInterval,
		dwell:          opts.Dwell,
		telemetryEvery: opts.TelemetryInterval,
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.scale <= 0 {
		s.scale = 1
	}
	if s.tick <= 0 {
		s.tick = DefaultTickInterval
	}
	if s.dwell <= 0 {
		s.dwell = DefaultDwell
	}
	if s.telemetryEvery <= 0 {
		s.telemetryEvery = DefaultTelemetryInterval
	}
	return s
}

// Dwelling reports whether the train is stopped at a station.
func (s *Simulation) Dwelling() bool {
	return s.dwelling.Load()
}

// Run steps the simulation every tick until ctx is done.
func (s *Simulation) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Step(s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step(s.clock.Now())
		}
	}
}

// Step advances the simulation to now and broadcasts whatever events and
// telemetry fall due. All state changes of one step happen under a single
// lock acquisition; broadcasting happens after the lock is released.
func (s *Simulation) Step(now time.Time) {
	if !s.started {
		s.started = true
		s.last = now
	}
	elapsed := now.Sub(s.last)
	if elapsed < 0 {
		elapsed = 0
	}
	s.last = now
	simElapsed := time.Duration(float64(elapsed) * s.scale)
	s.simNow += simElapsed

	var lines []string
	s.state.update(func(v *Snapshot) {
		if s.stopUntil == 0 {
			s.distance += float64(v.Speed) * simElapsed.Hours()
			if s.distance >= StationSpacingKm {
				// One arrival per step; anything past the next station is dropped.
				s.distance = math.Mod(s.distance-StationSpacingKm, StationSpacingKm)
				lines = append(lines, protocol.StationArrivalLine(v.Station))
				s.stopUntil = s.simNow + s.dwell
			}
		}

		if s.stopUntil != 0 && s.simNow >= s.stopUntil {
			s.stopUntil = 0
			v.Station++
			if v.Station > 0 && v.Station%TurnaroundEach == 0 {
				v.Direction = v.Direction.Reverse()
				lines = append(lines, protocol.TurnaroundLine())
			}
		}

		if s.simNow >= s.nextTelemetry {
			// One report per step; intervals missed during a stall are skipped.
			for s.nextTelemetry <= s.simNow {
				s.nextTelemetry += s.telemetryEvery
			}
			if v.Speed > 0 && s.stopUntil == 0 {
				v.Battery--
			}
			if v.Battery < LowBattery {
				v.Battery = FullBattery
			}
			lines = append(lines, protocol.TelemetryLine(now.Unix(), v.Speed, v.Battery, v.Station, v.Direction.String()))
		}
	})
	s.dwelling.Store(s.stopUntil != 0)

	for _, line := range lines {
		s.out.Broadcast(line)
	}
}
