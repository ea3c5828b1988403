package train

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Svillamizar05/metro/internal/protocol"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Broadcast(line string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	return 1
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.lines
	r.lines = nil
	return out
}

func count(lines []string, prefix string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestSim() (*State, *recorder, *Simulation) {
	state := NewState()
	rec := &recorder{}
	sim := NewSimulation(state, rec, Options{})
	return state, rec, sim
}

func TestFirstStepEmitsTelemetry(t *testing.T) {
	_, rec, sim := newTestSim()
	sim.Step(t0)

	lines := rec.take()
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	want := protocol.TelemetryLine(t0.Unix(), 30, 99, 0, "OUTBOUND")
	if lines[0] != want {
		t.Fatalf("got %q, want %q", lines[0], want)
	}
}

func TestArrivalDwellDeparture(t *testing.T) {
	state, rec, sim := newTestSim()
	sim.Step(t0)
	rec.take()

	// 30 km/h covers the 1 km segment in 120s.
	sim.Step(t0.Add(121 * time.Second))
	lines := rec.take()
	if count(lines, "EVENT STATION_ARRIVAL id=0") != 1 {
		t.Fatalf("expected arrival at station 0, got %q", lines)
	}
	if !sim.Dwelling() {
		t.Fatal("expected train to be dwelling")
	}
	if sim.distance < 0 || sim.distance >= StationSpacingKm {
		t.Fatalf("distance %v out of range", sim.distance)
	}

	sim.Step(t0.Add(131 * time.Second))
	if got := state.Snapshot().Station; got != 0 {
		t.Fatalf("station advanced during dwell: %d", got)
	}

	sim.Step(t0.Add(141 * time.Second))
	if got := state.Snapshot().Station; got != 1 {
		t.Fatalf("station = %d, want 1 after dwell", got)
	}
	if sim.Dwelling() {
		t.Fatal("expected dwell to be over")
	}
	if count(rec.take(), "EVENT TURNAROUND") != 0 {
		t.Fatal("unexpected turnaround at station 1")
	}
}

func TestTurnaroundEveryFifthStation(t *testing.T) {
	state, rec, sim := newTestSim()
	now := t0
	sim.Step(now)
	rec.take()

	for station := 1; station <= 10; station++ {
		now = now.Add(121 * time.Second)
		sim.Step(now)
		now = now.Add(DefaultDwell)
		sim.Step(now)

		snap := state.Snapshot()
		if snap.Station != station {
			t.Fatalf("station = %d, want %d", snap.Station, station)
		}
		turned := count(rec.take(), "EVENT TURNAROUND")
		wantTurn := station%5 == 0
		if (turned == 1) != wantTurn || turned > 1 {
			t.Fatalf("station %d: turnaround events = %d", station, turned)
		}
		wantDir := Outbound
		if station >= 5 && station < 10 {
			wantDir = Inbound
		}
		if snap.Direction != wantDir {
			t.Fatalf("station %d: direction = %v, want %v", station, snap.Direction, wantDir)
		}
	}
}

func TestTelemetryContinuesDuringDwell(t *testing.T) {
	state, rec, sim := newTestSim()
	now := t0
	sim.Step(now)

	arrivedAt := -1
	var afterArrival []string
	for i := 1; i <= 200; i++ {
		now = now.Add(time.Second)
		sim.Step(now)
		lines := rec.take()
		if arrivedAt < 0 {
			if count(lines, "EVENT STATION_ARRIVAL") > 0 {
				arrivedAt = i
			}
			continue
		}
		afterArrival = append(afterArrival, lines...)
		if i == arrivedAt+int(DefaultDwell/time.Second) {
			break
		}
	}
	if arrivedAt < 0 {
		t.Fatal("train never arrived")
	}
	if got := count(afterArrival, "TELEMETRY"); got != 2 {
		t.Fatalf("telemetry lines during 20s dwell = %d, want 2: %q", got, afterArrival)
	}
	if state.Snapshot().Station != 1 {
		t.Fatalf("station = %d, want 1", state.Snapshot().Station)
	}
}

func TestBatteryHeldWhileStopped(t *testing.T) {
	state, rec, sim := newTestSim()
	sim.Step(t0)
	state.StopNow()
	sim.Step(t0.Add(10 * time.Second))
	lines := rec.take()
	if lines[len(lines)-1] != protocol.TelemetryLine(t0.Add(10*time.Second).Unix(), 0, 99, 0, "OUTBOUND") {
		t.Fatalf("battery drained at rest: %q", lines)
	}
}

func TestBatteryRechargesBelowThreshold(t *testing.T) {
	state, _, sim := newTestSim()
	state.update(func(v *Snapshot) { v.Battery = LowBattery })
	sim.Step(t0)
	if got := state.Snapshot().Battery; got != FullBattery {
		t.Fatalf("battery = %d, want recharge to %d", got, FullBattery)
	}
}

func TestClockAnomaliesAndLongStalls(t *testing.T) {
	state, rec, sim := newTestSim()
	sim.Step(t0)
	sim.Step(t0.Add(-time.Hour))
	if sim.simNow != 0 {
		t.Fatalf("backwards clock advanced simulation by %v", sim.simNow)
	}

	sim.Step(t0.Add(10 * time.Hour))
	if sim.distance < 0 || sim.distance >= StationSpacingKm {
		t.Fatalf("distance %v out of range after stall", sim.distance)
	}
	if n := count(rec.take(), "EVENT STATION_ARRIVAL"); n != 1 {
		t.Fatalf("arrivals in one step = %d, want 1", n)
	}
	if state.Snapshot().Speed != DefaultSpeed {
		t.Fatal("simulation must not change speed")
	}
}

func TestTelemetrySkipsMissedIntervalsAfterStall(t *testing.T) {
	state, rec, sim := newTestSim()
	sim.Step(t0)
	rec.take()
	before := state.Snapshot().Battery

	stalled := t0.Add(10 * time.Hour)
	sim.Step(stalled)
	if n := count(rec.take(), "TELEMETRY"); n != 1 {
		t.Fatalf("telemetry lines after stall = %d, want 1", n)
	}
	if got := state.Snapshot().Battery; got < before-1 {
		t.Fatalf("battery %d drained more than one step from %d", got, before)
	}

	sim.Step(stalled.Add(time.Second))
	if n := count(rec.take(), "TELEMETRY"); n != 0 {
		t.Fatalf("telemetry lines one second after stall = %d, want 0", n)
	}
	sim.Step(stalled.Add(DefaultTelemetryInterval))
	if n := count(rec.take(), "TELEMETRY"); n != 1 {
		t.Fatalf("telemetry lines one interval after stall = %d, want 1", n)
	}
}

func TestTimeScale(t *testing.T) {
	state := NewState()
	rec := &recorder{}
	sim := NewSimulation(state, rec, Options{TimeScale: 60})
	sim.Step(t0)
	sim.Step(t0.Add(2*time.Second + 100*time.Millisecond))
	if count(rec.take(), "EVENT STATION_ARRIVAL") != 1 {
		t.Fatal("expected arrival after 126 simulated seconds")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	sim := NewSimulation(NewState(), rec, Options{TickInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if count(rec.take(), "TELEMETRY") == 0 {
		t.Fatal("expected at least one telemetry line")
	}
}
