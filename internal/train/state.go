// Package train holds the single simulated train: its shared state and the
// loop that advances it over time.
package train

import "sync"

// Defaults and limits of the simulated train.
const (
	DefaultSpeed   = 30
	SpeedStep      = 5
	FullBattery    = 100
	LowBattery     = 10
	TurnaroundEach = 5
)

// Direction of travel along the line.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "INBOUND"
	}
	return "OUTBOUND"
}

// MarshalText encodes the direction as it appears on the wire.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Inbound {
		return Outbound
	}
	return Inbound
}

// Snapshot is a consistent copy of the train state.
type Snapshot struct {
	Speed     int       `json:"speed"`
	Battery   int       `json:"battery"`
	Station   int       `json:"station"`
	Direction Direction `json:"direction"`
}

// State is the mutable train state shared by the simulation loop and every
// client session. All reads of more than one field and all writes go through mu.
type State struct {
	mu sync.Mutex
	v  Snapshot
}

// NewState returns a train at its start-of-day defaults.
func NewState() *State {
	return &State{v: Snapshot{
		Speed:     DefaultSpeed,
		Battery:   FullBattery,
		Station:   0,
		Direction: Outbound,
	}}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

// SpeedUp raises the speed by SpeedStep and returns the new speed.
func (s *State) SpeedUp() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Speed += SpeedStep
	return s.v.Speed
}

// SlowDown lowers the speed by SpeedStep, never below zero.
func (s *State) SlowDown() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Speed -= SpeedStep
	if s.v.Speed < 0 {
		s.v.Speed = 0
	}
	return s.v.Speed
}

// StopNow sets the speed to zero.
func (s *State) StopNow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Speed = 0
	return s.v.Speed
}

// StartNow restores DefaultSpeed, but only from a standstill.
func (s *State) StartNow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.v.Speed == 0 {
		s.v.Speed = DefaultSpeed
	}
	return s.v.Speed
}

func (s *State) update(fn func(v *Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.v)
}
