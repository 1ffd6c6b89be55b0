package flowstate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// MaxSeats is the fixed number of live competitor slots. The state
	// and meta arrays are sized once at construction and never resized.
	MaxSeats = 8

	// MaxSpectators bounds the separate spectator pool.
	MaxSpectators = 8

	// UpdateTimeout is how long a seat may go silent before it is
	// considered disconnected.
	UpdateTimeout = 5 * time.Second
)

// SeatState is the live telemetry for one seat, mutated wholesale on
// every client update. The manager performs no plausibility checks on
// position or orientation; it is a pure buffer.
type SeatState struct {
	Seat        int        `json:"seat"`
	Position    [3]float64 `json:"position"`
	Orientation [3]float64 `json:"orientation"`
	RSSI        int        `json:"rssi"`
}

// PlaceholderState is the neutral state a seat shows while nobody
// occupies it: parked below the track with zero signal.
func PlaceholderState() SeatState {
	return SeatState{Seat: -1, Position: [3]float64{0, -100, 0}}
}

// AggregateState is the externally visible broadcast payload: a session
// timestamp plus one SeatState per seat, always MaxSeats long.
type AggregateState struct {
	Time   float64     `json:"time"`
	States []SeatState `json:"states"`
}

// seatMeta is the per-seat bookkeeping behind presence and identity
// binding. lastUpdate only moves backward when a timeout evicts the seat.
type seatMeta struct {
	lastUpdate time.Time
	externalID string
}

// SetState overwrites the seat's live state, stamps its last-update
// time, forwards signal strength to race control, echoes the aggregate
// per the dispatcher mode and runs the automation rules.
func (m *Manager) SetState(ctx context.Context, clientID string, st SeatState) error {
	if st.Seat < 0 || st.Seat >= MaxSeats {
		return fmt.Errorf("seat %d out of range", st.Seat)
	}

	m.mu.Lock()
	m.states[st.Seat] = st
	m.seats[st.Seat].lastUpdate = m.clock.Now()
	m.mu.Unlock()

	m.race.SetRSSI(st.Seat, st.RSSI)
	m.broadcastState(ctx, clientID)
	m.evaluateAutomation(ctx)
	return nil
}

// Aggregate returns a snapshot of the full session state. The returned
// slice is a copy; callers may hold it across broadcasts.
func (m *Manager) Aggregate() AggregateState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregateLocked()
}

func (m *Manager) aggregateLocked() AggregateState {
	states := make([]SeatState, MaxSeats)
	copy(states, m.states[:])
	return AggregateState{
		Time:   m.clock.Now().Sub(m.epoch).Seconds(),
		States: states,
	}
}

// sessionInstant maps a client-reported session timestamp (seconds since
// the manager came up, the same timebase Aggregate.Time is expressed in)
// back onto the manager's clock.
func (m *Manager) sessionInstant(seconds float64) time.Time {
	return m.epoch.Add(time.Duration(seconds * float64(time.Second)))
}

// bindSeat records which external identity occupies a seat. Any other
// seat already bound to the same identity is released first.
func (m *Manager) bindSeat(seat int, externalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.seats {
		if i != seat && m.seats[i].externalID == externalID {
			m.seats[i].externalID = ""
		}
	}
	m.seats[seat].externalID = externalID
}

// bindSpectator parks an identity in the spectator pool: its existing
// slot if it has one, otherwise the first free one.
func (m *Manager) bindSpectator(externalID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	free := -1
	for i := range m.spectators {
		if m.spectators[i].externalID == externalID {
			m.spectators[i].lastUpdate = m.clock.Now()
			return i
		}
		if free == -1 && m.spectators[i].externalID == "" {
			free = i
		}
	}
	if free == -1 {
		log.Warn().Str("external_id", externalID).Msg("spectator pool full")
		return -1
	}
	m.spectators[free].externalID = externalID
	m.spectators[free].lastUpdate = m.clock.Now()
	return free
}
