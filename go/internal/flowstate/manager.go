package flowstate

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Manager owns the live session: the fixed seat state buffer, presence
// metadata, spectator pool and the automation loop. All collaborators
// are injected so every one of them can be doubled in tests. Gateway
// handlers call in from connection goroutines; the mutex guards the
// fixed arrays.
type Manager struct {
	clock clockwork.Clock
	epoch time.Time

	roster    RosterRepository
	heats     HeatRepository
	race      RaceControl
	options   OptionStore
	notifier  Notifier
	broadcast Broadcaster

	mu         sync.Mutex
	states     [MaxSeats]SeatState
	seats      [MaxSeats]seatMeta
	spectators [MaxSpectators]seatMeta
	lastTick   time.Time
}

// Config wires a Manager. Clock defaults to the real clock.
type Config struct {
	Clock       clockwork.Clock
	Roster      RosterRepository
	Heats       HeatRepository
	Race        RaceControl
	Options     OptionStore
	Notifier    Notifier
	Broadcaster Broadcaster
}

// NewManager builds a session manager with every seat showing the
// placeholder state.
func NewManager(cfg Config) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Manager{
		clock:     clock,
		epoch:     clock.Now(),
		roster:    cfg.Roster,
		heats:     cfg.Heats,
		race:      cfg.Race,
		options:   cfg.Options,
		notifier:  cfg.Notifier,
		broadcast: cfg.Broadcaster,
	}
	for i := range m.states {
		m.states[i] = PlaceholderState()
	}
	m.lastTick = clock.Now()
	return m
}

// HandleSetState is the fs_set_state entry point.
func (m *Manager) HandleSetState(ctx context.Context, clientID string, st SeatState) error {
	return m.SetState(ctx, clientID, st)
}

// HandleGetSettings is the fs_get_settings entry point.
func (m *Manager) HandleGetSettings(ctx context.Context) error {
	m.PublishSettings(ctx)
	return nil
}

// HandlePlayerJoin is the fs_player_join entry point.
func (m *Manager) HandlePlayerJoin(ctx context.Context, clientID string, ev PlayerJoinEvent) error {
	_, _, err := m.JoinByIdentity(ctx, clientID, ev.SteamID, ev.SteamName)
	return err
}

// HandleSeatRequest is the fs_request_seat entry point.
func (m *Manager) HandleSeatRequest(ctx context.Context, ev SeatRequestEvent) error {
	_, err := m.AssignToCurrentHeat(ctx, ev.PilotID)
	return err
}

// HandleSpectateRequest is the fs_request_spectate entry point.
func (m *Manager) HandleSpectateRequest(ctx context.Context, ev SeatRequestEvent) error {
	return m.RemoveFromCurrentHeat(ctx, ev.PilotID)
}

// HandleSpectate is the fs_spectate poll: echo the aggregate to the
// spectator and give the automation rules a turn.
func (m *Manager) HandleSpectate(ctx context.Context, clientID string) error {
	m.broadcastState(ctx, clientID)
	m.evaluateAutomation(ctx)
	return nil
}

// HandleAddLap is the fs_add_lap entry point. The reported session
// timestamp is mapped back onto the manager's clock before scheduling.
func (m *Manager) HandleAddLap(ctx context.Context, ev AddLapEvent) error {
	_, err := m.ReportLap(ctx, ev.Seat, m.sessionInstant(ev.Time))
	return err
}
