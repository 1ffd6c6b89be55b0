package flowstate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/openfpv/flowsync/go/internal/models"
)

// RosterRepository defines what the manager needs from the pilot roster.
// Lookups by external id return (nil, nil) when no pilot matches.
type RosterRepository interface {
	PilotByExternalID(ctx context.Context, externalID string) (*models.Pilot, error)
	CreatePilot(ctx context.Context, req CreatePilotRequest) (*models.Pilot, error)
	SetExternalID(ctx context.Context, pilotID uuid.UUID, externalID string) error
	UpdateCallsign(ctx context.Context, pilotID uuid.UUID, callsign string) error
}

// CreatePilotRequest carries the fields needed to add a roster entry.
type CreatePilotRequest struct {
	Name     string
	Callsign string
}

// HeatRepository defines what the manager needs from heat/slot storage.
// SlotsByHeat returns slots ordered by seat index ascending. LatestHeat
// returns (nil, nil) on a fresh install with no heats yet.
type HeatRepository interface {
	HeatByID(ctx context.Context, id uuid.UUID) (*models.Heat, error)
	LatestHeat(ctx context.Context) (*models.Heat, error)
	CreateHeat(ctx context.Context, classID uuid.UUID) (*models.Heat, error)
	EnsureDefaultClass(ctx context.Context) (uuid.UUID, error)
	SlotsByHeat(ctx context.Context, heatID uuid.UUID) ([]models.HeatSlot, error)
	AssignSlot(ctx context.Context, slotID uuid.UUID, pilotID uuid.UUID) error
	ClearSlot(ctx context.Context, slotID uuid.UUID) error
}

// RaceControl is the externally owned race subsystem. The manager only
// observes status and requests transitions; it never writes status
// directly.
type RaceControl interface {
	Status() models.RaceStatus
	Scheduled() *time.Time
	CurrentHeat() uuid.UUID
	SetCurrentHeat(id uuid.UUID)
	Schedule(ctx context.Context, delay time.Duration) error
	Stop(ctx context.Context) error
	Save(ctx context.Context) error
	SeatsFinished() map[int]bool
	SimulateLap(ctx context.Context, seat int) error
	SetRSSI(seat, rssi int)
}

// OptionStore is the runtime-tunable option table. Reads for names the
// store has never seen return the registered default.
type OptionStore interface {
	Option(ctx context.Context, name string) (string, error)
	SetOption(ctx context.Context, name, value string) error
}

// Notifier pushes refresh hints and operator messages at UI clients
// whenever roster, heat or race data changes underneath them.
type Notifier interface {
	PilotsChanged()
	RaceStatusChanged()
	CurrentHeatChanged()
	HeatsChanged()
	ClassesChanged()
	Message(text string)
}

// Broadcaster delivers named events to the originating client or to
// every connected client. The gateway implements this over WebSocket.
type Broadcaster interface {
	SendTo(clientID string, event string, payload any)
	Broadcast(event string, payload any)
}
