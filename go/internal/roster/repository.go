package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openfpv/flowsync/go/internal/flowstate"
	"github.com/openfpv/flowsync/go/internal/models"
)

// Repository stores pilots in Postgres. It satisfies the session
// manager's RosterRepository interface.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ flowstate.RosterRepository = (*Repository)(nil)

// PilotByExternalID looks a pilot up by the identity the game client
// reports. Returns (nil, nil) when no pilot matches.
func (r *Repository) PilotByExternalID(ctx context.Context, externalID string) (*models.Pilot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, callsign, external_id, created_at
		   FROM pilots
		  WHERE external_id = $1`, externalID)

	var p models.Pilot
	if err := row.Scan(&p.ID, &p.Name, &p.Callsign, &p.ExternalID, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up pilot by external id: %w", err)
	}
	return &p, nil
}

// CreatePilot adds a roster entry.
func (r *Repository) CreatePilot(ctx context.Context, req flowstate.CreatePilotRequest) (*models.Pilot, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO pilots (id, name, callsign)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, callsign, external_id, created_at`,
		uuid.New(), req.Name, req.Callsign)

	var p models.Pilot
	if err := row.Scan(&p.ID, &p.Name, &p.Callsign, &p.ExternalID, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create pilot: %w", err)
	}
	return &p, nil
}

// SetExternalID binds an external identity to a pilot.
func (r *Repository) SetExternalID(ctx context.Context, pilotID uuid.UUID, externalID string) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE pilots SET external_id = $2 WHERE id = $1`, pilotID, externalID); err != nil {
		return fmt.Errorf("failed to set external id: %w", err)
	}
	return nil
}

// UpdateCallsign refreshes the pilot's display name.
func (r *Repository) UpdateCallsign(ctx context.Context, pilotID uuid.UUID, callsign string) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE pilots SET callsign = $2 WHERE id = $1`, pilotID, callsign); err != nil {
		return fmt.Errorf("failed to update callsign: %w", err)
	}
	return nil
}
