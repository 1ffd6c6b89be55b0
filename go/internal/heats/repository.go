package heats

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openfpv/flowsync/go/internal/flowstate"
	"github.com/openfpv/flowsync/go/internal/models"
	"github.com/openfpv/flowsync/go/internal/sqlutil"
)

// Repository stores heats and their ordered seat slots in Postgres. It
// satisfies the session manager's HeatRepository interface.
type Repository struct {
	pool      *pgxpool.Pool
	seatCount int
}

func NewRepository(pool *pgxpool.Pool, seatCount int) *Repository {
	return &Repository{pool: pool, seatCount: seatCount}
}

var _ flowstate.HeatRepository = (*Repository)(nil)

// HeatByID fetches one heat.
func (r *Repository) HeatByID(ctx context.Context, id uuid.UUID) (*models.Heat, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, class_id, name, created_at FROM heats WHERE id = $1`, id)

	var h models.Heat
	if err := row.Scan(&h.ID, &h.ClassID, &h.Name, &h.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to get heat: %w", err)
	}
	return &h, nil
}

// LatestHeat returns the most recently created heat, or (nil, nil) when
// no heat exists yet.
func (r *Repository) LatestHeat(ctx context.Context) (*models.Heat, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, class_id, name, created_at
		   FROM heats
		  ORDER BY created_at DESC
		  LIMIT 1`)

	var h models.Heat
	if err := row.Scan(&h.ID, &h.ClassID, &h.Name, &h.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest heat: %w", err)
	}
	return &h, nil
}

// EnsureDefaultClass returns the oldest class, creating one on a fresh
// install.
func (r *Repository) EnsureDefaultClass(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM classes ORDER BY created_at ASC LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("failed to look up default class: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO classes (id, name) VALUES ($1, $2) RETURNING id`,
		uuid.New(), "Default").Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create default class: %w", err)
	}
	return id, nil
}

// CreateHeat adds a heat in the given class together with its full set
// of empty slots, one per seat, in a single transaction.
func (r *Repository) CreateHeat(ctx context.Context, classID uuid.UUID) (*models.Heat, error) {
	var h models.Heat
	err := sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO heats (id, class_id, name)
			 VALUES ($1, $2, '')
			 RETURNING id, class_id, name, created_at`,
			uuid.New(), classID)
		if err := row.Scan(&h.ID, &h.ClassID, &h.Name, &h.CreatedAt); err != nil {
			return fmt.Errorf("insert heat: %w", err)
		}

		for seat := 0; seat < r.seatCount; seat++ {
			if _, err := tx.Exec(ctx,
				`INSERT INTO heat_slots (id, heat_id, seat_index, pilot_id)
				 VALUES ($1, $2, $3, NULL)`,
				uuid.New(), h.ID, seat); err != nil {
				return fmt.Errorf("insert slot %d: %w", seat, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create heat: %w", err)
	}
	return &h, nil
}

// SlotsByHeat returns the heat's slots ordered by seat index. Empty
// slots come back with PilotID uuid.Nil.
func (r *Repository) SlotsByHeat(ctx context.Context, heatID uuid.UUID) ([]models.HeatSlot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, heat_id, seat_index, pilot_id
		   FROM heat_slots
		  WHERE heat_id = $1
		  ORDER BY seat_index ASC`, heatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	var slots []models.HeatSlot
	for rows.Next() {
		var s models.HeatSlot
		var pilotID *uuid.UUID
		if err := rows.Scan(&s.ID, &s.HeatID, &s.SeatIndex, &pilotID); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		if pilotID != nil {
			s.PilotID = *pilotID
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read slots: %w", err)
	}
	return slots, nil
}

// AssignSlot binds a pilot to a slot.
func (r *Repository) AssignSlot(ctx context.Context, slotID uuid.UUID, pilotID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE heat_slots SET pilot_id = $2 WHERE id = $1`, slotID, pilotID); err != nil {
		return fmt.Errorf("failed to assign slot: %w", err)
	}
	return nil
}

// ClearSlot returns a slot to the unassigned state.
func (r *Repository) ClearSlot(ctx context.Context, slotID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE heat_slots SET pilot_id = NULL WHERE id = $1`, slotID); err != nil {
		return fmt.Errorf("failed to clear slot: %w", err)
	}
	return nil
}
