package races

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/openfpv/flowsync/go/internal/models"
	"github.com/openfpv/flowsync/go/internal/racecontrol"
	"github.com/sqlc-dev/pqtype"
)

// Repository persists finished races. The per-seat lap summary is kept
// as a JSON document; the heat's class is resolved at insert time so a
// later class change on the heat does not rewrite history.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ racecontrol.RaceRepository = (*Repository)(nil)

// SaveRace records a finished race.
func (r *Repository) SaveRace(ctx context.Context, req racecontrol.SaveRaceRequest) (*models.SavedRace, error) {
	results := pqtype.NullRawMessage{RawMessage: req.Results, Valid: len(req.Results) > 0}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO saved_races (id, heat_id, class_id, stopped_at, results)
		 SELECT $1, h.id, h.class_id, $3, $4
		   FROM heats h
		  WHERE h.id = $2
		 RETURNING id, heat_id, class_id, stopped_at, results`,
		uuid.New(), req.HeatID, req.StoppedAt, results)

	var saved models.SavedRace
	var out pqtype.NullRawMessage
	if err := row.Scan(&saved.ID, &saved.HeatID, &saved.ClassID, &saved.StoppedAt, &out); err != nil {
		return nil, fmt.Errorf("failed to save race: %w", err)
	}
	if out.Valid {
		saved.Results = out.RawMessage
	}
	return &saved, nil
}

// RacesByHeat lists the saved races for one heat, newest first.
func (r *Repository) RacesByHeat(ctx context.Context, heatID uuid.UUID) ([]models.SavedRace, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, heat_id, class_id, stopped_at, results
		   FROM saved_races
		  WHERE heat_id = $1
		  ORDER BY stopped_at DESC`, heatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved races: %w", err)
	}
	defer rows.Close()

	var saved []models.SavedRace
	for rows.Next() {
		var race models.SavedRace
		var out pqtype.NullRawMessage
		if err := rows.Scan(&race.ID, &race.HeatID, &race.ClassID, &race.StoppedAt, &out); err != nil {
			return nil, fmt.Errorf("failed to scan saved race: %w", err)
		}
		if out.Valid {
			race.Results = out.RawMessage
		}
		saved = append(saved, race)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read saved races: %w", err)
	}
	return saved, nil
}
