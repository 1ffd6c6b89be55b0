package models

import (
	"time"

	"github.com/google/uuid"
)

// Heat groups pilots scheduled to race together. Slots are ordered and
// map one-to-one onto seat indexes.
type Heat struct {
	ID        uuid.UUID `json:"id"`
	ClassID   uuid.UUID `json:"class_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// HeatSlot binds a seat index within a heat to a pilot. PilotID is
// uuid.Nil while the slot is unoccupied.
type HeatSlot struct {
	ID        uuid.UUID `json:"id"`
	HeatID    uuid.UUID `json:"heat_id"`
	SeatIndex int       `json:"seat_index"`
	PilotID   uuid.UUID `json:"pilot_id"`
}

// Occupied reports whether a pilot holds this slot.
func (s HeatSlot) Occupied() bool {
	return s.PilotID != uuid.Nil
}
