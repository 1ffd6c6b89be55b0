package models

import (
	"time"

	"github.com/google/uuid"
)

// Pilot is a roster entry addressable by an opaque external identity
// (the steam id the game client reports on join).
type Pilot struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Callsign   string    `json:"callsign"`
	ExternalID string    `json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
}
