package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RaceStatus is the externally owned race-control state. The numeric
// values match what race timers conventionally report over the wire:
// 0 idle, 1 running, 2 stopped, 3 staging for a scheduled start.
type RaceStatus int

const (
	RaceStatusIdle    RaceStatus = 0
	RaceStatusRunning RaceStatus = 1
	RaceStatusStopped RaceStatus = 2
	RaceStatusStaging RaceStatus = 3
)

func (s RaceStatus) String() string {
	switch s {
	case RaceStatusIdle:
		return "idle"
	case RaceStatusRunning:
		return "running"
	case RaceStatusStopped:
		return "stopped"
	case RaceStatusStaging:
		return "staging"
	default:
		return "unknown"
	}
}

// SavedRace is the persisted record of a completed race: which heat ran,
// and a per-seat summary of the laps that were counted.
type SavedRace struct {
	ID        uuid.UUID       `json:"id"`
	HeatID    uuid.UUID       `json:"heat_id"`
	ClassID   uuid.UUID       `json:"class_id"`
	StoppedAt time.Time       `json:"stopped_at"`
	Results   json.RawMessage `json:"results"`
}
