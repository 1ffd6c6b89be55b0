package flowstate

import "github.com/google/uuid"

// Wire event names. Inbound events are consumed off the client channel,
// outbound events are produced on it.
const (
	EventSetState        = "fs_set_state"
	EventGetSettings     = "fs_get_settings"
	EventPlayerJoin      = "fs_player_join"
	EventRequestSeat     = "fs_request_seat"
	EventRequestSpectate = "fs_request_spectate"
	EventSpectate        = "fs_spectate"
	EventAddLap          = "fs_add_lap"

	EventState          = "fs"
	EventServerSettings = "fs_server_settings"
	EventJoinSuccess    = "fs_join_success"
)

// PlayerJoinEvent is an identity asking for a seat.
type PlayerJoinEvent struct {
	SteamID   string `json:"steamId"`
	SteamName string `json:"steamName"`
}

// SeatRequestEvent asks to join or leave the current heat explicitly.
type SeatRequestEvent struct {
	PilotID uuid.UUID `json:"pilotId"`
}

// AddLapEvent is a client-reported lap completion. Time is seconds in
// the session timebase (the same one AggregateState.Time uses).
type AddLapEvent struct {
	Seat int     `json:"seat"`
	Time float64 `json:"time"`
}

// JoinSuccessEvent answers a join with the resolved pilot and seat.
type JoinSuccessEvent struct {
	PilotID uuid.UUID `json:"pilotId"`
	Seat    int       `json:"seat"`
}
