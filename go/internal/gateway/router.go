package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openfpv/flowsync/go/internal/flowstate"
	"github.com/rs/zerolog/log"
)

// Envelope is the wire framing for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeEnvelope parses one inbound frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("envelope missing event name")
	}
	return env, nil
}

// CoreManager defines what the router needs from the session manager.
type CoreManager interface {
	HandleSetState(ctx context.Context, clientID string, st flowstate.SeatState) error
	HandleGetSettings(ctx context.Context) error
	HandlePlayerJoin(ctx context.Context, clientID string, ev flowstate.PlayerJoinEvent) error
	HandleSeatRequest(ctx context.Context, ev flowstate.SeatRequestEvent) error
	HandleSpectateRequest(ctx context.Context, ev flowstate.SeatRequestEvent) error
	HandleSpectate(ctx context.Context, clientID string) error
	HandleAddLap(ctx context.Context, ev flowstate.AddLapEvent) error
}

// Router maps inbound envelopes onto session manager entry points.
// Bad payloads are rejected here, at the boundary, so the pumps and the
// manager never see them.
type Router struct {
	core CoreManager
}

func NewRouter(core CoreManager) *Router {
	return &Router{core: core}
}

// Route dispatches one envelope.
func (r *Router) Route(ctx context.Context, clientID string, env Envelope) {
	var err error
	switch env.Event {
	case flowstate.EventSetState:
		var st flowstate.SeatState
		if err = json.Unmarshal(env.Data, &st); err == nil {
			err = r.core.HandleSetState(ctx, clientID, st)
		}

	case flowstate.EventGetSettings:
		err = r.core.HandleGetSettings(ctx)

	case flowstate.EventPlayerJoin:
		var ev flowstate.PlayerJoinEvent
		if err = json.Unmarshal(env.Data, &ev); err == nil {
			err = r.core.HandlePlayerJoin(ctx, clientID, ev)
		}

	case flowstate.EventRequestSeat:
		var ev flowstate.SeatRequestEvent
		if err = json.Unmarshal(env.Data, &ev); err == nil {
			err = r.core.HandleSeatRequest(ctx, ev)
		}

	case flowstate.EventRequestSpectate:
		var ev flowstate.SeatRequestEvent
		if err = json.Unmarshal(env.Data, &ev); err == nil {
			err = r.core.HandleSpectateRequest(ctx, ev)
		}

	case flowstate.EventSpectate:
		err = r.core.HandleSpectate(ctx, clientID)

	case flowstate.EventAddLap:
		var ev flowstate.AddLapEvent
		if err = json.Unmarshal(env.Data, &ev); err == nil {
			err = r.core.HandleAddLap(ctx, ev)
		}

	default:
		log.Warn().Str("event", env.Event).Msg("unknown inbound event, ignoring")
		return
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("event", env.Event).
			Str("client_id", clientID).
			Msg("inbound event rejected")
	}
}
