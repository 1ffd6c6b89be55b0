package flowstate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/openfpv/flowsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// NoSeat is returned when no seat could be assigned: the heat is full,
// the request was refused mid-race, or heats are locked. Callers treat
// the requester as a spectator.
const NoSeat = -1

// JoinByIdentity resolves an external identity against the roster,
// creating the pilot on first contact, then seats them in the current
// heat. The resolved pilot id and seat (NoSeat if the heat is full) are
// echoed back to the requesting client.
func (m *Manager) JoinByIdentity(ctx context.Context, clientID, externalID, displayName string) (uuid.UUID, int, error) {
	pilot, err := m.roster.PilotByExternalID(ctx, externalID)
	if err != nil {
		return uuid.Nil, NoSeat, fmt.Errorf("look up pilot by external id: %w", err)
	}

	if pilot == nil {
		pilot, err = m.roster.CreatePilot(ctx, CreatePilotRequest{Name: displayName, Callsign: displayName})
		if err != nil {
			return uuid.Nil, NoSeat, fmt.Errorf("create pilot: %w", err)
		}
		if err := m.roster.SetExternalID(ctx, pilot.ID, externalID); err != nil {
			return uuid.Nil, NoSeat, fmt.Errorf("bind external id: %w", err)
		}
		m.notifier.PilotsChanged()
		log.Info().Str("callsign", pilot.Callsign).Str("pilot_id", pilot.ID.String()).Msg("created pilot for new identity")
	} else if displayName != "" && displayName != pilot.Callsign {
		// Identity is authoritative for the display name.
		if err := m.roster.UpdateCallsign(ctx, pilot.ID, displayName); err != nil {
			log.Error().Err(err).Str("pilot_id", pilot.ID.String()).Msg("callsign refresh failed")
		}
	}

	seat, err := m.AssignToCurrentHeat(ctx, pilot.ID)
	if err != nil {
		log.Error().Err(err).Str("pilot_id", pilot.ID.String()).Msg("seat assignment failed, joining as spectator")
		seat = NoSeat
	}

	if seat == NoSeat {
		m.bindSpectator(externalID)
	} else {
		m.bindSeat(seat, externalID)
	}

	log.Info().
		Str("callsign", pilot.Callsign).
		Str("pilot_id", pilot.ID.String()).
		Int("seat", seat).
		Msg("pilot joined")
	m.broadcast.SendTo(clientID, EventJoinSuccess, JoinSuccessEvent{PilotID: pilot.ID, Seat: seat})
	return pilot.ID, seat, nil
}

// AssignToCurrentHeat places a pilot into the current heat and returns
// the seat index used, or NoSeat. Seat membership never changes while a
// race is running. If the pilot already holds a slot that slot wins, and
// any duplicate bindings beyond the first are cleared; otherwise the
// first free slot in seat order is claimed. Idempotent.
func (m *Manager) AssignToCurrentHeat(ctx context.Context, pilotID uuid.UUID) (int, error) {
	return m.assignToCurrentHeat(ctx, pilotID, false)
}

// ignoreLock lets auto-advance carry bound pilots into the next heat
// even while operators have locked manual membership changes.
func (m *Manager) assignToCurrentHeat(ctx context.Context, pilotID uuid.UUID, ignoreLock bool) (int, error) {
	if m.race.Status() == models.RaceStatusRunning {
		log.Info().Str("pilot_id", pilotID.String()).Msg("seat assignment refused: race in progress")
		return NoSeat, nil
	}

	heatID := m.race.CurrentHeat()
	slots, err := m.heats.SlotsByHeat(ctx, heatID)
	if err != nil {
		return NoSeat, fmt.Errorf("load slots for heat %s: %w", heatID, err)
	}

	seat := NoSeat
	for _, slot := range slots {
		if slot.PilotID != pilotID {
			continue
		}
		if seat != NoSeat {
			// Duplicate membership, can happen when concurrent joins
			// race each other. Keep the first binding, clear the rest.
			log.Info().
				Str("pilot_id", pilotID.String()).
				Int("seat", slot.SeatIndex).
				Msg("clearing duplicate slot binding")
			if err := m.heats.ClearSlot(ctx, slot.ID); err != nil {
				log.Error().Err(err).Str("slot_id", slot.ID.String()).Msg("duplicate slot cleanup failed")
			}
			continue
		}
		seat = slot.SeatIndex
	}

	if seat == NoSeat && (ignoreLock || !m.optionBool(ctx, OptionHeatLock, false)) {
		for _, slot := range slots {
			if slot.Occupied() {
				continue
			}
			if err := m.heats.AssignSlot(ctx, slot.ID, pilotID); err != nil {
				return NoSeat, fmt.Errorf("claim slot %s: %w", slot.ID, err)
			}
			seat = slot.SeatIndex
			break
		}
	}

	m.notifyHeatViews()
	return seat, nil
}

// RemoveFromCurrentHeat clears every slot the pilot holds in the current
// heat. Like assignment it is refused mid-race, and also while heats are
// locked.
func (m *Manager) RemoveFromCurrentHeat(ctx context.Context, pilotID uuid.UUID) error {
	if m.race.Status() == models.RaceStatusRunning {
		log.Info().Str("pilot_id", pilotID.String()).Msg("seat removal refused: race in progress")
		return nil
	}
	if m.optionBool(ctx, OptionHeatLock, false) {
		log.Info().Str("pilot_id", pilotID.String()).Msg("seat removal refused: heats are locked")
		return nil
	}

	heatID := m.race.CurrentHeat()
	slots, err := m.heats.SlotsByHeat(ctx, heatID)
	if err != nil {
		return fmt.Errorf("load slots for heat %s: %w", heatID, err)
	}

	for _, slot := range slots {
		if slot.PilotID != pilotID {
			continue
		}
		if err := m.heats.ClearSlot(ctx, slot.ID); err != nil {
			return fmt.Errorf("clear slot %s: %w", slot.ID, err)
		}
	}

	m.notifyHeatViews()
	return nil
}

// notifyHeatViews refreshes every UI surface that renders heat
// membership.
func (m *Manager) notifyHeatViews() {
	m.notifier.RaceStatusChanged()
	m.notifier.CurrentHeatChanged()
	m.notifier.HeatsChanged()
	m.notifier.ClassesChanged()
}
