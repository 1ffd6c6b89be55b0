package flowstate

import (
	"context"
	"time"

	"github.com/openfpv/flowsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// evaluateAutomation runs after every seat update and spectator poll.
// Both rules are gated on the auto-run option: advancing to the next
// heat once a race has stopped, and stopping a running race early once
// every connected seat is done.
func (m *Manager) evaluateAutomation(ctx context.Context) {
	if !m.optionBool(ctx, OptionAutoRun, false) {
		return
	}
	m.autoAdvance(ctx)
	m.earlyFinish(ctx)
}

// autoAdvance saves a stopped race, creates the next heat in the same
// class, carries every identity-bound seat over and schedules the start
// after the cooldown. The scheduled-start guard keeps it from firing
// twice for the same stopped race.
func (m *Manager) autoAdvance(ctx context.Context) {
	if m.race.Status() != models.RaceStatusStopped {
		return
	}
	if m.race.Scheduled() != nil {
		return
	}

	currentHeat, err := m.heats.HeatByID(ctx, m.race.CurrentHeat())
	if err != nil {
		log.Error().Err(err).Msg("auto-advance: current heat lookup failed")
		return
	}

	if err := m.race.Save(ctx); err != nil {
		log.Error().Err(err).Msg("auto-advance: saving finished race failed")
		return
	}

	nextHeat, err := m.heats.CreateHeat(ctx, currentHeat.ClassID)
	if err != nil {
		log.Error().Err(err).Msg("auto-advance: creating next heat failed")
		return
	}
	m.race.SetCurrentHeat(nextHeat.ID)
	m.notifier.ClassesChanged()
	m.notifier.CurrentHeatChanged()

	// Carry currently bound identities into the fresh heat.
	m.mu.Lock()
	bound := make([]string, 0, MaxSeats)
	for i := range m.seats {
		if id := m.seats[i].externalID; id != "" {
			bound = append(bound, id)
		}
	}
	m.mu.Unlock()

	for _, externalID := range bound {
		pilot, err := m.roster.PilotByExternalID(ctx, externalID)
		if err != nil {
			log.Error().Err(err).Str("external_id", externalID).Msg("auto-advance: pilot lookup failed")
			continue
		}
		if pilot == nil {
			continue
		}
		if _, err := m.assignToCurrentHeat(ctx, pilot.ID, true); err != nil {
			log.Error().Err(err).Str("pilot_id", pilot.ID.String()).Msg("auto-advance: carry-over assignment failed")
		}
	}

	cooldown := time.Duration(m.optionInt(ctx, OptionRaceCooldownSec, DefaultRaceCooldownSec)) * time.Second
	if err := m.race.Schedule(ctx, cooldown); err != nil {
		log.Error().Err(err).Msg("auto-advance: scheduling next heat failed")
		return
	}
	log.Info().
		Str("heat_id", nextHeat.ID.String()).
		Dur("cooldown", cooldown).
		Msg("next heat scheduled")
}

// earlyFinish stops a running race as soon as no connected seat is still
// racing. A seat that dropped mid-race stops blocking completion; its
// presence evaluation here is also what resets its stale visuals.
func (m *Manager) earlyFinish(ctx context.Context) {
	connected := m.ConnectedSeats()
	if m.race.Status() != models.RaceStatusRunning {
		return
	}

	finished := m.race.SeatsFinished()
	for seat, isConnected := range connected {
		if isConnected && !finished[seat] {
			return
		}
	}

	log.Info().Msg("all connected seats finished, stopping race early")
	if err := m.race.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("early finish: stop request failed")
	}
}
