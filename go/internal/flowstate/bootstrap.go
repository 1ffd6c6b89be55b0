package flowstate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Bootstrap points race control at a heat so joins land in seats instead
// of the spectator pool. A fresh install gets a default class and a first
// heat; afterwards the most recent heat carries over across restarts.
// With auto-run enabled the first race is scheduled right away, so a
// fully automated session needs no operator action at all.
func (m *Manager) Bootstrap(ctx context.Context) error {
	heat, err := m.heats.LatestHeat(ctx)
	if err != nil {
		return fmt.Errorf("look up latest heat: %w", err)
	}

	if heat == nil {
		classID, err := m.heats.EnsureDefaultClass(ctx)
		if err != nil {
			return fmt.Errorf("ensure default class: %w", err)
		}
		heat, err = m.heats.CreateHeat(ctx, classID)
		if err != nil {
			return fmt.Errorf("create first heat: %w", err)
		}
		m.notifier.HeatsChanged()
		m.notifier.ClassesChanged()
		log.Info().Str("heat_id", heat.ID.String()).Msg("created first heat for fresh install")
	}

	m.race.SetCurrentHeat(heat.ID)
	m.notifier.CurrentHeatChanged()
	log.Info().Str("heat_id", heat.ID.String()).Msg("session bootstrapped")

	if m.optionBool(ctx, OptionAutoRun, false) {
		cooldown := time.Duration(m.optionInt(ctx, OptionRaceCooldownSec, DefaultRaceCooldownSec)) * time.Second
		if err := m.race.Schedule(ctx, cooldown); err != nil {
			return fmt.Errorf("schedule first race: %w", err)
		}
		log.Info().Dur("cooldown", cooldown).Msg("first race scheduled")
	}
	return nil
}
