package flowstate

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Option names understood by the manager. The store persists them so
// operators can retune a live session without a restart.
const (
	OptionServerTickRate  = "FSServerTickRate"
	OptionClientTickRate  = "FSClientTickRate"
	OptionClientJitterPct = "FSClientJitterComp"
	OptionTrack           = "FSTrack"
	OptionLapDelayMs      = "FSLapDelayTime"
	OptionRaceCooldownSec = "FSRaceCooldown"
	OptionAutoRun         = "FSAutoRun"
	OptionHeatLock        = "FSHeatLockInput"
	OptionAsyncState      = "FSAsyncState"
)

const (
	DefaultServerTickRate  = 10
	DefaultClientTickRate  = 10
	DefaultClientJitterPct = 50
	DefaultTrack           = "The Shrine"
	DefaultLapDelayMs      = 999
	DefaultRaceCooldownSec = 30
)

// OptionDefaults is the defaults table handed to the option store so
// first reads of an unset option settle on a sane value.
func OptionDefaults() map[string]string {
	return map[string]string{
		OptionServerTickRate:  strconv.Itoa(DefaultServerTickRate),
		OptionClientTickRate:  strconv.Itoa(DefaultClientTickRate),
		OptionClientJitterPct: strconv.Itoa(DefaultClientJitterPct),
		OptionTrack:           DefaultTrack,
		OptionLapDelayMs:      strconv.Itoa(DefaultLapDelayMs),
		OptionRaceCooldownSec: strconv.Itoa(DefaultRaceCooldownSec),
		OptionAutoRun:         "0",
		OptionHeatLock:        "0",
		OptionAsyncState:      "1",
	}
}

func (m *Manager) optionString(ctx context.Context, name, fallback string) string {
	v, err := m.options.Option(ctx, name)
	if err != nil {
		log.Error().Err(err).Str("option", name).Msg("option read failed, using fallback")
		return fallback
	}
	return v
}

func (m *Manager) optionInt(ctx context.Context, name string, fallback int) int {
	v, err := m.options.Option(ctx, name)
	if err != nil {
		log.Error().Err(err).Str("option", name).Msg("option read failed, using fallback")
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("option", name).Str("value", v).Msg("option is not an integer, using fallback")
		return fallback
	}
	return n
}

// Checkbox options store "1"/"0".
func (m *Manager) optionBool(ctx context.Context, name string, fallback bool) bool {
	v, err := m.options.Option(ctx, name)
	if err != nil {
		log.Error().Err(err).Str("option", name).Msg("option read failed, using fallback")
		return fallback
	}
	return v == "1"
}
