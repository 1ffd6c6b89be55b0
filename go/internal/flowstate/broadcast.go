package flowstate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ServerSettings is the client-facing configuration published as one
// object on demand and after Apply.
type ServerSettings struct {
	Track           string  `json:"track"`
	ServerTickRate  int     `json:"serverTickRate"`
	ClientTickRate  int     `json:"clientTickRate"`
	JitterDampening float64 `json:"jitterDampening"`
	AsyncState      bool    `json:"asyncState"`
}

// broadcastState pushes the aggregate state out. In async mode every
// update echoes straight back to the client that caused it; in throttled
// mode updates fan out to everyone but no faster than the server tick
// rate.
func (m *Manager) broadcastState(ctx context.Context, origin string) {
	if m.optionBool(ctx, OptionAsyncState, true) {
		m.broadcast.SendTo(origin, EventState, m.Aggregate())
		return
	}

	tickRate := m.optionInt(ctx, OptionServerTickRate, DefaultServerTickRate)
	if tickRate <= 0 {
		tickRate = DefaultServerTickRate
	}
	interval := time.Second / time.Duration(tickRate)

	m.mu.Lock()
	now := m.clock.Now()
	due := now.Sub(m.lastTick) > interval
	if due {
		m.lastTick = now
	}
	agg := m.aggregateLocked()
	m.mu.Unlock()

	if due {
		m.broadcast.Broadcast(EventState, agg)
	}
}

// PublishSettings broadcasts the current client-facing settings to every
// connected client.
func (m *Manager) PublishSettings(ctx context.Context) {
	jitterPct := m.optionInt(ctx, OptionClientJitterPct, DefaultClientJitterPct)
	settings := ServerSettings{
		Track:           m.optionString(ctx, OptionTrack, DefaultTrack),
		ServerTickRate:  m.optionInt(ctx, OptionServerTickRate, DefaultServerTickRate),
		ClientTickRate:  m.optionInt(ctx, OptionClientTickRate, DefaultClientTickRate),
		JitterDampening: (100.0 - float64(jitterPct)) / 100.0,
		AsyncState:      m.optionBool(ctx, OptionAsyncState, true),
	}
	log.Debug().Interface("settings", settings).Msg("publishing server settings")
	m.broadcast.Broadcast(EventServerSettings, settings)
}

// Apply is the operator "Apply" action: options were just rewritten, so
// republish them to every client.
func (m *Manager) Apply(ctx context.Context) {
	log.Info().Msg("applying updated settings")
	m.PublishSettings(ctx)
}

// UpdateOption rewrites one option and applies the change, so clients
// see the new settings without waiting for their next fs_get_settings.
func (m *Manager) UpdateOption(ctx context.Context, name, value string) error {
	if err := m.options.SetOption(ctx, name, value); err != nil {
		return fmt.Errorf("set option %s: %w", name, err)
	}
	log.Info().Str("option", name).Str("value", value).Msg("option updated")
	m.Apply(ctx)
	return nil
}
