package flowstate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// PendingLap is the handle for one in-flight delayed lap commit. There
// is currently no way to cancel one once reported; Done unblocks after
// the commit lands in race control.
type PendingLap struct {
	Seat   int
	Target time.Time
	done   chan struct{}
}

// Done closes once the lap has been committed.
func (p *PendingLap) Done() <-chan struct{} {
	return p.done
}

// ReportLap accepts a client-reported lap completion and schedules its
// commit for reportedAt plus the configured lap delay. The delay re-times
// the lap to the moment it happened on track rather than the moment the
// packet arrived, so inter-lap timing survives variable network latency.
// One goroutine runs per report, fire and forget; laps for different
// seats commit independently and in no particular order relative to each
// other.
func (m *Manager) ReportLap(ctx context.Context, seat int, reportedAt time.Time) (*PendingLap, error) {
	if seat < 0 || seat >= MaxSeats {
		return nil, fmt.Errorf("seat %d out of range", seat)
	}

	delay := time.Duration(m.optionInt(ctx, OptionLapDelayMs, DefaultLapDelayMs)) * time.Millisecond
	p := &PendingLap{
		Seat:   seat,
		Target: reportedAt.Add(delay),
		done:   make(chan struct{}),
	}

	// The commit must outlive the request that reported it.
	go m.commitLap(context.WithoutCancel(ctx), p)
	return p, nil
}

func (m *Manager) commitLap(ctx context.Context, p *PendingLap) {
	defer close(p.done)

	now := m.clock.Now()
	if late := now.Sub(p.Target); late > 0 {
		// Already overdue: commit immediately but flag it, the lap's
		// recorded instant is off by the lateness.
		log.Warn().
			Int("seat", p.Seat).
			Dur("late", late).
			Msg("lap report arrived after its commit target")
		m.notifier.Message(fmt.Sprintf(
			"Warning! Lag detected when counting lap for seat %d. Increase the lap delay or check server resources.",
			p.Seat+1))
	} else {
		log.Info().
			Int("seat", p.Seat).
			Dur("wait", p.Target.Sub(now)).
			Msg("holding lap until its commit target")
		timer := m.clock.NewTimer(p.Target.Sub(now))
		defer timer.Stop()
		<-timer.Chan()
	}

	// From here race control is the sole timestamp authority.
	if err := m.race.SimulateLap(ctx, p.Seat); err != nil {
		log.Error().Err(err).Int("seat", p.Seat).Msg("lap commit failed")
		return
	}
	log.Info().
		Int("seat", p.Seat).
		Dur("overshoot", m.clock.Now().Sub(p.Target)).
		Msg("lap committed")
}
