package racecontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/openfpv/flowsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// RaceRepository defines what the engine needs to persist finished
// races.
type RaceRepository interface {
	SaveRace(ctx context.Context, req SaveRaceRequest) (*models.SavedRace, error)
}

// SaveRaceRequest carries a finished race to storage. The repository
// resolves the heat's class itself.
type SaveRaceRequest struct {
	HeatID    uuid.UUID
	StoppedAt time.Time
	Results   json.RawMessage
}

// EventPublisher fans race lifecycle events out to interested systems.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Event subjects published by the engine.
const (
	SubjectRaceScheduled = "race.scheduled"
	SubjectRaceStarted   = "race.started"
	SubjectRaceStopped   = "race.stopped"
	SubjectRaceSaved     = "race.saved"
	SubjectLapRecorded   = "race.lap"
)

// seatRun is one seat's bookkeeping for the race in progress.
type seatRun struct {
	Laps     []time.Time `json:"laps"`
	Finished bool        `json:"finished"`
	RSSI     int         `json:"rssi"`
}

// Engine is the authoritative race timer: a small state machine
// (idle -> staging -> running -> stopped) plus per-seat lap and finish
// bookkeeping. The session manager only observes it and requests
// transitions.
type Engine struct {
	clock  clockwork.Clock
	races  RaceRepository
	events EventPublisher

	seatCount  int
	targetLaps int

	mu          sync.Mutex
	status      models.RaceStatus
	currentHeat uuid.UUID
	scheduled   *time.Time
	startTimer  clockwork.Timer
	startCancel chan struct{}
	runs        []seatRun
}

// Config wires an Engine. Clock defaults to the real clock.
type Config struct {
	Clock      clockwork.Clock
	Races      RaceRepository
	Events     EventPublisher
	SeatCount  int
	TargetLaps int
}

// NewEngine builds an idle engine for the given seat count.
func NewEngine(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	e := &Engine{
		clock:      clock,
		races:      cfg.Races,
		events:     cfg.Events,
		seatCount:  cfg.SeatCount,
		targetLaps: cfg.TargetLaps,
		status:     models.RaceStatusIdle,
		runs:       make([]seatRun, cfg.SeatCount),
	}
	return e
}

// Status returns the current race status.
func (e *Engine) Status() models.RaceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Scheduled returns the pending start instant, or nil when no start is
// scheduled.
func (e *Engine) Scheduled() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scheduled == nil {
		return nil
	}
	t := *e.scheduled
	return &t
}

// CurrentHeat returns the heat the engine will run next (or is running).
func (e *Engine) CurrentHeat() uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentHeat
}

// SetCurrentHeat points the engine at a heat. Refused mid-race.
func (e *Engine) SetCurrentHeat(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == models.RaceStatusRunning {
		log.Warn().Str("heat_id", id.String()).Msg("ignoring heat change during running race")
		return
	}
	e.currentHeat = id
}

// Schedule arms a start after delay. An existing pending start is
// replaced. The engine moves to staging until the timer fires.
func (e *Engine) Schedule(ctx context.Context, delay time.Duration) error {
	e.mu.Lock()
	if e.status == models.RaceStatusRunning {
		e.mu.Unlock()
		return fmt.Errorf("cannot schedule while a race is running")
	}
	at := e.clock.Now().Add(delay)
	e.scheduled = &at
	e.status = models.RaceStatusStaging
	if e.startTimer != nil {
		stopAndDrainTimer(e.startTimer)
		close(e.startCancel)
	}
	timer := e.clock.NewTimer(delay)
	cancel := make(chan struct{})
	e.startTimer = timer
	e.startCancel = cancel
	e.mu.Unlock()

	// The cancel channel releases the goroutine when the pending start is
	// stopped or replaced; a stopped timer's channel never fires.
	go func() {
		select {
		case <-timer.Chan():
			e.start(ctx)
		case <-cancel:
		}
	}()

	e.publish(ctx, SubjectRaceScheduled, raceEvent{HeatID: e.CurrentHeat(), At: at})
	log.Info().Time("start_at", at).Dur("delay", delay).Msg("race start scheduled")
	return nil
}

// start flips the engine to running and zeroes the per-seat bookkeeping.
func (e *Engine) start(ctx context.Context) {
	e.mu.Lock()
	if e.status != models.RaceStatusStaging {
		// A manual stop or reschedule won the race against the timer.
		e.mu.Unlock()
		return
	}
	e.status = models.RaceStatusRunning
	e.scheduled = nil
	e.startTimer = nil
	e.startCancel = nil
	for i := range e.runs {
		rssi := e.runs[i].RSSI
		e.runs[i] = seatRun{RSSI: rssi}
	}
	heat := e.currentHeat
	now := e.clock.Now()
	e.mu.Unlock()

	e.publish(ctx, SubjectRaceStarted, raceEvent{HeatID: heat, At: now})
	log.Info().Str("heat_id", heat.String()).Msg("race started")
}

// Stop ends a running race. Stopping an already stopped race is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.status != models.RaceStatusRunning {
		if e.status == models.RaceStatusStaging && e.startTimer != nil {
			// Cancel a pending start.
			stopAndDrainTimer(e.startTimer)
			close(e.startCancel)
			e.startTimer = nil
			e.startCancel = nil
			e.scheduled = nil
			e.status = models.RaceStatusIdle
		}
		e.mu.Unlock()
		return nil
	}
	e.status = models.RaceStatusStopped
	heat := e.currentHeat
	now := e.clock.Now()
	e.mu.Unlock()

	e.publish(ctx, SubjectRaceStopped, raceEvent{HeatID: heat, At: now})
	log.Info().Str("heat_id", heat.String()).Msg("race stopped")
	return nil
}

// Save persists the finished race with its per-seat lap summary. Status
// is left untouched; persistence is not a transition.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	results, err := json.Marshal(e.runs)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("marshal race results: %w", err)
	}
	req := SaveRaceRequest{
		HeatID:    e.currentHeat,
		StoppedAt: e.clock.Now(),
		Results:   results,
	}
	e.mu.Unlock()

	saved, err := e.races.SaveRace(ctx, req)
	if err != nil {
		return fmt.Errorf("save race: %w", err)
	}

	e.publish(ctx, SubjectRaceSaved, raceEvent{HeatID: req.HeatID, At: req.StoppedAt})
	log.Info().Str("race_id", saved.ID.String()).Str("heat_id", req.HeatID.String()).Msg("race saved")
	return nil
}

// SeatsFinished reports which seats have completed their laps for the
// current race.
func (e *Engine) SeatsFinished() map[int]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	finished := make(map[int]bool, e.seatCount)
	for i := range e.runs {
		finished[i] = e.runs[i].Finished
	}
	return finished
}

// SimulateLap records a lap for a seat at the engine's current time.
// The engine, not the reporter, is the timestamp authority. Laps landing
// outside a running race are dropped with a warning.
func (e *Engine) SimulateLap(ctx context.Context, seat int) error {
	if seat < 0 || seat >= e.seatCount {
		return fmt.Errorf("seat %d out of range", seat)
	}

	e.mu.Lock()
	if e.status != models.RaceStatusRunning {
		e.mu.Unlock()
		log.Warn().Int("seat", seat).Msg("dropping lap outside a running race")
		return nil
	}
	now := e.clock.Now()
	run := &e.runs[seat]
	run.Laps = append(run.Laps, now)
	lapCount := len(run.Laps)
	if e.targetLaps > 0 && lapCount >= e.targetLaps {
		run.Finished = true
	}
	heat := e.currentHeat
	e.mu.Unlock()

	e.publish(ctx, SubjectLapRecorded, raceEvent{HeatID: heat, Seat: &seat, Lap: lapCount, At: now})
	log.Info().Int("seat", seat).Int("lap", lapCount).Msg("lap recorded")
	return nil
}

// SetRSSI tracks the latest reported signal strength per seat.
func (e *Engine) SetRSSI(seat, rssi int) {
	if seat < 0 || seat >= e.seatCount {
		return
	}
	e.mu.Lock()
	e.runs[seat].RSSI = rssi
	e.mu.Unlock()
}

// raceEvent is the payload published for every lifecycle subject.
type raceEvent struct {
	HeatID uuid.UUID `json:"heat_id"`
	Seat   *int      `json:"seat,omitempty"`
	Lap    int       `json:"lap,omitempty"`
	At     time.Time `json:"at"`
}

func (e *Engine) publish(ctx context.Context, subject string, ev raceEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, subject, ev); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("race event publish failed")
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel, per the
// time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
