package racecontrol

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/openfpv/flowsync/go/internal/models"
)

type fakeRaceRepo struct {
	mu    sync.Mutex
	saved []SaveRaceRequest
}

func (f *fakeRaceRepo) SaveRace(_ context.Context, req SaveRaceRequest) (*models.SavedRace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, req)
	return &models.SavedRace{ID: uuid.New(), HeatID: req.HeatID, StoppedAt: req.StoppedAt, Results: req.Results}, nil
}

func (f *fakeRaceRepo) requests() []SaveRaceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SaveRaceRequest, len(f.saved))
	copy(out, f.saved)
	return out
}

type fakeEvents struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeEvents) Publish(_ context.Context, subject string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeEvents) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func newTestEngine(targetLaps int) (*Engine, *clockwork.FakeClock, *fakeRaceRepo, *fakeEvents) {
	clock := clockwork.NewFakeClock()
	repo := &fakeRaceRepo{}
	events := &fakeEvents{}
	engine := NewEngine(Config{
		Clock:      clock,
		Races:      repo,
		Events:     events,
		SeatCount:  8,
		TargetLaps: targetLaps,
	})
	return engine, clock, repo, events
}

func waitForStatus(t *testing.T, e *Engine, want models.RaceStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never reached %v, still %v", want, e.Status())
}

// startRace drives an engine from idle into running via the scheduler.
func startRace(t *testing.T, e *Engine, clock *clockwork.FakeClock) {
	t.Helper()
	if err := e.Schedule(context.Background(), time.Second); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	waitForStatus(t, e, models.RaceStatusRunning)
}

func TestScheduleStagesThenStarts(t *testing.T) {
	engine, clock, _, events := newTestEngine(3)
	ctx := context.Background()
	engine.SetCurrentHeat(uuid.New())

	if err := engine.Schedule(ctx, 30*time.Second); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := engine.Status(); got != models.RaceStatusStaging {
		t.Fatalf("status = %v, want staging", got)
	}
	scheduled := engine.Scheduled()
	if scheduled == nil {
		t.Fatal("Scheduled() = nil while a start is pending")
	}
	if want := clock.Now().Add(30 * time.Second); !scheduled.Equal(want) {
		t.Errorf("scheduled = %v, want %v", scheduled, want)
	}

	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)
	waitForStatus(t, engine, models.RaceStatusRunning)

	if engine.Scheduled() != nil {
		t.Error("Scheduled() still set after the race started")
	}
	if events.count(SubjectRaceScheduled) != 1 || events.count(SubjectRaceStarted) != 1 {
		t.Errorf("events = %v, want one scheduled and one started", events.subjects)
	}
}

func TestStopCancelsPendingStart(t *testing.T) {
	engine, clock, _, events := newTestEngine(3)
	ctx := context.Background()

	if err := engine.Schedule(ctx, 30*time.Second); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	clock.BlockUntil(1)
	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := engine.Status(); got != models.RaceStatusIdle {
		t.Fatalf("status = %v, want idle after cancelling a pending start", got)
	}
	if engine.Scheduled() != nil {
		t.Error("Scheduled() still set after cancellation")
	}

	// The cancelled timer must not start anything when its deadline
	// passes.
	clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if got := engine.Status(); got != models.RaceStatusIdle {
		t.Errorf("status = %v after the cancelled deadline, want idle", got)
	}
	if events.count(SubjectRaceStarted) != 0 {
		t.Error("cancelled start still published a started event")
	}
}

func TestRescheduleReplacesPendingStart(t *testing.T) {
	engine, clock, _, events := newTestEngine(3)
	ctx := context.Background()

	if err := engine.Schedule(ctx, 30*time.Second); err != nil {
		t.Fatalf("first Schedule: %v", err)
	}
	clock.BlockUntil(1)
	if err := engine.Schedule(ctx, 10*time.Second); err != nil {
		t.Fatalf("second Schedule: %v", err)
	}
	clock.BlockUntil(1)

	clock.Advance(10 * time.Second)
	waitForStatus(t, engine, models.RaceStatusRunning)

	clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if events.count(SubjectRaceStarted) != 1 {
		t.Errorf("started events = %d, want 1 after reschedule", events.count(SubjectRaceStarted))
	}
}

func TestCancelledStartsReleaseTheirGoroutines(t *testing.T) {
	engine, clock, _, _ := newTestEngine(3)
	ctx := context.Background()

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		// One goroutine per pending start, one cancelled by the
		// replacing Schedule and one by Stop.
		if err := engine.Schedule(ctx, time.Hour); err != nil {
			t.Fatalf("Schedule #%d: %v", i, err)
		}
		if err := engine.Schedule(ctx, time.Hour); err != nil {
			t.Fatalf("replacing Schedule #%d: %v", i, err)
		}
		clock.BlockUntil(1)
		if err := engine.Stop(ctx); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("goroutines grew from %d to %d across cancelled starts", before, runtime.NumGoroutine())
}

func TestStopRunningRaceOnce(t *testing.T) {
	engine, clock, _, events := newTestEngine(3)
	ctx := context.Background()
	startRace(t, engine, clock)

	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := engine.Status(); got != models.RaceStatusStopped {
		t.Fatalf("status = %v, want stopped", got)
	}

	// Stopping again is a no-op.
	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if events.count(SubjectRaceStopped) != 1 {
		t.Errorf("stopped events = %d, want 1", events.count(SubjectRaceStopped))
	}
}

func TestLapsOutsideRunningRaceAreDropped(t *testing.T) {
	engine, _, _, events := newTestEngine(3)
	ctx := context.Background()

	if err := engine.SimulateLap(ctx, 0); err != nil {
		t.Fatalf("SimulateLap: %v", err)
	}
	if events.count(SubjectLapRecorded) != 0 {
		t.Error("idle engine still published a lap event")
	}
	if engine.SeatsFinished()[0] {
		t.Error("dropped lap marked the seat finished")
	}
}

func TestSimulateLapRejectsOutOfRangeSeat(t *testing.T) {
	engine, clock, _, _ := newTestEngine(3)
	ctx := context.Background()
	startRace(t, engine, clock)

	if err := engine.SimulateLap(ctx, 8); err == nil {
		t.Error("SimulateLap accepted an out-of-range seat")
	}
	if err := engine.SimulateLap(ctx, -1); err == nil {
		t.Error("SimulateLap accepted a negative seat")
	}
}

func TestTargetLapsMarksSeatFinished(t *testing.T) {
	engine, clock, _, events := newTestEngine(3)
	ctx := context.Background()
	startRace(t, engine, clock)

	for lap := 0; lap < 3; lap++ {
		if engine.SeatsFinished()[0] {
			t.Fatalf("seat 0 finished after only %d laps", lap)
		}
		if err := engine.SimulateLap(ctx, 0); err != nil {
			t.Fatalf("SimulateLap: %v", err)
		}
	}

	finished := engine.SeatsFinished()
	if !finished[0] {
		t.Error("seat 0 not finished after reaching the lap target")
	}
	for seat := 1; seat < 8; seat++ {
		if finished[seat] {
			t.Errorf("seat %d finished without racing", seat)
		}
	}
	if events.count(SubjectLapRecorded) != 3 {
		t.Errorf("lap events = %d, want 3", events.count(SubjectLapRecorded))
	}
}

func TestStartResetsLapsButKeepsRSSI(t *testing.T) {
	engine, clock, _, _ := newTestEngine(3)
	ctx := context.Background()

	engine.SetRSSI(2, 77)
	startRace(t, engine, clock)
	if err := engine.SimulateLap(ctx, 2); err != nil {
		t.Fatalf("SimulateLap: %v", err)
	}
	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Next race starts with a clean lap sheet for every seat.
	startRace(t, engine, clock)
	engine.mu.Lock()
	laps := len(engine.runs[2].Laps)
	rssi := engine.runs[2].RSSI
	engine.mu.Unlock()
	if laps != 0 {
		t.Errorf("seat 2 carried %d laps into the new race", laps)
	}
	if rssi != 77 {
		t.Errorf("seat 2 rssi = %d across races, want 77", rssi)
	}
}

func TestSavePersistsResultsWithoutTransition(t *testing.T) {
	engine, clock, repo, events := newTestEngine(2)
	ctx := context.Background()
	heatID := uuid.New()
	engine.SetCurrentHeat(heatID)
	engine.SetRSSI(0, 55)

	startRace(t, engine, clock)
	for lap := 0; lap < 2; lap++ {
		clock.Advance(10 * time.Second)
		if err := engine.SimulateLap(ctx, 0); err != nil {
			t.Fatalf("SimulateLap: %v", err)
		}
	}
	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := engine.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := engine.Status(); got != models.RaceStatusStopped {
		t.Errorf("status = %v after save, want stopped", got)
	}

	reqs := repo.requests()
	if len(reqs) != 1 {
		t.Fatalf("repository saw %d saves, want 1", len(reqs))
	}
	if reqs[0].HeatID != heatID {
		t.Errorf("saved heat = %s, want %s", reqs[0].HeatID, heatID)
	}

	var runs []seatRun
	if err := json.Unmarshal(reqs[0].Results, &runs); err != nil {
		t.Fatalf("results do not unmarshal: %v", err)
	}
	if len(runs) != 8 {
		t.Fatalf("results cover %d seats, want 8", len(runs))
	}
	if len(runs[0].Laps) != 2 || !runs[0].Finished {
		t.Errorf("seat 0 run = %+v, want 2 laps and finished", runs[0])
	}
	if runs[0].RSSI != 55 {
		t.Errorf("seat 0 rssi = %d, want 55", runs[0].RSSI)
	}

	if events.count(SubjectRaceSaved) != 1 {
		t.Errorf("saved events = %d, want 1", events.count(SubjectRaceSaved))
	}
}

func TestScheduleRefusedWhileRunning(t *testing.T) {
	engine, clock, _, _ := newTestEngine(3)
	ctx := context.Background()
	startRace(t, engine, clock)

	if err := engine.Schedule(ctx, time.Second); err == nil {
		t.Error("Schedule accepted while a race was running")
	}
}

func TestSetCurrentHeatRefusedWhileRunning(t *testing.T) {
	engine, clock, _, _ := newTestEngine(3)
	original := uuid.New()
	engine.SetCurrentHeat(original)
	startRace(t, engine, clock)

	engine.SetCurrentHeat(uuid.New())
	if got := engine.CurrentHeat(); got != original {
		t.Errorf("current heat changed to %s mid-race, want %s", got, original)
	}
}
