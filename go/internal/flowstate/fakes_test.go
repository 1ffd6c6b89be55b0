package flowstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/openfpv/flowsync/go/internal/models"
)

// Test doubles for every collaborator the manager takes.

type fakeRoster struct {
	mu      sync.Mutex
	pilots  []*models.Pilot
	created int
}

func (f *fakeRoster) PilotByExternalID(_ context.Context, externalID string) (*models.Pilot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pilots {
		if p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRoster) CreatePilot(_ context.Context, req CreatePilotRequest) (*models.Pilot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &models.Pilot{ID: uuid.New(), Name: req.Name, Callsign: req.Callsign}
	f.pilots = append(f.pilots, p)
	f.created++
	cp := *p
	return &cp, nil
}

func (f *fakeRoster) SetExternalID(_ context.Context, pilotID uuid.UUID, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pilots {
		if p.ID == pilotID {
			p.ExternalID = externalID
			return nil
		}
	}
	return fmt.Errorf("pilot %s not found", pilotID)
}

func (f *fakeRoster) UpdateCallsign(_ context.Context, pilotID uuid.UUID, callsign string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pilots {
		if p.ID == pilotID {
			p.Callsign = callsign
			return nil
		}
	}
	return fmt.Errorf("pilot %s not found", pilotID)
}

func (f *fakeRoster) addPilot(externalID, callsign string) *models.Pilot {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &models.Pilot{ID: uuid.New(), Name: callsign, Callsign: callsign, ExternalID: externalID}
	f.pilots = append(f.pilots, p)
	return p
}

type fakeHeats struct {
	mu           sync.Mutex
	heats        map[uuid.UUID]*models.Heat
	slots        map[uuid.UUID][]models.HeatSlot
	order        []uuid.UUID
	classID      uuid.UUID
	created      int
	classEnsures int
}

func newFakeHeats(classID uuid.UUID) (*fakeHeats, uuid.UUID) {
	f := &fakeHeats{
		heats:   make(map[uuid.UUID]*models.Heat),
		slots:   make(map[uuid.UUID][]models.HeatSlot),
		classID: classID,
	}
	h, _ := f.CreateHeat(context.Background(), classID)
	f.created = 0
	return f, h.ID
}

// clear empties the repository, simulating a fresh install.
func (f *fakeHeats) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heats = make(map[uuid.UUID]*models.Heat)
	f.slots = make(map[uuid.UUID][]models.HeatSlot)
	f.order = nil
	f.created = 0
}

func (f *fakeHeats) LatestHeat(_ context.Context) (*models.Heat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.order) == 0 {
		return nil, nil
	}
	cp := *f.heats[f.order[len(f.order)-1]]
	return &cp, nil
}

func (f *fakeHeats) EnsureDefaultClass(_ context.Context) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classEnsures++
	return f.classID, nil
}

func (f *fakeHeats) HeatByID(_ context.Context, id uuid.UUID) (*models.Heat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.heats[id]
	if !ok {
		return nil, fmt.Errorf("heat %s not found", id)
	}
	cp := *h
	return &cp, nil
}

func (f *fakeHeats) CreateHeat(_ context.Context, classID uuid.UUID) (*models.Heat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &models.Heat{ID: uuid.New(), ClassID: classID}
	f.heats[h.ID] = h
	slots := make([]models.HeatSlot, MaxSeats)
	for i := range slots {
		slots[i] = models.HeatSlot{ID: uuid.New(), HeatID: h.ID, SeatIndex: i}
	}
	f.slots[h.ID] = slots
	f.order = append(f.order, h.ID)
	f.created++
	cp := *h
	return &cp, nil
}

func (f *fakeHeats) SlotsByHeat(_ context.Context, heatID uuid.UUID) ([]models.HeatSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots, ok := f.slots[heatID]
	if !ok {
		return nil, fmt.Errorf("heat %s not found", heatID)
	}
	out := make([]models.HeatSlot, len(slots))
	copy(out, slots)
	return out, nil
}

func (f *fakeHeats) AssignSlot(_ context.Context, slotID uuid.UUID, pilotID uuid.UUID) error {
	return f.setSlot(slotID, pilotID)
}

func (f *fakeHeats) ClearSlot(_ context.Context, slotID uuid.UUID) error {
	return f.setSlot(slotID, uuid.Nil)
}

func (f *fakeHeats) setSlot(slotID, pilotID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for heatID := range f.slots {
		for i := range f.slots[heatID] {
			if f.slots[heatID][i].ID == slotID {
				f.slots[heatID][i].PilotID = pilotID
				return nil
			}
		}
	}
	return fmt.Errorf("slot %s not found", slotID)
}

// seatPilot force-binds a pilot into a seat of a heat, for test setup.
func (f *fakeHeats) seatPilot(heatID uuid.UUID, seat int, pilotID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[heatID][seat].PilotID = pilotID
}

func (f *fakeHeats) slotPilot(heatID uuid.UUID, seat int) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[heatID][seat].PilotID
}

type fakeRace struct {
	mu        sync.Mutex
	status    models.RaceStatus
	scheduled *time.Time
	heat      uuid.UUID
	finished  map[int]bool

	stops     int
	saves     int
	schedules []time.Duration
	laps      []int
	rssi      map[int]int
}

func newFakeRace(heatID uuid.UUID) *fakeRace {
	return &fakeRace{
		heat:     heatID,
		finished: make(map[int]bool),
		rssi:     make(map[int]int),
	}
}

func (f *fakeRace) Status() models.RaceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeRace) setStatus(s models.RaceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *fakeRace) Scheduled() *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduled
}

func (f *fakeRace) CurrentHeat() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heat
}

func (f *fakeRace) SetCurrentHeat(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heat = id
}

func (f *fakeRace) Schedule(_ context.Context, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	at := time.Now().Add(delay)
	f.scheduled = &at
	f.schedules = append(f.schedules, delay)
	return nil
}

func (f *fakeRace) Stop(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = models.RaceStatusStopped
	f.stops++
	return nil
}

func (f *fakeRace) Save(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeRace) SeatsFinished() map[int]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]bool, len(f.finished))
	for k, v := range f.finished {
		out[k] = v
	}
	return out
}

func (f *fakeRace) setFinished(seat int, done bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[seat] = done
}

func (f *fakeRace) SimulateLap(_ context.Context, seat int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.laps = append(f.laps, seat)
	return nil
}

func (f *fakeRace) lapSeats() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.laps))
	copy(out, f.laps)
	return out
}

func (f *fakeRace) SetRSSI(seat, rssi int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rssi[seat] = rssi
}

type fakeNotifier struct {
	mu          sync.Mutex
	pilots      int
	raceStatus  int
	currentHeat int
	heatList    int
	classList   int
	messages    []string
}

func (f *fakeNotifier) PilotsChanged()      { f.mu.Lock(); f.pilots++; f.mu.Unlock() }
func (f *fakeNotifier) RaceStatusChanged()  { f.mu.Lock(); f.raceStatus++; f.mu.Unlock() }
func (f *fakeNotifier) CurrentHeatChanged() { f.mu.Lock(); f.currentHeat++; f.mu.Unlock() }
func (f *fakeNotifier) HeatsChanged()       { f.mu.Lock(); f.heatList++; f.mu.Unlock() }
func (f *fakeNotifier) ClassesChanged()     { f.mu.Lock(); f.classList++; f.mu.Unlock() }

func (f *fakeNotifier) Message(text string) {
	f.mu.Lock()
	f.messages = append(f.messages, text)
	f.mu.Unlock()
}

func (f *fakeNotifier) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type sentEvent struct {
	ClientID string
	Event    string
	Payload  any
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (f *fakeBroadcaster) SendTo(clientID string, event string, payload any) {
	f.mu.Lock()
	f.sent = append(f.sent, sentEvent{ClientID: clientID, Event: event, Payload: payload})
	f.mu.Unlock()
}

func (f *fakeBroadcaster) Broadcast(event string, payload any) {
	f.mu.Lock()
	f.sent = append(f.sent, sentEvent{Event: event, Payload: payload})
	f.mu.Unlock()
}

func (f *fakeBroadcaster) events(name string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, s := range f.sent {
		if s.Event == name {
			out = append(out, s)
		}
	}
	return out
}

// memOptions is an in-memory OptionStore falling back to the registered
// defaults, mirroring the lazy-default behavior of the real store.
type memOptions struct {
	mu       sync.Mutex
	values   map[string]string
	defaults map[string]string
}

func newMemOptions() *memOptions {
	return &memOptions{
		values:   make(map[string]string),
		defaults: OptionDefaults(),
	}
}

func (o *memOptions) Option(_ context.Context, name string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.values[name]; ok {
		return v, nil
	}
	if v, ok := o.defaults[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown option %s", name)
}

func (o *memOptions) SetOption(_ context.Context, name, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[name] = value
	return nil
}

// testEnv bundles a manager with all its doubles.
type testEnv struct {
	clock    *clockwork.FakeClock
	manager  *Manager
	roster   *fakeRoster
	heats    *fakeHeats
	race     *fakeRace
	options  *memOptions
	notifier *fakeNotifier
	sent     *fakeBroadcaster
	heatID   uuid.UUID
	classID  uuid.UUID
}

func newTestEnv() *testEnv {
	clock := clockwork.NewFakeClock()
	classID := uuid.New()
	heats, heatID := newFakeHeats(classID)
	env := &testEnv{
		clock:    clock,
		roster:   &fakeRoster{},
		heats:    heats,
		race:     newFakeRace(heatID),
		options:  newMemOptions(),
		notifier: &fakeNotifier{},
		sent:     &fakeBroadcaster{},
		heatID:   heatID,
		classID:  classID,
	}
	env.manager = NewManager(Config{
		Clock:       clock,
		Roster:      env.roster,
		Heats:       env.heats,
		Race:        env.race,
		Options:     env.options,
		Notifier:    env.notifier,
		Broadcaster: env.sent,
	})
	return env
}
