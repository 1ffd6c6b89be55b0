package gateway

import "github.com/openfpv/flowsync/go/internal/flowstate"

// UI refresh events pushed when roster, heat or race data changes.
const (
	EventPilots      = "pilots"
	EventRaceStatus  = "race_status"
	EventCurrentHeat = "current_heat"
	EventHeats       = "heats"
	EventClasses     = "classes"
	EventMessage     = "priority_message"
)

// UINotifier implements the session manager's Notifier by broadcasting
// refresh hints to every connected client.
type UINotifier struct {
	broadcast flowstate.Broadcaster
}

func NewUINotifier(broadcast flowstate.Broadcaster) *UINotifier {
	return &UINotifier{broadcast: broadcast}
}

var _ flowstate.Notifier = (*UINotifier)(nil)

func (n *UINotifier) PilotsChanged()      { n.broadcast.Broadcast(EventPilots, nil) }
func (n *UINotifier) RaceStatusChanged()  { n.broadcast.Broadcast(EventRaceStatus, nil) }
func (n *UINotifier) CurrentHeatChanged() { n.broadcast.Broadcast(EventCurrentHeat, nil) }
func (n *UINotifier) HeatsChanged()       { n.broadcast.Broadcast(EventHeats, nil) }
func (n *UINotifier) ClassesChanged()     { n.broadcast.Broadcast(EventClasses, nil) }

func (n *UINotifier) Message(text string) {
	n.broadcast.Broadcast(EventMessage, map[string]string{"message": text})
}
