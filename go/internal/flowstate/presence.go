package flowstate

// ConnectedSeats reports, per seat, whether an update arrived within
// UpdateTimeout. Evaluating presence is also what cleans up after an
// absent seat: any seat found stale has its live state reset to the
// placeholder, so clients stop rendering a craft nobody is flying.
// Repeated polls are idempotent once a seat is stale.
func (m *Manager) ConnectedSeats() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	connected := make([]bool, MaxSeats)
	for i := range m.seats {
		if now.Sub(m.seats[i].lastUpdate) < UpdateTimeout {
			connected[i] = true
			continue
		}
		m.states[i] = PlaceholderState()
	}
	return connected
}
