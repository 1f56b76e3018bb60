package health

import (
	"slices"
	"sync"
	"time"
)

// Observation is the last probe result for one service together with how
// long the service has held its current level.
type Observation struct {
	Status   Status    `json:"status"`
	Since    time.Time `json:"since"`
	Failures int       `json:"consecutive_failures"`
}

// Monitor remembers the last observation per service so the reporter can
// tell a level change from a repeat of the same result.
type Monitor struct {
	mu   sync.RWMutex
	seen map[string]Observation
}

func NewMonitor() *Monitor {
	return &Monitor{seen: make(map[string]Observation)}
}

// Record stores st for service and reports whether its level changed. The
// first observation of a service counts as a change.
func (m *Monitor) Record(service string, st Status) bool {
	st.Component = service
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, known := m.seen[service]
	obs := Observation{Status: st, Since: st.Timestamp}
	changed := !known || prev.Status.Status != st.Status
	if !changed {
		obs.Since = prev.Since
	}
	if !st.IsHealthy() {
		obs.Failures = prev.Failures + 1
	}
	m.seen[service] = obs
	return changed
}

// Last returns the most recent observation for service.
func (m *Monitor) Last(service string) (Observation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obs, ok := m.seen[service]
	return obs, ok
}

// Services lists the observed service names in sorted order.
func (m *Monitor) Services() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.seen))
	for name := range m.seen {
		names = append(names, name)
	}
	m.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Overall folds the last observation of every service into one status.
func (m *Monitor) Overall(system string) Status {
	m.mu.RLock()
	statuses := make([]Status, 0, len(m.seen))
	for _, obs := range m.seen {
		statuses = append(statuses, obs.Status)
	}
	m.mu.RUnlock()
	return Aggregate(system, statuses)
}
