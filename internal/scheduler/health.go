package scheduler

import (
	"sort"
	"sync"
	"time"
)

// HealthStatus is the last known state of one component, such as the login
// status of a profile on a site or the scheduled sweep.
type HealthStatus struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	LastCheck   time.Time `json:"lastCheck"`
	LastSuccess time.Time `json:"lastSuccess,omitempty"`
	LastError   error     `json:"-"`
	Message     string    `json:"message"`
}

// Health tracks the health of various components.
type Health struct {
	mu         sync.RWMutex
	components map[string]HealthStatus
	now        func() time.Time
}

// NewHealth creates a new health tracker.
func NewHealth() *Health {
	return &Health{
		components: make(map[string]HealthStatus),
		now:        time.Now,
	}
}

// SetHealthy marks a component as healthy.
func (h *Health) SetHealthy(component, message string) {
	h.update(component, func(s *HealthStatus, now time.Time) {
		s.Healthy = true
		s.LastSuccess = now
		s.LastError = nil
		s.Message = message
	})
}

// SetUnhealthy marks a component as unhealthy.
func (h *Health) SetUnhealthy(component string, err error) {
	h.update(component, func(s *HealthStatus, now time.Time) {
		s.Healthy = false
		s.LastError = err
		s.Message = err.Error()
	})
}

func (h *Health) update(component string, fn func(s *HealthStatus, now time.Time)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	s := h.components[component]
	s.Component = component
	s.LastCheck = now
	fn(&s, now)
	h.components[component] = s
}

// GetStatus returns the status of a component, or nil when it was never checked.
func (h *Health) GetStatus(component string) *HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.components[component]
	if !ok {
		return nil
	}
	return &s
}

// Snapshot returns every component status sorted by name.
func (h *Health) Snapshot() []HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]HealthStatus, 0, len(h.components))
	for _, s := range h.components {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// IsOverallHealthy returns true if all components are healthy.
func (h *Health) IsOverallHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.components {
		if !s.Healthy {
			return false
		}
	}
	return true
}
