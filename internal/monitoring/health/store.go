package health

import (
	"maps"
	"slices"
	"sync"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/monitoring/events"
	"github.com/vietddude/txwatch/internal/monitoring/metrics"
)

// Store keeps the latest health result per network. A newer result replaces the old one.
type Store struct {
	mu       sync.RWMutex
	latest   map[domain.NetworkID]domain.HealthCheckResult
	watchers []func(domain.HealthCheckResult)
}

func NewStore() *Store {
	return &Store{latest: make(map[domain.NetworkID]domain.HealthCheckResult)}
}

// Subscribe records every health:checked event published on bus.
func (s *Store) Subscribe(bus *events.Bus) events.SubscriptionID {
	return bus.On(domain.EventHealthChecked, func(e domain.Event) {
		if e.Health != nil {
			s.Put(*e.Health)
		}
	})
}

// Watch registers fn to run after each Put.
func (s *Store) Watch(fn func(domain.HealthCheckResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Put supersedes the stored result for r.Network.
func (s *Store) Put(r domain.HealthCheckResult) {
	r.Checks = slices.Clone(r.Checks)

	s.mu.Lock()
	s.latest[r.Network] = r
	watchers := slices.Clone(s.watchers)
	s.mu.Unlock()

	metrics.SetHealthStatus(string(r.Network), string(r.Overall))
	for _, fn := range watchers {
		fn(r)
	}
}

// Get returns the latest result for network.
func (s *Store) Get(network domain.NetworkID) (domain.HealthCheckResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.latest[network]
	if ok {
		r.Checks = slices.Clone(r.Checks)
	}
	return r, ok
}

// All returns the latest results keyed by network.
func (s *Store) All() map[domain.NetworkID]domain.HealthCheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := maps.Clone(s.latest)
	for k, r := range out {
		r.Checks = slices.Clone(r.Checks)
		out[k] = r
	}
	return out
}

var severity = map[domain.HealthStatus]int{
	domain.HealthHealthy:   0,
	domain.HealthDegraded:  1,
	domain.HealthUnhealthy: 2,
	domain.HealthCritical:  3,
}

// Worst returns the worst overall status across networks, healthy when empty.
func (s *Store) Worst() domain.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	worst := domain.HealthHealthy
	for _, r := range s.latest {
		if severity[r.Overall] > severity[worst] {
			worst = r.Overall
		}
	}
	return worst
}
