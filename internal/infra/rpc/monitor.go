package rpc

import (
	"strings"
	"sync"
	"time"
)

// ProviderStatus represents the health state of a provider.
type ProviderStatus int

const (
	StatusHealthy   ProviderStatus = iota // Provider is working normally
	StatusDegraded                        // Provider is slow but working
	StatusThrottled                       // Provider is rate limiting
	StatusBlocked                         // Provider has blocked this client
)

func (s ProviderStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MonitorStats holds monitoring statistics for a provider.
type MonitorStats struct {
	Status           ProviderStatus
	AverageLatency   time.Duration
	ThrottleCount429 int
	ThrottleCount403 int
	Requests         int
	Failures         int
}

// ProviderMonitor tracks provider latency and throttling.
type ProviderMonitor struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	requests int
	failures int

	status429Count     int
	status403Count     int
	throttlePatterns   []string
	lastThrottleTime   time.Time
	retryAfterDuration time.Duration

	slowResponseThreshold time.Duration
	now                   func() time.Time
}

// NewProviderMonitor creates a new monitor with default settings.
func NewProviderMonitor() *ProviderMonitor {
	return &ProviderMonitor{
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"daily request count exceeded",
			"project rate limit",
			"monthly quota exceeded",
		},
		slowResponseThreshold: 3 * time.Second,
		now:                   time.Now,
	}
}

// RecordRequest records a successful request with its latency.
func (pm *ProviderMonitor) RecordRequest(latency time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.requests++
	pm.recentLatencies = append(pm.recentLatencies, latency)
	if len(pm.recentLatencies) > pm.maxLatencyWindow {
		pm.recentLatencies = pm.recentLatencies[1:]
	}
}

// RecordFailure records a failed request.
func (pm *ProviderMonitor) RecordFailure() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.requests++
	pm.failures++
}

// RecordThrottle records a rate limiting or blocking response.
func (pm *ProviderMonitor) RecordThrottle(statusCode int, retryAfter time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.lastThrottleTime = pm.now()

	switch statusCode {
	case 429:
		pm.status429Count++
		if retryAfter <= 0 {
			retryAfter = time.Minute
		}
		pm.retryAfterDuration = retryAfter
	case 403:
		pm.status403Count++
		pm.retryAfterDuration = 10 * time.Minute // Longer for IP block
	}
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func (pm *ProviderMonitor) DetectThrottlePattern(message string) bool {
	lowerMsg := strings.ToLower(message)
	for _, pattern := range pm.throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

// Status returns the current status of the provider.
func (pm *ProviderMonitor) Status() ProviderStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.statusLocked()
}

func (pm *ProviderMonitor) statusLocked() ProviderStatus {
	inBackoff := pm.now().Sub(pm.lastThrottleTime) < pm.retryAfterDuration

	if pm.status403Count > 0 && inBackoff {
		return StatusBlocked
	}
	if pm.status429Count > 0 && inBackoff {
		return StatusThrottled
	}
	if len(pm.recentLatencies) > 10 && pm.averageLocked() > pm.slowResponseThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

// RetryAfter returns remaining time before calls are allowed again.
func (pm *ProviderMonitor) RetryAfter() time.Duration {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	remaining := pm.retryAfterDuration - pm.now().Sub(pm.lastThrottleTime)
	return max(remaining, 0)
}

func (pm *ProviderMonitor) averageLocked() time.Duration {
	if len(pm.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range pm.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(pm.recentLatencies))
}

// Stats returns current monitoring statistics.
func (pm *ProviderMonitor) Stats() MonitorStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return MonitorStats{
		Status:           pm.statusLocked(),
		AverageLatency:   pm.averageLocked(),
		ThrottleCount429: pm.status429Count,
		ThrottleCount403: pm.status403Count,
		Requests:         pm.requests,
		Failures:         pm.failures,
	}
}
