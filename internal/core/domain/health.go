package domain

import "time"

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthCritical  HealthStatus = "critical"
)

type CheckName string

const (
	CheckConnection     CheckName = "connection"
	CheckHeadProduction CheckName = "head_production"
	CheckSync           CheckName = "sync"
	CheckFeeLevel       CheckName = "fee_level"
)

// CheckResult is the outcome of a single health probe.
type CheckResult struct {
	Name    CheckName     `json:"name"`
	Status  HealthStatus  `json:"status"`
	Latency time.Duration `json:"latency,omitempty"`
	Error   string        `json:"error,omitempty"`
	Detail  string        `json:"detail,omitempty"`
}

// HealthCheckResult is a full health snapshot of one network.
// A newer result supersedes the previous one; results are never merged.
type HealthCheckResult struct {
	Network   NetworkID     `json:"network"`
	Overall   HealthStatus  `json:"overall"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []CheckResult `json:"checks"`
}

// Check returns the named probe result.
func (r *HealthCheckResult) Check(name CheckName) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}
