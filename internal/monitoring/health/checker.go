// Package health runs per-network health probes and serves their latest results.
package health

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/chain"
)

const (
	DefaultStallAfter  = 2 * time.Minute
	DefaultSlowLatency = 2 * time.Second
)

// Config tunes the thresholds of one network's checks.
type Config struct {
	// StallAfter is how long the head may stay unchanged before head production is unhealthy.
	StallAfter time.Duration

	// SlowLatency marks the connection check degraded when the head query is slower.
	SlowLatency time.Duration

	// FeeCeiling marks the fee check degraded when the observed price exceeds it. Nil disables.
	FeeCeiling *big.Int
}

type headMark struct {
	head uint64
	at   time.Time
}

// Checker runs the connection, head production, sync and fee level probes for one network.
// It keeps the last observed head between runs to detect stalls.
type Checker struct {
	cfg Config
	now func() time.Time

	mu   sync.Mutex
	last *headMark
}

// NewChecker creates a checker. Zero thresholds fall back to defaults.
func NewChecker(cfg Config) *Checker {
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = DefaultStallAfter
	}
	if cfg.SlowLatency <= 0 {
		cfg.SlowLatency = DefaultSlowLatency
	}
	return &Checker{cfg: cfg, now: time.Now}
}

// Check probes client and returns a full snapshot. It satisfies connection.HealthChecker.
func (c *Checker) Check(ctx context.Context, network domain.NetworkID, client chain.Client) domain.HealthCheckResult {
	conn, head, ok := c.checkConnection(ctx, client)

	checks := []domain.CheckResult{conn}
	if ok {
		checks = append(checks,
			c.checkHeadProduction(head),
			c.checkSync(ctx, client),
			c.checkFeeLevel(ctx, client),
		)
	} else {
		for _, name := range []domain.CheckName{domain.CheckHeadProduction, domain.CheckSync, domain.CheckFeeLevel} {
			checks = append(checks, domain.CheckResult{
				Name:   name,
				Status: domain.HealthUnhealthy,
				Error:  "skipped: no connection",
			})
		}
	}

	return domain.HealthCheckResult{
		Network:   network,
		Overall:   Overall(checks),
		Timestamp: c.now(),
		Checks:    checks,
	}
}

func (c *Checker) checkConnection(ctx context.Context, client chain.Client) (domain.CheckResult, uint64, bool) {
	start := time.Now()
	head, err := chain.Await(ctx, client.GetHead)
	res := domain.CheckResult{
		Name:    domain.CheckConnection,
		Status:  domain.HealthHealthy,
		Latency: time.Since(start),
	}
	if err != nil {
		res.Status = domain.HealthCritical
		res.Error = err.Error()
		return res, 0, false
	}
	if res.Latency > c.cfg.SlowLatency {
		res.Status = domain.HealthDegraded
		res.Detail = fmt.Sprintf("slow head query (%s)", res.Latency.Round(time.Millisecond))
	}
	return res, head, true
}

func (c *Checker) checkHeadProduction(head uint64) domain.CheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	res := domain.CheckResult{Name: domain.CheckHeadProduction, Status: domain.HealthHealthy}

	switch {
	case c.last == nil || head > c.last.head:
		c.last = &headMark{head: head, at: now}
		res.Detail = fmt.Sprintf("head %d", head)
	case head < c.last.head:
		res.Status = domain.HealthDegraded
		res.Detail = fmt.Sprintf("head went back from %d to %d", c.last.head, head)
		c.last = &headMark{head: head, at: now}
	default:
		idle := now.Sub(c.last.at)
		res.Detail = fmt.Sprintf("head %d unchanged for %s", head, idle.Round(time.Second))
		if idle > c.cfg.StallAfter {
			res.Status = domain.HealthUnhealthy
		}
	}
	return res
}

func (c *Checker) checkSync(ctx context.Context, client chain.Client) domain.CheckResult {
	res := domain.CheckResult{Name: domain.CheckSync, Status: domain.HealthHealthy}

	sr, ok := client.(chain.SyncReporter)
	if !ok {
		res.Detail = "not reported"
		return res
	}

	start := time.Now()
	syncing, err := chain.Await(ctx, sr.IsSyncing)
	res.Latency = time.Since(start)
	switch {
	case err != nil:
		res.Status = domain.HealthUnhealthy
		res.Error = err.Error()
	case syncing:
		res.Status = domain.HealthDegraded
		res.Detail = "node is syncing"
	}
	return res
}

func (c *Checker) checkFeeLevel(ctx context.Context, client chain.Client) domain.CheckResult {
	res := domain.CheckResult{Name: domain.CheckFeeLevel, Status: domain.HealthHealthy}

	start := time.Now()
	fee, err := chain.Await(ctx, client.GetFeeLevel)
	res.Latency = time.Since(start)
	if err != nil {
		res.Status = domain.HealthUnhealthy
		res.Error = err.Error()
		return res
	}
	if fee == nil || fee.Price == nil {
		res.Detail = "no fee observed"
		return res
	}

	res.Detail = fmt.Sprintf("%s %s", fee.Price, fee.Unit)
	if c.cfg.FeeCeiling != nil && fee.Price.Cmp(c.cfg.FeeCeiling) > 0 {
		res.Status = domain.HealthDegraded
		res.Detail += fmt.Sprintf(" above ceiling %s", c.cfg.FeeCeiling)
	}
	return res
}

// Overall folds per-check statuses into one:
// a failed connection is critical, two or more unhealthy checks are unhealthy,
// any unhealthy or degraded check is degraded.
func Overall(checks []domain.CheckResult) domain.HealthStatus {
	unhealthy, degraded := 0, 0
	for _, c := range checks {
		if c.Name == domain.CheckConnection && (c.Status == domain.HealthCritical || c.Status == domain.HealthUnhealthy) {
			return domain.HealthCritical
		}
		switch c.Status {
		case domain.HealthUnhealthy, domain.HealthCritical:
			unhealthy++
		case domain.HealthDegraded:
			degraded++
		}
	}

	switch {
	case unhealthy >= 2:
		return domain.HealthUnhealthy
	case unhealthy > 0 || degraded > 0:
		return domain.HealthDegraded
	default:
		return domain.HealthHealthy
	}
}
