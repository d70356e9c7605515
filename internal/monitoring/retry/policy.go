// Package retry holds the backoff schedule shared by connection and transaction retries.
package retry

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Policy defines retry behavior.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxRetries: 3,
	BaseDelay:  1 * time.Second,
	MaxDelay:   30 * time.Second,
	Multiplier: 2.0,
}

// Validate rejects schedules that would never wait or never end.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("base delay %v exceeds max delay %v", p.BaseDelay, p.MaxDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1, got %v", p.Multiplier)
	}
	return nil
}

// Backoff returns min(MaxDelay, BaseDelay * Multiplier^attempt) for a 0-indexed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Linear returns BaseDelay * k, the wait before the k-th transaction retry.
func (p Policy) Linear(k int) time.Duration {
	return p.BaseDelay * time.Duration(k)
}

// Tunables is the runtime-adjustable retry policy shared by the engine's components.
type Tunables struct {
	p atomic.Pointer[Policy]
}

// NewTunables creates a holder initialised with p.
func NewTunables(p Policy) *Tunables {
	t := &Tunables{}
	t.p.Store(&p)
	return t
}

// Policy returns the current policy.
func (t *Tunables) Policy() Policy {
	return *t.p.Load()
}

// Set replaces the policy after validating it.
func (t *Tunables) Set(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t.p.Store(&p)
	return nil
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
