// Package stats derives windowed performance snapshots from transaction history.
package stats

import (
	"math/big"
	"slices"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
)

// DefaultWindow is the look-back used when no window is given.
const DefaultWindow = time.Hour

// Window is the half-open range [Start, End) on submission time.
type Window struct {
	Start time.Time
	End   time.Time
}

// LastHour returns [now-1h, now).
func LastHour(now time.Time) Window {
	return Window{Start: now.Add(-DefaultWindow), End: now}
}

// Resolve fills a zero window with the default relative to now.
func (w Window) Resolve(now time.Time) Window {
	if w.Start.IsZero() && w.End.IsZero() {
		return LastHour(now)
	}
	if w.End.IsZero() {
		w.End = now
	}
	if w.Start.IsZero() {
		w.Start = w.End.Add(-DefaultWindow)
	}
	return w
}

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Summarize computes metrics for network over records submitted within w.
// It does not mutate records and returns identical output for identical input.
func Summarize(network domain.NetworkID, w Window, records []*domain.MonitoredTransaction) domain.PerformanceMetrics {
	m := domain.PerformanceMetrics{
		Network:     network,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		TotalGas:    new(big.Int),
		AverageGas:  new(big.Int),
		TotalCost:   new(big.Int),
		AverageCost: new(big.Int),
	}

	var latencies []time.Duration
	gasCount, costCount := 0, 0

	for _, tx := range records {
		if tx.Network != network || !w.Contains(tx.SubmittedAt) {
			continue
		}
		m.Total++
		if tx.RetryCount > 0 {
			m.Retried++
		}

		switch tx.Status {
		case domain.TxStatusConfirmed:
			m.Successful++
			if l, ok := tx.Latency(); ok {
				latencies = append(latencies, l)
			}
		case domain.TxStatusFailed, domain.TxStatusTimeout:
			m.Failed++
		default:
			m.Pending++
		}

		if tx.GasUsed != nil {
			m.TotalGas.Add(m.TotalGas, tx.GasUsed)
			gasCount++
		}
		if tx.Cost != nil {
			m.TotalCost.Add(m.TotalCost, tx.Cost)
			costCount++
		}
	}

	if m.Total > 0 {
		m.SuccessRate = float64(m.Successful) / float64(m.Total)
	}
	if gasCount > 0 {
		m.AverageGas.Quo(m.TotalGas, big.NewInt(int64(gasCount)))
	}
	if costCount > 0 {
		m.AverageCost.Quo(m.TotalCost, big.NewInt(int64(costCount)))
	}

	if len(latencies) > 0 {
		slices.Sort(latencies)
		m.AverageLatency = Average(latencies)
		m.MedianLatency = Median(latencies)
		m.P95Latency = Percentile(latencies, 95)
		m.P99Latency = Percentile(latencies, 99)
	}
	return m
}
