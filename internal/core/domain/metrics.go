package domain

import (
	"math/big"
	"time"
)

// PerformanceMetrics summarises transactions submitted within [WindowStart, WindowEnd).
type PerformanceMetrics struct {
	Network     NetworkID `json:"network"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	Pending     int     `json:"pending"`
	Retried     int     `json:"retried"`
	SuccessRate float64 `json:"success_rate"`

	AverageLatency time.Duration `json:"average_latency"`
	MedianLatency  time.Duration `json:"median_latency"`
	P95Latency     time.Duration `json:"p95_latency"`
	P99Latency     time.Duration `json:"p99_latency"`

	TotalGas    *big.Int `json:"total_gas"`
	AverageGas  *big.Int `json:"average_gas"`
	TotalCost   *big.Int `json:"total_cost"`
	AverageCost *big.Int `json:"average_cost"`
}
