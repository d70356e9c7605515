package stats

import (
	"math"
	"time"
)

// Percentile returns the p-th percentile of ascending-sorted values using the
// nearest-rank index ceil(p/100*n)-1, clamped to the slice bounds.
// The 50th percentile is the median, so even-length sets average the middle pair.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p == 50 {
		return Median(sorted)
	}

	idx := int(math.Ceil(p/100*float64(n))) - 1
	idx = max(idx, 0)
	idx = min(idx, n-1)
	return sorted[idx]
}

// Median returns the middle value of ascending-sorted values, or the mean of
// the two middle values for even lengths.
func Median(sorted []time.Duration) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Average returns the truncated mean.
func Average(values []time.Duration) time.Duration {
	if len(values) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range values {
		sum += v
	}
	return sum / time.Duration(len(values))
}
