package stats

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func confirmed(network domain.NetworkID, offset, latency time.Duration, gas, cost int64) *domain.MonitoredTransaction {
	submitted := base.Add(offset)
	at := submitted.Add(latency)
	return &domain.MonitoredTransaction{
		Network:     network,
		Status:      domain.TxStatusConfirmed,
		SubmittedAt: submitted,
		ConfirmedAt: &at,
		GasUsed:     big.NewInt(gas),
		Cost:        big.NewInt(cost),
	}
}

func withStatus(network domain.NetworkID, offset time.Duration, status domain.TxStatus, retries int) *domain.MonitoredTransaction {
	return &domain.MonitoredTransaction{
		Network:     network,
		Status:      status,
		SubmittedAt: base.Add(offset),
		RetryCount:  retries,
	}
}

func TestPercentile_MedianRule(t *testing.T) {
	ms := func(v ...int) []time.Duration {
		out := make([]time.Duration, len(v))
		for i, x := range v {
			out[i] = time.Duration(x) * time.Millisecond
		}
		return out
	}

	tests := []struct {
		name   string
		values []time.Duration
		want   time.Duration
	}{
		{"even", ms(10, 20, 30, 40), 25 * time.Millisecond},
		{"odd", ms(10, 20, 30), 20 * time.Millisecond},
		{"single", ms(7), 7 * time.Millisecond},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Percentile(tt.values, 50); got != tt.want {
				t.Errorf("Percentile(50) = %v, want %v", got, tt.want)
			}
			if got := Median(tt.values); got != tt.want {
				t.Errorf("Median = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	values := make([]time.Duration, 100)
	for i := range values {
		values[i] = time.Duration(i+1) * time.Millisecond
	}

	if got := Percentile(values, 95); got != 95*time.Millisecond {
		t.Errorf("p95 = %v, want 95ms", got)
	}
	if got := Percentile(values, 99); got != 99*time.Millisecond {
		t.Errorf("p99 = %v, want 99ms", got)
	}
	if got := Percentile(values, 0); got != 1*time.Millisecond {
		t.Errorf("p0 = %v, want 1ms (index clamped at 0)", got)
	}

	small := []time.Duration{10, 20, 30}
	if got := Percentile(small, 95); got != 30 {
		t.Errorf("p95 of 3 values = %v, want 30", got)
	}
}

func TestSummarize_Empty(t *testing.T) {
	m := Summarize("ethereum", LastHour(base), nil)

	if m.Total != 0 || m.SuccessRate != 0 {
		t.Errorf("expected zero totals, got total=%d rate=%v", m.Total, m.SuccessRate)
	}
	if m.AverageCost.Sign() != 0 || m.TotalCost.Sign() != 0 {
		t.Error("expected zero cost")
	}
}

func TestSummarize_Counts(t *testing.T) {
	w := Window{Start: base, End: base.Add(time.Hour)}
	records := []*domain.MonitoredTransaction{
		confirmed("ethereum", time.Minute, 10*time.Second, 21000, 100),
		confirmed("ethereum", 2*time.Minute, 20*time.Second, 50000, 201),
		withStatus("ethereum", 3*time.Minute, domain.TxStatusFailed, 0),
		withStatus("ethereum", 4*time.Minute, domain.TxStatusTimeout, 2),
		withStatus("ethereum", 5*time.Minute, domain.TxStatusConfirming, 1),
		// outside the window or on another network
		confirmed("ethereum", -time.Minute, time.Second, 1, 1),
		confirmed("ethereum", time.Hour, time.Second, 1, 1),
		confirmed("polkadot", time.Minute, time.Second, 1, 1),
	}

	m := Summarize("ethereum", w, records)

	if m.Total != 5 || m.Successful != 2 || m.Failed != 2 || m.Pending != 1 || m.Retried != 2 {
		t.Errorf("counts = total %d ok %d failed %d pending %d retried %d",
			m.Total, m.Successful, m.Failed, m.Pending, m.Retried)
	}
	if m.SuccessRate != 0.4 {
		t.Errorf("successRate = %v, want 0.4", m.SuccessRate)
	}
	if m.AverageLatency != 15*time.Second || m.MedianLatency != 15*time.Second {
		t.Errorf("avg/median = %v/%v, want 15s/15s", m.AverageLatency, m.MedianLatency)
	}
	if m.P95Latency != 20*time.Second || m.P99Latency != 20*time.Second {
		t.Errorf("p95/p99 = %v/%v, want 20s/20s", m.P95Latency, m.P99Latency)
	}
	if m.TotalGas.Int64() != 71000 || m.AverageGas.Int64() != 35500 {
		t.Errorf("gas total/avg = %v/%v", m.TotalGas, m.AverageGas)
	}
	// 301 / 2 truncates to 150.
	if m.TotalCost.Int64() != 301 || m.AverageCost.Int64() != 150 {
		t.Errorf("cost total/avg = %v/%v, want 301/150", m.TotalCost, m.AverageCost)
	}
}

func TestSummarize_ExactLargeCost(t *testing.T) {
	w := Window{Start: base, End: base.Add(time.Hour)}
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	a := confirmed("ethereum", time.Minute, time.Second, 1, 0)
	a.Cost = new(big.Int).Set(huge)
	b := confirmed("ethereum", 2*time.Minute, time.Second, 1, 0)
	b.Cost = new(big.Int).Set(huge)

	m := Summarize("ethereum", w, []*domain.MonitoredTransaction{a, b})

	want := new(big.Int).Mul(huge, big.NewInt(2))
	if m.TotalCost.Cmp(want) != 0 {
		t.Errorf("total cost = %v, want %v", m.TotalCost, want)
	}
	if m.AverageCost.Cmp(huge) != 0 {
		t.Errorf("average cost = %v, want %v", m.AverageCost, huge)
	}
	if a.Cost.Cmp(huge) != 0 {
		t.Error("input record was mutated")
	}
}

func TestSummarize_Idempotent(t *testing.T) {
	w := Window{Start: base, End: base.Add(time.Hour)}
	records := []*domain.MonitoredTransaction{
		confirmed("ethereum", 3*time.Minute, 30*time.Second, 21000, 5),
		confirmed("ethereum", time.Minute, 10*time.Second, 21000, 5),
		withStatus("ethereum", 2*time.Minute, domain.TxStatusFailed, 1),
	}

	first, err := json.Marshal(Summarize("ethereum", w, records))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, _ := json.Marshal(Summarize("ethereum", w, records))

	if string(first) != string(second) {
		t.Errorf("snapshots differ:\n%s\n%s", first, second)
	}
}

func TestWindow_Resolve(t *testing.T) {
	w := Window{}.Resolve(base)
	if !w.Start.Equal(base.Add(-time.Hour)) || !w.End.Equal(base) {
		t.Errorf("zero window resolved to [%v, %v)", w.Start, w.End)
	}
	if w.Contains(base) {
		t.Error("window end must be exclusive")
	}
	if !w.Contains(base.Add(-time.Hour)) {
		t.Error("window start must be inclusive")
	}
}
