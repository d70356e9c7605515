package tracker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/chain"
	"github.com/vietddude/txwatch/internal/infra/storage/memory"
	"github.com/vietddude/txwatch/internal/monitoring/errlog"
	"github.com/vietddude/txwatch/internal/monitoring/events"
	"github.com/vietddude/txwatch/internal/monitoring/retry"
)

const testRef = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

// =============================================================================
// Fakes
// =============================================================================

type waitFunc func(ctx context.Context, ref string, call int) (*domain.Receipt, error)

type fakeClient struct {
	wait  waitFunc
	calls atomic.Int32
}

func (c *fakeClient) Connect(ctx context.Context) (*domain.ChainInfo, error) {
	return &domain.ChainInfo{}, nil
}
func (c *fakeClient) Disconnect()       {}
func (c *fakeClient) IsConnected() bool { return true }
func (c *fakeClient) GetHead(ctx context.Context) (uint64, error) {
	return 1, nil
}
func (c *fakeClient) GetFeeLevel(ctx context.Context) (*domain.FeeLevel, error) {
	return &domain.FeeLevel{}, nil
}
func (c *fakeClient) WaitForConfirmation(ctx context.Context, ref string, timeout time.Duration) (*domain.Receipt, error) {
	n := int(c.calls.Add(1))
	return c.wait(ctx, ref, n)
}

type fakeProvider struct {
	client chain.Client
}

func (p *fakeProvider) Client(network domain.NetworkID) (chain.Client, error) {
	if network != "ethereum" {
		return nil, domain.ErrNoClient
	}
	return p.client, nil
}

func (p *fakeProvider) ValidateReference(network domain.NetworkID, ref string) error {
	if network != "ethereum" {
		return fmt.Errorf("%s: %w", network, domain.ErrNoClient)
	}
	if !strings.HasPrefix(ref, "0x") {
		return fmt.Errorf("%s: %w", ref, domain.ErrInvalidReference)
	}
	return nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type harness struct {
	tracker *Tracker
	client  *fakeClient
	history *memory.HistoryRepo
	errors  *memory.ErrorRepo
	bus     *events.Bus
	sleeper *recordingSleeper

	mu     sync.Mutex
	events []domain.EventType
}

func newHarness(t *testing.T, wait waitFunc, policy retry.Policy, timeout time.Duration) *harness {
	t.Helper()

	store := memory.NewMemoryStorage(100)
	h := &harness{
		client:  &fakeClient{wait: wait},
		history: memory.NewHistoryRepo(store),
		errors:  memory.NewErrorRepo(store),
		bus:     events.NewBus(nil),
		sleeper: &recordingSleeper{},
	}
	for _, et := range []domain.EventType{
		domain.EventTransactionStarted,
		domain.EventTransactionRetrying,
		domain.EventTransactionConfirmed,
		domain.EventTransactionFailed,
	} {
		h.bus.On(et, func(e domain.Event) {
			h.mu.Lock()
			h.events = append(h.events, e.Type)
			h.mu.Unlock()
		})
	}

	h.tracker = NewTracker(
		Config{TransactionTimeout: timeout},
		&fakeProvider{client: h.client},
		retry.NewTunables(policy),
		h.history,
		errlog.New(h.errors, h.bus, nil),
		h.bus,
		WithSleeper(h.sleeper.Sleep),
	)
	return h
}

func (h *harness) Events() []domain.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.EventType(nil), h.events...)
}

func (h *harness) historyLen(t *testing.T) int {
	t.Helper()
	list, err := h.history.List(context.Background(), domain.HistoryFilter{})
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	return len(list)
}

func policy(maxRetries int, base time.Duration) retry.Policy {
	return retry.Policy{MaxRetries: maxRetries, BaseDelay: base, MaxDelay: time.Minute, Multiplier: 2}
}

func intPtr(v int) *int { return &v }

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_NonRetryableFailsImmediately(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, ref string, call int) (*domain.Receipt, error) {
		return nil, fmt.Errorf("receipt status 0: %w", domain.ErrReverted)
	}, policy(5, 100*time.Millisecond), time.Second)

	tx, err := h.tracker.Monitor(context.Background(), "ethereum", testRef, "mint", Options{})
	if err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}

	if tx.Status != domain.TxStatusFailed {
		t.Errorf("status = %s, want failed", tx.Status)
	}
	if tx.RetryCount != 0 {
		t.Errorf("retryCount = %d, want 0", tx.RetryCount)
	}
	if tx.FailedAt == nil || tx.LastError == "" {
		t.Error("expected FailedAt and LastError to be set")
	}
	if n := h.client.calls.Load(); n != 1 {
		t.Errorf("expected 1 wait, got %d", n)
	}
	if len(h.sleeper.delays) != 0 {
		t.Errorf("expected no sleeps, got %v", h.sleeper.delays)
	}
	if n := h.historyLen(t); n != 1 {
		t.Errorf("expected 1 history record, got %d", n)
	}

	reports, _ := h.errors.List(context.Background(), domain.ErrorFilter{})
	if len(reports) != 1 || reports[0].Severity != domain.SeverityHigh || reports[0].Retryable {
		t.Errorf("unexpected error reports: %+v", reports)
	}
}

func TestMonitor_AlwaysTimeoutExhaustsRetries(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, ref string, call int) (*domain.Receipt, error) {
		return nil, fmt.Errorf("%s: %w", ref, domain.ErrConfirmationTimeout)
	}, policy(9, 100*time.Millisecond), time.Second)

	tx, err := h.tracker.Monitor(context.Background(), "ethereum", testRef, "register", Options{MaxRetries: intPtr(2)})
	if err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}

	if tx.Status != domain.TxStatusTimeout {
		t.Errorf("status = %s, want timeout", tx.Status)
	}
	if tx.RetryCount != 2 || tx.MaxRetries != 2 {
		t.Errorf("retryCount/maxRetries = %d/%d, want 2/2", tx.RetryCount, tx.MaxRetries)
	}
	if n := h.client.calls.Load(); n != 3 {
		t.Errorf("expected 3 waits, got %d", n)
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(h.sleeper.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", h.sleeper.delays, want)
	}
	for i := range want {
		if h.sleeper.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, h.sleeper.delays[i], want[i])
		}
	}

	wantEvents := []domain.EventType{
		domain.EventTransactionStarted,
		domain.EventTransactionRetrying,
		domain.EventTransactionRetrying,
		domain.EventTransactionFailed,
	}
	got := h.Events()
	if len(got) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", got, wantEvents)
	}
	for i := range wantEvents {
		if got[i] != wantEvents[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], wantEvents[i])
		}
	}

	if n := h.historyLen(t); n != 1 {
		t.Errorf("terminal record must be appended exactly once, got %d", n)
	}
	reports, _ := h.errors.List(context.Background(), domain.ErrorFilter{})
	if len(reports) != 3 {
		t.Errorf("expected one error report per failed wait, got %d", len(reports))
	}
}

func TestMonitor_RetryThenConfirm(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, ref string, call int) (*domain.Receipt, error) {
		if call == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return &domain.Receipt{
			Reference:     ref,
			BlockNumber:   19000000,
			GasUsed:       big.NewInt(21000),
			Cost:          big.NewInt(21000 * 30_000_000_000),
			Confirmations: 3,
		}, nil
	}, policy(3, 50*time.Millisecond), time.Second)

	var mu sync.Mutex
	var statuses []domain.TxStatus
	tx, err := h.tracker.Monitor(context.Background(), "ethereum", testRef, "transfer", Options{
		OnProgress: func(tx *domain.MonitoredTransaction) {
			mu.Lock()
			statuses = append(statuses, tx.Status)
			mu.Unlock()
		},
		Metadata: map[string]string{"did": "did:example:123"},
	})
	if err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}

	if tx.Status != domain.TxStatusConfirmed {
		t.Fatalf("status = %s, want confirmed", tx.Status)
	}
	if tx.RetryCount != 1 || tx.BlockNumber != 19000000 || tx.Confirmations != 3 {
		t.Errorf("unexpected record: %+v", tx)
	}
	if tx.GasUsed.Int64() != 21000 || tx.Cost.Cmp(big.NewInt(21000*30_000_000_000)) != 0 {
		t.Errorf("gas/cost not copied from receipt: %v / %v", tx.GasUsed, tx.Cost)
	}
	if tx.ConfirmedAt == nil {
		t.Error("ConfirmedAt not set")
	}
	if tx.Metadata["did"] != "did:example:123" {
		t.Error("metadata not carried")
	}

	want := []domain.TxStatus{
		domain.TxStatusPending,
		domain.TxStatusConfirming,
		domain.TxStatusRetrying,
		domain.TxStatusPending,
		domain.TxStatusConfirming,
		domain.TxStatusConfirmed,
	}
	if len(statuses) != len(want) {
		t.Fatalf("progress = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("progress[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestMonitor_ProgressPanicDoesNotAbort(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, ref string, call int) (*domain.Receipt, error) {
		return &domain.Receipt{Reference: ref, BlockNumber: 1}, nil
	}, policy(0, 0), time.Second)

	tx, err := h.tracker.Monitor(context.Background(), "ethereum", testRef, "mint", Options{
		OnProgress: func(*domain.MonitoredTransaction) { panic("ui exploded") },
	})
	if err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}
	if tx.Status != domain.TxStatusConfirmed {
		t.Errorf("status = %s, want confirmed", tx.Status)
	}
}

func TestMonitor_WaitBoundedByTimeout(t *testing.T) {
	never := make(chan struct{})
	defer close(never)

	h := newHarness(t, func(ctx context.Context, ref string, call int) (*domain.Receipt, error) {
		<-never // ignores ctx on purpose
		return nil, nil
	}, policy(0, 0), 20*time.Millisecond)

	start := time.Now()
	tx, err := h.tracker.Monitor(context.Background(), "ethereum", testRef, "mint", Options{})
	if err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("wait was not bounded by the transaction timeout")
	}
	if tx.Status != domain.TxStatusTimeout {
		t.Errorf("status = %s, want timeout", tx.Status)
	}
	if !strings.Contains(tx.LastError, "not confirmed") {
		t.Errorf("unexpected last error: %q", tx.LastError)
	}
}

func TestMonitor_ProgrammerErrorsFailFast(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, ref string, call int) (*domain.Receipt, error) {
		return &domain.Receipt{}, nil
	}, policy(0, 0), time.Second)

	tests := []struct {
		name    string
		network domain.NetworkID
		ref     string
		want    error
	}{
		{"empty reference", "ethereum", "", domain.ErrInvalidReference},
		{"whitespace", "ethereum", "0xabc def", domain.ErrInvalidReference},
		{"rejected by validator", "ethereum", "abc", domain.ErrInvalidReference},
		{"unknown network", "solana", testRef, domain.ErrNoClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := h.tracker.Monitor(context.Background(), tt.network, tt.ref, "mint", Options{})
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if tx != nil {
				t.Error("expected no record")
			}
		})
	}

	if h.client.calls.Load() != 0 {
		t.Error("no confirmation wait should have been attempted")
	}
	if n := h.historyLen(t); n != 0 {
		t.Errorf("expected empty history, got %d", n)
	}
}

func TestMonitor_StopDiscardsResult(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, ref string, call int) (*domain.Receipt, error) {
		<-release
		return &domain.Receipt{Reference: ref}, nil
	}, policy(0, 0), 5*time.Second)

	started := make(chan struct{})
	h.bus.On(domain.EventTransactionStarted, func(domain.Event) { close(started) })

	type result struct {
		tx  *domain.MonitoredTransaction
		err error
	}
	done := make(chan result, 1)
	go func() {
		tx, err := h.tracker.Monitor(context.Background(), "ethereum", testRef, "mint", Options{})
		done <- result{tx, err}
	}()

	<-started
	h.tracker.Stop()
	h.tracker.Stop()
	close(release)

	r := <-done
	if !errors.Is(r.err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", r.err)
	}
	if r.tx == nil || r.tx.Status.IsTerminal() {
		t.Errorf("expected non-terminal snapshot, got %+v", r.tx)
	}
	if n := h.historyLen(t); n != 0 {
		t.Errorf("stopped chain must not reach history, got %d records", n)
	}
	for _, e := range h.Events() {
		if e == domain.EventTransactionConfirmed {
			t.Error("confirmed event fired after stop")
		}
	}

	if _, err := h.tracker.Monitor(context.Background(), "ethereum", testRef, "mint", Options{}); !errors.Is(err, ErrStopped) {
		t.Errorf("Monitor after Stop should return ErrStopped, got %v", err)
	}
}

func TestMonitor_SameReferenceSerialized(t *testing.T) {
	var inFlight, peak atomic.Int32
	gate := make(chan struct{})

	h := newHarness(t, func(ctx context.Context, ref string, call int) (*domain.Receipt, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if call == 1 {
			<-gate
		}
		return &domain.Receipt{Reference: ref}, nil
	}, policy(0, 0), 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.tracker.Monitor(context.Background(), "ethereum", testRef, "mint", Options{}); err != nil {
				t.Errorf("Monitor failed: %v", err)
			}
		}()
	}

	// Give the second call time to queue behind the first.
	time.Sleep(30 * time.Millisecond)
	if active := h.tracker.Active(); len(active) != 1 {
		t.Errorf("expected exactly one live record, got %d", len(active))
	}
	close(gate)
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("overlapping chains for the same reference: peak %d", peak.Load())
	}
	if n := h.historyLen(t); n != 2 {
		t.Errorf("expected 2 terminal records, got %d", n)
	}
}
