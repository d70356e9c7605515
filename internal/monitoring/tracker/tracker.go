// Package tracker follows submitted transactions to a terminal status,
// retrying retryable confirmation failures on a linear schedule.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/chain"
	"github.com/vietddude/txwatch/internal/infra/storage"
	"github.com/vietddude/txwatch/internal/monitoring/classify"
	"github.com/vietddude/txwatch/internal/monitoring/errlog"
	"github.com/vietddude/txwatch/internal/monitoring/events"
	"github.com/vietddude/txwatch/internal/monitoring/metrics"
	"github.com/vietddude/txwatch/internal/monitoring/retry"
)

const tracerName = "github.com/vietddude/txwatch/internal/monitoring/tracker"

// ErrStopped is returned when the tracker was stopped before the transaction went terminal.
var ErrStopped = errors.New("tracker stopped")

// ClientProvider resolves the chain client serving a network.
type ClientProvider interface {
	// Client returns the connected client. Unknown networks yield domain.ErrNoClient.
	Client(network domain.NetworkID) (chain.Client, error)

	// ValidateReference rejects references the network cannot have produced.
	ValidateReference(network domain.NetworkID, reference string) error
}

// ProgressFunc observes every status transition of a monitored transaction.
type ProgressFunc func(tx *domain.MonitoredTransaction)

// Options tune a single Monitor call.
type Options struct {
	MaxRetries *int // overrides the policy's retry count
	OnProgress ProgressFunc
	Metadata   map[string]string
}

// Config holds tracker settings.
type Config struct {
	TransactionTimeout time.Duration
}

// Tracker drives confirmation waits for many references concurrently.
type Tracker struct {
	cfg      Config
	clients  ClientProvider
	tunables *retry.Tunables
	history  storage.HistoryRepository
	reports  *errlog.Log
	bus      *events.Bus
	sleep    retry.Sleeper
	now      func() time.Time
	log      *slog.Logger
	tracer   trace.Tracer

	stopCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	active map[string]*entry
}

type entry struct {
	tx   *domain.MonitoredTransaction // latest published snapshot
	done chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSleeper replaces the retry sleeper.
func WithSleeper(s retry.Sleeper) Option {
	return func(t *Tracker) { t.sleep = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// NewTracker creates a tracker.
func NewTracker(
	cfg Config,
	clients ClientProvider,
	tunables *retry.Tunables,
	history storage.HistoryRepository,
	errs *errlog.Log,
	bus *events.Bus,
	opts ...Option,
) *Tracker {
	if cfg.TransactionTimeout <= 0 {
		cfg.TransactionTimeout = 5 * time.Minute
	}
	if tunables == nil {
		tunables = retry.NewTunables(retry.DefaultPolicy)
	}

	stopCtx, stop := context.WithCancel(context.Background())
	t := &Tracker{
		cfg:      cfg,
		clients:  clients,
		tunables: tunables,
		history:  history,
		reports:  errs,
		bus:      bus,
		sleep:    retry.Sleep,
		now:      time.Now,
		log:      slog.Default(),
		tracer:   otel.Tracer(tracerName),
		stopCtx:  stopCtx,
		stop:     stop,
		active:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "tracker")
	return t
}

// Stop makes every in-flight chain discard its eventual result. Idempotent.
func (t *Tracker) Stop() {
	t.stop()
}

func (t *Tracker) stopped() bool {
	return t.stopCtx.Err() != nil
}

// Active returns snapshots of transactions that have not reached a terminal status.
func (t *Tracker) Active() []*domain.MonitoredTransaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*domain.MonitoredTransaction, 0, len(t.active))
	for _, e := range t.active {
		// Terminal entries are already in history; release drops them later.
		if e.tx != nil && !e.tx.Status.IsTerminal() {
			out = append(out, e.tx.Clone())
		}
	}
	return out
}

// Monitor follows reference on network until it is confirmed, fails or times out.
//
// Chain failures never surface as errors: they end in a terminal record with
// LastError set. Errors are returned only for invalid input, an unknown network,
// caller cancellation, or a stopped tracker.
func (t *Tracker) Monitor(
	ctx context.Context,
	network domain.NetworkID,
	reference string,
	operation string,
	opts Options,
) (*domain.MonitoredTransaction, error) {
	if reference == "" || strings.ContainsAny(reference, " \t\r\n") {
		return nil, fmt.Errorf("%q: %w", reference, domain.ErrInvalidReference)
	}
	if err := t.clients.ValidateReference(network, reference); err != nil {
		return nil, err
	}
	if t.stopped() {
		return nil, ErrStopped
	}

	e, err := t.acquire(ctx, network, reference)
	if err != nil {
		return nil, err
	}
	defer t.release(network, reference, e)

	return t.run(ctx, e, network, reference, operation, opts)
}

// acquire waits until no other chain monitors the same reference, then claims it.
func (t *Tracker) acquire(ctx context.Context, network domain.NetworkID, reference string) (*entry, error) {
	key := activeKey(network, reference)
	for {
		t.mu.Lock()
		busy, ok := t.active[key]
		if !ok {
			e := &entry{done: make(chan struct{})}
			t.active[key] = e
			t.mu.Unlock()
			return e, nil
		}
		t.mu.Unlock()

		t.log.Debug("Waiting for running chain on same reference", "network", network, "reference", reference)
		select {
		case <-busy.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.stopCtx.Done():
			return nil, ErrStopped
		}
	}
}

func (t *Tracker) release(network domain.NetworkID, reference string, e *entry) {
	t.mu.Lock()
	delete(t.active, activeKey(network, reference))
	t.mu.Unlock()
	close(e.done)
}

func (t *Tracker) run(
	ctx context.Context,
	e *entry,
	network domain.NetworkID,
	reference string,
	operation string,
	opts Options,
) (*domain.MonitoredTransaction, error) {
	policy := t.tunables.Policy()
	maxRetries := policy.MaxRetries
	if opts.MaxRetries != nil {
		maxRetries = max(*opts.MaxRetries, 0)
	}

	tx := &domain.MonitoredTransaction{
		ID:          uuid.NewString(),
		Network:     network,
		Reference:   reference,
		Status:      domain.TxStatusPending,
		SubmittedAt: t.now(),
		MaxRetries:  maxRetries,
		Operation:   operation,
	}
	if len(opts.Metadata) > 0 {
		tx.Metadata = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			tx.Metadata[k] = v
		}
	}

	ctx, span := t.tracer.Start(ctx, "tracker.Monitor", trace.WithAttributes(
		attribute.String("network", string(network)),
		attribute.String("reference", reference),
		attribute.String("operation", operation),
	))
	defer span.End()

	log := t.log.With("network", network, "reference", reference, "tx_id", tx.ID)
	log.Info("Monitoring transaction", "operation", operation, "max_retries", maxRetries)

	t.publish(e, tx)
	t.emit(domain.EventTransactionStarted, tx)
	t.progress(opts.OnProgress, tx)

	for {
		t.transition(e, tx, domain.TxStatusConfirming, opts.OnProgress)

		receipt, err := t.wait(ctx, network, reference)
		if t.stopped() {
			log.Debug("Discarding result after stop")
			return e.snapshot(&t.mu), ErrStopped
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.snapshot(&t.mu), ctxErr
		}

		if err == nil {
			t.confirm(ctx, e, tx, receipt, opts.OnProgress)
			span.SetAttributes(attribute.Int("retries", tx.RetryCount))
			log.Info("Transaction confirmed", "block", tx.BlockNumber, "retries", tx.RetryCount)
			return tx.Clone(), nil
		}

		c := classify.Classify(err)
		tx.LastError = err.Error()
		span.RecordError(err)
		t.report(ctx, tx, c)

		if c.Retryable && tx.RetryCount < tx.MaxRetries {
			tx.RetryCount++
			t.transition(e, tx, domain.TxStatusRetrying, opts.OnProgress)
			t.emit(domain.EventTransactionRetrying, tx)
			metrics.TransactionRetriesTotal.WithLabelValues(string(network)).Inc()

			delay := policy.Linear(tx.RetryCount)
			log.Warn("Confirmation failed, retrying",
				"error", err,
				"kind", c.Kind,
				"retry", tx.RetryCount,
				"max_retries", tx.MaxRetries,
				"delay", delay,
			)
			if err := t.backoff(ctx, delay); err != nil {
				if t.stopped() {
					return e.snapshot(&t.mu), ErrStopped
				}
				return e.snapshot(&t.mu), err
			}

			t.transition(e, tx, domain.TxStatusPending, opts.OnProgress)
			continue
		}

		t.fail(ctx, e, tx, c, opts.OnProgress)
		span.SetStatus(codes.Error, tx.LastError)
		log.Warn("Transaction failed",
			"status", tx.Status,
			"error", err,
			"kind", c.Kind,
			"retries", tx.RetryCount,
		)
		return tx.Clone(), nil
	}
}

// wait performs one bounded confirmation wait.
func (t *Tracker) wait(ctx context.Context, network domain.NetworkID, reference string) (*domain.Receipt, error) {
	client, err := t.clients.Client(network)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	timeout := t.cfg.TransactionTimeout
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := chain.Await(wctx, func(c context.Context) (*domain.Receipt, error) {
		return client.WaitForConfirmation(c, reference, timeout)
	})
	if err != nil && ctx.Err() == nil && errors.Is(wctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s not confirmed within %v: %w", reference, timeout, domain.ErrConfirmationTimeout)
	}
	if err == nil && receipt == nil {
		receipt = &domain.Receipt{Reference: reference}
	}
	return receipt, err
}

func (t *Tracker) backoff(ctx context.Context, d time.Duration) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(t.stopCtx, cancel)
	defer stopAfter()

	return t.sleep(sctx, d)
}

func (t *Tracker) confirm(
	ctx context.Context,
	e *entry,
	tx *domain.MonitoredTransaction,
	r *domain.Receipt,
	onProgress ProgressFunc,
) {
	now := t.now()
	tx.ConfirmedAt = &now
	tx.BlockNumber = r.BlockNumber
	tx.Confirmations = r.Confirmations
	if r.GasUsed != nil {
		tx.GasUsed = r.GasUsed
	}
	if r.Cost != nil {
		tx.Cost = r.Cost
	}

	t.transition(e, tx, domain.TxStatusConfirmed, onProgress)
	t.appendHistory(ctx, tx)
	metrics.TransactionsTotal.WithLabelValues(string(tx.Network), string(tx.Status)).Inc()
	metrics.ConfirmationLatency.WithLabelValues(string(tx.Network)).Observe(now.Sub(tx.SubmittedAt).Seconds())
	t.emit(domain.EventTransactionConfirmed, tx)
}

func (t *Tracker) fail(
	ctx context.Context,
	e *entry,
	tx *domain.MonitoredTransaction,
	c classify.Classified,
	onProgress ProgressFunc,
) {
	now := t.now()
	tx.FailedAt = &now
	status := domain.TxStatusFailed
	if c.Timeout {
		status = domain.TxStatusTimeout
	}

	t.transition(e, tx, status, onProgress)
	t.appendHistory(ctx, tx)
	metrics.TransactionsTotal.WithLabelValues(string(tx.Network), string(tx.Status)).Inc()
	t.emit(domain.EventTransactionFailed, tx)
}

func (t *Tracker) report(ctx context.Context, tx *domain.MonitoredTransaction, c classify.Classified) {
	if t.reports == nil {
		return
	}
	r := errlog.FromClassified(tx.Network, tx.Operation, tx.Reference, c, map[string]string{
		"tx_id":       tx.ID,
		"retry_count": strconv.Itoa(tx.RetryCount),
	})
	if err := t.reports.Report(context.WithoutCancel(ctx), r); err != nil {
		t.log.Error("Failed to record error report", "error", err, "reference", tx.Reference)
	}
}

// appendHistory stores the terminal record; caller cancellation must not lose it.
func (t *Tracker) appendHistory(ctx context.Context, tx *domain.MonitoredTransaction) {
	if t.history == nil {
		return
	}
	if err := t.history.Append(context.WithoutCancel(ctx), tx.Clone()); err != nil {
		t.log.Error("Failed to append history", "error", err, "reference", tx.Reference)
	}
}

func (t *Tracker) transition(e *entry, tx *domain.MonitoredTransaction, status domain.TxStatus, onProgress ProgressFunc) {
	tx.Status = status
	t.publish(e, tx)
	t.progress(onProgress, tx)
}

func (t *Tracker) publish(e *entry, tx *domain.MonitoredTransaction) {
	snap := tx.Clone()
	t.mu.Lock()
	e.tx = snap
	t.mu.Unlock()
}

func (t *Tracker) progress(fn ProgressFunc, tx *domain.MonitoredTransaction) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("Progress callback panicked", "reference", tx.Reference, "status", tx.Status, "panic", r)
		}
	}()
	fn(tx.Clone())
}

func (t *Tracker) emit(et domain.EventType, tx *domain.MonitoredTransaction) {
	if t.bus == nil || t.stopped() {
		return
	}
	t.bus.Emit(domain.Event{Type: et, Network: tx.Network, Transaction: tx.Clone()})
}

func (e *entry) snapshot(mu *sync.Mutex) *domain.MonitoredTransaction {
	mu.Lock()
	defer mu.Unlock()
	return e.tx.Clone()
}

func activeKey(network domain.NetworkID, reference string) string {
	return string(network) + "/" + reference
}
