package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/txwatch/internal/core/config"
	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/core/worker"
	"github.com/vietddude/txwatch/internal/infra/chain"
	"github.com/vietddude/txwatch/internal/infra/storage"
	"github.com/vietddude/txwatch/internal/infra/storage/memory"
	"github.com/vietddude/txwatch/internal/monitoring/connection"
	"github.com/vietddude/txwatch/internal/monitoring/errlog"
	"github.com/vietddude/txwatch/internal/monitoring/events"
	"github.com/vietddude/txwatch/internal/monitoring/health"
	"github.com/vietddude/txwatch/internal/monitoring/metrics"
	"github.com/vietddude/txwatch/internal/monitoring/retry"
	"github.com/vietddude/txwatch/internal/monitoring/stats"
	"github.com/vietddude/txwatch/internal/monitoring/tracker"
)

var (
	// ErrStopped is returned by engine calls made after Stop.
	ErrStopped = errors.New("engine stopped")

	// ErrAlreadyBound is returned when Initialize sees a network twice.
	ErrAlreadyBound = errors.New("network already initialized")
)

// Config is the typed engine configuration.
type Config = config.Engine

// Binding supplies the chain client for one network.
type Binding struct {
	Network   domain.NetworkID
	Factory   chain.Factory
	Endpoints []string
	Health    health.Config

	// Decimals and Unit describe the native currency, e.g. 18 and "ETH".
	// The fee gauge is reported in that unit.
	Decimals int32
	Unit     string
}

type network struct {
	binding    Binding
	supervisor *connection.Supervisor
	validator  chain.ReferenceValidator
}

// Engine is the monitoring facade: it owns one connection supervisor per
// network, the transaction tracker, the error log, the health store and the
// periodic metrics and retention loops.
type Engine struct {
	cfg      Config
	bus      *events.Bus
	tunables *retry.Tunables
	history  storage.HistoryRepository
	errRepo  storage.ErrorRepository
	errs     *errlog.Log
	store    *health.Store
	tracker  *tracker.Tracker
	sleep    retry.Sleeper
	now      func() time.Time
	base     *slog.Logger
	log      *slog.Logger

	mu       sync.RWMutex
	networks map[domain.NetworkID]*network
	order    []domain.NetworkID

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loops      errgroup.Group
	loopsOnce  sync.Once

	// dispatching counts metrics:updated emits in flight on the metrics loop.
	dispatching atomic.Int32

	stopOnce sync.Once
	stopped  chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithStorage replaces the in-memory history and error repositories.
func WithStorage(history storage.HistoryRepository, errs storage.ErrorRepository) Option {
	return func(e *Engine) {
		e.history = history
		e.errRepo = errs
	}
}

// WithSleeper replaces the retry and backoff sleeper.
func WithSleeper(s retry.Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an engine with no networks. Call Initialize to bind chain clients.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.DefaultPolicy
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = 5 * time.Second
	}

	e := &Engine{
		cfg:      cfg,
		tunables: retry.NewTunables(cfg.Retry),
		store:    health.NewStore(),
		sleep:    retry.Sleep,
		now:      time.Now,
		log:      slog.Default(),
		networks: make(map[domain.NetworkID]*network),
		stopped:  make(chan struct{}),
	}

	mem := memory.NewMemoryStorage(cfg.MaxErrorReports)
	e.history = memory.NewHistoryRepo(mem)
	e.errRepo = memory.NewErrorRepo(mem)

	for _, opt := range opts {
		opt(e)
	}
	e.base = e.log
	e.log = e.base.With("component", "engine")
	e.bus = events.NewBus(e.base)
	e.errs = errlog.New(e.errRepo, e.bus, e.base)
	e.store.Subscribe(e.bus)

	e.tracker = tracker.NewTracker(
		tracker.Config{TransactionTimeout: cfg.TransactionTimeout},
		e,
		e.tunables,
		e.history,
		e.errs,
		e.bus,
		tracker.WithSleeper(e.sleep),
		tracker.WithClock(e.now),
		tracker.WithLogger(e.base),
	)
	e.loopCtx, e.loopCancel = context.WithCancel(context.Background())
	return e, nil
}

// Initialize binds and connects every network concurrently, then starts the
// metrics and retention loops. Bindings are validated before anything connects.
// Networks that connected stay usable even when another one failed; the first
// connect failure is returned.
func (e *Engine) Initialize(ctx context.Context, bindings ...Binding) error {
	if e.isStopped() {
		return ErrStopped
	}

	added, err := e.bind(bindings)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, n := range added {
		g.Go(func() error {
			if _, err := n.supervisor.Connect(ctx); err != nil {
				return fmt.Errorf("initialize %s: %w", n.binding.Network, err)
			}
			return nil
		})
	}
	err = g.Wait()

	e.startLoops()
	return err
}

func (e *Engine) bind(bindings []Binding) ([]*network, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[domain.NetworkID]bool)
	for _, b := range bindings {
		switch {
		case b.Network == "":
			return nil, fmt.Errorf("%w: binding without network", domain.ErrInvalidParams)
		case b.Factory == nil:
			return nil, fmt.Errorf("%s: %w", b.Network, domain.ErrNoClient)
		case len(b.Endpoints) == 0:
			return nil, fmt.Errorf("%w: %s has no endpoints", domain.ErrInvalidParams, b.Network)
		case seen[b.Network] || e.networks[b.Network] != nil:
			return nil, fmt.Errorf("%s: %w", b.Network, ErrAlreadyBound)
		}
		seen[b.Network] = true
	}

	added := make([]*network, 0, len(bindings))
	for _, b := range bindings {
		n := &network{binding: b}
		n.supervisor = connection.NewSupervisor(
			connection.Config{
				Network:             b.Network,
				Endpoints:           slices.Clone(b.Endpoints),
				ConnectionTimeout:   e.cfg.ConnectionTimeout,
				HealthCheckInterval: e.cfg.HealthCheckInterval,
				HealthCheckTimeout:  e.cfg.HealthCheckTimeout,
				AutoReconnect:       e.cfg.AutoReconnect,
			},
			b.Factory,
			e.tunables,
			e.bus,
			connection.WithHealthChecker(health.NewChecker(b.Health)),
			connection.WithSleeper(e.sleep),
			connection.WithLogger(e.base),
		)
		// Reference validation needs no connection, so an unconnected client serves.
		if probe, err := b.Factory(b.Endpoints[0]); err == nil {
			if v, ok := probe.(chain.ReferenceValidator); ok {
				n.validator = v
			}
		}

		e.networks[b.Network] = n
		e.order = append(e.order, b.Network)
		added = append(added, n)
	}
	return added, nil
}

func (e *Engine) network(id domain.NetworkID) (*network, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.networks[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrNoClient)
	}
	return n, nil
}

// Networks returns the bound networks in binding order.
func (e *Engine) Networks() []domain.NetworkID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.order)
}

// Client implements tracker.ClientProvider.
func (e *Engine) Client(id domain.NetworkID) (chain.Client, error) {
	n, err := e.network(id)
	if err != nil {
		return nil, err
	}
	return n.supervisor.Client()
}

// ValidateReference implements tracker.ClientProvider.
func (e *Engine) ValidateReference(id domain.NetworkID, reference string) error {
	n, err := e.network(id)
	if err != nil {
		return err
	}
	if n.validator == nil {
		return nil
	}
	return n.validator.ValidateReference(reference)
}

// Connection returns the connection state and chain metadata of a network.
func (e *Engine) Connection(id domain.NetworkID) (domain.ConnectionState, *domain.ChainInfo, error) {
	n, err := e.network(id)
	if err != nil {
		return "", nil, err
	}
	return n.supervisor.State(), n.supervisor.ChainInfo(), nil
}

// MonitorTransaction follows reference until it reaches a terminal status.
// Chain failures end in a terminal record; errors are returned only for
// invalid input, an unknown network, caller cancellation or Stop.
func (e *Engine) MonitorTransaction(
	ctx context.Context,
	id domain.NetworkID,
	reference string,
	operation string,
	opts tracker.Options,
) (*domain.MonitoredTransaction, error) {
	if e.isStopped() {
		return nil, ErrStopped
	}
	tx, err := e.tracker.Monitor(ctx, id, reference, operation, opts)
	if errors.Is(err, tracker.ErrStopped) {
		return tx, fmt.Errorf("%w: %w", ErrStopped, err)
	}
	return tx, err
}

// CheckHealth runs every check for a network now and stores the result.
func (e *Engine) CheckHealth(ctx context.Context, id domain.NetworkID) (domain.HealthCheckResult, error) {
	if e.isStopped() {
		return domain.HealthCheckResult{}, ErrStopped
	}
	n, err := e.network(id)
	if err != nil {
		return domain.HealthCheckResult{}, err
	}
	return n.supervisor.Check(ctx), nil
}

// CheckAll runs CheckHealth on every network concurrently.
func (e *Engine) CheckAll(ctx context.Context) map[domain.NetworkID]domain.HealthCheckResult {
	ids := e.Networks()
	results := make([]domain.HealthCheckResult, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			r, err := e.CheckHealth(ctx, id)
			results[i] = r
			return err
		})
	}
	_ = g.Wait()

	out := make(map[domain.NetworkID]domain.HealthCheckResult, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out
}

// HealthStore exposes the latest health result per network.
func (e *Engine) HealthStore() *health.Store {
	return e.store
}

// GetMetrics summarizes history plus live transactions submitted within window.
// A zero window is the last hour.
func (e *Engine) GetMetrics(ctx context.Context, id domain.NetworkID, window stats.Window) (domain.PerformanceMetrics, error) {
	w := window.Resolve(e.now())
	records, err := e.history.List(ctx, domain.HistoryFilter{Network: id, From: w.Start, To: w.End})
	if err != nil {
		return domain.PerformanceMetrics{}, fmt.Errorf("load history: %w", err)
	}
	for _, tx := range e.tracker.Active() {
		if tx.Network == id && w.Contains(tx.SubmittedAt) {
			records = append(records, tx)
		}
	}
	return stats.Summarize(id, w, records), nil
}

// GetTransactionHistory returns terminal records matching filter, oldest first.
func (e *Engine) GetTransactionHistory(ctx context.Context, filter domain.HistoryFilter) ([]*domain.MonitoredTransaction, error) {
	return e.history.List(ctx, filter)
}

// ReportError appends a caller-supplied report to the error log.
func (e *Engine) ReportError(ctx context.Context, report *domain.ErrorReport) error {
	if report == nil {
		return fmt.Errorf("%w: nil report", domain.ErrInvalidParams)
	}
	if e.isStopped() {
		return ErrStopped
	}
	return e.errs.Report(ctx, report.Clone())
}

// GetErrors returns reports matching filter, oldest first.
func (e *Engine) GetErrors(ctx context.Context, filter domain.ErrorFilter) ([]*domain.ErrorReport, error) {
	return e.errs.List(ctx, filter)
}

// On registers h for events of type t.
func (e *Engine) On(t domain.EventType, h events.Handler) events.SubscriptionID {
	return e.bus.On(t, h)
}

// Off removes the handler registered under id.
func (e *Engine) Off(t domain.EventType, id events.SubscriptionID) {
	e.bus.Off(t, id)
}

// SetRetryPolicy replaces the retry count and delays used from now on.
// Chains already in flight keep the policy they started with.
func (e *Engine) SetRetryPolicy(p retry.Policy) error {
	return e.tunables.Set(p)
}

// RetryPolicy returns the current retry policy.
func (e *Engine) RetryPolicy() retry.Policy {
	return e.tunables.Policy()
}

// Stop discards in-flight results, stops the loops and disconnects every
// network. Safe to call repeatedly.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
		e.tracker.Stop()
		e.loopCancel()
		// A metrics:updated handler calling Stop runs on the metrics loop;
		// the cancelled loop exits on its own once the handler returns.
		if e.dispatching.Load() == 0 {
			_ = e.loops.Wait()
		}

		e.mu.RLock()
		sups := make([]*connection.Supervisor, 0, len(e.networks))
		for _, n := range e.networks {
			sups = append(sups, n.supervisor)
		}
		e.mu.RUnlock()

		var g errgroup.Group
		for _, s := range sups {
			g.Go(func() error {
				s.Disconnect()
				return nil
			})
		}
		_ = g.Wait()
		e.log.Info("Engine stopped")
	})
}

func (e *Engine) isStopped() bool {
	select {
	case <-e.stopped:
		return true
	default:
		return false
	}
}

func (e *Engine) startLoops() {
	e.loopsOnce.Do(func() {
		if e.cfg.MetricsInterval > 0 {
			e.loops.Go(func() error {
				e.metricsLoop(e.loopCtx)
				return nil
			})
		}
		if e.cfg.HistoryRetention > 0 {
			pruner := worker.NewPruner(e.cfg.HistoryRetention, e.Networks(), e.history)
			e.loops.Go(func() error {
				pruner.Start(e.loopCtx)
				return nil
			})
		}
	})
}

func (e *Engine) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.snapshot(ctx)
		}
	}
}

// snapshot publishes metrics:updated and refreshes the gauges for every network.
func (e *Engine) snapshot(ctx context.Context) {
	for _, id := range e.Networks() {
		m, err := e.GetMetrics(ctx, id, stats.Window{})
		if err != nil {
			e.log.Warn("Failed to compute metrics", "network", id, "error", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		label := string(id)
		metrics.SuccessRate.WithLabelValues(label).Set(m.SuccessRate)
		metrics.LatencyQuantile.WithLabelValues(label, "0.5").Set(m.MedianLatency.Seconds())
		metrics.LatencyQuantile.WithLabelValues(label, "0.95").Set(m.P95Latency.Seconds())
		metrics.LatencyQuantile.WithLabelValues(label, "0.99").Set(m.P99Latency.Seconds())
		e.recordFee(ctx, id)

		if ctx.Err() != nil {
			return
		}
		e.dispatching.Add(1)
		e.bus.Emit(domain.Event{Type: domain.EventMetricsUpdated, Network: id, Metrics: &m})
		e.dispatching.Add(-1)
	}
}

func (e *Engine) recordFee(ctx context.Context, id domain.NetworkID) {
	n, err := e.network(id)
	if err != nil {
		return
	}
	client, err := n.supervisor.Client()
	if err != nil {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, e.cfg.HealthCheckTimeout)
	defer cancel()

	fee, err := chain.Await(fctx, client.GetFeeLevel)
	if err != nil || fee == nil || fee.Price == nil {
		return
	}
	value, unit := ScaleAmount(fee.Price, n.binding.Decimals), n.binding.Unit
	if unit == "" {
		unit = fee.Unit
	}
	metrics.FeeLevel.WithLabelValues(string(id), unit).Set(value.InexactFloat64())
}

// ScaleAmount converts an amount in the smallest unit to one with decimals places.
func ScaleAmount(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
