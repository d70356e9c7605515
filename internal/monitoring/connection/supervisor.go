// Package connection supervises the connection to one ledger network:
// ordered endpoint failover with backoff, periodic health probing and reconnect.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/chain"
	"github.com/vietddude/txwatch/internal/monitoring/events"
	"github.com/vietddude/txwatch/internal/monitoring/metrics"
	"github.com/vietddude/txwatch/internal/monitoring/retry"
)

const tracerName = "github.com/vietddude/txwatch/internal/monitoring/connection"

// ErrConnectInProgress is returned when Connect is called while another connect runs.
var ErrConnectInProgress = errors.New("connect already in progress")

// Config holds supervisor settings for one network.
type Config struct {
	Network             domain.NetworkID
	Endpoints           []string
	ConnectionTimeout   time.Duration
	HealthCheckInterval time.Duration // 0 disables the health loop
	HealthCheckTimeout  time.Duration
	AutoReconnect       bool
}

// FailedEndpoint records one failed connect attempt against one endpoint.
type FailedEndpoint struct {
	Endpoint string    `json:"endpoint"`
	Attempt  int       `json:"attempt"`
	Err      error     `json:"-"`
	At       time.Time `json:"at"`
}

// ConnectionFailedError is returned when every endpoint failed on every attempt.
type ConnectionFailedError struct {
	Network  domain.NetworkID
	Attempts int
	Failures []FailedEndpoint
}

func (e *ConnectionFailedError) Error() string {
	msg := fmt.Sprintf("connect %s: all endpoints failed after %d attempts", e.Network, e.Attempts)
	if n := len(e.Failures); n > 0 {
		msg += fmt.Sprintf(": last error: %v", e.Failures[n-1].Err)
	}
	return msg
}

func (e *ConnectionFailedError) Unwrap() error { return domain.ErrConnection }

// HealthChecker produces a health snapshot for a connected client.
type HealthChecker interface {
	Check(ctx context.Context, network domain.NetworkID, client chain.Client) domain.HealthCheckResult
}

// Supervisor owns the connection state of a single network.
type Supervisor struct {
	cfg      Config
	factory  chain.Factory
	tunables *retry.Tunables
	bus      *events.Bus
	checker  HealthChecker
	sleep    retry.Sleeper
	log      *slog.Logger
	tracer   trace.Tracer

	connecting atomic.Bool

	mu       sync.RWMutex
	state    domain.ConnectionState
	client   chain.Client
	info     *domain.ChainInfo
	failures []FailedEndpoint
	loop     *checkLoop
}

// checkLoop is one run of the health loop.
type checkLoop struct {
	cancel context.CancelFunc
	done   chan struct{}

	// dispatching counts events being delivered from the loop goroutine.
	dispatching atomic.Int32
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s retry.Sleeper) Option {
	return func(sv *Supervisor) { sv.sleep = s }
}

// WithHealthChecker replaces the liveness-only checker.
func WithHealthChecker(c HealthChecker) Option {
	return func(sv *Supervisor) { sv.checker = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(sv *Supervisor) { sv.log = l }
}

// NewSupervisor creates a disconnected supervisor.
func NewSupervisor(
	cfg Config,
	factory chain.Factory,
	tunables *retry.Tunables,
	bus *events.Bus,
	opts ...Option,
) *Supervisor {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 10 * time.Second
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = 5 * time.Second
	}
	if tunables == nil {
		tunables = retry.NewTunables(retry.DefaultPolicy)
	}

	s := &Supervisor{
		cfg:      cfg,
		factory:  factory,
		tunables: tunables,
		bus:      bus,
		checker:  LivenessChecker{},
		sleep:    retry.Sleep,
		log:      slog.Default(),
		tracer:   otel.Tracer(tracerName),
		state:    domain.StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "connection", "network", cfg.Network)
	metrics.SetConnectionState(string(cfg.Network), string(s.state))
	return s
}

// Network returns the supervised network.
func (s *Supervisor) Network() domain.NetworkID { return s.cfg.Network }

// State returns the current connection state.
func (s *Supervisor) State() domain.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Client returns the connected client, or ErrNotConnected.
func (s *Supervisor) Client() (chain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, fmt.Errorf("%s: %w", s.cfg.Network, domain.ErrNotConnected)
	}
	return s.client, nil
}

// ChainInfo returns metadata from the last successful connect, or nil.
func (s *Supervisor) ChainInfo() *domain.ChainInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info == nil {
		return nil
	}
	info := *s.info
	return &info
}

// FailedEndpoints returns the endpoint failures recorded by the latest connect.
func (s *Supervisor) FailedEndpoints() []FailedEndpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FailedEndpoint, len(s.failures))
	copy(out, s.failures)
	return out
}

// Connect tries every endpoint in order, backing off between rounds, until one
// connects or the retry budget is spent. A second Connect while one is running
// fails fast with ErrConnectInProgress.
func (s *Supervisor) Connect(ctx context.Context) (*domain.ChainInfo, error) {
	if !s.connecting.CompareAndSwap(false, true) {
		return nil, ErrConnectInProgress
	}
	defer s.connecting.Store(false)

	if s.State() == domain.StateConnected {
		return s.ChainInfo(), nil
	}

	ctx, span := s.tracer.Start(ctx, "connection.Connect",
		trace.WithAttributes(attribute.String("network", string(s.cfg.Network))))
	defer span.End()

	s.setState(domain.StateConnecting)
	info, err := s.dial(ctx)
	if err != nil {
		s.setState(domain.StateDisconnected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("Failed to connect", "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.String("endpoint", info.Endpoint))
	s.log.Info("Connected", "endpoint", info.Endpoint, "chain", info.Name, "head", info.Head)
	s.startHealthLoop()
	s.emit(domain.Event{Type: domain.EventConnected, ChainInfo: info, Endpoint: info.Endpoint})
	return info, nil
}

// Disconnect stops health checks and releases the client. Safe to call repeatedly.
func (s *Supervisor) Disconnect() {
	s.stopHealthLoop()

	s.mu.Lock()
	client := s.client
	wasUp := s.state != domain.StateDisconnected
	s.client = nil
	s.info = nil
	s.state = domain.StateDisconnected
	s.mu.Unlock()
	metrics.SetConnectionState(string(s.cfg.Network), string(domain.StateDisconnected))

	if client != nil {
		client.Disconnect()
	}
	if wasUp {
		s.log.Info("Disconnected")
		s.emit(domain.Event{Type: domain.EventDisconnected})
	}
}

// dial runs the attempt loop. On success the client is installed and state is connected.
func (s *Supervisor) dial(ctx context.Context) (*domain.ChainInfo, error) {
	policy := s.tunables.Policy()
	attempts := max(policy.MaxRetries, 1)
	var failures []FailedEndpoint

	for attempt := 0; attempt < attempts; attempt++ {
		for _, endpoint := range s.cfg.Endpoints {
			client, info, err := s.tryEndpoint(ctx, endpoint)
			if err == nil {
				s.mu.Lock()
				s.client = client
				s.info = info
				s.state = domain.StateConnected
				s.failures = failures
				s.mu.Unlock()
				metrics.SetConnectionState(string(s.cfg.Network), string(domain.StateConnected))
				return info, nil
			}

			failures = append(failures, FailedEndpoint{
				Endpoint: endpoint,
				Attempt:  attempt,
				Err:      err,
				At:       time.Now(),
			})
			metrics.EndpointFailuresTotal.WithLabelValues(string(s.cfg.Network), endpoint).Inc()
			s.log.Warn("Endpoint connect failed", "endpoint", endpoint, "attempt", attempt, "error", err)

			if ctx.Err() != nil {
				s.setFailures(failures)
				return nil, fmt.Errorf("connect %s: %w", s.cfg.Network, ctx.Err())
			}
		}

		if attempt == attempts-1 {
			break
		}

		delay := policy.Backoff(attempt)
		s.log.Debug("Backing off before next connect attempt", "attempt", attempt, "delay", delay)
		if err := s.sleep(ctx, delay); err != nil {
			s.setFailures(failures)
			return nil, fmt.Errorf("connect %s: %w", s.cfg.Network, err)
		}
	}

	s.setFailures(failures)
	return nil, &ConnectionFailedError{
		Network:  s.cfg.Network,
		Attempts: attempts,
		Failures: failures,
	}
}

func (s *Supervisor) tryEndpoint(ctx context.Context, endpoint string) (chain.Client, *domain.ChainInfo, error) {
	client, err := s.factory(endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("create client: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	info, err := chain.Await(cctx, client.Connect)
	if err != nil {
		client.Disconnect()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrConnection, err)
		}
		return nil, nil, err
	}

	if info == nil {
		info = &domain.ChainInfo{}
	}
	info.Network = s.cfg.Network
	info.Endpoint = endpoint
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = time.Now()
	}
	return client, info, nil
}

func (s *Supervisor) startHealthLoop() {
	if s.cfg.HealthCheckInterval <= 0 {
		return
	}

	s.mu.Lock()
	if s.loop != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &checkLoop{cancel: cancel, done: make(chan struct{})}
	s.loop = l
	s.mu.Unlock()

	go s.healthLoop(ctx, l)
}

// stopHealthLoop cancels the loop and waits for it, so no event fires after it
// returns. When the loop is delivering an event the caller may be one of its
// handlers, so it only cancels; the loop emits nothing once cancelled.
func (s *Supervisor) stopHealthLoop() {
	s.mu.Lock()
	l := s.loop
	s.loop = nil
	s.mu.Unlock()

	if l == nil {
		return
	}
	l.cancel()
	if l.dispatching.Load() > 0 {
		return
	}
	<-l.done
}

func (s *Supervisor) healthLoop(ctx context.Context, l *checkLoop) {
	defer close(l.done)

	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.runCheck(ctx, l) {
				return
			}
		}
	}
}

// emitFromLoop delivers e on the loop goroutine. It reports whether the loop
// is still running afterwards.
func (s *Supervisor) emitFromLoop(ctx context.Context, l *checkLoop, e domain.Event) bool {
	if ctx.Err() != nil {
		return false
	}
	l.dispatching.Add(1)
	s.emit(e)
	l.dispatching.Add(-1)
	return ctx.Err() == nil
}

// Check runs the checker once under HealthCheckTimeout and emits health:checked.
// It never reconnects; that is left to the health loop.
func (s *Supervisor) Check(ctx context.Context) domain.HealthCheckResult {
	result := s.check(ctx)
	if ctx.Err() == nil {
		s.emit(domain.Event{Type: domain.EventHealthChecked, Health: &result})
	}
	return result
}

func (s *Supervisor) check(ctx context.Context) domain.HealthCheckResult {
	client, err := s.Client()
	if err != nil {
		return notConnectedResult(s.cfg.Network, err)
	}
	pctx, cancel := context.WithTimeout(ctx, s.cfg.HealthCheckTimeout)
	defer cancel()
	return s.checker.Check(pctx, s.cfg.Network, client)
}

// runCheck runs one health check. It returns false when the loop should exit.
func (s *Supervisor) runCheck(ctx context.Context, l *checkLoop) bool {
	result := s.check(ctx)
	if !s.emitFromLoop(ctx, l, domain.Event{Type: domain.EventHealthChecked, Health: &result}) {
		return false
	}

	conn, _ := result.Check(domain.CheckConnection)
	if conn.Status == domain.HealthHealthy || conn.Status == domain.HealthDegraded {
		return true
	}

	metrics.HealthCheckFailuresTotal.WithLabelValues(string(s.cfg.Network)).Inc()
	s.log.Warn("Health check failed", "error", conn.Error)
	if !s.emitFromLoop(ctx, l, domain.Event{
		Type:   domain.EventHealthCheckFailed,
		Health: &result,
		Err:    errors.New(conn.Error),
	}) {
		return false
	}

	if !s.cfg.AutoReconnect {
		return true
	}
	return s.reconnect(ctx, l)
}

func (s *Supervisor) reconnect(ctx context.Context, l *checkLoop) bool {
	if !s.connecting.CompareAndSwap(false, true) {
		return true
	}
	defer s.connecting.Store(false)

	ctx, span := s.tracer.Start(ctx, "connection.Reconnect",
		trace.WithAttributes(attribute.String("network", string(s.cfg.Network))))
	defer span.End()

	s.setState(domain.StateReconnecting)
	if !s.emitFromLoop(ctx, l, domain.Event{Type: domain.EventReconnecting}) {
		return false
	}
	s.releaseClient()

	info, err := s.dial(ctx)
	if ctx.Err() != nil {
		// Stopped mid-reconnect; Disconnect owns the final state.
		return false
	}
	if err != nil {
		s.setState(domain.StateDisconnected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ReconnectsTotal.WithLabelValues(string(s.cfg.Network), "failed").Inc()
		s.log.Error("Reconnect failed", "error", err)
		s.emitFromLoop(ctx, l, domain.Event{Type: domain.EventReconnectionFailed, Err: err})

		s.mu.Lock()
		if s.loop == l {
			s.loop = nil
		}
		s.mu.Unlock()
		l.cancel()
		return false
	}

	metrics.ReconnectsTotal.WithLabelValues(string(s.cfg.Network), "success").Inc()
	s.log.Info("Reconnected", "endpoint", info.Endpoint)
	return s.emitFromLoop(ctx, l, domain.Event{Type: domain.EventReconnected, ChainInfo: info, Endpoint: info.Endpoint})
}

func (s *Supervisor) releaseClient() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
}

func (s *Supervisor) setState(state domain.ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	metrics.SetConnectionState(string(s.cfg.Network), string(state))
}

func (s *Supervisor) setFailures(f []FailedEndpoint) {
	s.mu.Lock()
	s.failures = f
	s.mu.Unlock()
}

func (s *Supervisor) emit(e domain.Event) {
	if s.bus == nil {
		return
	}
	e.Network = s.cfg.Network
	s.bus.Emit(e)
}
