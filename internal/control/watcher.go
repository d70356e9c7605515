package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/vietddude/txwatch/internal/core/config"
	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/chain/evm"
	"github.com/vietddude/txwatch/internal/infra/chain/substrate"
	"github.com/vietddude/txwatch/internal/infra/storage"
	"github.com/vietddude/txwatch/internal/infra/storage/memory"
	"github.com/vietddude/txwatch/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/txwatch/internal/infra/storage/redis"
	"github.com/vietddude/txwatch/internal/monitoring/health"
	"github.com/vietddude/txwatch/internal/monitoring/telemetry"
)

// Watcher is the daemon: it builds the engine from configuration and owns the
// storage connections, tracing and health servers around it.
type Watcher struct {
	cfg      *config.AppConfig
	engine   *Engine
	bindings []Binding
	history  storage.HistoryRepository

	healthServer *health.Server
	grpcServer   *health.GRPCServer
	tracing      *telemetry.Provider
	db           *postgres.DB
	redisClient  *redisstore.Client

	log *slog.Logger
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
// Nothing connects to a chain until Start.
func NewWatcher(ctx context.Context, cfg *config.AppConfig) (*Watcher, error) {
	w := &Watcher{cfg: cfg, log: slog.Default().With("component", "watcher")}

	tracing, err := telemetry.Setup(telemetry.Config{
		Exporter:    telemetry.Exporter(cfg.Telemetry.Exporter),
		ServiceName: cfg.Telemetry.ServiceName,
		Pretty:      cfg.Telemetry.Pretty,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	w.tracing = tracing

	history, errs, err := w.openStorage(ctx)
	if err != nil {
		w.closeStorage()
		return nil, err
	}
	w.history = history

	w.engine, err = NewEngine(cfg.Engine.Durations(), WithStorage(history, errs))
	if err != nil {
		w.closeStorage()
		return nil, err
	}

	w.bindings, err = Bindings(cfg)
	if err != nil {
		w.closeStorage()
		return nil, err
	}

	w.healthServer = health.NewServer(w.engine.HealthStore(), cfg.Server.Port)
	if cfg.Server.GRPCPort > 0 {
		w.grpcServer = health.NewGRPCServer(w.engine.HealthStore(), cfg.Server.GRPCPort, nil)
	}
	return w, nil
}

// openStorage connects the configured backend.
func (w *Watcher) openStorage(ctx context.Context) (storage.HistoryRepository, storage.ErrorRepository, error) {
	maxErrors := w.cfg.Engine.MaxErrorReports

	switch w.cfg.Storage.Driver {
	case config.StorageRedis:
		client, err := redisstore.NewClient(ctx, w.cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init redis: %w", err)
		}
		w.redisClient = client
		w.log.Info("Using Redis storage")
		history, errs := client.Repositories(maxErrors)
		return history, errs, nil

	case config.StoragePostgres:
		db, err := postgres.NewDB(ctx, w.cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		w.db = db
		w.log.Info("Using PostgreSQL storage")
		history, errs := db.Repositories(maxErrors)
		return history, errs, nil

	default:
		store := memory.NewMemoryStorage(maxErrors)
		w.log.Info("Using Memory storage")
		return memory.NewHistoryRepo(store), memory.NewErrorRepo(store), nil
	}
}

// StorageHealth pings the configured storage backend. Memory storage is always healthy.
func (w *Watcher) StorageHealth(ctx context.Context) error {
	switch {
	case w.db != nil:
		return w.db.Health(ctx)
	case w.redisClient != nil:
		return w.redisClient.Health(ctx)
	}
	return nil
}

func (w *Watcher) closeStorage() error {
	var errs []error
	if w.redisClient != nil {
		errs = append(errs, w.redisClient.Close())
		w.redisClient = nil
	}
	if w.db != nil {
		errs = append(errs, w.db.Close())
		w.db = nil
	}
	return errors.Join(errs...)
}

// Bindings builds one binding per configured network.
func Bindings(cfg *config.AppConfig) ([]Binding, error) {
	out := make([]Binding, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		b := Binding{
			Network:   n.ID,
			Endpoints: n.Endpoints,
			Health: health.Config{
				StallAfter: n.StallAfter,
				FeeCeiling: n.FeeCeilingValue(),
			},
			Decimals: n.Decimals,
			Unit:     n.Unit,
		}

		switch n.Type {
		case config.NetworkEVM:
			b.Factory = evm.NewFactory(evm.Config{
				Network:       n.ID,
				Confirmations: n.Confirmations,
				PollInterval:  n.PollInterval,
			})
		case config.NetworkSubstrate:
			b.Factory = substrate.NewFactory(substrate.Config{
				Network:      n.ID,
				PollInterval: n.PollInterval,
				Lookback:     n.Lookback,
				RateLimit:    n.RateLimit,
				RateBurst:    n.RateBurst,
				Unit:         n.Unit,
			})
		default:
			return nil, fmt.Errorf("network %s: unknown type %q", n.ID, n.Type)
		}
		out = append(out, b)
	}
	return out, nil
}

// Engine returns the monitoring engine.
func (w *Watcher) Engine() *Engine {
	return w.engine
}

// History returns the configured history repository.
func (w *Watcher) History() storage.HistoryRepository {
	return w.history
}

// Connect binds and connects the named networks, or all configured networks
// when none are named. It does not start the health servers.
func (w *Watcher) Connect(ctx context.Context, ids ...domain.NetworkID) error {
	bindings := w.bindings
	if len(ids) > 0 {
		bindings = make([]Binding, 0, len(ids))
		for _, id := range ids {
			i := slices.IndexFunc(w.bindings, func(b Binding) bool { return b.Network == id })
			if i < 0 {
				return fmt.Errorf("network %s is not configured: %w", id, domain.ErrNoClient)
			}
			bindings = append(bindings, w.bindings[i])
		}
	}
	return w.engine.Initialize(ctx, bindings...)
}

// Start serves health endpoints, connects every network and seeds the health store.
// A network that fails to connect is reported critical; the others keep running.
func (w *Watcher) Start(ctx context.Context) error {
	go func() {
		if err := w.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("Health server failed", "error", err)
		}
	}()
	if w.grpcServer != nil {
		go func() {
			if err := w.grpcServer.Start(); err != nil {
				w.log.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	LogEvents(w.engine, w.log)

	if err := w.Connect(ctx); err != nil {
		if errors.Is(err, ErrStopped) || errors.Is(err, domain.ErrNoClient) || errors.Is(err, domain.ErrInvalidParams) {
			return err
		}
		w.log.Warn("Some networks failed to connect", "error", err)
	}
	for network, r := range w.engine.CheckAll(ctx) {
		w.log.Info("Initial health", "network", network, "status", r.Overall)
	}
	return nil
}

// Stop stops the engine, then the servers, then closes storage and flushes spans.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")

	w.engine.Stop()

	var errs []error
	if w.grpcServer != nil {
		w.grpcServer.Stop(ctx)
	}
	if err := w.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("health server: %w", err))
	}
	if err := w.closeStorage(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if err := w.tracing.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	return errors.Join(errs...)
}

// LogEvents logs connection and terminal transaction events published by e.
func LogEvents(e *Engine, log *slog.Logger) {
	for _, t := range []domain.EventType{
		domain.EventConnected,
		domain.EventReconnecting,
		domain.EventReconnected,
		domain.EventReconnectionFailed,
		domain.EventDisconnected,
	} {
		e.On(t, func(ev domain.Event) {
			attrs := []any{"network", ev.Network, "event", ev.Type}
			if ev.Endpoint != "" {
				attrs = append(attrs, "endpoint", ev.Endpoint)
			}
			if ev.Err != nil {
				attrs = append(attrs, "error", ev.Err)
			}
			log.Info("Connection event", attrs...)
		})
	}

	for _, t := range []domain.EventType{domain.EventTransactionConfirmed, domain.EventTransactionFailed} {
		e.On(t, func(ev domain.Event) {
			tx := ev.Transaction
			if tx == nil {
				return
			}
			log.Info("Transaction finished",
				"network", tx.Network,
				"reference", tx.Reference,
				"status", tx.Status,
				"retries", tx.RetryCount,
				"error", tx.LastError,
			)
		})
	}
}
