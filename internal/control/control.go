package control

import (
	"context"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/monitoring/events"
	"github.com/vietddude/txwatch/internal/monitoring/retry"
	"github.com/vietddude/txwatch/internal/monitoring/stats"
	"github.com/vietddude/txwatch/internal/monitoring/tracker"
)

// TransactionMonitor follows transactions to a terminal status.
type TransactionMonitor interface {
	// MonitorTransaction blocks until the reference is confirmed, failed or timed out
	MonitorTransaction(
		ctx context.Context,
		network domain.NetworkID,
		reference string,
		operation string,
		opts tracker.Options,
	) (*domain.MonitoredTransaction, error)

	// SetRetryPolicy changes retry count and delays for chains started afterwards
	SetRetryPolicy(p retry.Policy) error
}

// HealthMonitor monitors network health
type HealthMonitor interface {
	// CheckHealth runs every check for one network now
	CheckHealth(ctx context.Context, network domain.NetworkID) (domain.HealthCheckResult, error)

	// CheckAll checks every bound network concurrently
	CheckAll(ctx context.Context) map[domain.NetworkID]domain.HealthCheckResult
}

// MetricsCollector reads derived metrics and the persisted logs
type MetricsCollector interface {
	// GetMetrics summarizes one network over window; zero means the last hour
	GetMetrics(ctx context.Context, network domain.NetworkID, window stats.Window) (domain.PerformanceMetrics, error)

	GetTransactionHistory(ctx context.Context, filter domain.HistoryFilter) ([]*domain.MonitoredTransaction, error)
	GetErrors(ctx context.Context, filter domain.ErrorFilter) ([]*domain.ErrorReport, error)
	ReportError(ctx context.Context, report *domain.ErrorReport) error
}

// EventSource lets callers observe state transitions
type EventSource interface {
	On(t domain.EventType, h events.Handler) events.SubscriptionID
	Off(t domain.EventType, id events.SubscriptionID)
}

// Monitor is the full engine surface offered to host applications.
type Monitor interface {
	TransactionMonitor
	HealthMonitor
	MetricsCollector
	EventSource

	Initialize(ctx context.Context, bindings ...Binding) error
	Stop()
}

var _ Monitor = (*Engine)(nil)
