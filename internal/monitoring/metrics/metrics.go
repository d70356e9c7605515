package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState is 1 for the current state of each network, 0 for the others
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txwatch_connection_state",
			Help: "Connection state per network (1 = current state)",
		},
		[]string{"network", "state"},
	)

	// EndpointFailuresTotal tracks failed connect attempts per endpoint
	EndpointFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txwatch_endpoint_failures_total",
			Help: "Total number of failed endpoint connect attempts",
		},
		[]string{"network", "endpoint"},
	)

	// ReconnectsTotal tracks reconnect outcomes
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txwatch_reconnects_total",
			Help: "Total number of reconnect attempts by outcome",
		},
		[]string{"network", "outcome"},
	)

	// HealthCheckFailuresTotal tracks failed liveness probes
	HealthCheckFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txwatch_health_check_failures_total",
			Help: "Total number of failed health checks",
		},
		[]string{"network"},
	)

	// HealthStatus is 1 for the latest overall status of each network
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txwatch_health_status",
			Help: "Latest overall health status per network (1 = current status)",
		},
		[]string{"network", "status"},
	)

	// TransactionsTotal tracks terminal transaction outcomes
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txwatch_transactions_total",
			Help: "Total number of monitored transactions by terminal status",
		},
		[]string{"network", "status"},
	)

	// TransactionRetriesTotal tracks confirmation retries
	TransactionRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txwatch_transaction_retries_total",
			Help: "Total number of confirmation retries",
		},
		[]string{"network"},
	)

	// ConfirmationLatency tracks submit-to-confirm latency
	ConfirmationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txwatch_confirmation_latency_seconds",
			Help:    "Transaction confirmation latency in seconds",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300, 600},
		},
		[]string{"network"},
	)

	// ErrorReportsTotal tracks reported errors by category and severity
	ErrorReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txwatch_error_reports_total",
			Help: "Total number of error reports",
		},
		[]string{"network", "category", "severity"},
	)

	// SuccessRate is the windowed success rate from the latest metrics snapshot
	SuccessRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txwatch_success_rate",
			Help: "Windowed transaction success rate",
		},
		[]string{"network"},
	)

	// LatencyQuantile is the windowed confirmation latency by quantile
	LatencyQuantile = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txwatch_latency_quantile_seconds",
			Help: "Windowed confirmation latency quantiles in seconds",
		},
		[]string{"network", "quantile"},
	)

	// FeeLevel tracks the latest observed fee level in whole units
	FeeLevel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txwatch_fee_level",
			Help: "Latest observed fee level",
		},
		[]string{"network", "unit"},
	)

	// DBConnectionPoolUsage tracks the percentage of open database connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txwatch_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)

var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// SetConnectionState marks state as the current one for network.
func SetConnectionState(network, state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(network, s).Set(v)
	}
}

var healthStatuses = []string{"healthy", "degraded", "unhealthy", "critical"}

// SetHealthStatus marks status as the latest overall health of network.
func SetHealthStatus(network, status string) {
	for _, s := range healthStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		HealthStatus.WithLabelValues(network, s).Set(v)
	}
}
