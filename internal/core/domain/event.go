package domain

import "time"

// Event is a state transition published on the event bus.
// Only the fields relevant to Type are set.
type Event struct {
	Type        EventType
	Network     NetworkID
	Timestamp   time.Time
	Transaction *MonitoredTransaction
	Report      *ErrorReport
	Health      *HealthCheckResult
	Metrics     *PerformanceMetrics
	ChainInfo   *ChainInfo
	Endpoint    string
	Attempt     int
	Err         error
}

type EventType string

const (
	EventConnected          EventType = "connected"
	EventReconnecting       EventType = "reconnecting"
	EventReconnected        EventType = "reconnected"
	EventReconnectionFailed EventType = "reconnection-failed"
	EventHealthCheckFailed  EventType = "health-check-failed"
	EventDisconnected       EventType = "disconnected"
	EventHealthChecked      EventType = "health:checked"

	EventTransactionStarted   EventType = "transaction:started"
	EventTransactionRetrying  EventType = "transaction:retrying"
	EventTransactionConfirmed EventType = "transaction:confirmed"
	EventTransactionFailed    EventType = "transaction:failed"

	EventErrorReported  EventType = "error:reported"
	EventMetricsUpdated EventType = "metrics:updated"
)
