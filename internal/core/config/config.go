package config

import (
	"math/big"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/txwatch/internal/infra/storage/redis"
	"github.com/vietddude/txwatch/internal/monitoring/retry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig      `yaml:"server"`
	Engine    EngineConfig      `yaml:"engine"`
	Networks  []NetworkConfig   `yaml:"networks"`
	Storage   StorageConfig     `yaml:"storage"`
	Redis     redisstore.Config `yaml:"redis"`
	Database  postgres.Config   `yaml:"database"`
	Logging   LoggingConfig     `yaml:"logging"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds the health endpoints. A zero GRPCPort disables the gRPC health service.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"`
}

// EngineConfig holds the engine options as they appear in YAML, delays in milliseconds.
type EngineConfig struct {
	MaxRetries             int           `yaml:"max_retries"`
	BaseRetryDelayMs       int           `yaml:"base_retry_delay_ms"`
	MaxRetryDelayMs        int           `yaml:"max_retry_delay_ms"`
	RetryBackoffMultiplier float64       `yaml:"retry_backoff_multiplier"`
	ConnectionTimeoutMs    int           `yaml:"connection_timeout_ms"`
	HealthCheckIntervalMs  int           `yaml:"health_check_interval_ms"`
	HealthCheckTimeoutMs   int           `yaml:"health_check_timeout_ms"`
	TransactionTimeoutMs   int           `yaml:"transaction_timeout_ms"`
	MetricsIntervalMs      int           `yaml:"metrics_interval_ms"`
	MaxErrorReports        int           `yaml:"max_error_reports"`
	AutoReconnect          *bool         `yaml:"auto_reconnect"`
	HistoryRetention       time.Duration `yaml:"history_retention"` // 0 = keep forever
}

// Engine is the typed engine configuration. It is read-only once the engine is built;
// only the retry policy can change at runtime through the engine's setter.
type Engine struct {
	Retry               retry.Policy
	ConnectionTimeout   time.Duration
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	TransactionTimeout  time.Duration
	MetricsInterval     time.Duration
	MaxErrorReports     int
	AutoReconnect       bool
	HistoryRetention    time.Duration
}

// Durations converts the millisecond options to the typed configuration.
func (e EngineConfig) Durations() Engine {
	autoReconnect := true
	if e.AutoReconnect != nil {
		autoReconnect = *e.AutoReconnect
	}
	return Engine{
		Retry: retry.Policy{
			MaxRetries: e.MaxRetries,
			BaseDelay:  ms(e.BaseRetryDelayMs),
			MaxDelay:   ms(e.MaxRetryDelayMs),
			Multiplier: e.RetryBackoffMultiplier,
		},
		ConnectionTimeout:   ms(e.ConnectionTimeoutMs),
		HealthCheckInterval: ms(e.HealthCheckIntervalMs),
		HealthCheckTimeout:  ms(e.HealthCheckTimeoutMs),
		TransactionTimeout:  ms(e.TransactionTimeoutMs),
		MetricsInterval:     ms(e.MetricsIntervalMs),
		MaxErrorReports:     e.MaxErrorReports,
		AutoReconnect:       autoReconnect,
		HistoryRetention:    e.HistoryRetention,
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// NetworkType selects the chain client implementation.
type NetworkType string

const (
	NetworkEVM       NetworkType = "evm"
	NetworkSubstrate NetworkType = "substrate"
)

// NetworkConfig holds settings for one monitored network.
type NetworkConfig struct {
	ID            domain.NetworkID `yaml:"id"`
	Type          NetworkType      `yaml:"type"`
	Endpoints     []string         `yaml:"endpoints"`
	Confirmations uint64           `yaml:"confirmations"`
	PollInterval  time.Duration    `yaml:"poll_interval"`
	// FeeCeiling is a base-10 integer in the network's smallest unit. Empty disables the check.
	FeeCeiling string        `yaml:"fee_ceiling"`
	StallAfter time.Duration `yaml:"stall_after"`
	RateLimit  float64       `yaml:"rate_limit"` // requests per second, substrate only
	RateBurst  int           `yaml:"rate_burst"`
	Lookback   uint64        `yaml:"lookback"` // substrate only
	Decimals   int32         `yaml:"decimals"` // for human-readable amounts
	Unit       string        `yaml:"unit"`
}

// FeeCeilingValue parses FeeCeiling. Validate guarantees it parses.
func (n NetworkConfig) FeeCeilingValue() *big.Int {
	if n.FeeCeiling == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(n.FeeCeiling, 10)
	if !ok {
		return nil
	}
	return v
}

// StorageDriver selects where history and error reports are persisted.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StorageRedis    StorageDriver = "redis"
	StoragePostgres StorageDriver = "postgres"
)

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Exporter    string  `yaml:"exporter"` // none, stdout
	ServiceName string  `yaml:"service_name"`
	Pretty      bool    `yaml:"pretty"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Network returns the configuration of id.
func (c *AppConfig) Network(id domain.NetworkID) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.ID == id {
			return n, true
		}
	}
	return NetworkConfig{}, false
}
