package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/txwatch/internal/monitoring/retry"
)

// Engine defaults, in milliseconds.
const (
	DefaultBaseRetryDelayMs      = 1000
	DefaultMaxRetryDelayMs       = 30000
	DefaultConnectionTimeoutMs   = 10000
	DefaultHealthCheckIntervalMs = 30000
	DefaultHealthCheckTimeoutMs  = 5000
	DefaultTransactionTimeoutMs  = 300000
	DefaultMetricsIntervalMs     = 60000
)

// Load reads configuration from a YAML file, applies defaults and validates it.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML after expanding environment variables.
func Parse(data []byte) (*AppConfig, error) {
	cfg := AppConfig{Engine: EngineConfig{MaxRetries: -1}}
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values. MaxRetries -1 means unset.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	e := &c.Engine
	if e.MaxRetries < 0 {
		e.MaxRetries = retry.DefaultPolicy.MaxRetries
	}
	if e.BaseRetryDelayMs == 0 {
		e.BaseRetryDelayMs = DefaultBaseRetryDelayMs
	}
	if e.MaxRetryDelayMs == 0 {
		e.MaxRetryDelayMs = DefaultMaxRetryDelayMs
	}
	if e.RetryBackoffMultiplier == 0 {
		e.RetryBackoffMultiplier = retry.DefaultPolicy.Multiplier
	}
	if e.ConnectionTimeoutMs == 0 {
		e.ConnectionTimeoutMs = DefaultConnectionTimeoutMs
	}
	if e.HealthCheckIntervalMs == 0 {
		e.HealthCheckIntervalMs = DefaultHealthCheckIntervalMs
	}
	if e.HealthCheckTimeoutMs == 0 {
		e.HealthCheckTimeoutMs = DefaultHealthCheckTimeoutMs
	}
	if e.TransactionTimeoutMs == 0 {
		e.TransactionTimeoutMs = DefaultTransactionTimeoutMs
	}
	if e.MetricsIntervalMs == 0 {
		e.MetricsIntervalMs = DefaultMetricsIntervalMs
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "none"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "txwatch"
	}

	for i := range c.Networks {
		n := &c.Networks[i]
		if n.Type == "" {
			n.Type = NetworkEVM
		}
		if n.Confirmations == 0 {
			n.Confirmations = 1
		}
	}
}

// Validate rejects nonsensical values. It reports every problem at once.
func (c *AppConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := c.Engine.Durations().Retry.Validate(); err != nil {
		add("engine: %w", err)
	}
	e := c.Engine
	for name, v := range map[string]int{
		"connection_timeout_ms":    e.ConnectionTimeoutMs,
		"health_check_interval_ms": e.HealthCheckIntervalMs,
		"health_check_timeout_ms":  e.HealthCheckTimeoutMs,
		"transaction_timeout_ms":   e.TransactionTimeoutMs,
		"metrics_interval_ms":      e.MetricsIntervalMs,
	} {
		if v < 0 {
			add("engine: %s must be >= 0, got %d", name, v)
		}
	}
	if e.MaxErrorReports < 0 {
		add("engine: max_error_reports must be >= 0, got %d", e.MaxErrorReports)
	}
	if e.HistoryRetention < 0 {
		add("engine: history_retention must be >= 0, got %s", e.HistoryRetention)
	}

	seen := make(map[string]bool)
	for i, n := range c.Networks {
		if n.ID == "" {
			add("networks[%d]: id is required", i)
		} else if seen[string(n.ID)] {
			add("networks[%d]: duplicate id %q", i, n.ID)
		}
		seen[string(n.ID)] = true

		if n.Type != NetworkEVM && n.Type != NetworkSubstrate {
			add("network %s: unknown type %q", n.ID, n.Type)
		}
		if len(n.Endpoints) == 0 {
			add("network %s: at least one endpoint is required", n.ID)
		}
		if n.FeeCeiling != "" {
			if v, ok := new(big.Int).SetString(n.FeeCeiling, 10); !ok || v.Sign() < 0 {
				add("network %s: fee_ceiling %q is not a non-negative integer", n.ID, n.FeeCeiling)
			}
		}
		if n.RateLimit < 0 {
			add("network %s: rate_limit must be >= 0", n.ID)
		}
		if n.Decimals < 0 {
			add("network %s: decimals must be >= 0", n.ID)
		}
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageRedis:
		if c.Redis.URL == "" {
			add("storage: redis driver requires redis.url")
		}
	case StoragePostgres:
		if c.Database.URL == "" {
			add("storage: postgres driver requires database.url")
		}
	default:
		add("storage: unknown driver %q", c.Storage.Driver)
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		add("logging: %w", err)
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
