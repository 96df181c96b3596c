package config

import "time"

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "cadence.db"
	DefaultCacheSize    = -16000 // 16MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// MCP defaults.
	DefaultServerName     = "cadence"
	DefaultMaxMessageSize = 1 << 20 // 1MB

	// Recurrence defaults.
	DefaultTimezone          = "Local"
	DefaultReconcileSchedule = "@every 15m"

	// Metrics defaults.
	DefaultMetricsAddress = "127.0.0.1:9464"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
		MCP: MCPConfig{
			Name:           DefaultServerName,
			Tools:          []string{"*"},
			MaxMessageSize: DefaultMaxMessageSize,
		},
		Recurrence: RecurrenceConfig{
			Timezone: DefaultTimezone,
			Reconcile: ReconcileConfig{
				Enabled:  true,
				Schedule: DefaultReconcileSchedule,
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: DefaultMetricsAddress,
		},
	}
}
