// Package config provides configuration management for cadence.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for cadence.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	MCP        MCPConfig        `mapstructure:"mcp"`
	Recurrence RecurrenceConfig `mapstructure:"recurrence"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`

	// Output file (empty for stderr; stdout carries the tool protocol)
	Output string `mapstructure:"output"`
}

// MCPConfig holds tool server settings.
type MCPConfig struct {
	// Server name reported during initialize
	Name string `mapstructure:"name"`

	// Glob patterns selecting which tools are exposed
	Tools []string `mapstructure:"tools"`

	// Maximum size of a single request line in bytes
	MaxMessageSize int `mapstructure:"max_message_size"`
}

// RecurrenceConfig holds series lifecycle settings.
type RecurrenceConfig struct {
	// IANA timezone used for "today" and for new due dates
	Timezone string `mapstructure:"timezone"`

	// Background repair of series missing their open occurrence
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// ReconcileConfig controls the reconciliation sweep.
type ReconcileConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Cron expression or descriptor (e.g. "@every 15m")
	Schedule string `mapstructure:"schedule"`
}

// MetricsConfig holds Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Listen address for the /metrics endpoint
	Address string `mapstructure:"address"`
}

// Location resolves the configured timezone.
func (r *RecurrenceConfig) Location() (*time.Location, error) {
	if r.Timezone == "" || r.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", r.Timezone, err)
	}
	return loc, nil
}
